package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	"github.com/JavierArriagada/pharmacy-data-extractor/internal/models"
	"github.com/JavierArriagada/pharmacy-data-extractor/pkg/config"
)

type ScraperConfig struct {
	Site       config.SiteConfig
	RateLimit  float64 // requests per second
	Timeout    time.Duration
	MaxPages   int // per start URL
	UserAgent  string
	OnProgress func(url string)
}

// Scraper reads product tiles off a pharmacy's listing pages, following
// the "next page" link of each start URL.
type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	hosts   map[string]bool
	log     *logger.Logger
	now     func() time.Time
}

func NewWithConfig(cfg ScraperConfig, log *logger.Logger) (*Scraper, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 2 // 2 requests per second by default
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 50
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (compatible; scr-pharma/1.0)"
	}
	if cfg.Site.Name == "" || cfg.Site.Product == "" || cfg.Site.Title == "" {
		return nil, fmt.Errorf("site %q needs name, product and title selectors", cfg.Site.Name)
	}

	hosts := make(map[string]bool)
	for _, start := range cfg.Site.StartURLs {
		parsedURL, err := url.Parse(start)
		if err != nil {
			return nil, err
		}
		hosts[parsedURL.Host] = true
	}

	return &Scraper{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		hosts:   hosts,
		log:     log.With("service", "Scraper", "site", cfg.Site.Name),
		now:     time.Now,
	}, nil
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false
	}
	return s.hosts[parsedURL.Host]
}

// Scrape walks every start URL. A start page that cannot be fetched is an
// error; a later page failing only ends that listing.
func (s *Scraper) Scrape(ctx context.Context) ([]models.ScrapedItem, error) {
	var items []models.ScrapedItem
	visited := make(map[string]bool)

	for _, start := range s.config.Site.StartURLs {
		category := categoryFromURL(start)
		next := start

		for page := 0; next != "" && page < s.config.MaxPages; page++ {
			if visited[next] || !s.shouldProcessURL(next) {
				break
			}
			visited[next] = true

			found, nextURL, err := s.scrapePage(ctx, next, category)
			if err != nil {
				if page == 0 {
					return items, err
				}
				s.log.Warn("Stopping pagination", "url", next, "error", err)
				break
			}
			items = append(items, found...)
			next = nextURL
		}
	}

	s.log.Info("Scrape finished", "items", len(items), "pages", len(visited))
	return items, nil
}

func (s *Scraper) scrapePage(ctx context.Context, pageURL, category string) ([]models.ScrapedItem, string, error) {
	if s.config.OnProgress != nil {
		s.config.OnProgress(pageURL)
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, "", err
	}

	base := resp.Request.URL
	site := s.config.Site
	var items []models.ScrapedItem

	doc.Find(site.Product).Each(func(_ int, tile *goquery.Selection) {
		name := text(tile, site.Title)
		if name == "" {
			return
		}

		item := models.ScrapedItem{
			Name:       name,
			URL:        s.productURL(tile, base),
			Category:   category,
			Price:      text(tile, site.Price),
			PriceSale:  text(tile, site.PriceSale),
			PriceBenef: text(tile, site.PriceBenef),
			Code:       text(tile, site.Code),
			Brand:      text(tile, site.Brand),
			SpiderName: site.Name,
			Timestamp:  s.now(),
		}
		items = append(items, item)
	})

	var next string
	if site.NextPage != "" {
		if href, ok := doc.Find(site.NextPage).First().Attr("href"); ok {
			next = resolve(base, href)
		}
	}
	return items, next, nil
}

// productURL takes the href of the product link selector, falling back to
// the title element or the first link in the tile.
func (s *Scraper) productURL(tile *goquery.Selection, base *url.URL) string {
	selectors := []string{s.config.Site.ProductURL, s.config.Site.Title, "a[href]"}
	for _, selector := range selectors {
		if selector == "" {
			continue
		}
		sel := tile.Find(selector).First()
		href, ok := sel.Attr("href")
		if !ok {
			href, ok = sel.Find("a[href]").First().Attr("href")
		}
		if ok && strings.TrimSpace(href) != "" {
			return resolve(base, href)
		}
	}
	return ""
}

func text(tile *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(tile.Find(selector).First().Text())
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// categoryFromURL names a listing after the last segment of its path.
func categoryFromURL(raw string) string {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(strings.TrimSuffix(parsedURL.Path, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return base
}
