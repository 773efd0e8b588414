package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/JavierArriagada/pharmacy-data-extractor/internal/logger"
	cfgPkg "github.com/JavierArriagada/pharmacy-data-extractor/pkg/config"
)

var (
	cfgFile string
	cfg     *cfgPkg.Config
	log     *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "scr-pharma",
	Short: "Scrape pharmacy listings and match them against the internal catalog",
	Long: `scr-pharma scrapes product listings from pharmacy sites, indexes their
names as embeddings and writes, for every internal product, the closest
listings from the approved pharmacies under a new load batch.

Example usage:
  scr-pharma scrape cruzverde profar   # Scrape two sites
  scr-pharma run --fresh               # Rebuild the index and match
  scr-pharma match                     # Match against the existing index`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		var err error
		cfg, err = cfgPkg.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if errs := cfg.Validate(); len(errs) > 0 {
			for _, e := range errs {
				color.Red("config: %s", e.Error())
			}
			return fmt.Errorf("invalid configuration (%d errors)", len(errs))
		}

		log, err = logger.New(cfg.Log.Mode, cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// barProgress shows pipeline stages as progress bars; stages with no known
// size get a spinner.
type barProgress struct {
	bar *progressbar.ProgressBar
}

func (p *barProgress) Start(stage string, total int) {
	if total <= 0 {
		p.bar = getSpinner(fmt.Sprintf("%s...", stage))
		return
	}
	p.bar = getProgressBar(total, fmt.Sprintf("%s...", stage))
}

func (p *barProgress) Step() {
	if p.bar != nil {
		_ = p.bar.Add(1)
	}
}

func (p *barProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Println()
		p.bar = nil
	}
}
