package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder is a deterministic, offline embedding client. It hashes
// character trigrams of the whitespace-free lowercased text plus whole tokens
// into a fixed number of buckets and L2-normalizes the result, so names that
// differ only in spacing or case land close together.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float32 {
	acc := make([]float64, h.dimension)

	tokens := strings.Fields(strings.ToLower(text))
	compact := []rune(strings.Join(tokens, ""))

	if len(compact) < 3 {
		h.add(acc, "g:"+string(compact), 1)
	}
	for i := 0; i+3 <= len(compact); i++ {
		h.add(acc, "g:"+string(compact[i:i+3]), 1)
	}
	for _, tok := range tokens {
		h.add(acc, "w:"+tok, 0.5)
	}

	var norm float64
	for _, x := range acc {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	v := make([]float32, h.dimension)
	for i, x := range acc {
		if norm > 0 {
			v[i] = float32(x / norm)
		}
	}
	return v
}

func (h *HashEmbedder) add(acc []float64, feature string, weight float64) {
	f := fnv.New32a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum32()

	sign := 1.0
	if sum&(1<<31) != 0 {
		sign = -1.0
	}
	acc[int(sum%uint32(len(acc)))] += sign * weight
}
