// Package provider abstracts the generation and embedding backends used to
// summarize grimoriums and index their spells. Supported backends: Ollama
// (local), Google GenAI (cloud), and a deterministic mock for offline use.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"magetools/internal/config"
	"magetools/internal/logging"
)

// ErrUnavailable means the backend cannot serve at all (missing API key,
// unsupported capability). Transient call failures are plain errors so the
// sync pipeline can keep prior state and retry later.
var ErrUnavailable = errors.New("provider unavailable")

// Provider generates summaries and vector embeddings.
//
// Embed and EmbedQuery are an asymmetric retrieval pair: documents are
// indexed with Embed, user queries are embedded with EmbedQuery, and the
// two must live in the same vector space.
type Provider interface {
	// GenerateSummary produces the grimorium summary for a prepared prompt.
	GenerateSummary(ctx context.Context, prompt string) (string, error)

	// Embed embeds one document.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds multiple documents.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// Name returns the backend name for logs and reports.
	Name() string
}

// HealthChecker is an optional interface for providers that can verify
// reachability before a batch of work starts.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// New creates a provider from configuration.
func New(cfg config.ProviderConfig) (Provider, error) {
	timer := logging.StartTimer(logging.CategoryProvider, "New")
	defer timer.Stop()

	logging.Provider("creating provider backend=%s", cfg.Backend)

	var p Provider
	var err error
	switch cfg.Backend {
	case "", "mock":
		p = NewMock()
	case "genai":
		p, err = NewGenAI(cfg.APIKey, cfg.Model, cfg.EmbedModel)
	case "ollama":
		p = NewOllama(cfg.Host, cfg.Model, cfg.EmbedModel)
	default:
		err = fmt.Errorf("unsupported provider backend: %s (use mock, genai, or ollama)", cfg.Backend)
	}

	if err != nil {
		logging.Get(logging.CategoryProvider).Error("provider creation failed: %v", err)
		return nil, err
	}
	logging.Provider("provider ready: name=%s dimensions=%d", p.Name(), p.Dimensions())
	return p, nil
}

// CosineSimilarity computes the cosine similarity of two vectors. Returns
// a value in [-1, 1]; zero-magnitude vectors compare as 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// SimilarityResult is one brute-force ranking hit.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK ranks the corpus against the query by cosine similarity and
// returns the best k, descending. Vectors with mismatched dimensions are
// skipped rather than failing the whole search.
func FindTopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	skipped := 0
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			skipped++
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}
	if skipped > 0 {
		logging.ProviderWarn("FindTopK: skipped %d vectors due to dimension mismatch", skipped)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > k {
		results = results[:k]
	}
	return results
}
