package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// mockDimensions is small on purpose: the mock exists for offline use and
// tests, where index size matters more than recall.
const mockDimensions = 64

// Mock is a fully offline provider. Embeddings are deterministic
// bag-of-words vectors, so texts sharing vocabulary land near each other
// and repeated runs index identically. Summaries echo the tool data back
// in the expected output format.
type Mock struct{}

// NewMock creates the offline provider.
func NewMock() *Mock {
	return &Mock{}
}

// GenerateSummary returns a deterministic summary built from the prompt's
// data section.
func (m *Mock) GenerateSummary(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload := prompt
	if i := strings.Index(payload, "START_TOOL_DATA"); i >= 0 {
		payload = payload[i+len("START_TOOL_DATA"):]
	}
	if i := strings.Index(payload, "END_TOOL_DATA"); i >= 0 {
		payload = payload[:i]
	}
	payload = strings.TrimSpace(payload)
	excerpt := payload
	if len(excerpt) > 600 {
		excerpt = excerpt[:600]
	}

	return fmt.Sprintf(`# Domains
offline

# Summary
%s

# Major Capabilities
- deterministic offline summary

# Key Search Keywords
%s
`, excerpt, strings.Join(keywords(payload, 12), ", ")), nil
}

// Embed produces a unit-normalized bag-of-words vector: each token hashes
// to one dimension. Same text, same vector.
func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, mockDimensions)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%mockDimensions]++
	}

	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	if mag > 0 {
		norm := float32(math.Sqrt(mag))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// EmbedQuery is identical to Embed; the mock space is symmetric.
func (m *Mock) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return m.Embed(ctx, text)
}

// EmbedBatch embeds each text independently.
func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimensionality.
func (m *Mock) Dimensions() int {
	return mockDimensions
}

// Name returns the backend name.
func (m *Mock) Name() string {
	return "mock"
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// keywords picks the first max distinct tokens longer than three runes,
// preserving order of first appearance.
func keywords(text string, max int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, token := range tokenize(text) {
		if len(token) <= 3 || seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
		if len(out) == max {
			break
		}
	}
	return out
}
