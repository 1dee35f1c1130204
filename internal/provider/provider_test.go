package provider

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magetools/internal/config"
)

func TestNew_DefaultsToMock(t *testing.T) {
	for _, backend := range []string{"", "mock"} {
		p, err := New(config.ProviderConfig{Backend: backend})
		require.NoError(t, err)
		assert.Equal(t, "mock", p.Name())
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(config.ProviderConfig{Backend: "warpdrive"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warpdrive")
}

func TestNew_GenAIWithoutKeyIsUnavailable(t *testing.T) {
	_, err := New(config.ProviderConfig{Backend: "genai"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCosineSimilarity(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	sim, err = CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, -1.0, sim, 1e-9)

	// Zero magnitude compares as 0, not an error.
	sim, err = CosineSimilarity([]float32{0, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.Zero(t, sim)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 0})
	assert.Error(t, err)
}

func TestFindTopK(t *testing.T) {
	query := []float32{1, 0}
	corpus := [][]float32{
		{0, 1},       // orthogonal
		{1, 0},       // identical
		{0.7, 0.7},   // diagonal
		{1, 0, 0, 0}, // wrong dimensions, skipped
	}

	results := FindTopK(query, corpus, 2)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 2, results[1].Index)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestMockEmbed_Deterministic(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	a1, err := m.Embed(ctx, "adds two integers together")
	require.NoError(t, err)
	a2, err := m.Embed(ctx, "adds two integers together")
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Len(t, a1, m.Dimensions())

	var mag float64
	for _, v := range a1 {
		mag += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(mag), 1e-5, "embeddings are unit vectors")
}

func TestMockEmbed_VocabularyOverlapRanksHigher(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	query, err := m.EmbedQuery(ctx, "add two integers")
	require.NoError(t, err)
	arithmetic, err := m.Embed(ctx, "Add returns the sum of two integers")
	require.NoError(t, err)
	crypto, err := m.Embed(ctx, "Rot13 applies the classic Caesar rotation cipher")
	require.NoError(t, err)

	simMath, err := CosineSimilarity(query, arithmetic)
	require.NoError(t, err)
	simCrypto, err := CosineSimilarity(query, crypto)
	require.NoError(t, err)
	assert.Greater(t, simMath, simCrypto)
}

func TestMockEmbedBatch(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	texts := []string{"alpha beta", "gamma delta"}
	batch, err := m.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	for i, text := range texts {
		single, err := m.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestMockGenerateSummary(t *testing.T) {
	m := NewMock()

	prompt := "instructions above\nSTART_TOOL_DATA\nAdd: Add returns the sum of two integers.\nEND_TOOL_DATA\ninstructions below"
	summary, err := m.GenerateSummary(context.Background(), prompt)
	require.NoError(t, err)

	assert.Contains(t, summary, "# Domains")
	assert.Contains(t, summary, "# Summary")
	assert.Contains(t, summary, "# Major Capabilities")
	assert.Contains(t, summary, "# Key Search Keywords")
	assert.Contains(t, summary, "sum of two integers")
	assert.NotContains(t, summary, "instructions above")
	assert.NotContains(t, summary, "instructions below")

	again, err := m.GenerateSummary(context.Background(), prompt)
	require.NoError(t, err)
	assert.Equal(t, summary, again)
}

func TestMockHonorsCancellation(t *testing.T) {
	m := NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Embed(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.GenerateSummary(ctx, "prompt")
	assert.ErrorIs(t, err, context.Canceled)
}
