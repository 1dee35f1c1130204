package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Ollama talks to a local Ollama server. Generation uses /api/generate,
// embeddings /api/embeddings; neither needs credentials.
type Ollama struct {
	host       string
	model      string
	embedModel string
	client     *http.Client
}

// NewOllama creates the Ollama-backed provider with defaults for any empty
// field.
func NewOllama(host, model, embedModel string) *Ollama {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	if embedModel == "" {
		embedModel = "embeddinggemma"
	}
	return &Ollama{
		host:       host,
		model:      model,
		embedModel: embedModel,
		client: &http.Client{
			// Summaries over long listings can take a while on CPU hosts;
			// the caller's context still cuts individual requests short.
			Timeout: 120 * time.Second,
		},
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// GenerateSummary runs one non-streaming generation request.
func (p *Ollama) GenerateSummary(ctx context.Context, prompt string) (string, error) {
	var result ollamaGenerateResponse
	err := p.post(ctx, "/api/generate", ollamaGenerateRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: false,
	}, &result)
	if err != nil {
		return "", err
	}
	if result.Response == "" {
		return "", fmt.Errorf("ollama returned an empty response")
	}
	return result.Response, nil
}

// Embed embeds one document.
func (p *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var result ollamaEmbedResponse
	err := p.post(ctx, "/api/embeddings", ollamaEmbedRequest{
		Model:  p.embedModel,
		Prompt: text,
	}, &result)
	if err != nil {
		return nil, err
	}
	return result.Embedding, nil
}

// EmbedQuery embeds a query. Ollama embedding models are symmetric, so the
// query path is the document path.
func (p *Ollama) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.Embed(ctx, text)
}

// EmbedBatch embeds multiple documents. Ollama has no native batch API, so
// texts are embedded sequentially.
func (p *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		embeddings[i] = embedding
	}
	return embeddings, nil
}

// HealthCheck verifies the server answers at all.
func (p *Ollama) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable at %s: %w", p.host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Dimensions returns the embedding dimensionality.
// embeddinggemma produces 768-dimensional vectors; other models may vary.
func (p *Ollama) Dimensions() int {
	return 768
}

// Name returns the backend name.
func (p *Ollama) Name() string {
	return fmt.Sprintf("ollama:%s", p.model)
}

func (p *Ollama) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
