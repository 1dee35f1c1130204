package provider

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GenAI talks to Google's Gemini API for both summary generation and
// embeddings.
type GenAI struct {
	client     *genai.Client
	model      string
	embedModel string
}

// NewGenAI creates the Gemini-backed provider. The API key is mandatory;
// missing it is an ErrUnavailable, not a transient failure.
func NewGenAI(apiKey, model, embedModel string) (*GenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is required", ErrUnavailable)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if embedModel == "" {
		embedModel = "gemini-embedding-001"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAI{
		client:     client,
		model:      model,
		embedModel: embedModel,
	}, nil
}

// GenerateSummary runs one generation request and returns the text.
func (p *GenAI) GenerateSummary(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("GenAI returned an empty response")
	}
	return text, nil
}

// Task types for the asymmetric retrieval embedding pair: documents are
// indexed with one, queries embedded with the other.
const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// Embed embeds one document with the retrieval-document task type.
func (p *GenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text}, taskRetrievalDocument)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedQuery embeds a search query with the retrieval-query task type,
// the pair of the document task used at index time.
func (p *GenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds multiple documents. GenAI has native batch support.
func (p *GenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return p.embed(ctx, texts, taskRetrievalDocument)
}

func (p *GenAI) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := p.client.Models.EmbedContent(ctx,
		p.embedModel,
		contents,
		&genai.EmbedContentConfig{
			TaskType: task,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("GenAI returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimensionality.
// gemini-embedding-001 produces 768-dimensional vectors.
func (p *GenAI) Dimensions() int {
	return 768
}

// Name returns the backend name.
func (p *GenAI) Name() string {
	return fmt.Sprintf("genai:%s", p.model)
}
