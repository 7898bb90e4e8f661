package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder builds an embedder against baseURL. The URL may point at
// any OpenAI-compatible provider; model names follow that provider.
func NewOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embeddings response carried no data")
	}
	return resp.Data[0].Embedding, nil
}

// Retriever pairs an embedder with a vector store: documents go in embedded,
// queries come back as joined context text.
type Retriever struct {
	embedder Embedder
	store    VectorStore
	topK     int
}

// NewRetriever wires an embedder to a store. topK values below 1 fall back
// to 3.
func NewRetriever(embedder Embedder, store VectorStore, topK int) *Retriever {
	if topK < 1 {
		topK = 3
	}
	return &Retriever{embedder: embedder, store: store, topK: topK}
}

// EmbedDocument embeds one document and adds it to the store.
func (r *Retriever) EmbedDocument(ctx context.Context, content string) error {
	embedding, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return err
	}
	return r.store.Add(ctx, content, embedding)
}

// Retrieve embeds the query and returns the contents of the closest
// documents, most similar first, joined by blank lines. An empty store
// yields an empty string.
func (r *Retriever) Retrieve(ctx context.Context, query string) (string, error) {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return "", err
	}
	hits, err := r.store.Search(ctx, embedding, r.topK)
	if err != nil {
		return "", err
	}
	contents := make([]string, 0, len(hits))
	for _, hit := range hits {
		contents = append(contents, hit.Content)
	}
	return strings.Join(contents, "\n\n"), nil
}
