// Package memory provides the retrieval side of the agent: vector stores
// holding embedded documents and a Retriever that turns a task into context
// text for the model.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Document is one stored chunk of knowledge.
type Document struct {
	ID        int64
	Content   string
	Embedding []float32
}

// ScoredDocument is a search hit with its cosine similarity to the query.
type ScoredDocument struct {
	Document
	Score float64
}

// VectorStore stores embedded documents and answers nearest-neighbour
// queries.
type VectorStore interface {
	Add(ctx context.Context, content string, embedding []float32) error
	Search(ctx context.Context, queryEmbedding []float32, limit int) ([]ScoredDocument, error)
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched lengths compare over the shorter prefix; a zero vector scores 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, normA, normB float64
	length := len(a)
	if len(b) < length {
		length = len(b)
	}
	for i := 0; i < length; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// InMemoryStore implements VectorStore with brute-force cosine search. Fine
// for tests and small knowledge bases.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	docs   []Document
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Add(_ context.Context, content string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.docs = append(s.docs, Document{
		ID:        s.nextID,
		Content:   content,
		Embedding: append([]float32(nil), embedding...),
	})
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, queryEmbedding []float32, limit int) ([]ScoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		return nil, nil
	}
	scored := make([]ScoredDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		scored = append(scored, ScoredDocument{
			Document: doc,
			Score:    CosineSimilarity(queryEmbedding, doc.Embedding),
		})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Size reports the number of stored documents.
func (s *InMemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Clear drops every stored document.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = nil
	s.nextID = 0
}
