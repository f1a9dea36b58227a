package embedding

import (
	"testing"

	"google.golang.org/genai"
)

func TestNewGenAIEngineRequiresAPIKey(t *testing.T) {
	if _, err := NewGenAIEngine("", "gemini-embedding-001", 768); err == nil {
		t.Fatal("expected an error without an API key")
	}
}

func TestEmbeddingValuesFlattensResponse(t *testing.T) {
	result := &genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{
			{Values: []float32{0.1, 0.2}},
			nil,
			{Values: nil},
			{Values: []float32{0.3, 0.4}},
		},
	}

	vectors := embeddingValues(result)
	if len(vectors) != 2 {
		t.Fatalf("expected 2 usable vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 0.1 || vectors[1][1] != 0.4 {
		t.Errorf("vectors out of order: %v", vectors)
	}

	if got := embeddingValues(nil); got != nil {
		t.Errorf("nil response should yield nil, got %v", got)
	}
	if got := embeddingValues(&genai.EmbedContentResponse{}); len(got) != 0 {
		t.Errorf("empty response should yield no vectors, got %v", got)
	}
}
