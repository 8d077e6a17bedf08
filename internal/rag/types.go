package rag

import "math"

// Passage is one retrieved candidate. Local passages carry a document name
// and page, internet ones a URL. Ownership stays with the retrieval call
// that produced it; downstream consumers treat passages as read-only.
type Passage struct {
	ID        string    `json:"id"`
	DocName   string    `json:"doc_name"`
	URL       string    `json:"url,omitempty"`
	Text      string    `json:"chunk_text"`
	Score     float64   `json:"score"`
	Page      int       `json:"page,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Embedding []float32 `json:"-"`
}

// HasTag reports whether the passage carries tag.
func (p Passage) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// CosineSimilarity computes cosine similarity of two vectors, 0 when either
// is empty or degenerate.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
