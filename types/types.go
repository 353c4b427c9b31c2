package types

import (
	"time"

	"github.com/google/uuid"
)

// Document is one entity of the document store: a medicine label or the
// product description. It is never mutated after it is read.
type Document struct {
	ID         uuid.UUID
	Name       string            // entity name, e.g. brand name of the medicine
	Content    string            // full markdown text
	Attributes map[string]string // section heading -> section text (manufacturer, warnings, ...)
	SourcePath string
	UpdatedAt  time.Time
}

// IndexEntry is an embedded document owned by the vector index.
type IndexEntry struct {
	DocID      uuid.UUID         `json:"doc_id"`
	Name       string            `json:"name"`
	Content    string            `json:"content"`
	SourcePath string            `json:"source_path"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Embedding  []float32         `json:"embedding"`
}

// ScoredDocument is a retrieval hit. Score is the cosine similarity to the
// query, higher is closer.
type ScoredDocument struct {
	DocID      uuid.UUID
	Name       string
	Content    string
	SourcePath string
	Score      float64
}
