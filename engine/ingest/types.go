package ingest

import (
	"time"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
)

// Report summarizes one Ingest call.
type Report struct {
	Collection string `json:"collection"`
	// Skipped is set when the collection already held documents and no
	// rebuild was requested.
	Skipped  bool `json:"skipped"`
	Existing int  `json:"existing,omitempty"`
	Rebuilt  bool `json:"rebuilt"`
	Records  int  `json:"records"`
	Indexed  int  `json:"indexed"`
	// Rejected holds one *domain.RecordError per unusable record.
	Rejected []error       `json:"-"`
	Batch    int64         `json:"batch,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// batch is the unit flowing through the embed and store stages.
type batch struct {
	collection string
	stamp      int64
	ids        []string
	docs       []domain.DocumentInput
	vectors    [][]float32
}

func (b batch) contents() []string {
	out := make([]string, len(b.docs))
	for i, d := range b.docs {
		out[i] = d.Content
	}
	return out
}

func (b batch) metadatas() []domain.Metadata {
	out := make([]domain.Metadata, len(b.docs))
	for i, d := range b.docs {
		out[i] = d.Metadata
	}
	return out
}
