package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
)

// BlockType distinguishes prose from tabular content.
type BlockType string

const (
	BlockText  BlockType = "text"
	BlockTable BlockType = "table"
)

// SourcePointer locates content in the source document. Page is 1-based and
// 0 when the format has no pages; Offset is a byte offset into the page
// text (or the whole document when unpaged).
type SourcePointer struct {
	DocumentRef string `json:"document_ref"`
	Page        int    `json:"page,omitempty"`
	Offset      int    `json:"offset"`
	Block       int    `json:"block"`
}

// Table keeps tabular data typed instead of flattening it into prose.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Block is one unit of extracted content, in source order.
type Block struct {
	Type     BlockType     `json:"type"`
	Title    string        `json:"title,omitempty"`
	Text     string        `json:"text,omitempty"`
	Table    *Table        `json:"table,omitempty"`
	Verbatim bool          `json:"verbatim"`
	Source   SourcePointer `json:"source"`
}

// ExtractionResult is the raw output of one adapter run. It is never mutated;
// reprocessing produces a new one.
type ExtractionResult struct {
	ID              uuid.UUID                `json:"id"`
	JobID           uuid.UUID                `json:"job_id"`
	DocumentRef     string                   `json:"document_ref"`
	Kind            constants.DocumentKind   `json:"kind"`
	Adapter         string                   `json:"adapter"`
	Fields          map[string]any           `json:"fields"`
	Provenance      map[string]SourcePointer `json:"provenance"`
	FieldConfidence map[string]float64       `json:"field_confidence,omitempty"`
	Blocks          []Block                  `json:"blocks"`
	Confidence      float64                  `json:"confidence"`
	Warnings        []string                 `json:"warnings,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
}
