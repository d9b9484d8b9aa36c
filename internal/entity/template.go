package entity

import "time"

// Template is a named JSON-schema + free-text extraction-rules pair.
// IsActive=false soft-deletes it from selection without destroying the
// history of runs that referenced it.
type Template struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	SchemaJSON      string    `json:"schemaJson"`
	ExtractionRules string    `json:"extractionRules,omitempty"`
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
