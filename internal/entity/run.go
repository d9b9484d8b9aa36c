package entity

import (
	"time"

	"github.com/belticlabs/alternate-ocr/constants"
)

// Run is one end-to-end OCR+extraction execution against one uploaded
// document. Upload metadata is immutable after creation; status transitions
// are owned exclusively by the pipeline processor.
type Run struct {
	ID          string              `json:"id"`
	Mode        constants.RunMode   `json:"mode"`
	TemplateID  string              `json:"templateId,omitempty"`
	Status      constants.RunStatus `json:"status"`
	Provider    constants.Provider  `json:"provider,omitempty"`
	DocumentKey string              `json:"documentKey,omitempty"`

	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	ByteSize int64  `json:"byteSize"`

	PageCount    int    `json:"pageCount"`
	TimingJSON   string `json:"timingJson,omitempty"`
	StatsJSON    string `json:"statsJson,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// RunPayload is the one-to-one result record for a run that reached the OCR
// phase: markdown, the serialized normalized block tree, any provider page
// visualizations, the extracted-fields payload, and the raw provider response
// kept for forensic replay and provider inference.
type RunPayload struct {
	RunID               string `json:"runId"`
	Markdown            string `json:"mdResults"`
	LayoutJSON          string `json:"layoutDetailsJson"`
	VisualizationJSON   string `json:"layoutVisualizationJson"`
	ExtractedFieldsJSON string `json:"extractedFieldsJson"`
	RawProviderJSON     string `json:"rawProviderJson"`
}
