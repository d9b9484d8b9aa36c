// Package ocr holds the OCR provider clients. Two backends are supported:
// mistral (combined OCR + structured annotation in one call) and paddle
// (layout-parsing only; template extraction happens in a separate LLM call).
// Both produce the same provider-agnostic Result so the pipeline downstream
// never branches on provider shape again.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/citation"
	"github.com/belticlabs/alternate-ocr/internal/layout"
)

// Request is one OCR call. SchemaJSON and AnnotationPrompt are only honored
// by providers with combined annotation capability.
type Request struct {
	FileBytes        []byte
	Filename         string
	MimeType         string
	SchemaJSON       string
	AnnotationPrompt string
}

// Usage reports provider-side consumption for one call.
type Usage struct {
	PagesProcessed   int `json:"pagesProcessed"`
	PromptTokens     int `json:"promptTokens,omitempty"`
	CompletionTokens int `json:"completionTokens,omitempty"`
}

// PageImage is one provider-rendered page visualization.
type PageImage struct {
	PageIndex   int    `json:"pageIndex"`
	Name        string `json:"name,omitempty"`
	ImageBase64 string `json:"imageBase64"`
}

// Result is the canonical provider output consumed by the pipeline.
type Result struct {
	Markdown       string
	PageMarkdown   []string
	Pages          []layout.SourcePage
	Visualizations []PageImage

	// Annotation is the structured annotation object (combined providers,
	// template mode only); nil otherwise.
	Annotation json.RawMessage
	// Hints carries block-level citation hints when the provider supplied
	// them; nil means content-based inference is needed.
	Hints []citation.Hint

	PageCount int
	Usage     Usage
	Raw       json.RawMessage
}

// Client is the contract every OCR backend implements.
type Client interface {
	Name() constants.Provider
	Process(ctx context.Context, req Request) (*Result, error)
}

// InferProvider guesses the OCR backend from a stored raw provider response.
// Used for run records created before the provider column existed.
func InferProvider(raw []byte) constants.Provider {
	if len(raw) == 0 {
		return ""
	}
	if bytes.Contains(raw, []byte("layoutParsingResults")) || bytes.Contains(raw, []byte("parsing_res_list")) {
		return constants.ProviderPaddle
	}
	if bytes.Contains(raw, []byte("usage_info")) || bytes.Contains(raw, []byte("document_annotation")) {
		return constants.ProviderMistral
	}
	return ""
}
