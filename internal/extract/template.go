package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/belticlabs/alternate-ocr/internal/citation"
	"github.com/belticlabs/alternate-ocr/internal/layout"
	"github.com/belticlabs/alternate-ocr/internal/llm"
)

const (
	maxMarkdownChars     = 24000
	maxBlockContentChars = 160
)

// TemplateExtractor drives one structured-extraction call against a target
// JSON schema plus free-text rules, validates the response envelope and joins
// the extracted values with hint-based citations.
type TemplateExtractor struct {
	llm llm.StructuredCompleter
	log *slog.Logger
}

func NewTemplateExtractor(completer llm.StructuredCompleter, logger *slog.Logger) *TemplateExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateExtractor{llm: completer, log: logger}
}

// Result is one extraction outcome with its provider usage and the time spent
// resolving citations.
type Result struct {
	Payload    FieldsPayload
	Usage      llm.Usage
	CitationMs int64
}

// envelope is the required response shape. Values must be a JSON mapping;
// anything else fails the run.
type envelope struct {
	Values    map[string]any  `json:"values"`
	Citations []citation.Hint `json:"citations"`
}

// Extract performs the structured-extraction call and attaches citations.
// Provider/network errors propagate unchanged; malformed envelopes produce a
// descriptive error. An empty values object is valid (all-null template) and
// yields zero fields.
func (e *TemplateExtractor) Extract(ctx context.Context, schemaJSON, rules, markdown string, blocks []layout.Block) (*Result, error) {
	if e.llm == nil {
		return nil, fmt.Errorf("no structured-extraction backend configured")
	}
	system := buildSystemPrompt()
	user := buildUserPrompt(schemaJSON, rules, markdown, blocks)

	raw, usage, err := e.llm.CompleteJSON(ctx, system, user)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		e.log.Error("extract.template.bad_json", "error", err, "raw_bytes", len(raw))
		return nil, fmt.Errorf("extraction response is not valid JSON: %w", err)
	}
	if env.Values == nil {
		e.log.Error("extract.template.missing_values", "raw_bytes", len(raw))
		return nil, fmt.Errorf("extraction response missing required 'values' object")
	}

	citStart := time.Now()
	resolved := citation.ResolveHints(env.Citations, layout.ByID(blocks))
	payload := JoinCitations(env.Values, resolved)
	citationMs := time.Since(citStart).Milliseconds()

	e.log.Info("extract.template.ok",
		"fields", len(payload.Fields),
		"citations", len(resolved),
		"total_tokens", usage.TotalTokens,
	)
	return &Result{Payload: payload, Usage: usage, CitationMs: citationMs}, nil
}

func buildSystemPrompt() string {
	return strings.Join([]string{
		"You are a document data extractor. Return ONLY a JSON object with this exact envelope:",
		`{"values": <object matching the provided JSON schema>,`,
		`"citations": [{"field_path": "<dotted path like invoice.total or items[0].sku>", "source_block_ids": ["<block id>"]}]}.`,
		"Every value must come from the document. Use null for fields you cannot find.",
		"For each extracted field, list the ids of the layout blocks that contain its value.",
		"Only use block ids from the provided block listing.",
	}, " ")
}

func buildUserPrompt(schemaJSON, rules, markdown string, blocks []layout.Block) string {
	var b strings.Builder
	b.WriteString("JSON Schema:\n")
	b.WriteString(schemaJSON)
	if strings.TrimSpace(rules) != "" {
		b.WriteString("\n\nExtraction rules:\n")
		b.WriteString(rules)
	}
	b.WriteString("\n\nDocument markdown")
	if len(markdown) > maxMarkdownChars {
		b.WriteString(" (truncated)")
		markdown = markdown[:maxMarkdownChars]
	}
	b.WriteString(":\n")
	b.WriteString(markdown)

	b.WriteString("\n\nLayout blocks:\n")
	for _, blk := range blocks {
		content := strings.Join(strings.Fields(blk.Content), " ")
		if len(content) > maxBlockContentChars {
			content = content[:maxBlockContentChars] + "..."
		}
		fmt.Fprintf(&b, "%s page=%d label=%s bbox=[%.3f,%.3f,%.3f,%.3f] %s\n",
			blk.ID, blk.PageIndex, blk.Label,
			blk.BBox2D[0], blk.BBox2D[1], blk.BBox2D[2], blk.BBox2D[3],
			content)
	}
	return b.String()
}
