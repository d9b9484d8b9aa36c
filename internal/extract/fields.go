// Package extract turns OCR output into the extracted-fields payload: either
// by driving a structured-extraction call against a template's JSON schema, or
// by synthesizing a citation-complete payload straight from the blocks.
package extract

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/belticlabs/alternate-ocr/internal/citation"
	"github.com/belticlabs/alternate-ocr/internal/layout"
)

// Field is one flattened leaf value with its resolved citations.
type Field struct {
	FieldPath string                   `json:"fieldPath"`
	Value     any                      `json:"value"`
	Citations []citation.FieldCitation `json:"citations"`
}

// FieldsPayload is the extraction result: Values holds the nested raw JSON
// tree, Fields the same data flattened to one entry per leaf path with
// citations attached.
type FieldsPayload struct {
	Values map[string]any `json:"values"`
	Fields []Field        `json:"fields"`

	// Supplemental template-mode diagnostics: whether Values validated
	// against the template schema. Validation failure never fails a run;
	// extraction output is evaluation data, not a contract.
	SchemaValid  *bool    `json:"schemaValid,omitempty"`
	SchemaErrors []string `json:"schemaErrors,omitempty"`
}

// FlatField is one (path, value) leaf produced by flattening.
type FlatField struct {
	Path  string
	Value any
}

// Flatten walks a value tree and emits one entry per leaf: objects nest with
// ".key", arrays with "[n]", no leading separator at the root. A bare scalar
// at the root has no field path and is dropped rather than synthesized.
// Output order is deterministic (object keys sorted).
func Flatten(values any) []FlatField {
	var out []FlatField
	flattenInto("", values, &out)
	return out
}

func flattenInto(path string, v any, out *[]FlatField) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := k
			if path != "" {
				child = path + "." + k
			}
			flattenInto(child, t[k], out)
		}
	case []any:
		for i, e := range t {
			flattenInto(path+"["+strconv.Itoa(i)+"]", e, out)
		}
	default:
		if path == "" {
			return
		}
		*out = append(*out, FlatField{Path: path, Value: v})
	}
}

// JoinCitations flattens Values and attaches the citations grouped by field
// path. A field with no matching citations gets an empty (non-nil) list.
func JoinCitations(values map[string]any, cits []citation.FieldCitation) FieldsPayload {
	byPath := make(map[string][]citation.FieldCitation)
	for _, c := range cits {
		byPath[c.FieldPath] = append(byPath[c.FieldPath], c)
	}

	flat := Flatten(values)
	fields := make([]Field, 0, len(flat))
	for _, f := range flat {
		cs := byPath[f.Path]
		if cs == nil {
			cs = []citation.FieldCitation{}
		}
		fields = append(fields, Field{FieldPath: f.Path, Value: f.Value, Citations: cs})
	}
	return FieldsPayload{Values: values, Fields: fields}
}

// AttachContentCitations builds the payload for providers that return an
// annotation object but no block-level citation hints: every flattened value
// is resolved by content matching against the per-page blocks. Null values
// get no citation.
func AttachContentCitations(values map[string]any, resolver *citation.Resolver, pages []citation.Page) FieldsPayload {
	flat := Flatten(values)
	fields := make([]Field, 0, len(flat))
	for _, f := range flat {
		cs := []citation.FieldCitation{}
		if s, ok := valueText(f.Value); ok {
			if resolved := resolver.ResolveByContent(f.Path, s, pages); resolved != nil {
				cs = resolved
			}
		}
		fields = append(fields, Field{FieldPath: f.Path, Value: f.Value, Citations: cs})
	}
	return FieldsPayload{Values: values, Fields: fields}
}

// valueText renders a leaf value for substring matching. Nulls and empty
// strings produce no text (and therefore no citation).
func valueText(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprintf("%v", t), true
	}
}

// BlocksToPages groups normalized blocks with their page markdown into the
// resolver's page contexts. pageMarkdown is indexed by page ordinal; pages
// beyond its length get empty markdown.
func BlocksToPages(blocks []layout.Block, pageMarkdown []string, pageCount int) []citation.Page {
	pages := make([]citation.Page, pageCount)
	for i := range pages {
		pages[i].Index = i
		if i < len(pageMarkdown) {
			pages[i].Markdown = pageMarkdown[i]
		}
	}
	for _, b := range blocks {
		if b.PageIndex >= 0 && b.PageIndex < pageCount {
			pages[b.PageIndex].Blocks = append(pages[b.PageIndex].Blocks, b)
		}
	}
	return pages
}
