package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/citation"
	"github.com/belticlabs/alternate-ocr/internal/layout"
)

func TestFlattenNestedTree(t *testing.T) {
	values := map[string]any{
		"vendor": map[string]any{"name": "Acme", "vat": nil},
		"items": []any{
			map[string]any{"sku": "A1", "qty": float64(2)},
			map[string]any{"sku": "B2"},
		},
		"total": 99.5,
	}

	flat := Flatten(values)

	paths := make([]string, 0, len(flat))
	for _, f := range flat {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{
		"items[0].qty",
		"items[0].sku",
		"items[1].sku",
		"total",
		"vendor.name",
		"vendor.vat",
	}, paths)
}

func TestFlattenDropsBareRootScalar(t *testing.T) {
	assert.Empty(t, Flatten("just a string"))
	assert.Empty(t, Flatten(nil))
	assert.Empty(t, Flatten(42.0))
}

func TestFlattenEmptyContainers(t *testing.T) {
	// Empty objects and arrays have no leaves.
	assert.Empty(t, Flatten(map[string]any{}))
	assert.Empty(t, Flatten(map[string]any{"empty": map[string]any{}}))
	assert.Empty(t, Flatten(map[string]any{"list": []any{}}))
}

func TestJoinCitations(t *testing.T) {
	values := map[string]any{"total": 12.5, "vendor": "Acme"}
	cits := []citation.FieldCitation{
		{FieldPath: "total", PageIndex: 0, BlockID: "0:3"},
		{FieldPath: "total", PageIndex: 1, BlockID: "1:0"},
	}

	payload := JoinCitations(values, cits)

	require.Len(t, payload.Fields, 2)
	byPath := map[string]Field{}
	for _, f := range payload.Fields {
		byPath[f.FieldPath] = f
	}
	assert.Len(t, byPath["total"].Citations, 2)
	// No citations means an empty list, never nil: the JSON shape stays stable.
	require.NotNil(t, byPath["vendor"].Citations)
	assert.Empty(t, byPath["vendor"].Citations)
	assert.Equal(t, values, payload.Values)
}

func TestAttachContentCitations(t *testing.T) {
	resolver := citation.NewResolver(citation.DefaultConfig())
	blocks := []layout.Block{
		{ID: "0:0", PageIndex: 0, Index: 0, Label: constants.BlockText,
			BBox2D: [4]float64{0.1, 0.1, 0.5, 0.2}, Content: "Invoice INV-77"},
	}
	pages := BlocksToPages(blocks, []string{"Invoice INV-77 for Acme"}, 1)

	values := map[string]any{
		"number":  "INV-77",
		"missing": nil,
		"blank":   "",
		"absent":  "not in the document",
	}

	payload := AttachContentCitations(values, resolver, pages)

	byPath := map[string]Field{}
	for _, f := range payload.Fields {
		byPath[f.FieldPath] = f
	}
	require.Len(t, byPath["number"].Citations, 1)
	assert.Equal(t, "0:0", byPath["number"].Citations[0].BlockID)
	assert.Empty(t, byPath["missing"].Citations)
	assert.Empty(t, byPath["blank"].Citations)
	assert.Empty(t, byPath["absent"].Citations)
}

func TestAttachContentCitationsNumericRendering(t *testing.T) {
	resolver := citation.NewResolver(citation.DefaultConfig())
	blocks := []layout.Block{
		{ID: "0:0", PageIndex: 0, Index: 0, Label: constants.BlockText,
			BBox2D: [4]float64{0, 0, 0.5, 0.1}, Content: "amount: 1234.5"},
	}
	pages := BlocksToPages(blocks, []string{"amount: 1234.5"}, 1)

	// 1234.5 must render as "1234.5", not "1234.500000" or scientific form.
	payload := AttachContentCitations(map[string]any{"amount": 1234.5}, resolver, pages)

	require.Len(t, payload.Fields, 1)
	assert.Len(t, payload.Fields[0].Citations, 1)
}

func TestBlocksToPages(t *testing.T) {
	blocks := []layout.Block{
		{ID: "0:0", PageIndex: 0},
		{ID: "1:0", PageIndex: 1},
		{ID: "1:1", PageIndex: 1},
		{ID: "9:0", PageIndex: 9}, // out of range, dropped
	}

	pages := BlocksToPages(blocks, []string{"first"}, 3)

	require.Len(t, pages, 3)
	assert.Equal(t, "first", pages[0].Markdown)
	assert.Empty(t, pages[1].Markdown)
	assert.Len(t, pages[0].Blocks, 1)
	assert.Len(t, pages[1].Blocks, 2)
	assert.Empty(t, pages[2].Blocks)
}

// A stored payload must deserialize back to an equal payload.
func TestPayloadJSONRoundTrip(t *testing.T) {
	values := map[string]any{
		"number": "INV-9",
		"total":  12.5,
		"lines":  []any{map[string]any{"sku": "A1"}},
	}
	original := JoinCitations(values, []citation.FieldCitation{
		{FieldPath: "number", PageIndex: 0, BlockID: "0:0", BBox2D: [4]float64{0.1, 0.2, 0.3, 0.4},
			Label: constants.BlockText},
	})

	raw, err := json.Marshal(original)
	require.NoError(t, err)
	var restored FieldsPayload
	require.NoError(t, json.Unmarshal(raw, &restored))

	assert.Equal(t, original, restored)
}

// Every flattened leaf of Values must surface as exactly one Field, and every
// Field must correspond to a leaf.
func TestPayloadConsistency(t *testing.T) {
	values := map[string]any{
		"a": map[string]any{"b": "x", "c": []any{1.0, 2.0}},
		"d": nil,
	}
	payload := JoinCitations(values, nil)

	flat := Flatten(values)
	require.Equal(t, len(flat), len(payload.Fields))
	for i, f := range flat {
		assert.Equal(t, f.Path, payload.Fields[i].FieldPath)
		assert.Equal(t, f.Value, payload.Fields[i].Value)
	}
}
