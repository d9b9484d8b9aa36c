package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belticlabs/alternate-ocr/constants"
)

func TestNormalizePixelBBox(t *testing.T) {
	res := Normalize([]SourcePage{
		{
			Width:  1000,
			Height: 1400,
			Blocks: []SourceBlock{
				{Index: -1, Label: "text", BBox: []float64{100, 100, 300, 260}, Content: "hello"},
			},
		},
	})

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.Equal(t, "0:0", b.ID)
	assert.Equal(t, constants.BlockText, b.Label)
	assert.InDelta(t, 0.1, b.BBox2D[0], 1e-9)
	assert.InDelta(t, 100.0/1400.0, b.BBox2D[1], 1e-9)
	assert.InDelta(t, 0.3, b.BBox2D[2], 1e-9)
	assert.InDelta(t, 260.0/1400.0, b.BBox2D[3], 1e-9)
}

func TestNormalizeFractionalPassthrough(t *testing.T) {
	res := Normalize([]SourcePage{
		{Blocks: []SourceBlock{
			{Index: -1, Label: "table", BBox: []float64{0.2, 0.3, 0.6, 0.5}},
		}},
	})

	require.Len(t, res.Blocks, 1)
	assert.Equal(t, [4]float64{0.2, 0.3, 0.6, 0.5}, res.Blocks[0].BBox2D)
}

func TestNormalizeReordersAndClamps(t *testing.T) {
	res := Normalize([]SourcePage{
		{
			Width:  100,
			Height: 100,
			Blocks: []SourceBlock{
				// Swapped corners, and x2 overshoots the page width.
				{Index: -1, Label: "figure", BBox: []float64{90, 80, 10, 120}},
			},
		},
	})

	require.Len(t, res.Blocks, 1)
	b := res.Blocks[0]
	assert.LessOrEqual(t, b.BBox2D[0], b.BBox2D[2])
	assert.LessOrEqual(t, b.BBox2D[1], b.BBox2D[3])
	for _, v := range b.BBox2D {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Equal(t, 1.0, b.BBox2D[3])
}

func TestNormalizePreservesProviderIndex(t *testing.T) {
	res := Normalize([]SourcePage{
		{Blocks: []SourceBlock{
			{Index: 7, Label: "text", BBox: []float64{0, 0, 0.5, 0.5}},
			{Index: -1, Label: "text", BBox: []float64{0.5, 0.5, 1, 1}},
		}},
		{Blocks: []SourceBlock{
			{Index: -1, Label: "text", BBox: []float64{0, 0, 1, 1}},
		}},
	})

	require.Len(t, res.Blocks, 3)
	assert.Equal(t, "0:7", res.Blocks[0].ID)
	// Positional enumeration fills in where the provider gave no index.
	assert.Equal(t, "0:1", res.Blocks[1].ID)
	assert.Equal(t, "1:0", res.Blocks[2].ID)
	assert.Equal(t, 2, res.PageCount)
}

func TestNormalizeCountsEmptyPages(t *testing.T) {
	res := Normalize([]SourcePage{{}, {}, {}})
	assert.Equal(t, 3, res.PageCount)
	assert.Empty(t, res.Blocks)
}

func TestNormalizeMissingBBox(t *testing.T) {
	res := Normalize([]SourcePage{
		{Blocks: []SourceBlock{{Index: -1, Label: "text", Content: "no box"}}},
	})
	require.Len(t, res.Blocks, 1)
	assert.Equal(t, [4]float64{}, res.Blocks[0].BBox2D)
	assert.Zero(t, res.Blocks[0].Area())
}

func TestMapLabel(t *testing.T) {
	cases := map[string]constants.BlockLabel{
		"table":           constants.BlockTable,
		"table_body":      constants.BlockTable,
		"Table_Title":     constants.BlockTable,
		"figure":          constants.BlockImage,
		"chart":           constants.BlockImage,
		"seal":            constants.BlockImage,
		"qr_code":         constants.BlockImage,
		"equation":        constants.BlockFormula,
		"display_formula": constants.BlockFormula,
		"text":            constants.BlockText,
		"paragraph_title": constants.BlockText,
		"mystery_label":   constants.BlockText,
		"":                constants.BlockText,
	}
	for raw, want := range cases {
		assert.Equal(t, want, MapLabel(raw), "label %q", raw)
	}
}

func TestByIDAndOnPage(t *testing.T) {
	res := Normalize([]SourcePage{
		{Blocks: []SourceBlock{
			{Index: -1, Label: "text", BBox: []float64{0, 0, 1, 1}, Content: "a"},
			{Index: -1, Label: "table", BBox: []float64{0, 0, 0.5, 0.5}, Content: "b"},
		}},
		{Blocks: []SourceBlock{
			{Index: -1, Label: "text", BBox: []float64{0, 0, 1, 1}, Content: "c"},
		}},
	})

	byID := ByID(res.Blocks)
	assert.Equal(t, "b", byID["0:1"].Content)

	page0 := OnPage(res.Blocks, 0)
	require.Len(t, page0, 2)
	assert.Equal(t, "a", page0[0].Content)
	assert.Len(t, OnPage(res.Blocks, 1), 1)
	assert.Empty(t, OnPage(res.Blocks, 5))
}
