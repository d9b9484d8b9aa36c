package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/layout"
)

func TestSynthesize(t *testing.T) {
	blocks := []layout.Block{
		{ID: "0:0", PageIndex: 0, Index: 0, Label: constants.BlockText,
			BBox2D: [4]float64{0, 0, 1, 0.3}, Content: "Title line"},
		{ID: "0:1", PageIndex: 0, Index: 1, Label: constants.BlockTable,
			BBox2D: [4]float64{0.1, 0.4, 0.9, 0.8}, Content: "| a | b |"},
		{ID: "1:0", PageIndex: 1, Index: 0, Label: constants.BlockFormula,
			BBox2D: [4]float64{0.2, 0.2, 0.6, 0.3}, Content: "E = mc^2"},
	}

	payload := Synthesize(blocks)

	summary := payload.Values["summary"].(map[string]any)
	assert.Equal(t, 3, summary["total_blocks"])
	assert.Equal(t, 1, summary["text_blocks"])
	assert.Equal(t, 1, summary["table_blocks"])
	assert.Equal(t, 1, summary["formula_blocks"])
	assert.Equal(t, 0, summary["image_blocks"])

	pages := payload.Values["pages"].(map[string]any)
	assert.Equal(t, "Title line", pages["0"])
	assert.Equal(t, "E = mc^2", pages["1"])

	tables := payload.Values["tables"].([]any)
	require.Len(t, tables, 1)
	assert.Equal(t, "0:1", tables[0].(map[string]any)["id"])

	// One self-citing field per block.
	require.Len(t, payload.Fields, 3)
	for _, f := range payload.Fields {
		require.Len(t, f.Citations, 1)
		c := f.Citations[0]
		assert.Equal(t, "blocks."+c.BlockID+".content", f.FieldPath)
		assert.Equal(t, f.FieldPath, c.FieldPath)
	}
	assert.Equal(t, "| a | b |", payload.Fields[1].Value)
	assert.Equal(t, [4]float64{0.1, 0.4, 0.9, 0.8}, payload.Fields[1].Citations[0].BBox2D)
}

func TestSynthesizeJoinsPageText(t *testing.T) {
	blocks := []layout.Block{
		{ID: "0:0", PageIndex: 0, Index: 0, Label: constants.BlockText, Content: "first"},
		{ID: "0:1", PageIndex: 0, Index: 1, Label: constants.BlockImage, Content: "base64..."},
		{ID: "0:2", PageIndex: 0, Index: 2, Label: constants.BlockText, Content: "second"},
	}

	payload := Synthesize(blocks)

	pages := payload.Values["pages"].(map[string]any)
	assert.Equal(t, "first\n\nsecond", pages["0"])
}

func TestSynthesizeEmpty(t *testing.T) {
	payload := Synthesize(nil)

	summary := payload.Values["summary"].(map[string]any)
	assert.Equal(t, 0, summary["total_blocks"])
	assert.Empty(t, payload.Fields)
	assert.Empty(t, payload.Values["blocks"])
}
