package extract

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/layout"
	"github.com/belticlabs/alternate-ocr/internal/llm"
)

type fakeCompleter struct {
	response string
	err      error
	lastUser string
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, system, user string) ([]byte, llm.Usage, error) {
	f.lastUser = user
	if f.err != nil {
		return nil, llm.Usage{}, f.err
	}
	return []byte(f.response), llm.Usage{TotalTokens: 10}, nil
}

var testBlocks = []layout.Block{
	{ID: "0:0", PageIndex: 0, Index: 0, Label: constants.BlockText,
		BBox2D: [4]float64{0, 0, 1, 0.2}, Content: "Invoice INV-9 from Acme"},
	{ID: "0:1", PageIndex: 0, Index: 1, Label: constants.BlockTable,
		BBox2D: [4]float64{0, 0.3, 1, 0.8}, Content: "line items"},
}

func TestExtractJoinsHintCitations(t *testing.T) {
	env := map[string]any{
		"values": map[string]any{"number": "INV-9", "vendor": "Acme"},
		"citations": []map[string]any{
			{"field_path": "number", "source_block_ids": []string{"0:0"}},
			{"field_path": "vendor", "source_block_ids": []string{"0:0", "7:7"}},
		},
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	e := NewTemplateExtractor(&fakeCompleter{response: string(raw)}, nil)
	res, err := e.Extract(context.Background(), `{"type":"object"}`, "", "Invoice INV-9 from Acme", testBlocks)
	require.NoError(t, err)

	byPath := map[string]Field{}
	for _, f := range res.Payload.Fields {
		byPath[f.FieldPath] = f
	}
	require.Len(t, byPath, 2)
	require.Len(t, byPath["number"].Citations, 1)
	assert.Equal(t, "0:0", byPath["number"].Citations[0].BlockID)
	// The hallucinated id 7:7 is dropped, leaving one valid citation.
	assert.Len(t, byPath["vendor"].Citations, 1)
	assert.Equal(t, 10, res.Usage.TotalTokens)
}

func TestExtractMissingValuesObject(t *testing.T) {
	e := NewTemplateExtractor(&fakeCompleter{response: `{"citations": []}`}, nil)
	_, err := e.Extract(context.Background(), `{"type":"object"}`, "", "md", testBlocks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required 'values'")
}

func TestExtractInvalidJSON(t *testing.T) {
	e := NewTemplateExtractor(&fakeCompleter{response: "not json at all"}, nil)
	_, err := e.Extract(context.Background(), `{"type":"object"}`, "", "md", testBlocks)
	require.Error(t, err)
}

func TestExtractEmptyValuesIsValid(t *testing.T) {
	e := NewTemplateExtractor(&fakeCompleter{response: `{"values": {}, "citations": []}`}, nil)
	res, err := e.Extract(context.Background(), `{"type":"object"}`, "", "md", testBlocks)
	require.NoError(t, err)
	assert.Empty(t, res.Payload.Fields)
}

func TestExtractPromptCarriesBlocksAndRules(t *testing.T) {
	fake := &fakeCompleter{response: `{"values": {}, "citations": []}`}
	e := NewTemplateExtractor(fake, nil)
	_, err := e.Extract(context.Background(), `{"type":"object"}`, "dates are ISO 8601", "the markdown", testBlocks)
	require.NoError(t, err)

	assert.Contains(t, fake.lastUser, "0:0 page=0 label=text")
	assert.Contains(t, fake.lastUser, "0:1 page=0 label=table")
	assert.Contains(t, fake.lastUser, "dates are ISO 8601")
	assert.Contains(t, fake.lastUser, "the markdown")
}

func TestExtractNoBackend(t *testing.T) {
	e := NewTemplateExtractor(nil, nil)
	_, err := e.Extract(context.Background(), `{"type":"object"}`, "", "md", nil)
	require.Error(t, err)
}
