package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belticlabs/alternate-ocr/constants"
)

func TestInferProvider(t *testing.T) {
	assert.Equal(t, constants.ProviderPaddle,
		InferProvider([]byte(`{"result":{"layoutParsingResults":[]}}`)))
	assert.Equal(t, constants.ProviderPaddle,
		InferProvider([]byte(`{"parsing_res_list":[]}`)))
	assert.Equal(t, constants.ProviderMistral,
		InferProvider([]byte(`{"usage_info":{"pages_processed":2}}`)))
	assert.Equal(t, constants.ProviderMistral,
		InferProvider([]byte(`{"document_annotation":"{}"}`)))
	assert.Empty(t, InferProvider([]byte(`{"something":"else"}`)))
	assert.Empty(t, InferProvider(nil))
}

func TestMistralProcess(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/ocr", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		resp := map[string]any{
			"pages": []map[string]any{
				{
					"index":    0,
					"markdown": "# Invoice\ntotal 12.50",
					"images": []map[string]any{
						{"id": "img-0", "top_left_x": 100, "top_left_y": 200,
							"bottom_right_x": 300, "bottom_right_y": 400,
							"image_base64": "aGk="},
					},
					"dimensions": map[string]any{"dpi": 200, "width": 1000, "height": 1400},
				},
			},
			"document_annotation": `{"total": 12.5}`,
			"usage_info":          map[string]any{"pages_processed": 1},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewMistralClient(MistralConfig{
		BaseURL: srv.URL, APIKey: "test-key", Model: "mistral-ocr-latest",
	}, nil)
	assert.Equal(t, constants.ProviderMistral, c.Name())

	res, err := c.Process(context.Background(), Request{
		FileBytes:  []byte("%PDF"),
		Filename:   "doc.pdf",
		MimeType:   "application/pdf",
		SchemaJSON: `{"type":"object"}`,
	})
	require.NoError(t, err)

	// Document rode along as a data URL and the schema as annotation format.
	doc := captured["document"].(map[string]any)
	assert.Contains(t, doc["document_url"], "data:application/pdf;base64,")
	assert.Contains(t, captured, "document_annotation_format")

	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, 1, res.Usage.PagesProcessed)
	assert.JSONEq(t, `{"total": 12.5}`, string(res.Annotation))
	assert.Equal(t, "# Invoice\ntotal 12.50", res.Markdown)

	require.Len(t, res.Pages, 1)
	page := res.Pages[0]
	assert.Equal(t, 1000.0, page.Width)
	require.Len(t, page.Blocks, 2)
	// One full-page text block for the markdown, then the image blocks.
	assert.Equal(t, "text", page.Blocks[0].Label)
	assert.Equal(t, []float64{0, 0, 1, 1}, page.Blocks[0].BBox)
	assert.Equal(t, "image", page.Blocks[1].Label)
	assert.Equal(t, []float64{100, 200, 300, 400}, page.Blocks[1].BBox)
}

func TestMistralOmitsAnnotationWithoutSchema(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"pages": []any{}})
	}))
	defer srv.Close()

	c := NewMistralClient(MistralConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, nil)
	res, err := c.Process(context.Background(), Request{
		FileBytes: []byte("x"), MimeType: "image/png",
	})
	require.NoError(t, err)
	assert.NotContains(t, captured, "document_annotation_format")
	assert.Nil(t, res.Annotation)
	assert.Zero(t, res.PageCount)
}

func TestMistralUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid model"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewMistralClient(MistralConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"}, nil)
	_, err := c.Process(context.Background(), Request{FileBytes: []byte("x"), MimeType: "application/pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
}

func TestPaddleProcess(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/layout-parsing", r.URL.Path)
		require.Equal(t, "token secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		resp := map[string]any{
			"result": map[string]any{
				"layoutParsingResults": []map[string]any{
					{
						"prunedResult": map[string]any{
							"parsing_res_list": []map[string]any{
								{"block_label": "doc_title", "block_content": "Annual Report",
									"block_bbox": []float64{80, 40, 720, 120}},
								{"block_label": "table", "block_content": "| q | v |",
									"block_bbox": []float64{80, 200, 720, 600}, "block_id": 5},
							},
							"width":  800,
							"height": 1100,
						},
						"markdown":     map[string]any{"text": "# Annual Report"},
						"outputImages": map[string]any{"layout_det_res": "aW1n"},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewPaddleClient(PaddleConfig{BaseURL: srv.URL, Token: "secret"}, nil)
	assert.Equal(t, constants.ProviderPaddle, c.Name())

	res, err := c.Process(context.Background(), Request{
		FileBytes: []byte("%PDF"), MimeType: "application/pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, float64(0), captured["fileType"])
	assert.Equal(t, 1, res.PageCount)
	assert.Equal(t, "# Annual Report", res.Markdown)

	require.Len(t, res.Pages, 1)
	page := res.Pages[0]
	assert.Equal(t, 800.0, page.Width)
	require.Len(t, page.Blocks, 2)
	assert.Equal(t, -1, page.Blocks[0].Index)
	assert.Equal(t, "doc_title", page.Blocks[0].Label)
	assert.Equal(t, 5, page.Blocks[1].Index)

	require.Len(t, res.Visualizations, 1)
	assert.Equal(t, "layout_det_res", res.Visualizations[0].Name)
	assert.Equal(t, 0, res.Visualizations[0].PageIndex)
}

func TestPaddleImageFileType(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{}})
	}))
	defer srv.Close()

	c := NewPaddleClient(PaddleConfig{BaseURL: srv.URL}, nil)
	_, err := c.Process(context.Background(), Request{FileBytes: []byte("x"), MimeType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), captured["fileType"])
}

func TestPaddleDimensionFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"result": map[string]any{
				"layoutParsingResults": []map[string]any{
					{
						"prunedResult": map[string]any{
							"parsing_res_list": []map[string]any{
								{"block_label": "text", "block_content": "x",
									"block_bbox": []float64{10, 10, 600, 900}},
							},
						},
						"markdown": map[string]any{"text": "x"},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewPaddleClient(PaddleConfig{BaseURL: srv.URL}, nil)
	res, err := c.Process(context.Background(), Request{FileBytes: []byte("x"), MimeType: "application/pdf"})
	require.NoError(t, err)

	// Missing page dimensions fall back to the region extents.
	require.Len(t, res.Pages, 1)
	assert.Equal(t, 600.0, res.Pages[0].Width)
	assert.Equal(t, 900.0, res.Pages[0].Height)
}
