package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/blob"
	"github.com/belticlabs/alternate-ocr/internal/citation"
	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/entity"
	"github.com/belticlabs/alternate-ocr/internal/export"
	"github.com/belticlabs/alternate-ocr/internal/extract"
	"github.com/belticlabs/alternate-ocr/internal/layout"
	"github.com/belticlabs/alternate-ocr/internal/ocr"
	"github.com/belticlabs/alternate-ocr/internal/pipeline"
	"github.com/belticlabs/alternate-ocr/internal/repository"
	"github.com/belticlabs/alternate-ocr/internal/runs"
	"github.com/belticlabs/alternate-ocr/internal/templates"
)

type stubOCR struct{}

func (stubOCR) Name() constants.Provider { return constants.ProviderPaddle }

func (stubOCR) Process(ctx context.Context, req ocr.Request) (*ocr.Result, error) {
	return &ocr.Result{
		Markdown:     "Report heading",
		PageMarkdown: []string{"Report heading"},
		Pages: []layout.SourcePage{
			{Width: 1000, Height: 1000, Blocks: []layout.SourceBlock{
				{Index: -1, Label: "text", BBox: []float64{50, 50, 600, 150}, Content: "Report heading"},
			}},
		},
		PageCount: 1,
		Usage:     ocr.Usage{PagesProcessed: 1},
		Raw:       json.RawMessage(`{"parsing_res_list":[]}`),
	}, nil
}

// inlineQueue runs submissions synchronously so assertions can follow
// immediately.
type inlineQueue struct{}

func (inlineQueue) Submit(name string, task func(ctx context.Context) error) {
	_ = task(context.Background())
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := repository.NewMemoryStore()
	blobs, err := blob.NewStore(t.TempDir())
	require.NoError(t, err)

	processor := pipeline.NewProcessor(
		store.Runs(), store.Templates(), blobs,
		map[constants.Provider]ocr.Client{constants.ProviderPaddle: stubOCR{}},
		extract.NewTemplateExtractor(nil, nil),
		citation.NewResolver(citation.DefaultConfig()),
		nil,
	)

	runCfg := common.RunConfig{SyncMaxBytes: 1 << 20, MaxUploadBytes: 4 << 20, Concurrency: 1}
	runsSvc := runs.NewService(store.Runs(), store.Templates(), blobs, processor, inlineQueue{}, runCfg, nil)
	templatesSvc := templates.NewService(store.Templates(), nil, time.Minute, nil)
	t.Cleanup(templatesSvc.Close)
	exportSvc := export.NewService(store.Runs(), nil)

	srv := httptest.NewServer(New(runsSvc, templatesSvc, exportSvc, runCfg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func uploadRun(t *testing.T, srv *httptest.Server, mode string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="doc.pdf"`)
	h.Set("Content-Type", "application/pdf")
	fw, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = fw.Write([]byte("%PDF-1.4 tiny"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("mode", mode))
	require.NoError(t, mw.WriteField("provider", "paddle"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/api/runs", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunUploadRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	resp := uploadRun(t, srv, "everything")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var run entity.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&run))
	assert.Equal(t, constants.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.PageCount)

	// Detail carries the payload.
	detailResp, err := http.Get(srv.URL + "/api/runs/" + run.ID + "/detail")
	require.NoError(t, err)
	defer detailResp.Body.Close()
	require.Equal(t, http.StatusOK, detailResp.StatusCode)

	var detail struct {
		Run     entity.Run         `json:"run"`
		Payload *entity.RunPayload `json:"payload"`
	}
	require.NoError(t, json.NewDecoder(detailResp.Body).Decode(&detail))
	require.NotNil(t, detail.Payload)
	assert.Equal(t, "Report heading", detail.Payload.Markdown)

	// Export works for the completed run.
	exportResp, err := http.Get(srv.URL + "/api/runs/" + run.ID + "/export")
	require.NoError(t, err)
	defer exportResp.Body.Close()
	require.Equal(t, http.StatusOK, exportResp.StatusCode)
	assert.Equal(t, xlsxContentType, exportResp.Header.Get("Content-Type"))
	data, err := io.ReadAll(exportResp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// The stored source document streams back with its original mime type.
	docResp, err := http.Get(srv.URL + "/api/runs/" + run.ID + "/document")
	require.NoError(t, err)
	defer docResp.Body.Close()
	require.Equal(t, http.StatusOK, docResp.StatusCode)
	assert.Equal(t, "application/pdf", docResp.Header.Get("Content-Type"))
	doc, err := io.ReadAll(docResp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 tiny"), doc)

	// Delete, then the run is gone.
	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/runs/"+run.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	getResp, err := http.Get(srv.URL + "/api/runs/" + run.ID)
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestRunUploadValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	resp := uploadRun(t, srv, "template") // no templateId
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTemplateCRUDOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	body := `{"name":"Invoices","schemaJson":"{\"type\":\"object\"}"}`
	resp, err := http.Post(srv.URL+"/api/templates", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var tpl entity.Template
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tpl))
	assert.NotEmpty(t, tpl.ID)

	listResp, err := http.Get(srv.URL + "/api/templates")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var list struct {
		Templates []entity.Template `json:"templates"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list.Templates, 1)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/templates/"+tpl.ID, nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)
}

func TestTemplateValidationOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/templates", "application/json",
		strings.NewReader(`{"name":"bad","schemaJson":"{broken"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRunReturns404(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/runs/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
