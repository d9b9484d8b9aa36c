package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/layout"
)

// MistralConfig holds the mistral OCR endpoint settings.
type MistralConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	RatePerMinute int
}

// MistralClient talks to the /v1/ocr endpoint. When a schema is supplied the
// same call also produces a document annotation, so template mode needs no
// separate extraction request.
type MistralClient struct {
	cfg        MistralConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

func NewMistralClient(cfg MistralConfig, logger *slog.Logger) *MistralClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	rpm := cfg.RatePerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return &MistralClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		log:        logger,
	}
}

func (c *MistralClient) Name() constants.Provider { return constants.ProviderMistral }

// mistralResponse mirrors the OCR endpoint shape we depend on.
type mistralResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
		Images   []struct {
			ID           string  `json:"id"`
			TopLeftX     float64 `json:"top_left_x"`
			TopLeftY     float64 `json:"top_left_y"`
			BottomRightX float64 `json:"bottom_right_x"`
			BottomRightY float64 `json:"bottom_right_y"`
			ImageBase64  string  `json:"image_base64"`
		} `json:"images"`
		Dimensions struct {
			DPI    int `json:"dpi"`
			Height int `json:"height"`
			Width  int `json:"width"`
		} `json:"dimensions"`
	} `json:"pages"`
	DocumentAnnotation string `json:"document_annotation"`
	UsageInfo          struct {
		PagesProcessed int `json:"pages_processed"`
	} `json:"usage_info"`
}

// Process runs one OCR call and reshapes the response into the canonical
// result. Each page yields one full-page text block holding the page markdown
// plus one image block per detected image (pixel bboxes).
func (c *MistralClient) Process(ctx context.Context, req Request) (*Result, error) {
	rid := uuid.New().String()
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	dataURL := "data:" + constants.NormalizeMime(req.MimeType) + ";base64," +
		base64.StdEncoding.EncodeToString(req.FileBytes)

	body := map[string]any{
		"model": c.cfg.Model,
		"document": map[string]any{
			"type":         "document_url",
			"document_url": dataURL,
		},
		"include_image_base64": true,
	}
	if strings.TrimSpace(req.SchemaJSON) != "" {
		var schema any
		if err := json.Unmarshal([]byte(req.SchemaJSON), &schema); err != nil {
			return nil, common.InvalidInputf("template schema is not valid JSON: %v", err)
		}
		format := map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "document_annotation",
				"schema": schema,
			},
		}
		body["document_annotation_format"] = format
		if strings.TrimSpace(req.AnnotationPrompt) != "" {
			body["document_annotation_prompt"] = req.AnnotationPrompt
		}
	}

	c.log.Info("ocr.mistral.request",
		"req_id", rid,
		"model", c.cfg.Model,
		"bytes", len(req.FileBytes),
		"annotated", body["document_annotation_format"] != nil,
	)

	raw, err := c.post(ctx, strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/ocr", body)
	if err != nil {
		c.log.Error("ocr.mistral.error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var parsed mistralResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode mistral ocr response: %w", err)
	}

	res := &Result{
		PageCount: len(parsed.Pages),
		Usage:     Usage{PagesProcessed: parsed.UsageInfo.PagesProcessed},
		Raw:       raw,
	}
	if res.Usage.PagesProcessed == 0 {
		res.Usage.PagesProcessed = len(parsed.Pages)
	}
	if parsed.DocumentAnnotation != "" {
		res.Annotation = json.RawMessage(parsed.DocumentAnnotation)
	}

	var md strings.Builder
	for _, page := range parsed.Pages {
		if md.Len() > 0 {
			md.WriteString("\n\n")
		}
		md.WriteString(page.Markdown)
		res.PageMarkdown = append(res.PageMarkdown, page.Markdown)

		sp := layout.SourcePage{
			Width:  float64(page.Dimensions.Width),
			Height: float64(page.Dimensions.Height),
		}
		// The page text arrives as one markdown document, not discrete
		// regions; it becomes a single full-page text block.
		if strings.TrimSpace(page.Markdown) != "" {
			sp.Blocks = append(sp.Blocks, layout.SourceBlock{
				Index:   -1,
				Label:   "text",
				BBox:    []float64{0, 0, 1, 1},
				Content: page.Markdown,
			})
		}
		for _, img := range page.Images {
			sp.Blocks = append(sp.Blocks, layout.SourceBlock{
				Index:   -1,
				Label:   "image",
				BBox:    []float64{img.TopLeftX, img.TopLeftY, img.BottomRightX, img.BottomRightY},
				Content: img.ImageBase64,
			})
		}
		res.Pages = append(res.Pages, sp)
	}
	res.Markdown = md.String()

	c.log.Info("ocr.mistral.ok",
		"req_id", rid,
		"pages", res.PageCount,
		"annotated", res.Annotation != nil,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (c *MistralClient) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mistral ocr http error: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp := raw
		if len(slurp) > 64<<10 {
			slurp = slurp[:64<<10]
		}
		return nil, fmt.Errorf("mistral ocr status %d: %s: %w", resp.StatusCode, string(slurp), common.ErrProvider)
	}
	return raw, nil
}
