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

// PaddleConfig holds the PP-StructureV3 layout-parsing endpoint settings.
type PaddleConfig struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RatePerMinute int
}

// PaddleClient talks to a PP-StructureV3 layout-parsing service. It only does
// layout analysis; template extraction runs as a separate LLM call downstream.
type PaddleClient struct {
	cfg        PaddleConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

func NewPaddleClient(cfg PaddleConfig, logger *slog.Logger) *PaddleClient {
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
	return &PaddleClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
		log:        logger,
	}
}

func (c *PaddleClient) Name() constants.Provider { return constants.ProviderPaddle }

type paddleResponse struct {
	Result struct {
		LayoutParsingResults []struct {
			PrunedResult struct {
				ParsingResList []struct {
					BlockLabel   string    `json:"block_label"`
					BlockContent string    `json:"block_content"`
					BlockBBox    []float64 `json:"block_bbox"`
					BlockID      *int      `json:"block_id"`
				} `json:"parsing_res_list"`
				Width  float64 `json:"width"`
				Height float64 `json:"height"`
			} `json:"prunedResult"`
			Markdown struct {
				Text string `json:"text"`
			} `json:"markdown"`
			OutputImages map[string]string `json:"outputImages"`
		} `json:"layoutParsingResults"`
	} `json:"result"`
}

// Process sends the document for layout parsing and reshapes the per-page
// region lists into the canonical result. Region bboxes stay in pixels; the
// normalizer converts them using the page dimensions.
func (c *PaddleClient) Process(ctx context.Context, req Request) (*Result, error) {
	rid := uuid.New().String()
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	fileType := 0 // pdf
	if strings.HasPrefix(constants.NormalizeMime(req.MimeType), "image/") {
		fileType = 1
	}
	body := map[string]any{
		"file":     base64.StdEncoding.EncodeToString(req.FileBytes),
		"fileType": fileType,
	}

	c.log.Info("ocr.paddle.request",
		"req_id", rid,
		"bytes", len(req.FileBytes),
		"file_type", fileType,
	)

	raw, err := c.post(ctx, strings.TrimRight(c.cfg.BaseURL, "/")+"/layout-parsing", body)
	if err != nil {
		c.log.Error("ocr.paddle.error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	var parsed paddleResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode paddle layout response: %w", err)
	}

	pagesIn := parsed.Result.LayoutParsingResults
	res := &Result{
		PageCount: len(pagesIn),
		Usage:     Usage{PagesProcessed: len(pagesIn)},
		Raw:       raw,
	}

	var md strings.Builder
	for pi, page := range pagesIn {
		if md.Len() > 0 {
			md.WriteString("\n\n")
		}
		md.WriteString(page.Markdown.Text)
		res.PageMarkdown = append(res.PageMarkdown, page.Markdown.Text)

		sp := layout.SourcePage{
			Width:  page.PrunedResult.Width,
			Height: page.PrunedResult.Height,
		}
		for _, region := range page.PrunedResult.ParsingResList {
			idx := -1
			if region.BlockID != nil {
				idx = *region.BlockID
			}
			sp.Blocks = append(sp.Blocks, layout.SourceBlock{
				Index:   idx,
				Label:   region.BlockLabel,
				BBox:    region.BlockBBox,
				Content: region.BlockContent,
			})
		}
		// Some deployments omit page dimensions; fall back to the region
		// extents so pixel bboxes still normalize.
		if sp.Width <= 0 || sp.Height <= 0 {
			sp.Width, sp.Height = maxExtent(sp.Blocks)
		}
		res.Pages = append(res.Pages, sp)

		for name, img := range page.OutputImages {
			res.Visualizations = append(res.Visualizations, PageImage{
				PageIndex:   pi,
				Name:        name,
				ImageBase64: img,
			})
		}
	}
	res.Markdown = md.String()

	c.log.Info("ocr.paddle.ok",
		"req_id", rid,
		"pages", res.PageCount,
		"blocks", countBlocks(res.Pages),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func maxExtent(blocks []layout.SourceBlock) (float64, float64) {
	var w, h float64
	for _, b := range blocks {
		if len(b.BBox) == 4 {
			if b.BBox[2] > w {
				w = b.BBox[2]
			}
			if b.BBox[3] > h {
				h = b.BBox[3]
			}
		}
	}
	return w, h
}

func countBlocks(pages []layout.SourcePage) int {
	n := 0
	for _, p := range pages {
		n += len(p.Blocks)
	}
	return n
}

func (c *PaddleClient) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "token "+c.cfg.Token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paddle layout http error: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp := raw
		if len(slurp) > 64<<10 {
			slurp = slurp[:64<<10]
		}
		return nil, fmt.Errorf("paddle layout status %d: %s: %w", resp.StatusCode, string(slurp), common.ErrProvider)
	}
	return raw, nil
}
