// Package pipeline owns run execution: document in, OCR, extraction, citation
// resolution, persisted payload, terminal status. Nothing else is allowed to
// move a run between statuses.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/blob"
	"github.com/belticlabs/alternate-ocr/internal/citation"
	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/entity"
	"github.com/belticlabs/alternate-ocr/internal/extract"
	"github.com/belticlabs/alternate-ocr/internal/layout"
	"github.com/belticlabs/alternate-ocr/internal/metrics"
	"github.com/belticlabs/alternate-ocr/internal/ocr"
	"github.com/belticlabs/alternate-ocr/internal/repository"
)

// Processor executes runs end to end. Safe for concurrent use; per-run state
// lives on the stack.
type Processor struct {
	runs      repository.RunRepository
	templates repository.TemplateRepository
	blobs     *blob.Store
	providers map[constants.Provider]ocr.Client
	extractor *extract.TemplateExtractor
	resolver  *citation.Resolver
	log       *slog.Logger
}

func NewProcessor(
	runs repository.RunRepository,
	templates repository.TemplateRepository,
	blobs *blob.Store,
	providers map[constants.Provider]ocr.Client,
	extractor *extract.TemplateExtractor,
	resolver *citation.Resolver,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		runs:      runs,
		templates: templates,
		blobs:     blobs,
		providers: providers,
		extractor: extractor,
		resolver:  resolver,
		log:       logger,
	}
}

// Process drives one run to a terminal status. The returned error mirrors
// what was recorded on the run; callers on the async path log and drop it.
func (p *Processor) Process(ctx context.Context, runID string) error {
	start := time.Now()
	var timing Timing

	run, err := p.runs.Get(ctx, runID)
	if err != nil {
		return err
	}

	log := p.log.With("run_id", run.ID, "provider", run.Provider, "mode", run.Mode)
	log.Info("pipeline.run.start", "filename", run.Filename, "bytes", run.ByteSize)

	if err := p.runs.MarkProcessing(ctx, run.ID, run.Provider); err != nil {
		return err
	}
	metrics.RunsStarted.WithLabelValues(string(run.Provider), string(run.Mode)).Inc()

	client, ok := p.providers[run.Provider]
	if !ok {
		return p.fail(ctx, run, &timing, start,
			fmt.Errorf("provider %s is not configured", run.Provider))
	}

	var tpl *entity.Template
	if run.Mode == constants.RunModeTemplate {
		tpl, err = p.templates.Get(ctx, run.TemplateID)
		if err != nil {
			return p.fail(ctx, run, &timing, start, err)
		}
	}

	fileBytes, err := p.blobs.Load(run.DocumentKey)
	if err != nil {
		return p.fail(ctx, run, &timing, start, err)
	}

	ocrReq := ocr.Request{
		FileBytes: fileBytes,
		Filename:  run.Filename,
		MimeType:  run.MimeType,
	}
	// Mistral extracts in the same call as OCR; its schema rides along.
	if tpl != nil && run.Provider == constants.ProviderMistral {
		ocrReq.SchemaJSON = tpl.SchemaJSON
		ocrReq.AnnotationPrompt = tpl.ExtractionRules
	}

	ocrStart := time.Now()
	ocrRes, err := client.Process(ctx, ocrReq)
	timing.OcrMs = time.Since(ocrStart).Milliseconds()
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(string(run.Provider), "error").Inc()
		return p.fail(ctx, run, &timing, start, err)
	}
	metrics.ProviderRequests.WithLabelValues(string(run.Provider), "ok").Inc()
	metrics.PagesProcessed.WithLabelValues(string(run.Provider)).Add(float64(ocrRes.Usage.PagesProcessed))

	normalized := layout.Normalize(ocrRes.Pages)
	log.Info("pipeline.run.ocr_done",
		"pages", normalized.PageCount,
		"blocks", len(normalized.Blocks),
		"ocr_ms", timing.OcrMs,
	)

	payload, err := p.buildPayload(ctx, run, tpl, ocrRes, normalized, &timing)
	if err != nil {
		return p.fail(ctx, run, &timing, start, err)
	}

	persistStart := time.Now()
	record, err := p.payloadRecord(run.ID, ocrRes, normalized, payload)
	if err == nil {
		err = p.runs.StorePayload(ctx, record)
	}
	timing.PersistedMs = time.Since(persistStart).Milliseconds()
	if err != nil {
		return p.fail(ctx, run, &timing, start, err)
	}

	timing.TotalMs = time.Since(start).Milliseconds()
	stats := ComputeStats(normalized.PageCount, timing.TotalMs)
	if err := p.runs.MarkCompleted(ctx, run.ID, normalized.PageCount, timing.JSON(), stats.JSON()); err != nil {
		return err
	}

	metrics.RunsCompleted.WithLabelValues(string(run.Provider), string(run.Mode)).Inc()
	metrics.RunDuration.WithLabelValues(string(run.Provider), string(run.Mode)).
		Observe(float64(timing.TotalMs) / 1000)
	log.Info("pipeline.run.completed",
		"pages", normalized.PageCount,
		"fields", len(payload.Fields),
		"total_ms", timing.TotalMs,
	)
	return nil
}

// buildPayload runs the mode+provider specific extraction arm.
func (p *Processor) buildPayload(
	ctx context.Context,
	run *entity.Run,
	tpl *entity.Template,
	ocrRes *ocr.Result,
	normalized layout.Result,
	timing *Timing,
) (*extract.FieldsPayload, error) {
	if run.Mode == constants.RunModeEverything {
		payload := extract.Synthesize(normalized.Blocks)
		return &payload, nil
	}

	switch run.Provider {
	case constants.ProviderMistral:
		// The annotation came back with the OCR call; only citation
		// inference remains.
		if ocrRes.Annotation == nil {
			return nil, fmt.Errorf("provider returned no annotation for template run")
		}
		var values map[string]any
		if err := json.Unmarshal(ocrRes.Annotation, &values); err != nil {
			return nil, fmt.Errorf("annotation is not a JSON object: %w", err)
		}
		citStart := time.Now()
		var payload extract.FieldsPayload
		if len(ocrRes.Hints) > 0 {
			resolved := citation.ResolveHints(ocrRes.Hints, layout.ByID(normalized.Blocks))
			payload = extract.JoinCitations(values, resolved)
		} else {
			pages := extract.BlocksToPages(normalized.Blocks, ocrRes.PageMarkdown, normalized.PageCount)
			payload = extract.AttachContentCitations(values, p.resolver, pages)
		}
		timing.CitationMs = time.Since(citStart).Milliseconds()
		p.validateSchema(tpl.SchemaJSON, &payload)
		return &payload, nil

	case constants.ProviderPaddle:
		llmStart := time.Now()
		res, err := p.extractor.Extract(ctx, tpl.SchemaJSON, tpl.ExtractionRules, ocrRes.Markdown, normalized.Blocks)
		if err != nil {
			timing.LlmMs = time.Since(llmStart).Milliseconds()
			return nil, err
		}
		timing.LlmMs = time.Since(llmStart).Milliseconds() - res.CitationMs
		timing.CitationMs = res.CitationMs
		payload := res.Payload
		p.validateSchema(tpl.SchemaJSON, &payload)
		return &payload, nil

	default:
		return nil, fmt.Errorf("provider %s has no template arm", run.Provider)
	}
}

// validateSchema checks the extracted values against the template schema and
// records the verdict on the payload. Validation failure is diagnostic data
// for the evaluation, never a run failure.
func (p *Processor) validateSchema(schemaJSON string, payload *extract.FieldsPayload) {
	schema, err := jsonschema.CompileString("template.schema.json", schemaJSON)
	if err != nil {
		valid := false
		payload.SchemaValid = &valid
		payload.SchemaErrors = []string{"schema did not compile: " + err.Error()}
		return
	}
	// Round-trip through encoding/json so validation sees the same generic
	// tree a reader of the stored payload would.
	var doc any
	raw, err := json.Marshal(payload.Values)
	if err == nil {
		err = json.Unmarshal(raw, &doc)
	}
	if err != nil {
		valid := false
		payload.SchemaValid = &valid
		payload.SchemaErrors = []string{err.Error()}
		return
	}
	if err := schema.Validate(doc); err != nil {
		valid := false
		payload.SchemaValid = &valid
		payload.SchemaErrors = []string{err.Error()}
		return
	}
	valid := true
	payload.SchemaValid = &valid
}

// payloadRecord serializes the run outputs into the persisted payload row.
func (p *Processor) payloadRecord(
	runID string,
	ocrRes *ocr.Result,
	normalized layout.Result,
	payload *extract.FieldsPayload,
) (*entity.RunPayload, error) {
	layoutJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal layout: %w", err)
	}
	fieldsJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal fields: %w", err)
	}
	var vizJSON []byte
	if len(ocrRes.Visualizations) > 0 {
		vizJSON, err = json.Marshal(ocrRes.Visualizations)
		if err != nil {
			return nil, fmt.Errorf("marshal visualizations: %w", err)
		}
	}
	return &entity.RunPayload{
		RunID:               runID,
		Markdown:            ocrRes.Markdown,
		LayoutJSON:          string(layoutJSON),
		VisualizationJSON:   string(vizJSON),
		ExtractedFieldsJSON: string(fieldsJSON),
		RawProviderJSON:     string(ocrRes.Raw),
	}, nil
}

// fail records the terminal failure and hands the original error back.
func (p *Processor) fail(ctx context.Context, run *entity.Run, timing *Timing, start time.Time, cause error) error {
	timing.TotalMs = time.Since(start).Milliseconds()
	msg := cause.Error()
	if len(msg) > 2000 {
		msg = msg[:2000]
	}
	if err := p.runs.MarkFailed(ctx, run.ID, msg, timing.JSON()); err != nil {
		p.log.Error("pipeline.run.mark_failed_error", "run_id", run.ID, "error", err)
	}
	metrics.RunsFailed.WithLabelValues(string(run.Provider), string(run.Mode)).Inc()
	p.log.Error("pipeline.run.failed",
		"run_id", run.ID,
		"error", cause,
		"total_ms", timing.TotalMs,
	)
	return common.WrapError(cause, "run "+run.ID+" failed")
}
