// Package runs is the run lifecycle service: admission, creation, lookup and
// deletion. Processing itself belongs to the pipeline package.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/blob"
	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/entity"
	"github.com/belticlabs/alternate-ocr/internal/repository"
)

// Processor is the pipeline entry point the service dispatches runs to.
type Processor interface {
	Process(ctx context.Context, runID string) error
}

// Queue admits async work.
type Queue interface {
	Submit(name string, task func(ctx context.Context) error)
}

// Service coordinates run creation and retrieval.
type Service struct {
	runs      repository.RunRepository
	templates repository.TemplateRepository
	blobs     *blob.Store
	processor Processor
	queue     Queue
	cfg       common.RunConfig
	log       *slog.Logger
}

func NewService(
	runsRepo repository.RunRepository,
	templatesRepo repository.TemplateRepository,
	blobs *blob.Store,
	processor Processor,
	queue Queue,
	cfg common.RunConfig,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runs:      runsRepo,
		templates: templatesRepo,
		blobs:     blobs,
		processor: processor,
		queue:     queue,
		cfg:       cfg,
		log:       logger,
	}
}

// CreateInput is one upload request.
type CreateInput struct {
	Filename   string
	MimeType   string
	FileBytes  []byte
	Mode       constants.RunMode
	Provider   constants.Provider
	TemplateID string
}

// CreateResult reports the created run and whether it was processed inline.
type CreateResult struct {
	Run  *entity.Run
	Sync bool
}

// Create validates the upload, stores the document, records the queued run
// and dispatches it. Small documents process synchronously so the caller gets
// a terminal run back in one round trip; larger ones go through the queue.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := s.validate(ctx, &in); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	key, err := s.blobs.Save(runID, in.Filename, in.FileBytes)
	if err != nil {
		return nil, err
	}

	run := &entity.Run{
		ID:          runID,
		Mode:        in.Mode,
		TemplateID:  in.TemplateID,
		Status:      constants.RunStatusQueued,
		Provider:    in.Provider,
		DocumentKey: key,
		Filename:    in.Filename,
		MimeType:    constants.NormalizeMime(in.MimeType),
		ByteSize:    int64(len(in.FileBytes)),
	}
	if err := s.runs.Create(ctx, run); err != nil {
		s.blobs.Delete(key)
		return nil, err
	}

	sync := int64(len(in.FileBytes)) <= s.cfg.SyncMaxBytes
	s.log.Info("runs.create",
		"run_id", run.ID,
		"mode", run.Mode,
		"provider", run.Provider,
		"bytes", run.ByteSize,
		"sync", sync,
	)

	if sync {
		// Inline failures are already recorded on the run; return the run in
		// its terminal state either way.
		if err := s.processor.Process(ctx, run.ID); err != nil {
			s.log.Warn("runs.create.sync_failed", "run_id", run.ID, "error", err)
		}
		final, err := s.runs.Get(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		return &CreateResult{Run: final, Sync: true}, nil
	}

	s.queue.Submit("run:"+run.ID, func(taskCtx context.Context) error {
		return s.processor.Process(taskCtx, run.ID)
	})
	return &CreateResult{Run: run, Sync: false}, nil
}

func (s *Service) validate(ctx context.Context, in *CreateInput) error {
	if len(in.FileBytes) == 0 {
		return common.InvalidInputf("uploaded file is empty")
	}
	if int64(len(in.FileBytes)) > s.cfg.MaxUploadBytes {
		return common.InvalidInputf("file exceeds the %d byte upload limit", s.cfg.MaxUploadBytes)
	}
	mime := constants.NormalizeMime(in.MimeType)
	if _, ok := constants.AllowedMimeTypes[mime]; !ok {
		return common.InvalidInputf("unsupported mime type %q", in.MimeType)
	}
	if in.Filename == "" {
		in.Filename = "document"
	}

	switch in.Provider {
	case constants.ProviderMistral, constants.ProviderPaddle:
	default:
		return common.InvalidInputf("unknown provider %q", in.Provider)
	}

	switch in.Mode {
	case constants.RunModeEverything:
		if in.TemplateID != "" {
			return common.InvalidInputf("templateId is not allowed in everything mode")
		}
	case constants.RunModeTemplate:
		if in.TemplateID == "" {
			return common.InvalidInputf("templateId is required in template mode")
		}
		tpl, err := s.templates.Get(ctx, in.TemplateID)
		if err != nil {
			return err
		}
		if !tpl.IsActive {
			return common.InvalidInputf("template %s is inactive", in.TemplateID)
		}
	default:
		return common.InvalidInputf("unknown mode %q", in.Mode)
	}
	return nil
}

// Get returns one run.
func (s *Service) Get(ctx context.Context, id string) (*entity.Run, error) {
	return s.runs.Get(ctx, id)
}

// List returns runs newest first.
func (s *Service) List(ctx context.Context, filter repository.RunFilter) ([]*entity.Run, error) {
	return s.runs.List(ctx, filter)
}

// Detail is a run joined with its payload. Payload is nil until the run has
// reached the OCR phase.
type Detail struct {
	Run     *entity.Run        `json:"run"`
	Payload *entity.RunPayload `json:"payload,omitempty"`
}

// GetDetail returns the run with its payload when one exists.
func (s *Service) GetDetail(ctx context.Context, id string) (*Detail, error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Run: run}
	payload, err := s.runs.GetPayload(ctx, id)
	switch {
	case err == nil:
		d.Payload = payload
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}
	return d, nil
}

// Document returns the run together with its stored source bytes.
func (s *Service) Document(ctx context.Context, id string) (*entity.Run, []byte, error) {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if run.DocumentKey == "" {
		return nil, nil, common.NotFoundf("run %s has no stored document", id)
	}
	data, err := s.blobs.Load(run.DocumentKey)
	if err != nil {
		return nil, nil, err
	}
	return run, data, nil
}

// Delete removes a terminal run, its payload and its stored document. Runs
// still queued or processing cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return err
	}
	if !run.Status.Terminal() {
		return common.NewAppError("RUN_ACTIVE",
			fmt.Sprintf("run %s is %s and cannot be deleted", id, run.Status), common.ErrConflict)
	}
	if err := s.runs.Delete(ctx, id); err != nil {
		return err
	}
	if run.DocumentKey != "" {
		if err := s.blobs.Delete(run.DocumentKey); err != nil {
			s.log.Warn("runs.delete.blob_error", "run_id", id, "error", err)
		}
	}
	s.log.Info("runs.delete", "run_id", id)
	return nil
}
