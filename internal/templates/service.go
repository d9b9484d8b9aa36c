// Package templates manages extraction templates: validated JSON schemas plus
// free-text extraction rules, with a small read cache and an LLM-assisted
// draft endpoint.
package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/entity"
	"github.com/belticlabs/alternate-ocr/internal/llm"
	"github.com/belticlabs/alternate-ocr/internal/repository"
)

// Service is the template CRUD and drafting layer. Reads go through a short
// TTL cache because template mode fetches the template on every run.
type Service struct {
	repo    repository.TemplateRepository
	drafter llm.StructuredCompleter
	cache   *ttlcache.Cache[string, *entity.Template]
	log     *slog.Logger
}

func NewService(repo repository.TemplateRepository, drafter llm.StructuredCompleter, cacheTTL time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	cache := ttlcache.New[string, *entity.Template](
		ttlcache.WithTTL[string, *entity.Template](cacheTTL),
		ttlcache.WithDisableTouchOnHit[string, *entity.Template](),
	)
	go cache.Start()
	return &Service{repo: repo, drafter: drafter, cache: cache, log: logger}
}

// UpsertInput carries one create-or-update request. Empty ID means create.
type UpsertInput struct {
	ID              string
	Name            string
	Description     string
	SchemaJSON      string
	ExtractionRules string
}

// Upsert validates and persists a template. The schema must compile as JSON
// Schema and describe an object at the top level.
func (s *Service) Upsert(ctx context.Context, in UpsertInput) (*entity.Template, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, common.InvalidInputf("template name is required")
	}
	if err := validateSchema(in.SchemaJSON); err != nil {
		return nil, err
	}

	tpl := &entity.Template{
		ID:              in.ID,
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		SchemaJSON:      in.SchemaJSON,
		ExtractionRules: in.ExtractionRules,
	}
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	if err := s.repo.Upsert(ctx, tpl); err != nil {
		return nil, err
	}
	s.cache.Delete(tpl.ID)
	s.log.Info("templates.upsert", "template_id", tpl.ID, "name", tpl.Name)
	return tpl, nil
}

// Get returns one template, served from cache when fresh. Callers always get
// their own copy; the cached value is never handed out for mutation.
func (s *Service) Get(ctx context.Context, id string) (*entity.Template, error) {
	if item := s.cache.Get(id); item != nil {
		tpl := *item.Value()
		return &tpl, nil
	}
	tpl, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	cached := *tpl
	s.cache.Set(id, &cached, ttlcache.DefaultTTL)
	return tpl, nil
}

// List returns templates by name.
func (s *Service) List(ctx context.Context, includeInactive bool) ([]*entity.Template, error) {
	return s.repo.List(ctx, includeInactive)
}

// Deactivate soft-deletes a template.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	s.cache.Delete(id)
	s.log.Info("templates.deactivate", "template_id", id)
	return nil
}

// Close stops the cache janitor.
func (s *Service) Close() {
	s.cache.Stop()
}

// DraftInput asks the LLM to draft a schema from a plain-language description
// and optionally a sample of document text.
type DraftInput struct {
	Description    string
	SampleMarkdown string
}

// Draft is the drafted (not persisted) template content.
type Draft struct {
	Name            string `json:"name"`
	SchemaJSON      string `json:"schemaJson"`
	ExtractionRules string `json:"extractionRules"`
}

const maxDraftSampleChars = 12000

// DraftSchema produces a template draft from a description. The draft is
// validated the same way Upsert validates, so a returned draft is always
// persistable as-is.
func (s *Service) DraftSchema(ctx context.Context, in DraftInput) (*Draft, error) {
	if s.drafter == nil {
		return nil, common.NewAppError("DRAFT_UNAVAILABLE",
			"no llm configured for template drafting", common.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, common.InvalidInputf("description is required")
	}

	system := strings.Join([]string{
		"You design JSON schemas for document data extraction.",
		`Return ONLY a JSON object: {"name": "<short template name>",`,
		`"schema": <a JSON Schema object with "type":"object">,`,
		`"extraction_rules": "<concise plain-text guidance for the extractor>"}.`,
		"Prefer flat, well-named properties; use null-able types for optional fields.",
	}, " ")

	var user strings.Builder
	user.WriteString("Template description:\n")
	user.WriteString(in.Description)
	if sample := strings.TrimSpace(in.SampleMarkdown); sample != "" {
		if len(sample) > maxDraftSampleChars {
			sample = sample[:maxDraftSampleChars]
		}
		user.WriteString("\n\nSample document text:\n")
		user.WriteString(sample)
	}

	raw, usage, err := s.drafter.CompleteJSON(ctx, system, user.String())
	if err != nil {
		return nil, err
	}

	var env struct {
		Name            string          `json:"name"`
		Schema          json.RawMessage `json:"schema"`
		ExtractionRules string          `json:"extraction_rules"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("draft response is not valid JSON: %w", err)
	}
	if len(env.Schema) == 0 {
		return nil, fmt.Errorf("draft response missing schema")
	}
	if err := validateSchema(string(env.Schema)); err != nil {
		return nil, common.WrapError(err, "drafted schema is unusable")
	}

	s.log.Info("templates.draft.ok",
		"name", env.Name,
		"total_tokens", usage.TotalTokens,
	)
	return &Draft{
		Name:            env.Name,
		SchemaJSON:      string(env.Schema),
		ExtractionRules: env.ExtractionRules,
	}, nil
}

// validateSchema compiles the schema and requires a top-level object shape,
// since extraction envelopes always carry an object of values.
func validateSchema(schemaJSON string) error {
	if strings.TrimSpace(schemaJSON) == "" {
		return common.InvalidInputf("schema is required")
	}
	var tree map[string]any
	if err := json.Unmarshal([]byte(schemaJSON), &tree); err != nil {
		return common.InvalidInputf("schema is not a JSON object: %v", err)
	}
	if t, ok := tree["type"].(string); ok && t != "object" {
		return common.InvalidInputf("schema top-level type must be object, got %q", t)
	}
	if _, err := jsonschema.CompileString("template.schema.json", schemaJSON); err != nil {
		return common.InvalidInputf("schema does not compile: %v", err)
	}
	return nil
}
