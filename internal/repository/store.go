// Package repository defines the persistence contracts and their memory and
// SQL implementations. Status transitions are enforced here so no caller can
// move a run backwards or skip processing.
package repository

import (
	"context"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/entity"
)

// RunFilter narrows List results. Zero values mean "no constraint".
type RunFilter struct {
	Status constants.RunStatus
	Mode   constants.RunMode
	Limit  int
	Offset int
}

// RunRepository persists runs and their result payloads.
type RunRepository interface {
	// Create inserts a queued run. The caller assigns the ID; CreatedAt is
	// filled in if zero.
	Create(ctx context.Context, run *entity.Run) error
	Get(ctx context.Context, id string) (*entity.Run, error)
	// List returns runs newest first.
	List(ctx context.Context, filter RunFilter) ([]*entity.Run, error)

	// MarkProcessing transitions queued -> processing and records the
	// provider and start time. Illegal transitions return ErrConflict.
	MarkProcessing(ctx context.Context, id string, provider constants.Provider) error
	// StorePayload upserts the result payload for a run. Called before the
	// terminal status write so a completed run always has its payload.
	StorePayload(ctx context.Context, payload *entity.RunPayload) error
	// MarkCompleted transitions processing -> completed with final counters.
	MarkCompleted(ctx context.Context, id string, pageCount int, timingJSON, statsJSON string) error
	// MarkFailed transitions processing -> failed. Partial timings are kept.
	MarkFailed(ctx context.Context, id string, errorMessage, timingJSON string) error

	GetPayload(ctx context.Context, id string) (*entity.RunPayload, error)
	// Delete removes the run and its payload atomically; deleting a missing
	// run returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// TemplateRepository persists extraction templates.
type TemplateRepository interface {
	// Upsert creates the template when ID is empty (caller supplies the new
	// ID) and otherwise updates name, description, schema and rules in place.
	// CreatedAt is preserved on update; UpdatedAt is refreshed.
	Upsert(ctx context.Context, tpl *entity.Template) error
	Get(ctx context.Context, id string) (*entity.Template, error)
	// List returns templates by name; inactive ones only when asked.
	List(ctx context.Context, includeInactive bool) ([]*entity.Template, error)
	// Deactivate soft-deletes a template. Runs referencing it are untouched.
	Deactivate(ctx context.Context, id string) error
}

// Store bundles both repositories plus lifecycle management.
type Store interface {
	Runs() RunRepository
	Templates() TemplateRepository
	Ping(ctx context.Context) error
	Close() error
}
