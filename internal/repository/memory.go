package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/entity"
)

// MemoryStore is the in-process Store used by tests and by deployments that
// do not need durability. All methods are safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	runs      map[string]*entity.Run
	payloads  map[string]*entity.RunPayload
	templates map[string]*entity.Template
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:      make(map[string]*entity.Run),
		payloads:  make(map[string]*entity.RunPayload),
		templates: make(map[string]*entity.Template),
	}
}

func (s *MemoryStore) Runs() RunRepository           { return (*memoryRuns)(s) }
func (s *MemoryStore) Templates() TemplateRepository { return (*memoryTemplates)(s) }
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                   { return nil }

type memoryRuns MemoryStore

func (r *memoryRuns) Create(ctx context.Context, run *entity.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return common.NewAppError("RUN_EXISTS", "run id already exists", common.ErrConflict)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	cp := *run
	r.runs[run.ID] = &cp
	return nil
}

func (r *memoryRuns) Get(ctx context.Context, id string) (*entity.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return nil, common.NotFoundf("run %s not found", id)
	}
	cp := *run
	return &cp, nil
}

func (r *memoryRuns) List(ctx context.Context, filter RunFilter) ([]*entity.Run, error) {
	r.mu.RLock()
	out := make([]*entity.Run, 0, len(r.runs))
	for _, run := range r.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Mode != "" && run.Mode != filter.Mode {
			continue
		}
		cp := *run
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func paginate(runs []*entity.Run, limit, offset int) []*entity.Run {
	if offset > 0 {
		if offset >= len(runs) {
			return []*entity.Run{}
		}
		runs = runs[offset:]
	}
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs
}

func (r *memoryRuns) MarkProcessing(ctx context.Context, id string, provider constants.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return common.NotFoundf("run %s not found", id)
	}
	if !run.Status.CanTransition(constants.RunStatusProcessing) {
		return common.NewAppError("BAD_TRANSITION",
			"cannot move run from "+string(run.Status)+" to processing", common.ErrConflict)
	}
	run.Status = constants.RunStatusProcessing
	run.Provider = provider
	run.StartedAt = time.Now().UTC()
	return nil
}

func (r *memoryRuns) StorePayload(ctx context.Context, payload *entity.RunPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[payload.RunID]; !ok {
		return common.NotFoundf("run %s not found", payload.RunID)
	}
	cp := *payload
	r.payloads[payload.RunID] = &cp
	return nil
}

func (r *memoryRuns) MarkCompleted(ctx context.Context, id string, pageCount int, timingJSON, statsJSON string) error {
	return r.finish(id, constants.RunStatusCompleted, func(run *entity.Run) {
		run.PageCount = pageCount
		run.TimingJSON = timingJSON
		run.StatsJSON = statsJSON
	})
}

func (r *memoryRuns) MarkFailed(ctx context.Context, id string, errorMessage, timingJSON string) error {
	return r.finish(id, constants.RunStatusFailed, func(run *entity.Run) {
		run.ErrorMessage = errorMessage
		run.TimingJSON = timingJSON
	})
}

func (r *memoryRuns) finish(id string, to constants.RunStatus, apply func(*entity.Run)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return common.NotFoundf("run %s not found", id)
	}
	if !run.Status.CanTransition(to) {
		return common.NewAppError("BAD_TRANSITION",
			"cannot move run from "+string(run.Status)+" to "+string(to), common.ErrConflict)
	}
	run.Status = to
	run.CompletedAt = time.Now().UTC()
	apply(run)
	return nil
}

func (r *memoryRuns) GetPayload(ctx context.Context, id string) (*entity.RunPayload, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	payload, ok := r.payloads[id]
	if !ok {
		return nil, common.NotFoundf("payload for run %s not found", id)
	}
	cp := *payload
	return &cp, nil
}

func (r *memoryRuns) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[id]; !ok {
		return common.NotFoundf("run %s not found", id)
	}
	delete(r.runs, id)
	delete(r.payloads, id)
	return nil
}

type memoryTemplates MemoryStore

func (r *memoryTemplates) Upsert(ctx context.Context, tpl *entity.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.templates[tpl.ID]; ok {
		tpl.CreatedAt = existing.CreatedAt
		tpl.IsActive = existing.IsActive
	} else {
		tpl.CreatedAt = now
		tpl.IsActive = true
	}
	tpl.UpdatedAt = now
	cp := *tpl
	r.templates[tpl.ID] = &cp
	return nil
}

func (r *memoryTemplates) Get(ctx context.Context, id string) (*entity.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[id]
	if !ok {
		return nil, common.NotFoundf("template %s not found", id)
	}
	cp := *tpl
	return &cp, nil
}

func (r *memoryTemplates) List(ctx context.Context, includeInactive bool) ([]*entity.Template, error) {
	r.mu.RLock()
	out := make([]*entity.Template, 0, len(r.templates))
	for _, tpl := range r.templates {
		if !includeInactive && !tpl.IsActive {
			continue
		}
		cp := *tpl
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

func (r *memoryTemplates) Deactivate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl, ok := r.templates[id]
	if !ok {
		return common.NotFoundf("template %s not found", id)
	}
	tpl.IsActive = false
	tpl.UpdatedAt = time.Now().UTC()
	return nil
}
