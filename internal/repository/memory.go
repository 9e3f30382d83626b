package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"caseflow/backend/pkg/models"
)

// MemoryStore is an in-memory Store. It backs the engine and handler tests and
// local development without a database; semantics mirror PostgresStore,
// including per-case serialization in WithCase.
type MemoryStore struct {
	mu        sync.RWMutex
	templates []models.WorkflowTemplate
	steps     map[string][]models.WorkflowStep // template ID -> ordered steps
	cases     map[string]*models.Case
	instances map[string]*models.CaseWorkflowInstance // instance ID -> instance
	byCase    map[string]string                       // case ID -> instance ID
	progress  map[string][]*models.CaseWorkflowProgress
	overrides []models.WorkflowOverride
	audit     []models.AuditEntry
	documents []models.DocumentRecord

	caseMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// memoryTx is a transaction-scoped view of a MemoryStore. Nested WithCase
// calls run directly instead of re-acquiring the case lock.
type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) WithCase(ctx context.Context, caseID string, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		steps:     make(map[string][]models.WorkflowStep),
		cases:     make(map[string]*models.Case),
		instances: make(map[string]*models.CaseWorkflowInstance),
		byCase:    make(map[string]string),
		progress:  make(map[string][]*models.CaseWorkflowProgress),
		locks:     make(map[string]*sync.Mutex),
	}
}

// WithCase serializes fn against other WithCase calls for the same case.
func (s *MemoryStore) WithCase(ctx context.Context, caseID string, fn func(ctx context.Context, tx Store) error) error {
	lock := s.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()
	return fn(ctx, memoryTx{s})
}

func (s *MemoryStore) caseLock(caseID string) *sync.Mutex {
	s.caseMu.Lock()
	defer s.caseMu.Unlock()
	lock, ok := s.locks[caseID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[caseID] = lock
	}
	return lock
}

func (s *MemoryStore) CreateTemplate(ctx context.Context, tpl *models.WorkflowTemplate, steps []models.WorkflowStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stampTemplate(tpl)
	ordered := make([]models.WorkflowStep, len(steps))
	copy(ordered, steps)
	for i := range ordered {
		ordered[i].TemplateID = tpl.ID
		if ordered[i].ID == "" {
			ordered[i].ID = uuid.New().String()
		}
		if ordered[i].CreatedAt.IsZero() {
			ordered[i].CreatedAt = tpl.CreatedAt
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OrderIndex < ordered[j].OrderIndex })

	s.templates = append(s.templates, *tpl)
	s.steps[tpl.ID] = ordered
	return nil
}

func (s *MemoryStore) GetTemplate(ctx context.Context, programKey string, version int) (*models.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *models.WorkflowTemplate
	for i := range s.templates {
		tpl := &s.templates[i]
		if tpl.ProgramKey != programKey {
			continue
		}
		if version > 0 {
			if tpl.Version == version {
				out := *tpl
				return &out, nil
			}
			continue
		}
		if best == nil || tpl.Version > best.Version {
			best = tpl
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	out := *best
	return &out, nil
}

func (s *MemoryStore) GetTemplateByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.templates {
		if s.templates[i].ID == id {
			out := s.templates[i]
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListSteps(ctx context.Context, templateID string) ([]models.WorkflowStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps, ok := s.steps[templateID]
	if !ok {
		return nil, nil
	}
	out := make([]models.WorkflowStep, len(steps))
	copy(out, steps)
	return out, nil
}

func (s *MemoryStore) CreateCase(ctx context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = models.CaseIntakeSubmitted
	}
	stored := *c
	s.cases[c.ID] = &stored
	return nil
}

func (s *MemoryStore) GetCase(ctx context.Context, id string) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) UpdateCaseStatus(ctx context.Context, caseID string, status models.CaseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CreateInstance(ctx context.Context, inst *models.CaseWorkflowInstance, rows []models.CaseWorkflowProgress) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byCase[inst.CaseID]; exists {
		return false, nil
	}
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.StartedAt.IsZero() {
		inst.StartedAt = time.Now().UTC()
	}
	stored := *inst
	s.instances[inst.ID] = &stored
	s.byCase[inst.CaseID] = inst.ID

	kept := make([]*models.CaseWorkflowProgress, 0, len(rows))
	for i := range rows {
		row := rows[i]
		row.InstanceID = inst.ID
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		rows[i] = row
		copied := row
		kept = append(kept, &copied)
	}
	s.progress[inst.ID] = kept
	return true, nil
}

func (s *MemoryStore) GetInstanceByCase(ctx context.Context, caseID string) (*models.CaseWorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCase[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.instances[id]
	return &out, nil
}

func (s *MemoryStore) SaveInstance(ctx context.Context, inst *models.CaseWorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.instances[inst.ID]
	if !ok {
		return ErrNotFound
	}
	stored.CurrentStepKey = inst.CurrentStepKey
	stored.CompletedAt = inst.CompletedAt
	return nil
}

func (s *MemoryStore) ListInstances(ctx context.Context) ([]models.CaseWorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CaseWorkflowInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) ListProgress(ctx context.Context, instanceID string) ([]models.CaseWorkflowProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.progress[instanceID]
	out := make([]models.CaseWorkflowProgress, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}

	// Walk order, like the SQL join on workflow_steps.
	if inst, ok := s.instances[instanceID]; ok {
		order := make(map[string]int)
		for _, step := range s.steps[inst.TemplateID] {
			order[step.StepKey] = step.OrderIndex
		}
		sort.SliceStable(out, func(i, j int) bool { return order[out[i].StepKey] < order[out[j].StepKey] })
	}
	return out, nil
}

func (s *MemoryStore) SaveProgress(ctx context.Context, rows []*models.CaseWorkflowProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		stored := s.findProgress(row.InstanceID, row.ID)
		if stored == nil {
			return ErrNotFound
		}
		stored.Status = row.Status
		stored.StartedAt = row.StartedAt
		stored.CompletedAt = row.CompletedAt
		stored.BlockReason = row.BlockReason
	}
	return nil
}

func (s *MemoryStore) findProgress(instanceID, id string) *models.CaseWorkflowProgress {
	for _, row := range s.progress[instanceID] {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (s *MemoryStore) CountOverrides(ctx context.Context, caseID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for i := range s.overrides {
		if s.overrides[i].CaseID == caseID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) InsertOverride(ctx context.Context, o *models.WorkflowOverride, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > 0 {
		count := 0
		for i := range s.overrides {
			if s.overrides[i].CaseID == o.CaseID {
				count++
			}
		}
		if count >= limit {
			return ErrOverrideLimit
		}
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	s.overrides = append(s.overrides, *o)
	return nil
}

func (s *MemoryStore) ListOverrides(ctx context.Context) ([]models.WorkflowOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WorkflowOverride, len(s.overrides))
	copy(out, s.overrides)
	return out, nil
}

func (s *MemoryStore) ListActionTags(ctx context.Context, caseID string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{})
	for i := range s.audit {
		if s.audit[i].CaseID == caseID {
			set[s.audit[i].ActionType] = struct{}{}
		}
	}
	return set, nil
}

func (s *MemoryStore) ListDocumentTypes(ctx context.Context, caseID string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{})
	for i := range s.documents {
		if s.documents[i].CaseID == caseID {
			set[s.documents[i].DocType] = struct{}{}
		}
	}
	return set, nil
}

func (s *MemoryStore) RecordAction(ctx context.Context, e *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, *e)
	return nil
}

func (s *MemoryStore) RecordDocument(ctx context.Context, d *models.DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.documents = append(s.documents, *d)
	return nil
}

// AuditEntries returns a copy of the audit log for assertions in tests.
func (s *MemoryStore) AuditEntries(caseID string) []models.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditEntry
	for i := range s.audit {
		if s.audit[i].CaseID == caseID {
			out = append(out, s.audit[i])
		}
	}
	return out
}
