package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"caseflow/backend/internal/logging"
	"caseflow/backend/internal/repository"
	"caseflow/backend/pkg/models"
)

// ErrInvalidTarget is returned when an override names a step that does not
// exist in the case's locked template version.
var ErrInvalidTarget = errors.New("override target step not in locked template")

// DefaultMaxOverrides is the per-case override cap applied when no limit is
// configured.
const DefaultMaxOverrides = 3

// Engine derives each case's workflow state from its accumulated evidence.
// Progress rows and the instance pointer are caches owned by the engine: they
// are written only by Sync and ApplyOverride, always inside one per-case
// transaction.
type Engine struct {
	store        repository.Store
	log          *logging.Logger
	conditions   *ConditionRegistry
	programKey   string
	maxOverrides int
	milestones   map[string]models.CaseStatus
	now          func() time.Time

	syncs             metric.Int64Counter
	overridesApplied  metric.Int64Counter
	overridesRejected metric.Int64Counter
}

// Option configures an Engine.
type Option func(*Engine)

// WithConditions replaces the blocking-condition registry.
func WithConditions(reg *ConditionRegistry) Option {
	return func(e *Engine) { e.conditions = reg }
}

// WithMaxOverrides sets the per-case override cap.
func WithMaxOverrides(limit int) Option {
	return func(e *Engine) { e.maxOverrides = limit }
}

// WithMilestones maps step keys to the case status the engine applies when the
// pointer reaches them.
func WithMilestones(milestones map[string]models.CaseStatus) Option {
	return func(e *Engine) { e.milestones = milestones }
}

// WithClock replaces the engine clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine bound to a store. programKey selects the template new
// cases lock onto.
func New(store repository.Store, log *logging.Logger, programKey string, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		log:          log,
		conditions:   NewConditionRegistry(),
		programKey:   programKey,
		maxOverrides: DefaultMaxOverrides,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := otel.Meter("caseflow/engine")
	e.syncs, _ = meter.Int64Counter("workflow_sync_total",
		metric.WithDescription("Workflow state derivations run"))
	e.overridesApplied, _ = meter.Int64Counter("workflow_override_applied_total",
		metric.WithDescription("Manual overrides applied"))
	e.overridesRejected, _ = meter.Int64Counter("workflow_override_rejected_total",
		metric.WithDescription("Manual overrides rejected by governance checks"))
	return e
}

// Initialize binds a case to the current template version and creates one
// progress row per step, first step active. Idempotent: an existing instance
// is returned unchanged. A settling Sync runs afterwards so cases created with
// their ingestion evidence already on file advance immediately.
func (e *Engine) Initialize(ctx context.Context, caseID string) (*models.CaseWorkflowInstance, error) {
	var result *models.CaseWorkflowInstance
	err := e.store.WithCase(ctx, caseID, func(ctx context.Context, tx repository.Store) error {
		if _, err := tx.GetCase(ctx, caseID); err != nil {
			return fmt.Errorf("initialize case %s: %w", caseID, err)
		}

		if inst, err := tx.GetInstanceByCase(ctx, caseID); err == nil {
			result = inst
			return nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		tpl, err := tx.GetTemplate(ctx, e.programKey, 0)
		if err != nil {
			return fmt.Errorf("resolve template %q: %w", e.programKey, err)
		}
		steps, err := tx.ListSteps(ctx, tpl.ID)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			return fmt.Errorf("template %q version %d has no steps", e.programKey, tpl.Version)
		}

		now := e.now()
		inst := &models.CaseWorkflowInstance{
			CaseID:                caseID,
			TemplateID:            tpl.ID,
			LockedTemplateVersion: tpl.Version,
			CurrentStepKey:        steps[0].StepKey,
			StartedAt:             now,
		}
		rows := make([]models.CaseWorkflowProgress, 0, len(steps))
		for i, step := range steps {
			row := models.CaseWorkflowProgress{StepKey: step.StepKey, Status: models.StepPending}
			if i == 0 {
				row.Status = models.StepActive
				row.StartedAt = &now
			}
			rows = append(rows, row)
		}

		created, err := tx.CreateInstance(ctx, inst, rows)
		if err != nil {
			return err
		}
		if !created {
			// Lost an initialization race; the winner's instance stands.
			inst, err = tx.GetInstanceByCase(ctx, caseID)
			if err != nil {
				return err
			}
			result = inst
			return nil
		}

		e.log.Info("workflow instance created case=%s template=%s version=%d", caseID, tpl.ID, tpl.Version)
		result, err = e.syncLocked(ctx, tx, caseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Sync recomputes the case's per-step status and current-step pointer from its
// evidence. Idempotent, and monotonic: steps only ever move forward except
// through ApplyOverride.
func (e *Engine) Sync(ctx context.Context, caseID string) (*models.CaseWorkflowInstance, error) {
	var result *models.CaseWorkflowInstance
	err := e.store.WithCase(ctx, caseID, func(ctx context.Context, tx repository.Store) error {
		inst, err := e.syncLocked(ctx, tx, caseID)
		if err != nil {
			return err
		}
		result = inst
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// syncLocked is the derivation core. It must run inside a per-case
// transaction.
func (e *Engine) syncLocked(ctx context.Context, tx repository.Store, caseID string) (*models.CaseWorkflowInstance, error) {
	inst, err := tx.GetInstanceByCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("sync case %s: %w", caseID, err)
	}

	// Version lock: the instance's template row is immutable, so resolving
	// steps by template ID always yields the step set as-it-was at binding
	// time, regardless of later program versions.
	steps, err := tx.ListSteps(ctx, inst.TemplateID)
	if err != nil {
		return nil, err
	}

	rows, err := tx.ListProgress(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	progress := make(map[string]*models.CaseWorkflowProgress, len(rows))
	for i := range rows {
		progress[rows[i].StepKey] = &rows[i]
	}

	ev, err := e.loadEvidence(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	d := derive(steps, progress, ev, e.conditions, now)
	e.syncs.Add(ctx, 1)

	if len(d.changed) > 0 {
		if err := tx.SaveProgress(ctx, d.changed); err != nil {
			return nil, err
		}
	}

	instChanged := false
	if d.currentStepKey != "" && d.currentStepKey != inst.CurrentStepKey {
		inst.CurrentStepKey = d.currentStepKey
		instChanged = true
	}
	if d.completed && inst.CompletedAt == nil {
		inst.CompletedAt = &now
		instChanged = true
	}
	if instChanged {
		if err := tx.SaveInstance(ctx, inst); err != nil {
			return nil, err
		}
	}

	if err := e.applyMilestone(ctx, tx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// applyMilestone flips the case's business status when the pointer reaches a
// milestone step, and writes an audit entry for the transition.
func (e *Engine) applyMilestone(ctx context.Context, tx repository.Store, inst *models.CaseWorkflowInstance) error {
	target, ok := e.milestones[inst.CurrentStepKey]
	if !ok {
		return nil
	}
	c, err := tx.GetCase(ctx, inst.CaseID)
	if err != nil {
		return err
	}
	if c.Status == target {
		return nil
	}
	if err := tx.UpdateCaseStatus(ctx, inst.CaseID, target); err != nil {
		return err
	}
	entry := &models.AuditEntry{
		CaseID:     inst.CaseID,
		ActorID:    "system",
		ActionType: "workflow_milestone",
		ReasonCode: "milestone_transition",
		Before:     map[string]any{"status": string(c.Status)},
		After:      map[string]any{"status": string(target), "step_key": inst.CurrentStepKey},
	}
	if err := tx.RecordAction(ctx, entry); err != nil {
		return err
	}
	e.log.Info("case status milestone case=%s step=%s status=%s", inst.CaseID, inst.CurrentStepKey, target)
	return nil
}

func (e *Engine) loadEvidence(ctx context.Context, tx repository.Store, caseID string) (Evidence, error) {
	actions, err := tx.ListActionTags(ctx, caseID)
	if err != nil {
		return Evidence{}, err
	}
	documents, err := tx.ListDocumentTypes(ctx, caseID)
	if err != nil {
		return Evidence{}, err
	}
	return Evidence{Actions: actions, Documents: documents}, nil
}
