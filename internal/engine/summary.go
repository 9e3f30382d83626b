package engine

import (
	"context"
	"time"

	"caseflow/backend/pkg/models"
)

// TimelineEntry is one step's derived history within a case summary.
type TimelineEntry struct {
	StepKey      string     `json:"step_key"`
	DisplayName  string     `json:"display_name"`
	Status       string     `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	BlockReason  string     `json:"block_reason,omitempty"`
	SLADays      int        `json:"sla_days"`
	SLABreach    bool       `json:"sla_breach"`
	KanbanColumn string     `json:"kanban_column"`
}

// CaseWorkflowSummary is the per-case read model: current position, what is
// still missing, and the full step timeline.
type CaseWorkflowSummary struct {
	CaseID              string          `json:"case_id"`
	CurrentStep         string          `json:"current_step"`
	NextRequiredActions []string        `json:"next_required_actions"`
	MissingDocuments    []string        `json:"missing_documents"`
	BlockingConditions  []string        `json:"blocking_conditions"`
	TemplateVersion     int             `json:"template_version"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	Timeline            []TimelineEntry `json:"timeline_history"`
}

// Summary syncs the case and returns its workflow summary.
func (e *Engine) Summary(ctx context.Context, caseID string) (*CaseWorkflowSummary, error) {
	inst, err := e.Sync(ctx, caseID)
	if err != nil {
		return nil, err
	}

	steps, err := e.store.ListSteps(ctx, inst.TemplateID)
	if err != nil {
		return nil, err
	}
	stepMap := make(map[string]models.WorkflowStep, len(steps))
	for _, step := range steps {
		stepMap[step.StepKey] = step
	}

	rows, err := e.store.ListProgress(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	ev, err := e.loadEvidence(ctx, e.store, caseID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	summary := &CaseWorkflowSummary{
		CaseID:              caseID,
		CurrentStep:         inst.CurrentStepKey,
		NextRequiredActions: []string{},
		MissingDocuments:    []string{},
		BlockingConditions:  []string{},
		TemplateVersion:     inst.LockedTemplateVersion,
		CompletedAt:         inst.CompletedAt,
	}
	if current, ok := stepMap[inst.CurrentStepKey]; ok {
		eval := evaluateStep(current, ev, e.conditions)
		summary.NextRequiredActions = eval.MissingActions
		summary.MissingDocuments = eval.MissingDocuments
		if current.BlockingConditions != nil {
			summary.BlockingConditions = current.BlockingConditions
		}
	}

	for _, row := range rows {
		step, ok := stepMap[row.StepKey]
		if !ok {
			continue
		}
		summary.Timeline = append(summary.Timeline, TimelineEntry{
			StepKey:      row.StepKey,
			DisplayName:  step.DisplayName,
			Status:       string(row.Status),
			StartedAt:    row.StartedAt,
			CompletedAt:  row.CompletedAt,
			BlockReason:  row.BlockReason,
			SLADays:      step.SLADays,
			SLABreach:    SLABreached(row, step, now),
			KanbanColumn: step.KanbanColumn,
		})
	}
	return summary, nil
}

// SLABreached reports whether an open step has outlived its SLA window.
func SLABreached(row models.CaseWorkflowProgress, step models.WorkflowStep, now time.Time) bool {
	if row.Status != models.StepActive && row.Status != models.StepBlocked {
		return false
	}
	if row.StartedAt == nil {
		return false
	}
	days := int(now.Sub(*row.StartedAt).Hours() / 24)
	return days > step.SLADays
}
