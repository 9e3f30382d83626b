package engine

import (
	"context"
	"fmt"

	"caseflow/backend/internal/repository"
	"caseflow/backend/pkg/models"
)

// ApplyOverride force-sets the case's current step. Steps before the target
// are back-filled complete, the target becomes active, later steps reset to
// pending. The override record and its audit entry commit atomically with the
// reshaped progress rows. Rejections (cap reached, unknown target) leave the
// case untouched.
func (e *Engine) ApplyOverride(ctx context.Context, caseID, toStepKey, actorID, reason string, category models.OverrideCategory) (*models.CaseWorkflowInstance, error) {
	if !category.Valid() {
		e.overridesRejected.Add(ctx, 1)
		return nil, fmt.Errorf("%w: unknown reason category %q", ErrInvalidTarget, category)
	}

	var result *models.CaseWorkflowInstance
	err := e.store.WithCase(ctx, caseID, func(ctx context.Context, tx repository.Store) error {
		inst, err := tx.GetInstanceByCase(ctx, caseID)
		if err != nil {
			return fmt.Errorf("override case %s: %w", caseID, err)
		}

		count, err := tx.CountOverrides(ctx, caseID)
		if err != nil {
			return err
		}
		if count >= e.maxOverrides {
			return fmt.Errorf("case %s: %w", caseID, repository.ErrOverrideLimit)
		}

		steps, err := tx.ListSteps(ctx, inst.TemplateID)
		if err != nil {
			return err
		}
		var target *models.WorkflowStep
		for i := range steps {
			if steps[i].StepKey == toStepKey {
				target = &steps[i]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("step %q: %w", toStepKey, ErrInvalidTarget)
		}

		rows, err := tx.ListProgress(ctx, inst.ID)
		if err != nil {
			return err
		}
		progress := make(map[string]*models.CaseWorkflowProgress, len(rows))
		for i := range rows {
			progress[rows[i].StepKey] = &rows[i]
		}

		now := e.now()
		changed := make([]*models.CaseWorkflowProgress, 0, len(steps))
		for i := range steps {
			step := &steps[i]
			row, ok := progress[step.StepKey]
			if !ok {
				continue
			}
			switch {
			case step.OrderIndex < target.OrderIndex:
				row.Status = models.StepComplete
				row.BlockReason = ""
				if row.StartedAt == nil {
					row.StartedAt = &now
				}
				if row.CompletedAt == nil {
					row.CompletedAt = &now
				}
			case step.OrderIndex == target.OrderIndex:
				row.Status = models.StepActive
				row.BlockReason = ""
				row.CompletedAt = nil
				if row.StartedAt == nil {
					row.StartedAt = &now
				}
			default:
				row.Status = models.StepPending
				row.BlockReason = ""
				row.StartedAt = nil
				row.CompletedAt = nil
			}
			changed = append(changed, row)
		}

		fromStep := inst.CurrentStepKey
		inst.CurrentStepKey = toStepKey
		inst.CompletedAt = nil

		if err := tx.SaveProgress(ctx, changed); err != nil {
			return err
		}
		if err := tx.SaveInstance(ctx, inst); err != nil {
			return err
		}
		if err := tx.InsertOverride(ctx, &models.WorkflowOverride{
			CaseID:         caseID,
			InstanceID:     inst.ID,
			FromStepKey:    fromStep,
			ToStepKey:      toStepKey,
			ReasonCategory: category,
			Reason:         reason,
			ActorID:        actorID,
			CreatedAt:      now,
		}, e.maxOverrides); err != nil {
			return err
		}
		if err := tx.RecordAction(ctx, &models.AuditEntry{
			CaseID:     caseID,
			ActorID:    actorID,
			ActionType: "workflow_override",
			ReasonCode: "manual_override",
			Before:     map[string]any{"from_step": fromStep},
			After:      map[string]any{"to_step": toStepKey, "reason": reason, "reason_category": string(category)},
		}); err != nil {
			return err
		}

		result = inst
		return nil
	})
	if err != nil {
		e.overridesRejected.Add(ctx, 1)
		return nil, err
	}

	e.overridesApplied.Add(ctx, 1)
	e.log.Info("workflow override case=%s to=%s actor=%s category=%s", caseID, toStepKey, actorID, category)
	return result, nil
}
