package engine

import (
	"fmt"
	"time"

	"caseflow/backend/pkg/models"
)

// StepEvaluation is the outcome of comparing one step's requirements against a
// case's evidence.
type StepEvaluation struct {
	MissingDocuments []string `json:"missing_documents"`
	MissingActions   []string `json:"missing_actions"`
	BlockReason      string   `json:"block_reason,omitempty"`
	Complete         bool     `json:"complete"`
}

// evaluateStep computes what is still missing for a step. Block-reason
// priority: first missing document, then first missing action, then the first
// fired blocking condition.
func evaluateStep(step models.WorkflowStep, ev Evidence, reg *ConditionRegistry) StepEvaluation {
	eval := StepEvaluation{
		MissingDocuments: []string{},
		MissingActions:   []string{},
	}
	for _, doc := range step.RequiredDocuments {
		if !ev.HasDocument(doc) {
			eval.MissingDocuments = append(eval.MissingDocuments, doc)
		}
	}
	for _, action := range step.RequiredActions {
		if !ev.HasAction(action) {
			eval.MissingActions = append(eval.MissingActions, action)
		}
	}

	conditionReason := reg.Evaluate(step.BlockingConditions, ev)
	switch {
	case len(eval.MissingDocuments) > 0:
		eval.BlockReason = fmt.Sprintf("missing_document: %s", eval.MissingDocuments[0])
	case len(eval.MissingActions) > 0:
		eval.BlockReason = fmt.Sprintf("missing_action: %s", eval.MissingActions[0])
	default:
		eval.BlockReason = conditionReason
	}

	eval.Complete = len(eval.MissingDocuments) == 0 && len(eval.MissingActions) == 0 && conditionReason == ""
	return eval
}

// derivation is the result of replaying evidence against the locked step set.
// It is a pure value; persistence happens in the caller's transaction.
type derivation struct {
	changed        []*models.CaseWorkflowProgress
	currentStepKey string
	completed      bool
}

// derive walks the steps in order and recomputes progress state. progress maps
// step key to the instance's existing row; rows are mutated in place and
// collected in changed when anything differs. The walk stops at the first step
// left active or blocked, continuing past a completed step only when that step
// auto-advances.
func derive(steps []models.WorkflowStep, progress map[string]*models.CaseWorkflowProgress, ev Evidence, reg *ConditionRegistry, now time.Time) derivation {
	d := derivation{}

	for i, step := range steps {
		row, ok := progress[step.StepKey]
		if !ok {
			continue
		}
		if row.Status == models.StepComplete {
			continue
		}

		eval := evaluateStep(step, ev, reg)
		if !eval.Complete {
			changed := row.Status != statusFor(eval) || row.BlockReason != eval.BlockReason || row.StartedAt == nil
			row.Status = statusFor(eval)
			row.BlockReason = eval.BlockReason
			if row.StartedAt == nil {
				row.StartedAt = &now
			}
			if changed {
				d.changed = append(d.changed, row)
			}
			d.currentStepKey = step.StepKey
			return d
		}

		row.Status = models.StepComplete
		row.BlockReason = ""
		if row.StartedAt == nil {
			row.StartedAt = &now
		}
		if row.CompletedAt == nil {
			row.CompletedAt = &now
		}
		d.changed = append(d.changed, row)

		if i+1 >= len(steps) {
			d.currentStepKey = step.StepKey
			d.completed = true
			return d
		}

		next := steps[i+1]
		nextRow := progress[next.StepKey]
		if nextRow != nil && nextRow.Status == models.StepPending {
			nextRow.Status = models.StepActive
			if nextRow.StartedAt == nil {
				nextRow.StartedAt = &now
			}
			d.changed = append(d.changed, nextRow)
		}
		d.currentStepKey = next.StepKey
		if !step.AutoAdvance {
			return d
		}
	}
	return d
}

func statusFor(eval StepEvaluation) models.StepStatus {
	if eval.BlockReason != "" {
		return models.StepBlocked
	}
	return models.StepActive
}
