package projection

import (
	"context"

	"caseflow/backend/pkg/models"
)

// Portfolio aggregates workflow health across every instance.
type Portfolio struct {
	CaseCount            int                `json:"case_count"`
	AvgDaysPerStage      map[string]float64 `json:"avg_days_per_stage"`
	BlockedCaseCount     int                `json:"blocked_case_count"`
	BlockReasonFrequency map[string]int     `json:"block_reason_frequency"`
	SLABreachCount       int                `json:"sla_breach_count"`
	TimeRiskCount        int                `json:"time_risk_count"`
	ComplianceDelayCount int                `json:"compliance_delay_count"`
	DefaultSLADays       int                `json:"default_sla_days"`
	OverrideCount        int                `json:"override_count"`
	OverrideByActor      map[string]int     `json:"override_by_actor"`
	OverrideByCategory   map[string]int     `json:"override_by_category"`
	OverrideByCase       map[string]int     `json:"override_by_case"`
}

// Analytics is the portfolio metrics payload.
type Analytics struct {
	CaseStageDurationDays map[string]int `json:"case_stage_duration_days"`
	Portfolio             Portfolio      `json:"portfolio"`
}

// Analytics walks every instance's progress rows and aggregates dwell times,
// block reasons, SLA breaches and override governance histograms. Steps whose
// key no longer resolves against the latest template fall back to
// defaultSLADays for breach accounting.
func (p *Projector) Analytics(ctx context.Context, defaultSLADays int) (*Analytics, error) {
	tpl, err := p.store.GetTemplate(ctx, p.programKey, 0)
	if err != nil {
		return nil, err
	}
	steps, err := p.store.ListSteps(ctx, tpl.ID)
	if err != nil {
		return nil, err
	}
	stepMap := make(map[string]models.WorkflowStep, len(steps))
	for _, step := range steps {
		stepMap[step.StepKey] = step
	}

	instances, err := p.store.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	now := p.now()
	result := &Analytics{
		CaseStageDurationDays: make(map[string]int),
		Portfolio: Portfolio{
			CaseCount:            len(instances),
			AvgDaysPerStage:      make(map[string]float64),
			BlockReasonFrequency: make(map[string]int),
			DefaultSLADays:       defaultSLADays,
			OverrideByActor:      make(map[string]int),
			OverrideByCategory:   make(map[string]int),
			OverrideByCase:       make(map[string]int),
		},
	}

	stageDurations := make(map[string][]int)
	for _, inst := range instances {
		rows, err := p.store.ListProgress(ctx, inst.ID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.StartedAt == nil {
				continue
			}
			end := now
			if row.CompletedAt != nil {
				end = *row.CompletedAt
			}
			duration := daysBetween(*row.StartedAt, end)
			stageDurations[row.StepKey] = append(stageDurations[row.StepKey], duration)

			open := row.Status == models.StepActive || row.Status == models.StepBlocked
			if open && row.StepKey == inst.CurrentStepKey {
				result.CaseStageDurationDays[inst.CaseID] = duration
			}

			slaDays := defaultSLADays
			if step, ok := stepMap[row.StepKey]; ok {
				slaDays = step.SLADays
			}
			if open && duration > slaDays {
				result.Portfolio.SLABreachCount++
				if row.Status == models.StepActive {
					result.Portfolio.TimeRiskCount++
				}
			}

			if row.Status == models.StepBlocked {
				result.Portfolio.BlockedCaseCount++
				reason := row.BlockReason
				if reason == "" {
					reason = "unknown"
				}
				result.Portfolio.BlockReasonFrequency[reason]++
				if reason == "compliance_overdue" {
					result.Portfolio.ComplianceDelayCount++
				}
			}
		}
	}

	for stepKey, durations := range stageDurations {
		total := 0
		for _, d := range durations {
			total += d
		}
		result.Portfolio.AvgDaysPerStage[stepKey] = float64(total) / float64(len(durations))
	}

	overrides, err := p.store.ListOverrides(ctx)
	if err != nil {
		return nil, err
	}
	result.Portfolio.OverrideCount = len(overrides)
	for _, o := range overrides {
		result.Portfolio.OverrideByActor[o.ActorID]++
		result.Portfolio.OverrideByCategory[string(o.ReasonCategory)]++
		result.Portfolio.OverrideByCase[o.CaseID]++
	}
	return result, nil
}
