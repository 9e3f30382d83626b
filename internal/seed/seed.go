// Package seed owns the built-in foreclosure stabilization program template
// and its startup-time installation. Templates are seeded explicitly at boot
// (or via casectl) rather than lazily inside request handlers, so concurrent
// first requests cannot race on template creation.
package seed

import (
	"context"
	"errors"
	"fmt"

	"caseflow/backend/internal/logging"
	"caseflow/backend/internal/repository"
	"caseflow/backend/pkg/models"
)

// ProgramKey identifies the default foreclosure stabilization program.
const ProgramKey = "foreclosure_stabilization_v1"

// Milestones maps milestone step keys to the case status the engine applies
// when a case's pointer reaches them.
func Milestones() map[string]models.CaseStatus {
	return map[string]models.CaseStatus{
		"leaseback_execution": models.CaseInProgress,
		"completion":          models.CaseCompletedPositive,
	}
}

// DefaultSteps returns the ordered step list for the foreclosure
// stabilization program, version 1.
func DefaultSteps() []models.WorkflowStep {
	return []models.WorkflowStep{
		{
			StepKey:         "pdf_ingestion",
			DisplayName:     "PDF Ingestion",
			ResponsibleRole: models.RoleSystem,
			RequiredActions: []string{"auction_import_created", "lead_created", "case_created"},
			KanbanColumn:    "📥 Lead Ingested",
			OrderIndex:      1,
			AutoAdvance:     true,
			SLADays:         1,
		},
		{
			StepKey:            "contact_homeowner",
			DisplayName:        "Contact Homeowner",
			ResponsibleRole:    models.RoleOperator,
			RequiredActions:    []string{"contact_attempt_logged", "homeowner_response_logged"},
			BlockingConditions: []string{"requires_valid_contact_channel"},
			KanbanColumn:       "📞 Contact & Qualification",
			OrderIndex:         2,
			SLADays:            3,
		},
		{
			StepKey:           "qualification_review",
			DisplayName:       "Qualification Review",
			ResponsibleRole:   models.RoleOperator,
			RequiredDocuments: []string{"foreclosure_notice", "occupancy_confirmation", "id_verification"},
			RequiredActions:   []string{"qualification_review_completed"},
			KanbanColumn:      "📄 Intake Complete",
			OrderIndex:        3,
			SLADays:           5,
		},
		{
			StepKey:           "leaseback_execution",
			DisplayName:       "Leaseback Execution",
			ResponsibleRole:   models.RoleOperator,
			RequiredDocuments: []string{"leaseback_signed", "consent_signed"},
			RequiredActions:   []string{"leaseback_signed", "consent_signed"},
			KanbanColumn:      "⚖️ Stabilization Setup",
			OrderIndex:        4,
			AutoAdvance:       true,
			SLADays:           7,
		},
		{
			StepKey:         "stabilization_monitoring",
			DisplayName:     "Stabilization Monitoring",
			ResponsibleRole: models.RoleOperator,
			RequiredActions: []string{"payment_logs_verified", "compliance_window_met"},
			KanbanColumn:    "🏠 Leaseback Active",
			OrderIndex:      5,
			SLADays:         30,
		},
		{
			StepKey:           "rehab_planning",
			DisplayName:       "Rehab Planning",
			ResponsibleRole:   models.RoleOperator,
			RequiredDocuments: []string{"rehab_scope_uploaded"},
			RequiredActions:   []string{"rehab_classification_set"},
			KanbanColumn:      "🔨 Rehab Planning",
			OrderIndex:        6,
			SLADays:           14,
		},
		{
			StepKey:         "rehab_execution",
			DisplayName:     "Rehab Execution",
			ResponsibleRole: models.RoleOperator,
			RequiredActions: []string{"milestone_logs_recorded", "contractor_verified", "rehab_completed"},
			KanbanColumn:    "🛠 Rehab In Progress",
			OrderIndex:      7,
			SLADays:         45,
		},
		{
			StepKey:            "performance_window",
			DisplayName:        "Performance Window",
			ResponsibleRole:    models.RoleSystem,
			RequiredActions:    []string{"performance_window_complete"},
			BlockingConditions: []string{"compliance_overdue"},
			KanbanColumn:       "📊 Performance Window",
			OrderIndex:         8,
			SLADays:            180,
		},
		{
			StepKey:           "refinance_ready",
			DisplayName:       "Refinance Ready",
			ResponsibleRole:   models.RoleSystem,
			RequiredDocuments: []string{"readiness_packet"},
			RequiredActions: []string{
				"pfdr_ledger_reconciled",
				"shared_equity_active",
				"no_unresolved_flags",
				"documents_complete",
			},
			KanbanColumn: "💰 Refinance Ready",
			OrderIndex:   9,
			SLADays:      14,
		},
		{
			StepKey:         "completion",
			DisplayName:     "Completion",
			ResponsibleRole: models.RoleLender,
			RequiredActions: []string{
				"refinance_completed",
				"shared_equity_extinguished",
				"pfdr_recovered",
				"workflow_completed",
			},
			KanbanColumn: "🎓 Completed",
			OrderIndex:   10,
			SLADays:      7,
		},
	}
}

// EnsureDefaultTemplate installs version 1 of the foreclosure stabilization
// template if no version exists yet. Idempotent; safe to run on every boot.
func EnsureDefaultTemplate(ctx context.Context, store repository.Store, log *logging.Logger) (*models.WorkflowTemplate, error) {
	tpl, err := store.GetTemplate(ctx, ProgramKey, 0)
	if err == nil {
		log.Debug("workflow template present program=%s version=%d", ProgramKey, tpl.Version)
		return tpl, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check template %q: %w", ProgramKey, err)
	}

	tpl = &models.WorkflowTemplate{
		ProgramKey: ProgramKey,
		Version:    1,
		Name:       "Foreclosure Stabilization v1",
	}
	if err := store.CreateTemplate(ctx, tpl, DefaultSteps()); err != nil {
		return nil, fmt.Errorf("seed template %q: %w", ProgramKey, err)
	}
	log.Info("workflow template seeded program=%s version=%d steps=%d", ProgramKey, tpl.Version, len(DefaultSteps()))
	return tpl, nil
}
