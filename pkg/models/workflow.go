package models

import (
	"time"
)

// ResponsibleRole identifies which party is expected to move a step forward.
type ResponsibleRole string

const (
	RoleOperator ResponsibleRole = "operator"
	RoleOccupant ResponsibleRole = "occupant"
	RoleSystem   ResponsibleRole = "system"
	RoleLender   ResponsibleRole = "lender"
)

// StepStatus is the derived state of one step within a case workflow.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepActive   StepStatus = "active"
	StepBlocked  StepStatus = "blocked"
	StepComplete StepStatus = "complete"
)

// OverrideCategory is the mandatory classification of a manual override.
type OverrideCategory string

const (
	OverrideDataCorrection     OverrideCategory = "data_correction"
	OverrideLegalException     OverrideCategory = "legal_exception"
	OverrideExecutiveDirective OverrideCategory = "executive_directive"
	OverrideSystemRecovery     OverrideCategory = "system_recovery"
)

// Valid reports whether c is one of the known override categories.
func (c OverrideCategory) Valid() bool {
	switch c {
	case OverrideDataCorrection, OverrideLegalException, OverrideExecutiveDirective, OverrideSystemRecovery:
		return true
	}
	return false
}

// WorkflowTemplate is one immutable revision of a program's step list.
// Re-versioning a program appends a new template row with Version+1; existing
// rows are never edited once a case has locked onto them.
type WorkflowTemplate struct {
	ID         string    `json:"id"`
	ProgramKey string    `json:"program_key"` // Stable program identifier
	Version    int       `json:"version"`     // Monotonic per ProgramKey
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

// WorkflowStep is one ordered stage in a template, with the evidence a case
// must accumulate before the step is considered complete.
type WorkflowStep struct {
	ID                 string          `json:"id"`
	TemplateID         string          `json:"template_id"`
	StepKey            string          `json:"step_key"` // Unique within the template
	DisplayName        string          `json:"display_name"`
	ResponsibleRole    ResponsibleRole `json:"responsible_role"`
	RequiredDocuments  []string        `json:"required_documents"`
	RequiredActions    []string        `json:"required_actions"`
	BlockingConditions []string        `json:"blocking_conditions"`
	KanbanColumn       string          `json:"kanban_column"`
	OrderIndex         int             `json:"order_index"` // Defines the linear sequence
	AutoAdvance        bool            `json:"auto_advance"`
	SLADays            int             `json:"sla_days"`
	CreatedAt          time.Time       `json:"created_at"`
}

// CaseWorkflowInstance binds a case to a template at a locked version. The
// current step pointer is a cache recomputed by the engine; it is never set
// directly by callers.
type CaseWorkflowInstance struct {
	ID                    string     `json:"id"`
	CaseID                string     `json:"case_id"`
	TemplateID            string     `json:"template_id"`
	LockedTemplateVersion int        `json:"locked_template_version"`
	CurrentStepKey        string     `json:"current_step_key"`
	StartedAt             time.Time  `json:"started_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

// CaseWorkflowProgress is the derived per-step status record. One row exists
// per (instance, step) pair, created eagerly at instance initialization.
type CaseWorkflowProgress struct {
	ID          string     `json:"id"`
	InstanceID  string     `json:"instance_id"`
	StepKey     string     `json:"step_key"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	BlockReason string     `json:"block_reason,omitempty"`
}

// WorkflowOverride is the append-only audit record of a manual jump.
type WorkflowOverride struct {
	ID             string           `json:"id"`
	CaseID         string           `json:"case_id"`
	InstanceID     string           `json:"instance_id"`
	FromStepKey    string           `json:"from_step_key"`
	ToStepKey      string           `json:"to_step_key"`
	ReasonCategory OverrideCategory `json:"reason_category"`
	Reason         string           `json:"reason"`
	ActorID        string           `json:"actor_id"`
	CreatedAt      time.Time        `json:"created_at"`
}
