package repository

import (
	"context"
	"errors"

	"caseflow/backend/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrOverrideLimit is returned when inserting an override would exceed the
// per-case cap. The engine checks the cap first; the store re-checks it inside
// the same transaction so a race cannot slip past the limit.
var ErrOverrideLimit = errors.New("override limit reached for case")

// ErrConflict is returned when a storage-level conflict (serialization
// failure, lock timeout) interrupts a per-case transaction. Safe to retry.
var ErrConflict = errors.New("concurrent modification conflict")

// Store is the persistence contract for the workflow engine and its read
// views. Templates, overrides, audit entries and document records are
// append-only; instances and progress rows mutate only through the engine.
type Store interface {
	// Templates. CreateTemplate writes the template row and its steps
	// together. GetTemplate with version <= 0 resolves the latest version for
	// the program key.
	CreateTemplate(ctx context.Context, tpl *models.WorkflowTemplate, steps []models.WorkflowStep) error
	GetTemplate(ctx context.Context, programKey string, version int) (*models.WorkflowTemplate, error)
	GetTemplateByID(ctx context.Context, id string) (*models.WorkflowTemplate, error)
	// ListSteps returns the template's steps ordered by OrderIndex ascending.
	ListSteps(ctx context.Context, templateID string) ([]models.WorkflowStep, error)

	// Cases.
	CreateCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id string) (*models.Case, error)
	UpdateCaseStatus(ctx context.Context, caseID string, status models.CaseStatus) error

	// Instances and progress. CreateInstance is idempotent on CaseID: when an
	// instance already exists it reports created=false and leaves everything
	// untouched.
	CreateInstance(ctx context.Context, inst *models.CaseWorkflowInstance, rows []models.CaseWorkflowProgress) (created bool, err error)
	GetInstanceByCase(ctx context.Context, caseID string) (*models.CaseWorkflowInstance, error)
	SaveInstance(ctx context.Context, inst *models.CaseWorkflowInstance) error
	ListInstances(ctx context.Context) ([]models.CaseWorkflowInstance, error)
	ListProgress(ctx context.Context, instanceID string) ([]models.CaseWorkflowProgress, error)
	SaveProgress(ctx context.Context, rows []*models.CaseWorkflowProgress) error

	// Overrides.
	CountOverrides(ctx context.Context, caseID string) (int, error)
	InsertOverride(ctx context.Context, o *models.WorkflowOverride, limit int) error
	ListOverrides(ctx context.Context) ([]models.WorkflowOverride, error)

	// Evidence. Both list methods reflect only durably committed records.
	ListActionTags(ctx context.Context, caseID string) (map[string]struct{}, error)
	ListDocumentTypes(ctx context.Context, caseID string) (map[string]struct{}, error)
	RecordAction(ctx context.Context, e *models.AuditEntry) error
	RecordDocument(ctx context.Context, d *models.DocumentRecord) error

	// WithCase runs fn inside one per-case transaction. The instance row for
	// caseID is locked for the duration, so concurrent sync/override calls on
	// the same case serialize; other cases proceed independently. fn receives
	// a transaction-scoped Store.
	WithCase(ctx context.Context, caseID string, fn func(ctx context.Context, tx Store) error) error
}
