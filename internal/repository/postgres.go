package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"caseflow/backend/pkg/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same store
// code serves pooled and transaction-scoped calls.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the PostgreSQL implementation of the Store interface.
type PostgresStore struct {
	db   querier
	pool *pgxpool.Pool // nil when transaction-scoped
}

// NewPostgresStore creates a new PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

// Migrate applies the workflow schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	return err
}

// WithCase runs fn inside one transaction with the case's instance row locked.
// Nested calls on a transaction-scoped store reuse the open transaction.
func (s *PostgresStore) WithCase(ctx context.Context, caseID string, fn func(ctx context.Context, tx Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin case transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Row lock on the instance serializes concurrent sync/override calls for
	// the same case. No row yet means initialization; the unique constraint on
	// case_id settles that race instead.
	var lockedID string
	err = tx.QueryRow(ctx, `SELECT id FROM case_workflow_instances WHERE case_id = $1 FOR UPDATE`, caseID).Scan(&lockedID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return mapPgError(err)
	}

	if err := fn(ctx, &PostgresStore{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(err)
	}
	return nil
}

// CreateTemplate writes a template and its steps in one transaction.
func (s *PostgresStore) CreateTemplate(ctx context.Context, tpl *models.WorkflowTemplate, steps []models.WorkflowStep) error {
	stampTemplate(tpl)
	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_templates (id, program_key, version, name, created_at) VALUES ($1, $2, $3, $4, $5)`,
		tpl.ID, tpl.ProgramKey, tpl.Version, tpl.Name, tpl.CreatedAt)
	if err != nil {
		return mapPgError(err)
	}

	for i := range steps {
		step := &steps[i]
		step.TemplateID = tpl.ID
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		if step.CreatedAt.IsZero() {
			step.CreatedAt = tpl.CreatedAt
		}
		docs, acts, conds, err := marshalStepLists(step)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(ctx,
			`INSERT INTO workflow_steps
				(id, template_id, step_key, display_name, responsible_role, required_documents,
				 required_actions, blocking_conditions, kanban_column, order_index, auto_advance, sla_days, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8::jsonb, $9, $10, $11, $12, $13)`,
			step.ID, step.TemplateID, step.StepKey, step.DisplayName, step.ResponsibleRole,
			docs, acts, conds, step.KanbanColumn, step.OrderIndex, step.AutoAdvance, step.SLADays, step.CreatedAt)
		if err != nil {
			return mapPgError(err)
		}
	}
	return nil
}

// GetTemplate retrieves a template by program key. version <= 0 returns the
// latest version.
func (s *PostgresStore) GetTemplate(ctx context.Context, programKey string, version int) (*models.WorkflowTemplate, error) {
	query := `SELECT id, program_key, version, name, created_at FROM workflow_templates
		WHERE program_key = $1 AND version = $2`
	args := []any{programKey, version}
	if version <= 0 {
		query = `SELECT id, program_key, version, name, created_at FROM workflow_templates
			WHERE program_key = $1 ORDER BY version DESC LIMIT 1`
		args = []any{programKey}
	}

	var tpl models.WorkflowTemplate
	err := s.db.QueryRow(ctx, query, args...).Scan(&tpl.ID, &tpl.ProgramKey, &tpl.Version, &tpl.Name, &tpl.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &tpl, nil
}

// GetTemplateByID retrieves a template by its row ID.
func (s *PostgresStore) GetTemplateByID(ctx context.Context, id string) (*models.WorkflowTemplate, error) {
	var tpl models.WorkflowTemplate
	err := s.db.QueryRow(ctx,
		`SELECT id, program_key, version, name, created_at FROM workflow_templates WHERE id = $1`, id).
		Scan(&tpl.ID, &tpl.ProgramKey, &tpl.Version, &tpl.Name, &tpl.CreatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &tpl, nil
}

// ListSteps returns the template's steps in walk order.
func (s *PostgresStore) ListSteps(ctx context.Context, templateID string) ([]models.WorkflowStep, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, template_id, step_key, display_name, responsible_role, required_documents,
			required_actions, blocking_conditions, kanban_column, order_index, auto_advance, sla_days, created_at
		 FROM workflow_steps WHERE template_id = $1 ORDER BY order_index ASC`, templateID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var steps []models.WorkflowStep
	for rows.Next() {
		var step models.WorkflowStep
		var docs, acts, conds []byte
		err := rows.Scan(&step.ID, &step.TemplateID, &step.StepKey, &step.DisplayName, &step.ResponsibleRole,
			&docs, &acts, &conds, &step.KanbanColumn, &step.OrderIndex, &step.AutoAdvance, &step.SLADays, &step.CreatedAt)
		if err != nil {
			return nil, mapPgError(err)
		}
		if err := unmarshalStepLists(&step, docs, acts, conds); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// CreateCase inserts a new case record.
func (s *PostgresStore) CreateCase(ctx context.Context, c *models.Case) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = models.CaseIntakeSubmitted
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO cases (id, reference, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.Reference, c.Status, c.CreatedAt, c.UpdatedAt)
	return mapPgError(err)
}

// GetCase retrieves a case by ID.
func (s *PostgresStore) GetCase(ctx context.Context, id string) (*models.Case, error) {
	var c models.Case
	err := s.db.QueryRow(ctx,
		`SELECT id, reference, status, created_at, updated_at FROM cases WHERE id = $1`, id).
		Scan(&c.ID, &c.Reference, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &c, nil
}

// UpdateCaseStatus sets the case's business status.
func (s *PostgresStore) UpdateCaseStatus(ctx context.Context, caseID string, status models.CaseStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE cases SET status = $2, updated_at = now() WHERE id = $1`, caseID, status)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateInstance inserts the instance and its progress rows. Idempotent on
// case_id: a concurrent or earlier initialization wins and created=false is
// reported without touching its rows.
func (s *PostgresStore) CreateInstance(ctx context.Context, inst *models.CaseWorkflowInstance, rows []models.CaseWorkflowProgress) (bool, error) {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.StartedAt.IsZero() {
		inst.StartedAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO case_workflow_instances
			(id, case_id, template_id, locked_template_version, current_step_key, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (case_id) DO NOTHING`,
		inst.ID, inst.CaseID, inst.TemplateID, inst.LockedTemplateVersion, inst.CurrentStepKey, inst.StartedAt, inst.CompletedAt)
	if err != nil {
		return false, mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	for i := range rows {
		row := &rows[i]
		row.InstanceID = inst.ID
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		_, err := s.db.Exec(ctx,
			`INSERT INTO case_workflow_progress (id, instance_id, step_key, status, started_at, completed_at, block_reason)
			 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))`,
			row.ID, row.InstanceID, row.StepKey, row.Status, row.StartedAt, row.CompletedAt, row.BlockReason)
		if err != nil {
			return false, mapPgError(err)
		}
	}
	return true, nil
}

// GetInstanceByCase retrieves the workflow instance bound to a case.
func (s *PostgresStore) GetInstanceByCase(ctx context.Context, caseID string) (*models.CaseWorkflowInstance, error) {
	var inst models.CaseWorkflowInstance
	err := s.db.QueryRow(ctx,
		`SELECT id, case_id, template_id, locked_template_version, current_step_key, started_at, completed_at
		 FROM case_workflow_instances WHERE case_id = $1`, caseID).
		Scan(&inst.ID, &inst.CaseID, &inst.TemplateID, &inst.LockedTemplateVersion, &inst.CurrentStepKey, &inst.StartedAt, &inst.CompletedAt)
	if err != nil {
		return nil, mapPgError(err)
	}
	return &inst, nil
}

// SaveInstance persists the instance pointer and completion stamp.
func (s *PostgresStore) SaveInstance(ctx context.Context, inst *models.CaseWorkflowInstance) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE case_workflow_instances SET current_step_key = $2, completed_at = $3 WHERE id = $1`,
		inst.ID, inst.CurrentStepKey, inst.CompletedAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInstances returns every workflow instance.
func (s *PostgresStore) ListInstances(ctx context.Context) ([]models.CaseWorkflowInstance, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, case_id, template_id, locked_template_version, current_step_key, started_at, completed_at
		 FROM case_workflow_instances ORDER BY started_at ASC`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var instances []models.CaseWorkflowInstance
	for rows.Next() {
		var inst models.CaseWorkflowInstance
		err := rows.Scan(&inst.ID, &inst.CaseID, &inst.TemplateID, &inst.LockedTemplateVersion,
			&inst.CurrentStepKey, &inst.StartedAt, &inst.CompletedAt)
		if err != nil {
			return nil, mapPgError(err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// ListProgress returns all progress rows for an instance, walk-ordered by the
// owning step's order index.
func (s *PostgresStore) ListProgress(ctx context.Context, instanceID string) ([]models.CaseWorkflowProgress, error) {
	rows, err := s.db.Query(ctx,
		`SELECT p.id, p.instance_id, p.step_key, p.status, p.started_at, p.completed_at, COALESCE(p.block_reason, '')
		 FROM case_workflow_progress p
		 JOIN case_workflow_instances i ON i.id = p.instance_id
		 JOIN workflow_steps s ON s.template_id = i.template_id AND s.step_key = p.step_key
		 WHERE p.instance_id = $1
		 ORDER BY s.order_index ASC`, instanceID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var progress []models.CaseWorkflowProgress
	for rows.Next() {
		var p models.CaseWorkflowProgress
		err := rows.Scan(&p.ID, &p.InstanceID, &p.StepKey, &p.Status, &p.StartedAt, &p.CompletedAt, &p.BlockReason)
		if err != nil {
			return nil, mapPgError(err)
		}
		progress = append(progress, p)
	}
	return progress, rows.Err()
}

// SaveProgress persists recomputed progress rows.
func (s *PostgresStore) SaveProgress(ctx context.Context, rows []*models.CaseWorkflowProgress) error {
	for _, row := range rows {
		tag, err := s.db.Exec(ctx,
			`UPDATE case_workflow_progress
			 SET status = $2, started_at = $3, completed_at = $4, block_reason = NULLIF($5, '')
			 WHERE id = $1`,
			row.ID, row.Status, row.StartedAt, row.CompletedAt, row.BlockReason)
		if err != nil {
			return mapPgError(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}
	return nil
}

// CountOverrides returns the number of overrides recorded for a case.
func (s *PostgresStore) CountOverrides(ctx context.Context, caseID string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM workflow_overrides WHERE case_id = $1`, caseID).Scan(&count)
	if err != nil {
		return 0, mapPgError(err)
	}
	return count, nil
}

// InsertOverride appends an override record. The cap is re-checked here, inside
// the caller's transaction, as the storage-side half of the governance limit.
func (s *PostgresStore) InsertOverride(ctx context.Context, o *models.WorkflowOverride, limit int) error {
	if limit > 0 {
		count, err := s.CountOverrides(ctx, o.CaseID)
		if err != nil {
			return err
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
	_, err := s.db.Exec(ctx,
		`INSERT INTO workflow_overrides
			(id, case_id, instance_id, from_step_key, to_step_key, reason_category, reason, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.CaseID, o.InstanceID, o.FromStepKey, o.ToStepKey, o.ReasonCategory, o.Reason, o.ActorID, o.CreatedAt)
	return mapPgError(err)
}

// ListOverrides returns every override record.
func (s *PostgresStore) ListOverrides(ctx context.Context) ([]models.WorkflowOverride, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, case_id, instance_id, from_step_key, to_step_key, reason_category, reason, actor_id, created_at
		 FROM workflow_overrides ORDER BY created_at ASC`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var overrides []models.WorkflowOverride
	for rows.Next() {
		var o models.WorkflowOverride
		err := rows.Scan(&o.ID, &o.CaseID, &o.InstanceID, &o.FromStepKey, &o.ToStepKey,
			&o.ReasonCategory, &o.Reason, &o.ActorID, &o.CreatedAt)
		if err != nil {
			return nil, mapPgError(err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// ListActionTags returns the distinct recorded action types for a case.
func (s *PostgresStore) ListActionTags(ctx context.Context, caseID string) (map[string]struct{}, error) {
	return s.distinctStrings(ctx, `SELECT DISTINCT action_type FROM audit_entries WHERE case_id = $1`, caseID)
}

// ListDocumentTypes returns the distinct uploaded document types for a case.
func (s *PostgresStore) ListDocumentTypes(ctx context.Context, caseID string) (map[string]struct{}, error) {
	return s.distinctStrings(ctx, `SELECT DISTINCT doc_type FROM document_records WHERE case_id = $1`, caseID)
}

func (s *PostgresStore) distinctStrings(ctx context.Context, query, caseID string) (map[string]struct{}, error) {
	rows, err := s.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, mapPgError(err)
		}
		set[value] = struct{}{}
	}
	return set, rows.Err()
}

// RecordAction appends an audit entry.
func (s *PostgresStore) RecordAction(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	before, err := marshalNullable(e.Before)
	if err != nil {
		return err
	}
	after, err := marshalNullable(e.After)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO audit_entries (id, case_id, actor_id, action_type, reason_code, before_json, after_json, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)`,
		e.ID, e.CaseID, e.ActorID, e.ActionType, e.ReasonCode, before, after, e.CreatedAt)
	return mapPgError(err)
}

// RecordDocument appends a document record.
func (s *PostgresStore) RecordDocument(ctx context.Context, d *models.DocumentRecord) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO document_records (id, case_id, doc_type, uploaded_by, created_at) VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.CaseID, d.DocType, d.UploadedBy, d.CreatedAt)
	return mapPgError(err)
}

func stampTemplate(tpl *models.WorkflowTemplate) {
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	if tpl.Version <= 0 {
		tpl.Version = 1
	}
}

func marshalStepLists(step *models.WorkflowStep) (docs, acts, conds []byte, err error) {
	if docs, err = json.Marshal(emptyIfNil(step.RequiredDocuments)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal required documents: %w", err)
	}
	if acts, err = json.Marshal(emptyIfNil(step.RequiredActions)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal required actions: %w", err)
	}
	if conds, err = json.Marshal(emptyIfNil(step.BlockingConditions)); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal blocking conditions: %w", err)
	}
	return docs, acts, conds, nil
}

func unmarshalStepLists(step *models.WorkflowStep, docs, acts, conds []byte) error {
	if err := json.Unmarshal(docs, &step.RequiredDocuments); err != nil {
		return fmt.Errorf("unmarshal required documents: %w", err)
	}
	if err := json.Unmarshal(acts, &step.RequiredActions); err != nil {
		return fmt.Errorf("unmarshal required actions: %w", err)
	}
	if err := json.Unmarshal(conds, &step.BlockingConditions); err != nil {
		return fmt.Errorf("unmarshal blocking conditions: %w", err)
	}
	return nil
}

func marshalNullable(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// mapPgError translates driver errors into the store's sentinel errors.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization failure, deadlock, lock not available
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		}
	}
	return err
}
