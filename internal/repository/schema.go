package repository

// Schema holds the DDL for the workflow tables. Applied at server boot, by
// `casectl migrate` and by the integration tests; idempotent via IF NOT EXISTS.
const Schema = `
CREATE TABLE IF NOT EXISTS cases (
	id UUID PRIMARY KEY,
	reference TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS workflow_templates (
	id UUID PRIMARY KEY,
	program_key TEXT NOT NULL,
	version INT NOT NULL,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (program_key, version)
);

CREATE TABLE IF NOT EXISTS workflow_steps (
	id UUID PRIMARY KEY,
	template_id UUID NOT NULL REFERENCES workflow_templates(id),
	step_key TEXT NOT NULL,
	display_name TEXT NOT NULL,
	responsible_role TEXT NOT NULL,
	required_documents JSONB NOT NULL DEFAULT '[]',
	required_actions JSONB NOT NULL DEFAULT '[]',
	blocking_conditions JSONB NOT NULL DEFAULT '[]',
	kanban_column TEXT NOT NULL,
	order_index INT NOT NULL,
	auto_advance BOOLEAN NOT NULL DEFAULT FALSE,
	sla_days INT NOT NULL DEFAULT 30,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (template_id, step_key),
	UNIQUE (template_id, order_index)
);

CREATE TABLE IF NOT EXISTS case_workflow_instances (
	id UUID PRIMARY KEY,
	case_id UUID NOT NULL UNIQUE REFERENCES cases(id),
	template_id UUID NOT NULL REFERENCES workflow_templates(id),
	locked_template_version INT NOT NULL,
	current_step_key TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS case_workflow_progress (
	id UUID PRIMARY KEY,
	instance_id UUID NOT NULL REFERENCES case_workflow_instances(id),
	step_key TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	block_reason TEXT,
	UNIQUE (instance_id, step_key)
);

CREATE TABLE IF NOT EXISTS workflow_overrides (
	id UUID PRIMARY KEY,
	case_id UUID NOT NULL REFERENCES cases(id),
	instance_id UUID NOT NULL REFERENCES case_workflow_instances(id),
	from_step_key TEXT NOT NULL,
	to_step_key TEXT NOT NULL,
	reason_category TEXT NOT NULL,
	reason TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_workflow_overrides_case ON workflow_overrides(case_id);

CREATE TABLE IF NOT EXISTS audit_entries (
	id UUID PRIMARY KEY,
	case_id UUID NOT NULL REFERENCES cases(id),
	actor_id TEXT NOT NULL DEFAULT '',
	action_type TEXT NOT NULL,
	reason_code TEXT NOT NULL DEFAULT '',
	before_json JSONB,
	after_json JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_entries_case ON audit_entries(case_id);

CREATE TABLE IF NOT EXISTS document_records (
	id UUID PRIMARY KEY,
	case_id UUID NOT NULL REFERENCES cases(id),
	doc_type TEXT NOT NULL,
	uploaded_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_document_records_case ON document_records(case_id);
`
