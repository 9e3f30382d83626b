package models

import (
	"time"
)

// CaseStatus is the business status of a case. The workflow engine updates it
// as a side effect when milestone steps are reached; everything else treats it
// as read-only.
type CaseStatus string

const (
	CaseIntakeSubmitted   CaseStatus = "intake_submitted"
	CaseIntakeIncomplete  CaseStatus = "intake_incomplete"
	CaseUnderReview       CaseStatus = "under_review"
	CaseInProgress        CaseStatus = "in_progress"
	CaseCompletedPositive CaseStatus = "program_completed_positive_outcome"
	CaseClosedOther       CaseStatus = "case_closed_other_outcome"
)

// Case is a unit of work progressing through a workflow.
type Case struct {
	ID        string     `json:"id"`
	Reference string     `json:"reference"` // Human-facing case reference
	Status    CaseStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AuditEntry is one append-only record of a case action. The distinct
// ActionType values per case double as the engine's recorded-action evidence
// set.
type AuditEntry struct {
	ID         string         `json:"id"`
	CaseID     string         `json:"case_id"`
	ActorID    string         `json:"actor_id"`
	ActionType string         `json:"action_type"`
	ReasonCode string         `json:"reason_code,omitempty"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DocumentRecord is the immutable record of an uploaded document. File storage
// lives elsewhere; the engine only cares about the distinct DocType values per
// case.
type DocumentRecord struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"case_id"`
	DocType    string    `json:"doc_type"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
