package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/backend/internal/logging"
	"caseflow/backend/internal/repository"
	"caseflow/backend/pkg/models"
)

const testProgram = "test_program"

func testSteps() []models.WorkflowStep {
	return []models.WorkflowStep{
		{
			StepKey:         "intake",
			DisplayName:     "Intake",
			ResponsibleRole: models.RoleSystem,
			RequiredActions: []string{"intake_logged"},
			KanbanColumn:    "Intake",
			OrderIndex:      1,
			AutoAdvance:     true,
			SLADays:         2,
		},
		{
			StepKey:            "review",
			DisplayName:        "Review",
			ResponsibleRole:    models.RoleOperator,
			RequiredDocuments:  []string{"id_proof"},
			RequiredActions:    []string{"review_done"},
			BlockingConditions: []string{"requires_valid_contact_channel"},
			KanbanColumn:       "Review",
			OrderIndex:         2,
			SLADays:            5,
		},
		{
			StepKey:         "closeout",
			DisplayName:     "Closeout",
			ResponsibleRole: models.RoleOperator,
			RequiredActions: []string{"closed"},
			KanbanColumn:    "Done",
			OrderIndex:      3,
			SLADays:         3,
		},
	}
}

type clock struct {
	current time.Time
}

func newClock() *clock {
	return &clock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time { return c.current }

func (c *clock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestEngine(t *testing.T, opts ...Option) (*repository.MemoryStore, *Engine, *clock) {
	t.Helper()
	store := repository.NewMemoryStore()
	tpl := &models.WorkflowTemplate{ProgramKey: testProgram, Version: 1, Name: "Test Program"}
	require.NoError(t, store.CreateTemplate(context.Background(), tpl, testSteps()))

	clk := newClock()
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	eng := New(store, logging.NewLogger(), testProgram, opts...)
	return store, eng, clk
}

func newTestCase(t *testing.T, store *repository.MemoryStore) string {
	t.Helper()
	c := &models.Case{Reference: "AUC-001"}
	require.NoError(t, store.CreateCase(context.Background(), c))
	return c.ID
}

func recordAction(t *testing.T, store *repository.MemoryStore, caseID, tag string) {
	t.Helper()
	require.NoError(t, store.RecordAction(context.Background(), &models.AuditEntry{
		CaseID:     caseID,
		ActorID:    "op-1",
		ActionType: tag,
	}))
}

func recordDocument(t *testing.T, store *repository.MemoryStore, caseID, docType string) {
	t.Helper()
	require.NoError(t, store.RecordDocument(context.Background(), &models.DocumentRecord{
		CaseID:  caseID,
		DocType: docType,
	}))
}

func progressByKey(t *testing.T, store *repository.MemoryStore, instanceID string) map[string]models.CaseWorkflowProgress {
	t.Helper()
	rows, err := store.ListProgress(context.Background(), instanceID)
	require.NoError(t, err)
	out := make(map[string]models.CaseWorkflowProgress, len(rows))
	for _, row := range rows {
		out[row.StepKey] = row
	}
	return out
}

func TestInitializeCreatesInstance(t *testing.T) {
	ctx := context.Background()
	store, eng, _ := newTestEngine(t)
	caseID := newTestCase(t, store)

	inst, err := eng.Initialize(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, caseID, inst.CaseID)
	assert.Equal(t, 1, inst.LockedTemplateVersion)
	assert.Equal(t, "intake", inst.CurrentStepKey)
	assert.Nil(t, inst.CompletedAt)

	// The settling sync evaluates the first step against empty evidence.
	rows := progressByKey(t, store, inst.ID)
	require.Len(t, rows, 3)
	assert.Equal(t, models.StepBlocked, rows["intake"].Status)
	assert.Equal(t, "missing_action: intake_logged", rows["intake"].BlockReason)
	assert.NotNil(t, rows["intake"].StartedAt)
	assert.Equal(t, models.StepPending, rows["review"].Status)
	assert.Equal(t, models.StepPending, rows["closeout"].Status)
}

func TestInitializeIdempotent(t *testing.T) {
	ctx := context.Background()
	store, eng, _ := newTestEngine(t)
	caseID := newTestCase(t, store)

	first, err := eng.Initialize(ctx, caseID)
	require.NoError(t, err)
	second, err := eng.Initialize(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.TemplateID, second.TemplateID)
}

func TestInitializeUnknownCase(t *testing.T) {
	_, eng, _ := newTestEngine(t)
	_, err := eng.Initialize(context.Background(), "no-such-case")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSyncAutoAdvancesThroughCompletedStep(t *testing.T) {
	ctx := context.Background()
	store, eng, _ := newTestEngine(t)
	caseID := newTestCase(t, store)
	_, err := eng.Initialize(ctx, caseID)
	require.NoError(t, err)

	recordAction(t, store, caseID, "intake_logged")

	inst, err := eng.Sync(ctx, caseID)
	require.NoError(t, err)

	// Intake completes and auto-advances; the review step is evaluated in the
	// same pass and blocks on its first missing document.
	assert.Equal(t, "review", inst.CurrentStepKey)
	rows := progressByKey(t, store, inst.ID)
	assert.Equal(t, models.StepComplete, rows["intake"].Status)
	assert.NotNil(t, rows["intake"].CompletedAt)
	assert.Equal(t, models.StepBlocked, rows["review"].Status)
	assert.Equal(t, "missing_document: id_proof", rows["review"].BlockReason)
}

func TestBlockReasonPriority(t *testing.T) {
	ctx := context.Background()
	store, eng, _ := newTestEngine(t)
	caseID := newTestCase(t, store)
	_, err := eng.Initialize(ctx, caseID)
	require.NoError(t, err)

	recordAction(t, store, caseID, "intake_logged")

	// Documents outrank actions.
	inst, err := eng.Sync(ctx, caseID)
	require.NoError(t, err)
	rows := progressByKey(t, store, inst.ID)
	assert.Equal(t, "missing_document: id_proof", rows["review"].BlockReason)

	// Actions outrank blocking conditions.
	recordDocument(t, store, caseID, "id_proof")
	inst, err = eng.Sync(ctx, caseID)
	require.NoError(t, err)
	rows = progressByKey(t, store, inst.ID)
	assert.Equal(t, "missing_action: review_done", rows["review"].BlockReason)

	// With documents and actions satisfied the condition fires last.
	recordAction(t, store, caseID, "review_done")
	inst, err = eng.Sync(ctx, caseID)
	require.NoError(t, err)
	rows = progressByKey(t, store, inst.ID)
	assert.Equal(t, models.StepBlocked, rows["review"].Status)
	assert.Equal(t, "missing_contact_channel", rows["review"].BlockReason)

	// Clearing the condition completes the step and hands off to closeout.
	recordAction(t, store, caseID, "valid_contact_channel_verified")
	inst, err = eng.Sync(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, "closeout", inst.CurrentStepKey)
	rows = progressByKey(t, store, inst.ID)
	assert.Equal(t, models.StepComplete, rows["review"].Status)
	assert.Empty(t, rows["review"].BlockReason)
}

func TestSyncIdempotent(t *testing.T) {
	ctx := context.Background()
	store, eng, _ := newTestEngine(t)
	caseID := newTestCase(t, store)
	_, err := eng.Initialize(ctx, caseID)
	require.NoError(t, err)
	recordAction(t, store, caseID, "intake_logged")

	first, err := eng.Sync(ctx, caseID)
	require.NoError(t, err)
	firstRows := progressByKey(t, store, first.ID)

	second, err := eng.Sync(ctx, caseID)
	require.NoError(t, err)
	secondRows := progressByKey(t, store, second.ID)

	assert.Equal(t, first.CurrentStepKey, second.CurrentStepKey)
	assert.Equal(t, firstRows, secondRows)
}

func TestSyncMonotonic(t *testing.T) {
	ctx := context.Background()
	store, eng, _ := newTestEngine(t)
	caseID := newTestCase(t, store)
	_, err := eng.Initialize(ctx, caseID)
	require.NoError(t, err)

	recordAction(t, store, caseID, "intake_logged")
	inst, err := eng.Sync(ctx, caseID)
	require.NoError(t, err)
	rows := progressByKey(t, store, inst.ID)
	completedAt := rows["intake"].CompletedAt
	require.NotNil(t, completedAt)

	// Evidence is append-only, so repeated syncs never reopen a completed
	// step or move its completion stamp.
	recordAction(t, store, caseID, "unrelated_tag")
	inst, err = eng.Sync(ctx, caseID)
	require.NoError(t, err)
	rows = progressByKey(t, store, inst.ID)
	assert.Equal(t, models.StepComplete, rows["intake"].Status)
	assert.Equal(t, completedAt, rows["intake"].CompletedAt)
	assert.Equal(t, "review", inst.CurrentStepKey)
}

func TestCompletionAndMilestone(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	tpl := &models.WorkflowTemplate{ProgramKey: testProgram, Version: 1, Name: "Test Program"}
	require.NoError(t, store.CreateTemplate(ctx, tpl, testSteps()))

	clk := newClock()
	eng := New(store, logging.NewLogger(), testProgram,
		WithClock(clk.Now),
		WithMilestones(map[string]models.CaseStatus{"closeout": models.CaseCompletedPositive}),
	)

	caseID := newTestCase(t, store)
	_, err := eng.Initialize(ctx, caseID)
	require.NoError(t, err)

	recordAction(t, store, caseID, "intake_logged")
	recordDocument(t, store, caseID, "id_proof")
	recordAction(t, store, caseID, "review_done")
	recordAction(t, store, caseID, "valid_contact_channel_verified")
	recordAction(t, store, caseID, "closed")

	// Review does not auto-advance, so the first sync parks the pointer on
	// closeout and the next sync completes it.
	inst, err := eng.Sync(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, "closeout", inst.CurrentStepKey)
	assert.Nil(t, inst.CompletedAt)

	inst, err = eng.Sync(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, "closeout", inst.CurrentStepKey)
	require.NotNil(t, inst.CompletedAt)
	assert.Equal(t, clk.Now(), *inst.CompletedAt)

	c, err := store.GetCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseCompletedPositive, c.Status)

	var milestones int
	for _, entry := range store.AuditEntries(caseID) {
		if entry.ActionType == "workflow_milestone" {
			milestones++
			assert.Equal(t, "system", entry.ActorID)
		}
	}
	assert.Equal(t, 1, milestones)

	// A second sync leaves the terminal state untouched.
	again, err := eng.Sync(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, inst.CompletedAt, again.CompletedAt)
	assert.Equal(t, 1, func() int {
		n := 0
		for _, entry := range store.AuditEntries(caseID) {
			if entry.ActionType == "workflow_milestone" {
				n++
			}
		}
		return n
	}())
}

func TestVersionLock(t *testing.T) {
	ctx := context.Background()
	store, eng, _ := newTestEngine(t)

	oldCase := newTestCase(t, store)
	oldInst, err := eng.Initialize(ctx, oldCase)
	require.NoError(t, err)
	assert.Equal(t, 1, oldInst.LockedTemplateVersion)

	// Publishing version 2 must not disturb cases locked on version 1.
	v2 := &models.WorkflowTemplate{ProgramKey: testProgram, Version: 2, Name: "Test Program v2"}
	require.NoError(t, store.CreateTemplate(ctx, v2, []models.WorkflowStep{
		{StepKey: "triage", DisplayName: "Triage", OrderIndex: 1, RequiredActions: []string{"triaged"}, KanbanColumn: "Triage", SLADays: 1},
	}))

	recordAction(t, store, oldCase, "intake_logged")
	synced, err := eng.Sync(ctx, oldCase)
	require.NoError(t, err)
	assert.Equal(t, 1, synced.LockedTemplateVersion)
	assert.Equal(t, "review", synced.CurrentStepKey)
	rows := progressByKey(t, store, synced.ID)
	assert.Len(t, rows, 3)

	newCase := newTestCase(t, store)
	newInst, err := eng.Initialize(ctx, newCase)
	require.NoError(t, err)
	assert.Equal(t, 2, newInst.LockedTemplateVersion)
	assert.Equal(t, "triage", newInst.CurrentStepKey)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	store, eng, _ := newTestEngine(t)
	caseID := newTestCase(t, store)
	_, err := eng.Initialize(ctx, caseID)
	require.NoError(t, err)

	recordAction(t, store, caseID, "intake_logged")

	summary, err := eng.Summary(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, caseID, summary.CaseID)
	assert.Equal(t, "review", summary.CurrentStep)
	assert.Equal(t, 1, summary.TemplateVersion)
	assert.Equal(t, []string{"id_proof"}, summary.MissingDocuments)
	assert.Equal(t, []string{"review_done"}, summary.NextRequiredActions)
	assert.Equal(t, []string{"requires_valid_contact_channel"}, summary.BlockingConditions)
	require.Len(t, summary.Timeline, 3)
	assert.Equal(t, "intake", summary.Timeline[0].StepKey)
	assert.Equal(t, string(models.StepComplete), summary.Timeline[0].Status)
	assert.Equal(t, "Review", summary.Timeline[1].DisplayName)
}

func TestSLABreached(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	step := models.WorkflowStep{StepKey: "review", SLADays: 5}

	active := models.CaseWorkflowProgress{Status: models.StepActive, StartedAt: &start}
	assert.False(t, SLABreached(active, step, start.AddDate(0, 0, 5)))
	assert.True(t, SLABreached(active, step, start.AddDate(0, 0, 6)))

	done := models.CaseWorkflowProgress{Status: models.StepComplete, StartedAt: &start}
	assert.False(t, SLABreached(done, step, start.AddDate(0, 0, 30)))

	unstarted := models.CaseWorkflowProgress{Status: models.StepActive}
	assert.False(t, SLABreached(unstarted, step, start))
}
