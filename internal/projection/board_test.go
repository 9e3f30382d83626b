package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/backend/internal/engine"
	"caseflow/backend/internal/logging"
	"caseflow/backend/internal/repository"
	"caseflow/backend/internal/seed"
	"caseflow/backend/pkg/models"
)

type clock struct {
	current time.Time
}

func newClock() *clock {
	return &clock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time { return c.current }

func (c *clock) Advance(d time.Duration) { c.current = c.current.Add(d) }

type fixture struct {
	store *repository.MemoryStore
	eng   *engine.Engine
	proj  *Projector
	clk   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	log := logging.NewLogger()
	_, err := seed.EnsureDefaultTemplate(context.Background(), store, log)
	require.NoError(t, err)

	clk := newClock()
	eng := engine.New(store, log, seed.ProgramKey,
		engine.WithClock(clk.Now),
		engine.WithMilestones(seed.Milestones()),
	)
	proj := NewProjector(store, eng, log, seed.ProgramKey).WithClock(clk.Now)
	return &fixture{store: store, eng: eng, proj: proj, clk: clk}
}

func (f *fixture) newCase(t *testing.T, reference string) string {
	t.Helper()
	c := &models.Case{Reference: reference}
	require.NoError(t, f.store.CreateCase(context.Background(), c))
	_, err := f.eng.Initialize(context.Background(), c.ID)
	require.NoError(t, err)
	return c.ID
}

func (f *fixture) recordActions(t *testing.T, caseID string, tags ...string) {
	t.Helper()
	for _, tag := range tags {
		require.NoError(t, f.store.RecordAction(context.Background(), &models.AuditEntry{
			CaseID:     caseID,
			ActorID:    "op-1",
			ActionType: tag,
		}))
	}
	_, err := f.eng.Sync(context.Background(), caseID)
	require.NoError(t, err)
}

func findColumn(t *testing.T, board *Board, name string) BoardColumn {
	t.Helper()
	for _, column := range board.Columns {
		if column.Name == name {
			return column
		}
	}
	t.Fatalf("column %q not on board", name)
	return BoardColumn{}
}

func TestBoardColumnsFollowTemplateOrder(t *testing.T) {
	f := newFixture(t)

	board, err := f.proj.Board(context.Background())
	require.NoError(t, err)

	var names []string
	for _, column := range board.Columns {
		names = append(names, column.Name)
	}
	var want []string
	for _, step := range seed.DefaultSteps() {
		want = append(want, step.KanbanColumn)
	}
	assert.Equal(t, want, names)
}

func TestBoardBucketsCasesByCurrentStep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	stuck := f.newCase(t, "AUC-100")
	moving := f.newCase(t, "AUC-200")
	f.recordActions(t, moving, "auction_import_created", "lead_created", "case_created")

	board, err := f.proj.Board(ctx)
	require.NoError(t, err)

	ingested := findColumn(t, board, "📥 Lead Ingested")
	require.Len(t, ingested.Cases, 1)
	assert.Equal(t, stuck, ingested.Cases[0].CaseID)
	assert.Equal(t, "AUC-100", ingested.Cases[0].Reference)
	assert.True(t, ingested.Cases[0].Blocked)
	assert.Equal(t, "missing_action: auction_import_created", ingested.Cases[0].BlockReason)

	contact := findColumn(t, board, "📞 Contact & Qualification")
	require.Len(t, contact.Cases, 1)
	assert.Equal(t, moving, contact.Cases[0].CaseID)
	assert.Contains(t, contact.Cases[0].NextRequiredActions, "contact_attempt_logged")
}

func TestBoardFlagsSLABreaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	caseID := f.newCase(t, "AUC-300")

	// Two days on a one-day ingestion SLA.
	f.clk.Advance(48 * time.Hour)

	board, err := f.proj.Board(ctx)
	require.NoError(t, err)

	ingested := findColumn(t, board, "📥 Lead Ingested")
	require.Len(t, ingested.Cases, 1)
	assert.Equal(t, caseID, ingested.Cases[0].CaseID)
	assert.Equal(t, 2, ingested.Cases[0].DaysInStage)
	assert.True(t, ingested.Cases[0].SLABreach)
}

func TestBoardOrdersOldestStuckFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	older := f.newCase(t, "AUC-400")
	f.clk.Advance(72 * time.Hour)
	newer := f.newCase(t, "AUC-401")
	f.clk.Advance(24 * time.Hour)

	board, err := f.proj.Board(ctx)
	require.NoError(t, err)

	ingested := findColumn(t, board, "📥 Lead Ingested")
	require.Len(t, ingested.Cases, 2)
	assert.Equal(t, older, ingested.Cases[0].CaseID)
	assert.Equal(t, 4, ingested.Cases[0].DaysInStage)
	assert.Equal(t, newer, ingested.Cases[1].CaseID)
	assert.Equal(t, 1, ingested.Cases[1].DaysInStage)
}

func TestStageDistribution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.newCase(t, "AUC-500")
	f.newCase(t, "AUC-501")
	moved := f.newCase(t, "AUC-502")
	f.recordActions(t, moved, "auction_import_created", "lead_created", "case_created")

	distribution, err := f.proj.StageDistribution(ctx)
	require.NoError(t, err)

	counts := make(map[string]int, len(distribution))
	for _, d := range distribution {
		counts[d.Stage] = d.Count
	}
	assert.Equal(t, 2, counts["📥 Lead Ingested"])
	assert.Equal(t, 1, counts["📞 Contact & Qualification"])
	assert.Equal(t, 0, counts["🎓 Completed"])
}
