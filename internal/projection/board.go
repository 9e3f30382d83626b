// Package projection builds the read-side views over workflow instances: the
// kanban board and the portfolio analytics. It never mutates workflow state
// beyond the per-case re-sync the board runs before bucketing.
package projection

import (
	"context"
	"sort"
	"time"

	"caseflow/backend/internal/engine"
	"caseflow/backend/internal/logging"
	"caseflow/backend/internal/repository"
	"caseflow/backend/pkg/models"
)

// Projector serves the board and analytics views.
type Projector struct {
	store      repository.Store
	engine     *engine.Engine
	log        *logging.Logger
	programKey string
	now        func() time.Time
}

// NewProjector creates a Projector over the given store and engine.
func NewProjector(store repository.Store, eng *engine.Engine, log *logging.Logger, programKey string) *Projector {
	return &Projector{
		store:      store,
		engine:     eng,
		log:        log,
		programKey: programKey,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the projector clock, for tests.
func (p *Projector) WithClock(now func() time.Time) *Projector {
	p.now = now
	return p
}

// CaseCard is one case on the kanban board.
type CaseCard struct {
	CaseID              string   `json:"case_id"`
	Reference           string   `json:"reference,omitempty"`
	DaysInStage         int      `json:"days_in_stage"`
	BlockReason         string   `json:"block_reason,omitempty"`
	MissingDocuments    []string `json:"missing_documents"`
	NextRequiredActions []string `json:"next_required_actions"`
	ComplianceOverdue   bool     `json:"compliance_overdue"`
	SLABreach           bool     `json:"sla_breach"`
	Blocked             bool     `json:"blocked"`
}

// BoardColumn is one display column with its cases, oldest-stuck first.
type BoardColumn struct {
	Name  string     `json:"name"`
	Cases []CaseCard `json:"cases"`
}

// Board is the full kanban projection.
type Board struct {
	Columns []BoardColumn `json:"columns"`
}

// Board re-syncs every instance and buckets each case into the display column
// of its current step. Columns follow template step order; a case whose
// current step maps to no known column lands in "Unmapped".
func (p *Projector) Board(ctx context.Context) (*Board, error) {
	tpl, err := p.store.GetTemplate(ctx, p.programKey, 0)
	if err != nil {
		return nil, err
	}
	steps, err := p.store.ListSteps(ctx, tpl.ID)
	if err != nil {
		return nil, err
	}

	var columnOrder []string
	seen := make(map[string]bool)
	for _, step := range steps {
		if !seen[step.KanbanColumn] {
			seen[step.KanbanColumn] = true
			columnOrder = append(columnOrder, step.KanbanColumn)
		}
	}

	instances, err := p.store.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	columnMap := make(map[string][]CaseCard, len(columnOrder))
	now := p.now()
	for _, inst := range instances {
		summary, err := p.engine.Summary(ctx, inst.CaseID)
		if err != nil {
			// One broken case must not take down the whole board.
			p.log.Error("board: summary failed case=%s err=%v", inst.CaseID, err)
			continue
		}

		column := "Unmapped"
		var current *engine.TimelineEntry
		for i := range summary.Timeline {
			if summary.Timeline[i].StepKey == summary.CurrentStep {
				current = &summary.Timeline[i]
				break
			}
		}
		card := CaseCard{
			CaseID:              inst.CaseID,
			MissingDocuments:    summary.MissingDocuments,
			NextRequiredActions: summary.NextRequiredActions,
		}
		if c, err := p.store.GetCase(ctx, inst.CaseID); err == nil {
			card.Reference = c.Reference
		}
		if current != nil {
			if current.KanbanColumn != "" {
				column = current.KanbanColumn
			}
			card.BlockReason = current.BlockReason
			card.ComplianceOverdue = current.BlockReason == "compliance_overdue"
			card.SLABreach = current.SLABreach
			card.Blocked = current.Status == string(models.StepBlocked)
			if current.StartedAt != nil {
				card.DaysInStage = daysBetween(*current.StartedAt, now)
			}
		}
		columnMap[column] = append(columnMap[column], card)
	}

	board := &Board{}
	for _, name := range columnOrder {
		cases := columnMap[name]
		sort.SliceStable(cases, func(i, j int) bool { return cases[i].DaysInStage > cases[j].DaysInStage })
		if cases == nil {
			cases = []CaseCard{}
		}
		board.Columns = append(board.Columns, BoardColumn{Name: name, Cases: cases})
	}
	if unmapped := columnMap["Unmapped"]; len(unmapped) > 0 {
		board.Columns = append(board.Columns, BoardColumn{Name: "Unmapped", Cases: unmapped})
	}
	return board, nil
}

// StageDistribution reports how many cases sit in each board column.
type StageDistribution struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// StageDistribution flattens the board into per-column counts.
func (p *Projector) StageDistribution(ctx context.Context) ([]StageDistribution, error) {
	board, err := p.Board(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StageDistribution, 0, len(board.Columns))
	for _, column := range board.Columns {
		out = append(out, StageDistribution{Stage: column.Name, Count: len(column.Cases)})
	}
	return out, nil
}

func daysBetween(from, to time.Time) int {
	days := int(to.Sub(from).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
