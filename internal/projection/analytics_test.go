package projection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseflow/backend/pkg/models"
)

func TestAnalyticsEmptyPortfolio(t *testing.T) {
	f := newFixture(t)

	analytics, err := f.proj.Analytics(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, 0, analytics.Portfolio.CaseCount)
	assert.Equal(t, 30, analytics.Portfolio.DefaultSLADays)
	assert.Empty(t, analytics.CaseStageDurationDays)
	assert.Zero(t, analytics.Portfolio.OverrideCount)
}

func TestAnalyticsBlockedAndBreachCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	stuck := f.newCase(t, "AUC-600")

	// Two days on a one-day ingestion SLA.
	f.clk.Advance(48 * time.Hour)

	analytics, err := f.proj.Analytics(ctx, 30)
	require.NoError(t, err)

	assert.Equal(t, 1, analytics.Portfolio.CaseCount)
	assert.Equal(t, 1, analytics.Portfolio.BlockedCaseCount)
	assert.Equal(t, 1, analytics.Portfolio.BlockReasonFrequency["missing_action: auction_import_created"])
	assert.Equal(t, 1, analytics.Portfolio.SLABreachCount)
	// Blocked rows count as breaches but not as time risk.
	assert.Equal(t, 0, analytics.Portfolio.TimeRiskCount)
	assert.Equal(t, 2, analytics.CaseStageDurationDays[stuck])
}

func TestAnalyticsDwellTimes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	caseID := f.newCase(t, "AUC-700")
	f.clk.Advance(24 * time.Hour)
	f.recordActions(t, caseID, "auction_import_created", "lead_created", "case_created")
	f.clk.Advance(72 * time.Hour)

	analytics, err := f.proj.Analytics(ctx, 30)
	require.NoError(t, err)

	// Ingestion ran for one day before completing; contact has been open for
	// three since.
	assert.Equal(t, 1.0, analytics.Portfolio.AvgDaysPerStage["pdf_ingestion"])
	assert.Equal(t, 3.0, analytics.Portfolio.AvgDaysPerStage["contact_homeowner"])
	assert.Equal(t, 3, analytics.CaseStageDurationDays[caseID])
}

func TestAnalyticsOverrideHistograms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.newCase(t, "AUC-800")
	second := f.newCase(t, "AUC-801")

	_, err := f.eng.ApplyOverride(ctx, first, "qualification_review", "supervisor-1", "import fixup", models.OverrideDataCorrection)
	require.NoError(t, err)
	_, err = f.eng.ApplyOverride(ctx, first, "contact_homeowner", "supervisor-1", "walk it back", models.OverrideDataCorrection)
	require.NoError(t, err)
	_, err = f.eng.ApplyOverride(ctx, second, "rehab_planning", "supervisor-2", "court order", models.OverrideLegalException)
	require.NoError(t, err)

	analytics, err := f.proj.Analytics(ctx, 30)
	require.NoError(t, err)

	p := analytics.Portfolio
	assert.Equal(t, 3, p.OverrideCount)
	assert.Equal(t, 2, p.OverrideByActor["supervisor-1"])
	assert.Equal(t, 1, p.OverrideByActor["supervisor-2"])
	assert.Equal(t, 2, p.OverrideByCategory[string(models.OverrideDataCorrection)])
	assert.Equal(t, 1, p.OverrideByCategory[string(models.OverrideLegalException)])
	assert.Equal(t, 2, p.OverrideByCase[first])
	assert.Equal(t, 1, p.OverrideByCase[second])
}
