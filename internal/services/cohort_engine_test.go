package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
)

func daySnapshot(id string, start time.Time, day int, leads, success float64) models.AggregateSnapshot {
	return models.AggregateSnapshot{
		ID:        id,
		Timestamp: start.Add(time.Duration(day) * 24 * time.Hour),
		Aggregates: map[models.MetricKey]float64{
			models.MetricLeadsCount:  leads,
			models.MetricSuccessRate: success,
		},
		ClassifiedCounts: map[string]float64{"high": leads / 2},
	}
}

func testCohortEngine(interpolation bool) *CohortEngine {
	return NewCohortEngine(config.CohortConfig{Interpolation: interpolation, MaxDaySpread: 90, MinCampaigns: 2}, quietLogger())
}

func TestDayIndex(t *testing.T) {
	t0 := testEpoch
	assert.Equal(t, 0, dayIndex(t0, t0))
	assert.Equal(t, 3, dayIndex(t0, t0.Add(259_200_000*time.Millisecond)))
	assert.Equal(t, 2, dayIndex(t0, t0.Add(259_199_999*time.Millisecond)))
}

func TestNormalizeSnapshotsByStart(t *testing.T) {
	start := testEpoch.Add(5 * time.Hour)
	section := NormalizeSnapshotsByStart("c1", []models.AggregateSnapshot{
		daySnapshot("s3", start, 3, 30, 0.3),
		daySnapshot("s0", start, 0, 0, 0),
		{ID: "s1", Timestamp: start.Add(36 * time.Hour)},
	})

	assert.Equal(t, start, section.LaunchedAt)
	require.Len(t, section.Points, 3)
	assert.Equal(t, []int{0, 1, 3}, []int{section.Points[0].DayIndex, section.Points[1].DayIndex, section.Points[2].DayIndex})
	assert.Equal(t, "s1", section.Points[1].SnapshotID)
}

func TestInterpolateSnapshot_OneThird(t *testing.T) {
	before := daySnapshot("a", testEpoch, 2, 20, 0.2)
	after := daySnapshot("b", testEpoch, 5, 50, 0.5)

	s := interpolateSnapshot("c1", 3, before, after, 1.0/3.0)
	assert.Equal(t, "c1-interp-d3", s.ID)
	assert.True(t, s.Interpolated)
	assert.InDelta(t, 30, s.Aggregates[models.MetricLeadsCount], 1e-9)
	assert.InDelta(t, 0.3, s.Aggregates[models.MetricSuccessRate], 1e-9)
	assert.InDelta(t, 15, s.ClassifiedCounts["high"], 1e-9)
	assert.True(t, testEpoch.Add(3*24*time.Hour).Equal(s.Timestamp))
}

func TestInterpolateSnapshot_SkipsOneSidedKeys(t *testing.T) {
	before := daySnapshot("a", testEpoch, 0, 10, 0.1)
	after := models.AggregateSnapshot{ID: "b", Timestamp: testEpoch.Add(48 * time.Hour), Aggregates: map[models.MetricKey]float64{models.MetricLeadsCount: 30}}

	s := interpolateSnapshot("c1", 1, before, after, 0.5)
	assert.Equal(t, map[models.MetricKey]float64{models.MetricLeadsCount: 20}, s.Aggregates)
	assert.Empty(t, s.ClassifiedCounts)
}

func TestBuildCohortMatrix_Interpolates(t *testing.T) {
	startA := testEpoch
	startB := testEpoch.Add(10 * 24 * time.Hour)
	campaigns := []CampaignSnapshots{
		{CampaignID: "a", Snapshots: []models.AggregateSnapshot{
			daySnapshot("a0", startA, 0, 0, 0.1),
			daySnapshot("a2", startA, 2, 20, 0.2),
			daySnapshot("a5", startA, 5, 50, 0.5),
		}},
		{CampaignID: "b", Snapshots: []models.AggregateSnapshot{
			daySnapshot("b0", startB, 0, 5, 0.4),
			daySnapshot("b1", startB, 1, 15, 0.6),
			daySnapshot("b3", startB, 3, 35, 0.8),
		}},
	}

	matrix := testCohortEngine(true).BuildCohortMatrix(context.Background(), campaigns, []models.MetricKey{models.MetricLeadsCount})
	require.Len(t, matrix.Campaigns, 2)
	assert.Equal(t, 5, matrix.MaxDays)
	assert.True(t, matrix.Interpolated)

	cell := matrix.AlignedData[3]["a"]
	assert.Equal(t, "a-interp-d3", cell.ID)
	assert.InDelta(t, 30, cell.Aggregates[models.MetricLeadsCount], 1e-9)
	assert.Equal(t, "b3", matrix.AlignedData[3]["b"].ID)

	// b has no data after day 3, so days 4 and 5 stay empty.
	_, ok := matrix.AlignedData[4]["b"]
	assert.False(t, ok)
	assert.InDelta(t, 10.0/12.0*100, matrix.MatrixDensity, 1e-9)

	bench := matrix.Benchmarks[models.MetricLeadsCount]
	require.Len(t, bench, 6)
	assert.Equal(t, 3, bench[3].Day)
	assert.Equal(t, 2, bench[3].SampleSize)
	assert.InDelta(t, 32.5, bench[3].Median, 1e-9)
	assert.InDelta(t, 31.25, bench[3].P25, 1e-9)
	assert.InDelta(t, 33.75, bench[3].P75, 1e-9)
	assert.Equal(t, 1, bench[5].SampleSize)
}

func TestBuildCohortMatrix_WithoutInterpolation(t *testing.T) {
	campaigns := []CampaignSnapshots{
		{CampaignID: "a", Snapshots: []models.AggregateSnapshot{daySnapshot("a0", testEpoch, 0, 1, 0), daySnapshot("a3", testEpoch, 3, 4, 0)}},
		{CampaignID: "b", Snapshots: []models.AggregateSnapshot{daySnapshot("b0", testEpoch, 0, 1, 0), daySnapshot("b1", testEpoch, 1, 2, 0)}},
	}

	matrix := testCohortEngine(false).BuildCohortMatrix(context.Background(), campaigns, nil)
	assert.False(t, matrix.Interpolated)
	assert.Equal(t, 3, matrix.MaxDays)
	assert.InDelta(t, 50.0, matrix.MatrixDensity, 1e-9)
	_, ok := matrix.AlignedData[2]
	assert.False(t, ok)
}

func TestBuildCohortMatrix_CapsDaySpread(t *testing.T) {
	engine := NewCohortEngine(config.CohortConfig{MaxDaySpread: 3, MinCampaigns: 2}, quietLogger())
	campaigns := []CampaignSnapshots{
		{CampaignID: "a", Snapshots: []models.AggregateSnapshot{daySnapshot("a0", testEpoch, 0, 1, 0), daySnapshot("a9", testEpoch, 9, 1, 0)}},
		{CampaignID: "b", Snapshots: []models.AggregateSnapshot{daySnapshot("b0", testEpoch, 0, 1, 0)}},
	}

	matrix := engine.BuildCohortMatrix(context.Background(), campaigns, nil)
	assert.Equal(t, 3, matrix.MaxDays)
	assert.Equal(t, 9, matrix.Campaigns[0].MaxDayIndex)
}

func TestBuildCohortMatrix_TooFewCampaigns(t *testing.T) {
	campaigns := []CampaignSnapshots{
		{CampaignID: "a", Snapshots: []models.AggregateSnapshot{daySnapshot("a0", testEpoch, 0, 1, 0)}},
		{CampaignID: "empty"},
	}

	matrix := testCohortEngine(true).BuildCohortMatrix(context.Background(), campaigns, nil)
	assert.Empty(t, matrix.Campaigns)
	assert.Empty(t, matrix.AlignedData)
	assert.Zero(t, matrix.MatrixDensity)
}

func TestBuildCohortMatrix_LatestSnapshotOfDayWins(t *testing.T) {
	campaigns := []CampaignSnapshots{
		{CampaignID: "a", Snapshots: []models.AggregateSnapshot{
			daySnapshot("early", testEpoch, 0, 1, 0),
			{ID: "late", Timestamp: testEpoch.Add(20 * time.Hour), Aggregates: map[models.MetricKey]float64{models.MetricLeadsCount: 9}},
		}},
		{CampaignID: "b", Snapshots: []models.AggregateSnapshot{daySnapshot("b0", testEpoch, 0, 1, 0)}},
	}

	matrix := testCohortEngine(true).BuildCohortMatrix(context.Background(), campaigns, nil)
	assert.Equal(t, "late", matrix.AlignedData[0]["a"].ID)
	assert.Equal(t, 2, matrix.Campaigns[0].SnapshotCount)
}

func TestBuildCohortMatrix_SingleCampaignFloor(t *testing.T) {
	engine := NewCohortEngine(config.CohortConfig{MaxDaySpread: 90, MinCampaigns: 1}, quietLogger())
	campaigns := []CampaignSnapshots{
		{CampaignID: "a", Snapshots: []models.AggregateSnapshot{daySnapshot("a0", testEpoch, 0, 1, 0), daySnapshot("a1", testEpoch, 1, 2, 0)}},
	}

	matrix := engine.BuildCohortMatrix(context.Background(), campaigns, nil)
	assert.Empty(t, matrix.Campaigns)
	assert.Empty(t, matrix.AlignedData)
}
