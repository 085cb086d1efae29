package models

import "time"

// CohortCampaign describes one campaign participating in a cohort matrix.
type CohortCampaign struct {
	CampaignID    string    `json:"campaignId"`
	Name          string    `json:"name,omitempty"`
	LaunchedAt    time.Time `json:"launchedAt"`
	SnapshotCount int       `json:"snapshotCount"`
	MaxDayIndex   int       `json:"maxDayIndex"`
}

// CohortMatrix aligns several campaigns on a days-since-launch axis.
// AlignedData[d][c] is present only when campaign c had, or interpolation
// produced, a snapshot at day d.
type CohortMatrix struct {
	MaxDays       int                                  `json:"maxDays"`
	Campaigns     []CohortCampaign                     `json:"campaigns"`
	AlignedData   map[int]map[string]AggregateSnapshot `json:"alignedData"`
	MatrixDensity float64                              `json:"matrixDensity"`
	Interpolated  bool                                 `json:"interpolated"`
	Benchmarks    map[MetricKey][]CohortBenchmarkPoint `json:"benchmarks"`
}

// CohortBenchmarkPoint holds cross-campaign percentiles for a single day.
type CohortBenchmarkPoint struct {
	Day        int     `json:"day"`
	Median     float64 `json:"median"`
	P25        float64 `json:"p25"`
	P75        float64 `json:"p75"`
	SampleSize int     `json:"sampleSize"`
}

// NormalizedSnapshot is a snapshot positioned on its campaign's day axis.
type NormalizedSnapshot struct {
	DayIndex   int       `json:"dayIndex"`
	SnapshotID string    `json:"snapshotId"`
	Timestamp  time.Time `json:"timestamp"`
}

// NormalizationSection is the per-campaign day-index view carried in share bundles.
type NormalizationSection struct {
	CampaignID string               `json:"campaignId"`
	LaunchedAt time.Time            `json:"launchedAt"`
	Points     []NormalizedSnapshot `json:"points"`
}
