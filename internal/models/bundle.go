package models

import "time"

// Bundle format versions. Readers must accept all of them.
const (
	BundleVersion1 = "1.0"
	BundleVersion2 = "2.0"
	BundleVersion3 = "3.0"
)

// ResolutionDecision records how one capability was resolved at runtime.
type ResolutionDecision struct {
	Timestamp  time.Time `json:"timestamp"`
	Capability string    `json:"capability"`
	Mode       string    `json:"mode"`
	Reason     string    `json:"reason"`
}

// ShareBundle is the portable export of one campaign's analytics state.
// Version 1.0 carries snapshots and recommendations, 2.0 adds forecast,
// normalization and cohort sections, and 3.0 adds the capability
// snapshot and resolution decisions.
type ShareBundle struct {
	Version              string                   `json:"version"`
	CampaignID           string                   `json:"campaignId"`
	ExportedAt           time.Time                `json:"exportedAt"`
	Snapshots            []AggregateSnapshot      `json:"snapshots"`
	Recommendations      []EnhancedRecommendation `json:"recommendations,omitempty"`
	Forecast             *ForecastResult          `json:"forecast,omitempty"`
	Normalization        *NormalizationSection    `json:"normalization,omitempty"`
	Cohorts              *CohortMatrix            `json:"cohorts,omitempty"`
	CapabilitiesSnapshot map[string]string        `json:"capabilitiesSnapshot,omitempty"`
	ResolutionDecisions  []ResolutionDecision     `json:"resolutionDecisions,omitempty"`
}

// HasV2Sections reports whether any 2.0 section is present.
func (b *ShareBundle) HasV2Sections() bool {
	return b.Forecast != nil || b.Normalization != nil || b.Cohorts != nil
}

// HasV3Sections reports whether any 3.0 section is present.
func (b *ShareBundle) HasV3Sections() bool {
	return len(b.CapabilitiesSnapshot) > 0 || len(b.ResolutionDecisions) > 0
}

// RequiredVersion is the lowest version able to represent the bundle content.
func (b *ShareBundle) RequiredVersion() string {
	switch {
	case b.HasV3Sections():
		return BundleVersion3
	case b.HasV2Sections():
		return BundleVersion2
	default:
		return BundleVersion1
	}
}
