package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/config"
	"github.com/irfndi/leadgen-insights/internal/models"
	"github.com/irfndi/leadgen-insights/internal/observability"
	"github.com/irfndi/leadgen-insights/internal/telemetry"
)

const (
	defaultWarnBytes = 10 * 1024 * 1024
	defaultMaxBytes  = 50 * 1024 * 1024

	csvTimestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// csvMetricColumns follows the id and timestamp columns of every CSV export.
var csvMetricColumns = []models.MetricKey{
	models.MetricTotalDomains,
	models.MetricSuccessRate,
	models.MetricAvgLeadScore,
	models.MetricDNSSuccessRate,
	models.MetricHTTPSuccessRate,
	models.MetricHighPotentialCount,
	models.MetricLeadsCount,
	models.MetricAvgRichness,
	models.MetricWarningRate,
	models.MetricKeywordCoverage,
	models.MetricMedianGain,
}

// BundleInput is the content of a bundle before its version is chosen.
type BundleInput struct {
	CampaignID      string
	Snapshots       []models.AggregateSnapshot
	Recommendations []models.EnhancedRecommendation
	Forecast        *models.ForecastResult
	Normalization   *models.NormalizationSection
	Cohorts         *models.CohortMatrix
	// Capabilities is included, together with the recorded resolution
	// decisions, when IncludeCapabilities is set.
	Capabilities        map[string]string
	IncludeCapabilities bool
}

// ShareBundleCodec builds, sizes and (de)serializes share bundles. It owns the
// resolution decision log that version 3.0 bundles carry.
type ShareBundleCodec struct {
	cfg       config.ExportConfig
	decisions *ResolutionLog
	emitter   telemetry.Emitter
	logger    *logrus.Logger
	now       func() time.Time
}

// NewShareBundleCodec creates a codec with a resolution log of the configured capacity.
func NewShareBundleCodec(cfg config.ExportConfig, emitter telemetry.Emitter, logger *logrus.Logger) *ShareBundleCodec {
	if cfg.WarnBytes <= 0 {
		cfg.WarnBytes = defaultWarnBytes
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if emitter == nil {
		emitter = telemetry.NopEmitter{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ShareBundleCodec{
		cfg:       cfg,
		decisions: NewResolutionLog(cfg.ResolutionLogCapacity),
		emitter:   emitter,
		logger:    logger,
		now:       time.Now,
	}
}

// Enabled reports whether export tools are turned on.
func (c *ShareBundleCodec) Enabled() bool {
	return c.cfg.Enabled
}

// Decisions returns the resolution log owned by the codec.
func (c *ShareBundleCodec) Decisions() *ResolutionLog {
	return c.decisions
}

// BuildBundle assembles a bundle and stamps the lowest version that can carry it.
// Times are stored in UTC and empty optional sections are left out, so the
// bundle decodes back to an equal value.
func (c *ShareBundleCodec) BuildBundle(in BundleInput) *models.ShareBundle {
	b := &models.ShareBundle{
		CampaignID:    in.CampaignID,
		ExportedAt:    c.now().UTC(),
		Snapshots:     utcSnapshots(in.Snapshots),
		Forecast:      utcForecast(in.Forecast),
		Normalization: utcNormalization(in.Normalization),
		Cohorts:       utcCohorts(in.Cohorts),
	}
	if len(in.Recommendations) > 0 {
		b.Recommendations = in.Recommendations
	}
	if in.IncludeCapabilities {
		if len(in.Capabilities) > 0 {
			b.CapabilitiesSnapshot = in.Capabilities
		}
		if decisions := c.decisions.Snapshot(); len(decisions) > 0 {
			for i := range decisions {
				decisions[i].Timestamp = decisions[i].Timestamp.UTC()
			}
			b.ResolutionDecisions = decisions
		}
	}
	b.Version = b.RequiredVersion()
	return b
}

// utcSnapshots copies snapshots with UTC timestamps. The result is never nil.
func utcSnapshots(in []models.AggregateSnapshot) []models.AggregateSnapshot {
	out := make([]models.AggregateSnapshot, len(in))
	for i, s := range in {
		s.Timestamp = s.Timestamp.UTC()
		out[i] = s
	}
	return out
}

func utcForecast(in *models.ForecastResult) *models.ForecastResult {
	if in == nil {
		return nil
	}
	out := *in
	out.GeneratedAt = out.GeneratedAt.UTC()
	return &out
}

func utcNormalization(in *models.NormalizationSection) *models.NormalizationSection {
	if in == nil {
		return nil
	}
	out := *in
	out.LaunchedAt = out.LaunchedAt.UTC()
	if in.Points != nil {
		out.Points = make([]models.NormalizedSnapshot, len(in.Points))
		for i, p := range in.Points {
			p.Timestamp = p.Timestamp.UTC()
			out.Points[i] = p
		}
	}
	return &out
}

func utcCohorts(in *models.CohortMatrix) *models.CohortMatrix {
	if in == nil {
		return nil
	}
	out := *in
	if in.Campaigns != nil {
		out.Campaigns = make([]models.CohortCampaign, len(in.Campaigns))
		for i, cc := range in.Campaigns {
			cc.LaunchedAt = cc.LaunchedAt.UTC()
			out.Campaigns[i] = cc
		}
	}
	if in.AlignedData != nil {
		out.AlignedData = make(map[int]map[string]models.AggregateSnapshot, len(in.AlignedData))
		for day, row := range in.AlignedData {
			if row == nil {
				out.AlignedData[day] = nil
				continue
			}
			aligned := make(map[string]models.AggregateSnapshot, len(row))
			for id, s := range row {
				s.Timestamp = s.Timestamp.UTC()
				aligned[id] = s
			}
			out.AlignedData[day] = aligned
		}
	}
	return &out
}

// ExportJSON serializes a bundle and reports its size.
func (c *ShareBundleCodec) ExportJSON(ctx context.Context, b *models.ShareBundle) (data []byte, err error) {
	if !c.cfg.Enabled {
		return nil, fmt.Errorf("export: %w", ErrFeatureDisabled)
	}
	ctx, span := observability.StartSpanWithTags(ctx, observability.SpanOpExport, "ShareBundleCodec.ExportJSON", map[string]string{
		"campaign_id": b.CampaignID,
		"version":     b.Version,
	})
	defer func() { observability.FinishSpan(span, err) }()

	data, err = json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}
	if err := c.checkSize(ctx, b, "json", len(data)); err != nil {
		return nil, err
	}
	return data, nil
}

// EncodeBundle returns the base64 form of a bundle's JSON, suitable for URLs.
func (c *ShareBundleCodec) EncodeBundle(ctx context.Context, b *models.ShareBundle) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bundle: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	if err := c.checkSize(ctx, b, "base64", len(encoded)); err != nil {
		return "", err
	}
	return encoded, nil
}

// ShareURL returns base with the encoded bundle in its data query parameter.
func (c *ShareBundleCodec) ShareURL(ctx context.Context, base string, b *models.ShareBundle) (string, error) {
	if base == "" {
		base = c.cfg.ShareBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid share base url: %w", err)
	}
	encoded, err := c.EncodeBundle(ctx, b)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("data", encoded)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DecodeBundle parses an encoded bundle. data may be the base64 payload, in
// standard or URL alphabet, or a share URL carrying it in the data parameter.
func DecodeBundle(data string) (*models.ShareBundle, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, &MalformedBundleError{Reason: "empty payload"}
	}
	if strings.HasPrefix(data, "http://") || strings.HasPrefix(data, "https://") {
		u, err := url.Parse(data)
		if err != nil {
			return nil, &MalformedBundleError{Reason: "invalid share url", Err: err}
		}
		data = u.Query().Get("data")
		if data == "" {
			return nil, &MalformedBundleError{Reason: "share url has no data parameter"}
		}
	}

	raw, err := decodeBase64(data)
	if err != nil {
		return nil, &MalformedBundleError{Reason: "invalid base64", Err: err}
	}
	return ParseBundleJSON(raw)
}

// ParseBundleJSON validates the structure of a JSON bundle and decodes it.
func ParseBundleJSON(raw []byte) (*models.ShareBundle, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &MalformedBundleError{Reason: "invalid json", Err: err}
	}

	var version string
	if err := json.Unmarshal(fields["version"], &version); err != nil || version == "" {
		return nil, &MalformedBundleError{Reason: "missing version"}
	}
	switch version {
	case models.BundleVersion1, models.BundleVersion2, models.BundleVersion3:
	default:
		return nil, &MalformedBundleError{Reason: fmt.Sprintf("unsupported version %q", version)}
	}
	var campaignID string
	if err := json.Unmarshal(fields["campaignId"], &campaignID); err != nil || campaignID == "" {
		return nil, &MalformedBundleError{Reason: "missing campaignId"}
	}
	snapshots := bytes.TrimSpace(fields["snapshots"])
	if len(snapshots) == 0 || snapshots[0] != '[' {
		return nil, &MalformedBundleError{Reason: "snapshots must be an array"}
	}

	var b models.ShareBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, &MalformedBundleError{Reason: "invalid bundle content", Err: err}
	}
	if required := b.RequiredVersion(); versionRank(version) < versionRank(required) {
		return nil, &MalformedBundleError{Reason: fmt.Sprintf("version %s cannot carry sections of version %s", version, required)}
	}
	return &b, nil
}

func versionRank(version string) int {
	switch version {
	case models.BundleVersion3:
		return 3
	case models.BundleVersion2:
		return 2
	default:
		return 1
	}
}

func decodeBase64(data string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawURLEncoding, base64.RawStdEncoding} {
		raw, err := enc.DecodeString(data)
		if err == nil {
			return raw, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// ExportCSV renders snapshots as CSV with a fixed header. Missing metrics are
// empty fields; numbers use their shortest exact decimal form.
func (c *ShareBundleCodec) ExportCSV(ctx context.Context, campaignID string, snapshots []models.AggregateSnapshot) ([]byte, error) {
	if !c.cfg.Enabled {
		return nil, fmt.Errorf("export: %w", ErrFeatureDisabled)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(csvMetricColumns)+2)
	header = append(header, "id", "timestamp")
	for _, m := range csvMetricColumns {
		header = append(header, string(m))
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, s := range models.SortSnapshots(snapshots) {
		row := make([]string, 0, len(header))
		row = append(row, s.ID, s.Timestamp.UTC().Format(csvTimestampLayout))
		for _, m := range csvMetricColumns {
			row = append(row, formatCSVNumber(s.Metric(m)))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}

	if err := c.checkSize(ctx, &models.ShareBundle{CampaignID: campaignID}, "csv", buf.Len()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatCSVNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return decimal.NewFromFloat(v).String()
}

// checkSize emits the export size event, warns above WarnBytes and rejects
// payloads above MaxBytes.
func (c *ShareBundleCodec) checkSize(ctx context.Context, b *models.ShareBundle, format string, size int) error {
	c.emitter.Emit(ctx, telemetry.Event{
		Name: telemetry.EventExportSize,
		Attributes: map[string]interface{}{
			"campaign_id": b.CampaignID,
			"version":     b.Version,
			"format":      format,
			"bytes":       size,
		},
	})

	fields := logrus.Fields{
		"campaign_id": b.CampaignID,
		"format":      format,
		"bytes":       size,
	}
	if size > c.cfg.MaxBytes {
		c.logger.WithFields(fields).Error("Export rejected: payload exceeds maximum size")
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrBundleTooLarge, size, c.cfg.MaxBytes)
	}
	if size > c.cfg.WarnBytes {
		c.logger.WithFields(fields).Warn("Export payload is unusually large")
	}
	return nil
}
