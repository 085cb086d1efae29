package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/logging"
	"github.com/irfndi/leadgen-insights/internal/models"
)

const (
	defaultSnapshotLimit = 500
	snapshotsTable       = "campaign_snapshots"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// SnapshotRepository reads and writes campaign aggregate snapshots.
type SnapshotRepository struct {
	pool   DatabasePool
	schema models.MetricsSchema
	logger *logrus.Logger
	ops    *logging.StandardLogger
}

// NewSnapshotRepository creates a repository validating rows against schema v1.
func NewSnapshotRepository(pool DatabasePool, logger *logrus.Logger) *SnapshotRepository {
	if logger == nil {
		logger = logrus.New()
	}
	return &SnapshotRepository{
		pool:   pool,
		schema: models.MetricsSchemaV1,
		logger: logger,
	}
}

// WithOperationLog reports every query and write to ops.
func (r *SnapshotRepository) WithOperationLog(ops *logging.StandardLogger) *SnapshotRepository {
	r.ops = ops
	return r
}

func (r *SnapshotRepository) logOperation(operation string, start time.Time, rows int64) {
	if r.ops != nil {
		r.ops.LogDatabaseOperation(operation, snapshotsTable, time.Since(start).Milliseconds(), rows)
	}
}

// ListSnapshots returns the latest limit snapshots of a campaign in ascending
// time order. Rows failing schema validation are skipped and logged.
func (r *SnapshotRepository) ListSnapshots(ctx context.Context, campaignID string, limit int) ([]models.AggregateSnapshot, error) {
	if limit <= 0 {
		limit = defaultSnapshotLimit
	}

	query := `
		SELECT id, campaign_id, captured_at, aggregates, classified_counts, forecast
		FROM (
			SELECT id, campaign_id, captured_at, aggregates, classified_counts, forecast
			FROM campaign_snapshots
			WHERE campaign_id = $1
			ORDER BY captured_at DESC
			LIMIT $2
		) latest
		ORDER BY captured_at ASC
	`

	start := time.Now()
	rows, err := r.pool.Query(ctx, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots for campaign %s: %w", campaignID, err)
	}
	defer rows.Close()

	grouped, err := r.scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	snapshots := grouped[campaignID]
	if snapshots == nil {
		snapshots = []models.AggregateSnapshot{}
	}
	r.logOperation("select", start, int64(len(snapshots)))
	return snapshots, nil
}

// ListCampaignSnapshots returns the snapshots of several campaigns keyed by
// campaign id. Campaigns without rows map to an empty slice.
func (r *SnapshotRepository) ListCampaignSnapshots(ctx context.Context, campaignIDs []string) (map[string][]models.AggregateSnapshot, error) {
	out := make(map[string][]models.AggregateSnapshot, len(campaignIDs))
	if len(campaignIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT id, campaign_id, captured_at, aggregates, classified_counts, forecast
		FROM campaign_snapshots
		WHERE campaign_id = ANY($1)
		ORDER BY campaign_id, captured_at ASC
	`

	start := time.Now()
	rows, err := r.pool.Query(ctx, query, campaignIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query cohort snapshots: %w", err)
	}
	defer rows.Close()

	grouped, err := r.scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, id := range campaignIDs {
		snapshots := grouped[id]
		if snapshots == nil {
			snapshots = []models.AggregateSnapshot{}
		}
		out[id] = snapshots
		total += int64(len(snapshots))
	}
	r.logOperation("select", start, total)
	return out, nil
}

// SaveSnapshot validates and upserts one snapshot.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, campaignID string, s models.AggregateSnapshot) error {
	if err := models.ValidateSnapshot(s, r.schema); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	aggregates, err := json.Marshal(s.Aggregates)
	if err != nil {
		return fmt.Errorf("failed to encode aggregates: %w", err)
	}
	counts, err := json.Marshal(s.ClassifiedCounts)
	if err != nil {
		return fmt.Errorf("failed to encode classified counts: %w", err)
	}
	var forecast []byte
	if s.Forecast != nil {
		if forecast, err = json.Marshal(s.Forecast); err != nil {
			return fmt.Errorf("failed to encode forecast marker: %w", err)
		}
	}

	query := `
		INSERT INTO campaign_snapshots (id, campaign_id, captured_at, aggregates, classified_counts, forecast)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			aggregates = EXCLUDED.aggregates,
			classified_counts = EXCLUDED.classified_counts,
			forecast = EXCLUDED.forecast
	`

	start := time.Now()
	tag, err := r.pool.Exec(ctx, query, s.ID, campaignID, s.Timestamp.UTC(), aggregates, counts, forecast)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", s.ID, err)
	}
	r.logOperation("upsert", start, tag.RowsAffected())
	return nil
}

func (r *SnapshotRepository) scanSnapshots(rows pgx.Rows) (map[string][]models.AggregateSnapshot, error) {
	grouped := make(map[string][]models.AggregateSnapshot)

	for rows.Next() {
		var (
			id, campaignID           string
			capturedAt               time.Time
			aggregates, counts, fcst []byte
		)
		if err := rows.Scan(&id, &campaignID, &capturedAt, &aggregates, &counts, &fcst); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}

		snapshot, err := decodeSnapshot(id, capturedAt, aggregates, counts, fcst)
		if err == nil {
			err = models.ValidateSnapshot(snapshot, r.schema)
		}
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"campaign_id": campaignID,
				"snapshot_id": id,
				"error":       err.Error(),
			}).Warn("Skipping invalid snapshot")
			continue
		}
		grouped[campaignID] = append(grouped[campaignID], snapshot)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return grouped, nil
}

func decodeSnapshot(id string, capturedAt time.Time, aggregates, counts, forecast []byte) (models.AggregateSnapshot, error) {
	s := models.AggregateSnapshot{
		ID:               id,
		Timestamp:        capturedAt.UTC(),
		Aggregates:       map[models.MetricKey]float64{},
		ClassifiedCounts: map[string]float64{},
	}
	if len(aggregates) > 0 {
		if err := json.Unmarshal(aggregates, &s.Aggregates); err != nil {
			return s, fmt.Errorf("aggregates: %w", err)
		}
	}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &s.ClassifiedCounts); err != nil {
			return s, fmt.Errorf("classified counts: %w", err)
		}
	}
	if len(forecast) > 0 {
		var marker models.ForecastMarker
		if err := json.Unmarshal(forecast, &marker); err != nil {
			return s, fmt.Errorf("forecast marker: %w", err)
		}
		s.Forecast = &marker
	}
	return s, nil
}
