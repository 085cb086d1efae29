package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/leadgen-insights/internal/logging"
	"github.com/irfndi/leadgen-insights/internal/models"
)

const (
	forecastCachePrefix = "forecast_cache:"
	defaultForecastTTL  = 10 * time.Minute
)

// ForecastCacheEntry is the stored form of a cached forecast.
type ForecastCacheEntry struct {
	Result   *models.ForecastResult `json:"result"`
	CachedAt time.Time              `json:"cached_at"`
}

// ForecastCacheStats tracks cache performance metrics
type ForecastCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
}

// HitRate returns hits as a percentage of lookups.
func (s ForecastCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// ForecastKey identifies one cached forecast. Version changes whenever the
// campaign gains a snapshot, so stale forecasts are never served.
type ForecastKey struct {
	CampaignID string
	Metric     models.MetricKey
	Horizon    int
	Version    string
}

func (k ForecastKey) String() string {
	return fmt.Sprintf("%s%s:%s:%d:%s", forecastCachePrefix, k.CampaignID, k.Metric, k.Horizon, k.Version)
}

// ForecastCache stores forecast results in Redis.
type ForecastCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
	ops    *logging.StandardLogger

	mu    sync.RWMutex
	stats ForecastCacheStats
}

// NewForecastCache creates a Redis-backed forecast cache.
func NewForecastCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *ForecastCache {
	if ttl <= 0 {
		ttl = defaultForecastTTL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &ForecastCache{redis: client, ttl: ttl, logger: logger}
}

// WithOperationLog reports every lookup and write to ops.
func (c *ForecastCache) WithOperationLog(ops *logging.StandardLogger) *ForecastCache {
	c.ops = ops
	return c
}

// Get returns the cached forecast for key. Redis errors count as misses.
func (c *ForecastCache) Get(ctx context.Context, key ForecastKey) (result *models.ForecastResult, hit bool) {
	start := time.Now()
	defer func() { c.logOperation("get", key, hit, start) }()

	data, err := c.redis.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		c.record(func(s *ForecastCacheStats) { s.Misses++ })
		return nil, false
	}
	if err != nil {
		c.logger.WithFields(logrus.Fields{"key": key.String(), "error": err.Error()}).Warn("Redis error reading forecast cache")
		c.record(func(s *ForecastCacheStats) { s.Misses++; s.Errors++ })
		return nil, false
	}

	var entry ForecastCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Result == nil {
		c.logger.WithField("key", key.String()).Warn("Discarding unreadable forecast cache entry")
		c.record(func(s *ForecastCacheStats) { s.Misses++; s.Errors++ })
		return nil, false
	}

	c.record(func(s *ForecastCacheStats) { s.Hits++ })
	return entry.Result, true
}

// Set stores result under key with the configured TTL.
func (c *ForecastCache) Set(ctx context.Context, key ForecastKey, result *models.ForecastResult) error {
	if result == nil {
		return nil
	}
	start := time.Now()
	data, err := json.Marshal(ForecastCacheEntry{Result: result, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode forecast: %w", err)
	}
	if err := c.redis.Set(ctx, key.String(), data, c.ttl).Err(); err != nil {
		c.record(func(s *ForecastCacheStats) { s.Errors++ })
		return fmt.Errorf("failed to cache forecast: %w", err)
	}

	c.record(func(s *ForecastCacheStats) { s.Sets++ })
	c.logOperation("set", key, false, start)
	return nil
}

// Invalidate removes every cached forecast of a campaign.
func (c *ForecastCache) Invalidate(ctx context.Context, campaignID string) (int, error) {
	var keys []string
	iter := c.redis.Scan(ctx, 0, forecastCachePrefix+campaignID+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("error scanning cache keys: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("error clearing cache: %w", err)
	}
	return len(keys), nil
}

// GetStats returns current cache statistics
func (c *ForecastCache) GetStats() ForecastCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// LogStats logs current cache performance statistics
func (c *ForecastCache) LogStats() {
	stats := c.GetStats()
	c.logger.WithFields(logrus.Fields{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"sets":     stats.Sets,
		"errors":   stats.Errors,
		"hit_rate": fmt.Sprintf("%.2f%%", stats.HitRate()),
	}).Info("Forecast cache stats")
}

func (c *ForecastCache) logOperation(operation string, key ForecastKey, hit bool, start time.Time) {
	if c.ops != nil {
		c.ops.LogCacheOperation(operation, key.String(), hit, time.Since(start).Milliseconds())
	}
}

func (c *ForecastCache) record(update func(*ForecastCacheStats)) {
	c.mu.Lock()
	update(&c.stats)
	c.mu.Unlock()
}
