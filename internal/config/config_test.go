package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.ForecastService.Timeout)

	f := cfg.Analytics.Forecast
	assert.True(t, f.Enabled)
	assert.Equal(t, 7, f.DefaultHorizon)
	assert.Equal(t, "ses", f.Method)
	assert.Equal(t, 400, f.WorkerThreshold)
	assert.Equal(t, 30*time.Second, f.WorkerTimeout)
	assert.Equal(t, 15*time.Second, f.ServerTimeout)
	assert.Equal(t, 2, f.ServerRetries)
	assert.Equal(t, 20*time.Second, f.ServerBudget)
	assert.Equal(t, 50*time.Second, f.ChainTimeout())
	assert.Equal(t, 14, f.Arbitration.HistoricalWindow)

	a := cfg.Analytics.Anomaly
	assert.Equal(t, 10, a.RollingWindowSize)
	assert.Equal(t, 2.0, a.ZThreshold)
	assert.Equal(t, 3.0, a.CriticalZThreshold)
	assert.Equal(t, 5, a.MinSnapshots)
	assert.Equal(t, "override", a.MergeStrategy)

	assert.Equal(t, 10, cfg.Analytics.Recommendations.MaxItems)
	assert.Equal(t, 100, cfg.Analytics.Export.ResolutionLogCapacity)
	assert.Equal(t, 50*1024*1024, cfg.Analytics.Export.MaxBytes)
	assert.Equal(t, 2, cfg.Analytics.Cohort.MinCampaigns)
	assert.Equal(t, 90, cfg.Analytics.Cohort.MaxDaySpread)
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("ENVIRONMENT", "PRODUCTION")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("FORECAST_SERVICE_URL", "http://forecast.internal:9000")
	t.Setenv("ANALYTICS_FORECAST_DEFAULT_HORIZON", "14")
	t.Setenv("ANALYTICS_FORECAST_RESOLUTION", "client")
	t.Setenv("ANALYTICS_COHORT_INTERPOLATION", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://forecast.internal:9000", cfg.ForecastService.BaseURL)
	assert.Equal(t, 14, cfg.Analytics.Forecast.DefaultHorizon)
	assert.Equal(t, "client", cfg.Analytics.Forecast.Resolution)
	assert.False(t, cfg.Analytics.Cohort.Interpolation)
}

func TestLoad_RejectsOutOfRangeHorizon(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("ANALYTICS_FORECAST_DEFAULT_HORIZON", "45")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_horizon")
}

func TestForecastConfig_ChainTimeout(t *testing.T) {
	f := ForecastConfig{ServerTimeout: 15 * time.Second, ServerRetries: 2, WorkerTimeout: 30 * time.Second}
	assert.Equal(t, 75*time.Second, f.ChainTimeout())

	f.ServerBudget = 20 * time.Second
	assert.Equal(t, 50*time.Second, f.ChainTimeout())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Analytics: AnalyticsConfig{
			Forecast: ForecastConfig{DefaultHorizon: 7, Alpha: 0.3, Method: "ses", Resolution: "server"},
			Anomaly: AnomalyConfig{
				RollingWindowSize: 10, ZThreshold: 2, CriticalZThreshold: 3, MergeStrategy: "override",
			},
			Recommendations: RecommendationsConfig{MaxItems: 10, MLShare: 0.7},
			Export:          ExportConfig{WarnBytes: 10, MaxBytes: 50},
			Cohort:          CohortConfig{MinCampaigns: 2, MaxDaySpread: 90},
		}}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad method", mutate: func(c *Config) { c.Analytics.Forecast.Method = "arima" }, wantErr: "method"},
		{name: "bad resolution", mutate: func(c *Config) { c.Analytics.Forecast.Resolution = "edge" }, wantErr: "resolution"},
		{name: "window too small", mutate: func(c *Config) { c.Analytics.Anomaly.RollingWindowSize = 1 }, wantErr: "rolling_window_size"},
		{name: "critical below warning", mutate: func(c *Config) { c.Analytics.Anomaly.CriticalZThreshold = 1 }, wantErr: "thresholds"},
		{name: "ml share above one", mutate: func(c *Config) { c.Analytics.Recommendations.MLShare = 1.5 }, wantErr: "recommendations"},
		{name: "max below warn", mutate: func(c *Config) { c.Analytics.Export.MaxBytes = 1 }, wantErr: "max_bytes"},
		{name: "alpha zero", mutate: func(c *Config) { c.Analytics.Forecast.Alpha = 0 }, wantErr: "alpha"},
		{name: "negative server budget", mutate: func(c *Config) { c.Analytics.Forecast.ServerBudget = -time.Second }, wantErr: "server_budget"},
		{name: "single campaign cohort", mutate: func(c *Config) { c.Analytics.Cohort.MinCampaigns = 1 }, wantErr: "min_campaigns=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
