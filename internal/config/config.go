package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates all configuration settings for the application.
// It is built once at startup and handed to components by value.
type Config struct {
	Environment     string                `mapstructure:"environment"`
	LogLevel        string                `mapstructure:"log_level"`
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Redis           RedisConfig           `mapstructure:"redis"`
	ForecastService ForecastServiceConfig `mapstructure:"forecast_service"`
	Telemetry       TelemetryConfig       `mapstructure:"telemetry"`
	Sentry          SentryConfig          `mapstructure:"sentry"`
	Telegram        TelegramConfig        `mapstructure:"telegram"`
	Analytics       AnalyticsConfig       `mapstructure:"analytics"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	DatabaseURL string `mapstructure:"database_url"`
	MaxConns    int    `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ForecastServiceConfig points at the upstream forecast/ML service.
type ForecastServiceConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	LogLevel       string `mapstructure:"log_level"`
}

type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn"`
	Environment      string  `mapstructure:"environment"`
	Release          string  `mapstructure:"release"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate"`
}

// TelegramConfig enables critical anomaly alerts when both fields are set.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// AnalyticsConfig groups the feature flags and tunables of the metrics pipeline.
type AnalyticsConfig struct {
	Forecast        ForecastConfig        `mapstructure:"forecast"`
	Anomaly         AnomalyConfig         `mapstructure:"anomaly"`
	Recommendations RecommendationsConfig `mapstructure:"recommendations"`
	Export          ExportConfig          `mapstructure:"export"`
	Cohort          CohortConfig          `mapstructure:"cohort"`
}

type ForecastConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	DefaultHorizon  int               `mapstructure:"default_horizon"`
	CustomHorizon   bool              `mapstructure:"custom_horizon"`
	Method          string            `mapstructure:"method"` // ses or holt-winters
	Alpha           float64           `mapstructure:"alpha"`
	Beta            float64           `mapstructure:"beta"`
	Gamma           float64           `mapstructure:"gamma"`
	SeasonLength    int               `mapstructure:"season_length"`
	MinPoints       int               `mapstructure:"min_points"`
	WorkerThreshold int               `mapstructure:"worker_threshold"`
	WorkerTimeout   time.Duration     `mapstructure:"worker_timeout"`
	ServerTimeout   time.Duration     `mapstructure:"server_timeout"`
	ServerBudget    time.Duration     `mapstructure:"server_budget"` // all server attempts and backoff
	ServerRetries   int               `mapstructure:"server_retries"`
	Resolution      string            `mapstructure:"resolution"` // server, client or skip
	CacheTTL        time.Duration     `mapstructure:"cache_ttl"`
	Arbitration     ArbitrationConfig `mapstructure:"arbitration"`
}

// ChainTimeout is the longest a forecast can take when the server strategy
// exhausts its budget and the worker then runs to its timeout.
func (f ForecastConfig) ChainTimeout() time.Duration {
	server := f.ServerBudget
	if server <= 0 {
		server = time.Duration(f.ServerRetries+1) * f.ServerTimeout
	}
	return server + f.WorkerTimeout
}

type ArbitrationConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	HistoricalWindow int  `mapstructure:"historical_window"`
}

type AnomalyConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	RollingWindowSize  int      `mapstructure:"rolling_window_size"`
	ZThreshold         float64  `mapstructure:"z_threshold"`
	CriticalZThreshold float64  `mapstructure:"critical_z_threshold"`
	MinSnapshots       int      `mapstructure:"min_snapshots"`
	MonitoredMetrics   []string `mapstructure:"monitored_metrics"`
	MergeStrategy      string   `mapstructure:"merge_strategy"` // override or per_metric
}

type RecommendationsConfig struct {
	MLEnabled bool    `mapstructure:"ml_enabled"`
	MaxItems  int     `mapstructure:"max_items"`
	MLShare   float64 `mapstructure:"ml_share"`
}

type ExportConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	WarnBytes             int    `mapstructure:"warn_bytes"`
	MaxBytes              int    `mapstructure:"max_bytes"`
	ResolutionLogCapacity int    `mapstructure:"resolution_log_capacity"`
	ShareBaseURL          string `mapstructure:"share_base_url"`
}

type CohortConfig struct {
	Interpolation bool `mapstructure:"interpolation"`
	MaxDaySpread  int  `mapstructure:"max_day_spread"`
	// MinCampaigns must be at least 2; a cohort of one campaign has nothing to compare.
	MinCampaigns int `mapstructure:"min_campaigns"`
}

// Load reads the configuration from the config file and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("database.database_url", "DATABASE_URL")
	_ = viper.BindEnv("forecast_service.base_url", "FORECAST_SERVICE_URL")
	_ = viper.BindEnv("sentry.dsn", "SENTRY_DSN")
	_ = viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN")

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	config.Sentry.DSN = strings.TrimSpace(config.Sentry.DSN)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the analytics tunables for values the pipeline cannot work with.
func Validate(cfg *Config) error {
	var errs []error

	f := cfg.Analytics.Forecast
	if f.DefaultHorizon < 1 || f.DefaultHorizon > 30 {
		errs = append(errs, fmt.Errorf("analytics.forecast.default_horizon must be between 1 and 30, got %d", f.DefaultHorizon))
	}
	if f.Alpha <= 0 || f.Alpha > 1 {
		errs = append(errs, fmt.Errorf("analytics.forecast.alpha must be in (0,1], got %v", f.Alpha))
	}
	switch f.Method {
	case "ses", "holt-winters":
	default:
		errs = append(errs, fmt.Errorf("analytics.forecast.method must be ses or holt-winters, got %q", f.Method))
	}
	switch f.Resolution {
	case "server", "client", "skip":
	default:
		errs = append(errs, fmt.Errorf("analytics.forecast.resolution must be server, client or skip, got %q", f.Resolution))
	}
	if f.ServerRetries < 0 {
		errs = append(errs, fmt.Errorf("analytics.forecast.server_retries must not be negative"))
	}
	if f.ServerBudget < 0 {
		errs = append(errs, fmt.Errorf("analytics.forecast.server_budget must not be negative"))
	}

	a := cfg.Analytics.Anomaly
	if a.RollingWindowSize < 2 {
		errs = append(errs, fmt.Errorf("analytics.anomaly.rolling_window_size must be at least 2, got %d", a.RollingWindowSize))
	}
	if a.ZThreshold <= 0 || a.CriticalZThreshold < a.ZThreshold {
		errs = append(errs, fmt.Errorf("analytics.anomaly thresholds invalid: z=%v critical=%v", a.ZThreshold, a.CriticalZThreshold))
	}
	switch a.MergeStrategy {
	case "override", "per_metric":
	default:
		errs = append(errs, fmt.Errorf("analytics.anomaly.merge_strategy must be override or per_metric, got %q", a.MergeStrategy))
	}

	r := cfg.Analytics.Recommendations
	if r.MaxItems < 1 || r.MLShare < 0 || r.MLShare > 1 {
		errs = append(errs, fmt.Errorf("analytics.recommendations invalid: max_items=%d ml_share=%v", r.MaxItems, r.MLShare))
	}

	e := cfg.Analytics.Export
	if e.MaxBytes < e.WarnBytes {
		errs = append(errs, fmt.Errorf("analytics.export.max_bytes must be >= warn_bytes"))
	}

	c := cfg.Analytics.Cohort
	if c.MinCampaigns < 2 || c.MaxDaySpread < 0 {
		errs = append(errs, fmt.Errorf("analytics.cohort invalid: min_campaigns=%d max_day_spread=%d", c.MinCampaigns, c.MaxDaySpread))
	}

	return errors.Join(errs...)
}

func setDefaults() {
	for key, value := range Defaults() {
		viper.SetDefault(key, value)
	}
}

// Defaults returns the default value of every recognised key.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"environment": "development",
		"log_level":   "info",

		"server.port":            8080,
		"server.allowed_origins": []string{"http://localhost:3000"},

		"database.host":         "localhost",
		"database.port":         5432,
		"database.user":         "postgres",
		"database.password":     "postgres",
		"database.dbname":       "leadgen",
		"database.sslmode":      "disable",
		"database.database_url": "",
		"database.max_conns":    10,

		"redis.host":     "localhost",
		"redis.port":     6379,
		"redis.password": "",
		"redis.db":       0,

		"forecast_service.base_url":          "http://localhost:8081/api/v2",
		"forecast_service.timeout":           "15s",
		"forecast_service.failure_threshold": 5,
		"forecast_service.open_timeout":      "60s",

		"telemetry.enabled":         false,
		"telemetry.otlp_endpoint":   "",
		"telemetry.service_name":    "leadgen-insights",
		"telemetry.service_version": "1.0.0",
		"telemetry.log_level":       "info",

		"sentry.enabled":            false,
		"sentry.dsn":                "",
		"sentry.environment":        "",
		"sentry.release":            "",
		"sentry.traces_sample_rate": 0.2,

		"telegram.bot_token": "",
		"telegram.chat_id":   0,

		"analytics.forecast.enabled":                       true,
		"analytics.forecast.default_horizon":               7,
		"analytics.forecast.custom_horizon":                true,
		"analytics.forecast.method":                        "ses",
		"analytics.forecast.alpha":                         0.3,
		"analytics.forecast.beta":                          0.1,
		"analytics.forecast.gamma":                         0.1,
		"analytics.forecast.season_length":                 7,
		"analytics.forecast.min_points":                    8,
		"analytics.forecast.worker_threshold":              400,
		"analytics.forecast.worker_timeout":                "30s",
		"analytics.forecast.server_timeout":                "15s",
		"analytics.forecast.server_budget":                 "20s",
		"analytics.forecast.server_retries":                2,
		"analytics.forecast.resolution":                    "server",
		"analytics.forecast.cache_ttl":                     "5m",
		"analytics.forecast.arbitration.enabled":           false,
		"analytics.forecast.arbitration.historical_window": 14,

		"analytics.anomaly.enabled":              true,
		"analytics.anomaly.rolling_window_size":  10,
		"analytics.anomaly.z_threshold":          2.0,
		"analytics.anomaly.critical_z_threshold": 3.0,
		"analytics.anomaly.min_snapshots":        5,
		"analytics.anomaly.monitored_metrics": []string{
			"successRate", "dnsSuccessRate", "httpSuccessRate", "avgLeadScore", "warningRate", "keywordCoverage",
		},
		"analytics.anomaly.merge_strategy": "override",

		"analytics.recommendations.ml_enabled": true,
		"analytics.recommendations.max_items":  10,
		"analytics.recommendations.ml_share":   0.7,

		"analytics.export.enabled":                 true,
		"analytics.export.warn_bytes":              10 * 1024 * 1024,
		"analytics.export.max_bytes":               50 * 1024 * 1024,
		"analytics.export.resolution_log_capacity": 100,
		"analytics.export.share_base_url":          "http://localhost:3000/share",

		"analytics.cohort.interpolation":  true,
		"analytics.cohort.max_day_spread": 90,
		"analytics.cohort.min_campaigns":  2,
	}
}
