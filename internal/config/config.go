// Package config loads monitor settings from an optional file, a .env file
// and ORACLE_MONITOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"oracle-monitor/internal/domain"
	"oracle-monitor/internal/ingestion"
	"oracle-monitor/internal/observability"
	"oracle-monitor/internal/solana"
	"oracle-monitor/internal/validation"
)

// EnvPrefix is prepended to every environment override, with dots in keys
// replaced by underscores: solana.cluster -> ORACLE_MONITOR_SOLANA_CLUSTER.
const EnvPrefix = "ORACLE_MONITOR"

// Config holds all configuration settings for the monitor.
type Config struct {
	Solana     SolanaConfig     `mapstructure:"solana"`
	Validation ValidationConfig `mapstructure:"validation"`
	Ingestion  IngestionConfig  `mapstructure:"ingestion"`
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
}

// SolanaConfig selects the cluster and oracle program.
type SolanaConfig struct {
	Cluster     string `mapstructure:"cluster"`
	RPCEndpoint string `mapstructure:"rpc_endpoint"`
	WSEndpoint  string `mapstructure:"ws_endpoint"`
	Commitment  string `mapstructure:"commitment"`
	ProgramID   string `mapstructure:"program_id"`
}

// ValidationConfig holds validator thresholds.
type ValidationConfig struct {
	DecayFactor           float64 `mapstructure:"decay_factor"`
	HitRateAlertThreshold float64 `mapstructure:"hit_rate_alert_threshold"`
	DeviationFraction     float64 `mapstructure:"deviation_fraction"`
	ImprobabilityMultiple float64 `mapstructure:"improbability_multiple"`
	MaxSlotDifference     int64   `mapstructure:"max_slot_difference"`
	Publisher             string  `mapstructure:"publisher"`
}

// IngestionConfig holds transport retry and pacing settings.
type IngestionConfig struct {
	SnapshotMaxElapsed time.Duration `mapstructure:"snapshot_max_elapsed"`
	FetchRetryDelay    time.Duration `mapstructure:"fetch_retry_delay"`
	SubscribeRate      float64       `mapstructure:"subscribe_rate"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// HTTPConfig holds the status server settings.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig holds optional store DSNs. Empty disables the store.
type StorageConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	ClickhouseDSN string `mapstructure:"clickhouse_dsn"`
}

// AlertsConfig holds alert delivery settings.
type AlertsConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// ArchiveConfig holds price archive settings.
type ArchiveConfig struct {
	FlushSchedule string `mapstructure:"flush_schedule"`
}

// Cluster describes a known Solana cluster.
type Cluster struct {
	RPCEndpoint string
	WSEndpoint  string
	ProgramID   string
}

// Clusters lists the clusters with a deployed oracle program.
var Clusters = map[string]Cluster{
	"mainnet-beta": {
		RPCEndpoint: "https://api.mainnet-beta.solana.com",
		WSEndpoint:  "wss://api.mainnet-beta.solana.com",
		ProgramID:   "FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH",
	},
	"devnet": {
		RPCEndpoint: "https://api.devnet.solana.com",
		WSEndpoint:  "wss://api.devnet.solana.com",
		ProgramID:   "gSbePebfvPy7tRqimPoVecS2UsBvYv46ynrzWocc92s",
	},
	"testnet": {
		RPCEndpoint: "https://api.testnet.solana.com",
		WSEndpoint:  "wss://api.testnet.solana.com",
		ProgramID:   "8tfDNiaEyrV6Q1U4DEXrEigs9DoDtkugzFbybENEbCDz",
	},
	"pythnet": {
		RPCEndpoint: "https://pythnet.rpcpool.com",
		WSEndpoint:  "wss://pythnet.rpcpool.com",
		ProgramID:   "FsJ3A3u2vn5cTVofAjvy6y5kwABJAqYWpe4975bi2epH",
	},
}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Load reads .env, then configPath (optional), then environment variables.
// v may carry flag bindings; nil uses a fresh instance.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyClusterDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("solana.cluster", "mainnet-beta")
	v.SetDefault("solana.rpc_endpoint", "")
	v.SetDefault("solana.ws_endpoint", "")
	v.SetDefault("solana.commitment", solana.CommitmentConfirmed)
	v.SetDefault("solana.program_id", "")

	v.SetDefault("validation.decay_factor", validation.DefaultDecayFactor)
	v.SetDefault("validation.hit_rate_alert_threshold", validation.DefaultHitRateAlertThreshold)
	v.SetDefault("validation.deviation_fraction", validation.DefaultDeviationFraction)
	v.SetDefault("validation.improbability_multiple", validation.DefaultImprobabilityMultiple)
	v.SetDefault("validation.max_slot_difference", validation.DefaultMaxSlotDifference)
	v.SetDefault("validation.publisher", "")

	v.SetDefault("ingestion.snapshot_max_elapsed", "5m")
	v.SetDefault("ingestion.fetch_retry_delay", "30s")
	v.SetDefault("ingestion.subscribe_rate", 20.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	v.SetDefault("http.addr", ":9090")

	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")

	v.SetDefault("alerts.webhook_url", "")

	v.SetDefault("archive.flush_schedule", "@every 1m")
}

// applyClusterDefaults fills endpoints and program id left empty from the
// cluster table.
func (c *Config) applyClusterDefaults() {
	cl, ok := Clusters[c.Solana.Cluster]
	if !ok {
		return
	}
	if c.Solana.RPCEndpoint == "" {
		c.Solana.RPCEndpoint = cl.RPCEndpoint
	}
	if c.Solana.WSEndpoint == "" {
		c.Solana.WSEndpoint = cl.WSEndpoint
	}
	if c.Solana.ProgramID == "" {
		c.Solana.ProgramID = cl.ProgramID
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.validateSolana(); err != nil {
		return fmt.Errorf("%w: solana: %v", ErrInvalid, err)
	}
	if _, err := c.ValidatorConfig(); err != nil {
		return fmt.Errorf("%w: validation: %v", ErrInvalid, err)
	}
	if c.Ingestion.FetchRetryDelay <= 0 {
		return fmt.Errorf("%w: ingestion: fetch_retry_delay must be positive", ErrInvalid)
	}
	if c.Ingestion.SubscribeRate < 0 {
		return fmt.Errorf("%w: ingestion: subscribe_rate must not be negative", ErrInvalid)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log: unknown format %q", ErrInvalid, c.Log.Format)
	}
	if c.Alerts.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Alerts.WebhookURL); err != nil {
			return fmt.Errorf("%w: alerts: webhook_url: %v", ErrInvalid, err)
		}
	}
	return nil
}

func (c *Config) validateSolana() error {
	if c.Solana.RPCEndpoint == "" {
		return fmt.Errorf("rpc_endpoint required for cluster %q", c.Solana.Cluster)
	}
	if c.Solana.WSEndpoint == "" {
		return fmt.Errorf("ws_endpoint required for cluster %q", c.Solana.Cluster)
	}
	if _, err := domain.ParsePublicKey(c.Solana.ProgramID); err != nil {
		return fmt.Errorf("program_id: %w", err)
	}
	switch c.Solana.Commitment {
	case solana.CommitmentProcessed, solana.CommitmentConfirmed, solana.CommitmentFinalized:
	default:
		return fmt.Errorf("unknown commitment %q", c.Solana.Commitment)
	}
	return nil
}

// Warnings returns settings that are accepted but likely mistaken.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Validation.Publisher != "" {
		if key, err := domain.ParsePublicKey(c.Validation.Publisher); err == nil && !key.IsOnCurve() {
			warnings = append(warnings, fmt.Sprintf(
				"publisher %s is not an ed25519 public key; publishers sign with wallet keys", key))
		}
	}
	if _, ok := Clusters[c.Solana.Cluster]; !ok {
		warnings = append(warnings, fmt.Sprintf("unknown cluster %q, using configured endpoints", c.Solana.Cluster))
	}
	return warnings
}

// ValidatorConfig converts the validation section.
func (c *Config) ValidatorConfig() (validation.Config, error) {
	vc := validation.Config{
		DecayFactor:           c.Validation.DecayFactor,
		HitRateAlertThreshold: c.Validation.HitRateAlertThreshold,
		DeviationFraction:     c.Validation.DeviationFraction,
		ImprobabilityMultiple: c.Validation.ImprobabilityMultiple,
		MaxSlotDifference:     c.Validation.MaxSlotDifference,
	}
	if c.Validation.Publisher != "" {
		key, err := domain.ParsePublicKey(c.Validation.Publisher)
		if err != nil {
			return vc, fmt.Errorf("publisher: %w", err)
		}
		vc.Publisher = &key
	}
	return vc, vc.Validate()
}

// TransportConfig converts the ingestion section.
func (c *Config) TransportConfig() ingestion.TransportConfig {
	tc := ingestion.DefaultTransportConfig(c.Solana.ProgramID)
	tc.SnapshotMaxElapsed = c.Ingestion.SnapshotMaxElapsed
	tc.FetchRetryDelay = c.Ingestion.FetchRetryDelay
	tc.RequestRate = c.Ingestion.SubscribeRate
	return tc
}

// LoggerConfig converts the log section.
func (c *Config) LoggerConfig() observability.LogConfig {
	lc := observability.DefaultLogConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	lc.File = c.Log.File
	return lc
}
