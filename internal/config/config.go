// Package config loads process settings with viper: built-in defaults, then
// an optional YAML file, then PROCSYNC_* environment variables. Database
// settings keep their own DB_* variables (see db.FromEnv).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yourorg/procurement-sync/internal/fetch"
	"github.com/yourorg/procurement-sync/internal/pncp"
)

const EnvPrefix = "PROCSYNC"

type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	API      APIConfig      `mapstructure:"api"`
	Lock     LockConfig     `mapstructure:"lock"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Seed     SeedConfig     `mapstructure:"seed"`
	Sync     SyncConfig     `mapstructure:"sync"`

	Comprasnet PipelineConfig `mapstructure:"comprasnet"`
	PNCP       PNCPConfig     `mapstructure:"pncp"`
	Inlabs     InlabsConfig   `mapstructure:"inlabs"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type APIConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type LockConfig struct {
	// Backend is postgres or badger.
	Backend   string        `mapstructure:"backend"`
	TTL       time.Duration `mapstructure:"ttl"`
	BadgerDir string        `mapstructure:"badger_dir"`
}

type ArchiveConfig struct {
	// Prefix is s3://bucket/prefix or file:///dir. Empty disables archiving.
	Prefix string `mapstructure:"prefix"`
}

type SeedConfig struct {
	Dir string `mapstructure:"dir"`
}

// SyncConfig drives the scheduled runs.
type SyncConfig struct {
	UASGs          []string      `mapstructure:"uasgs"`
	ValidityWindow time.Duration `mapstructure:"validity_window"`
	HeartbeatEvery time.Duration `mapstructure:"heartbeat_every"`
	ContractsCron  string        `mapstructure:"contracts_cron"`
	PNCPCron       string        `mapstructure:"pncp_cron"`
	InlabsCron     string        `mapstructure:"inlabs_cron"`
}

// PipelineConfig holds the fetch settings of one upstream.
type PipelineConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BackoffStrategy string        `mapstructure:"backoff_strategy"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	BackoffMax      time.Duration `mapstructure:"backoff_max"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	Token           string        `mapstructure:"token"`
}

type PNCPConfig struct {
	PipelineConfig `mapstructure:",squash"`
	// DetailURL serves items and results; BaseURL serves the publication listing.
	DetailURL      string `mapstructure:"detail_url"`
	PageSize       int    `mapstructure:"page_size"`
	DetailPageSize int    `mapstructure:"detail_page_size"`
	MaxPages       int    `mapstructure:"max_pages"`
	BatchSize      int    `mapstructure:"batch_size"`
}

type InlabsConfig struct {
	PipelineConfig `mapstructure:",squash"`
	Session        string   `mapstructure:"session"`
	Sections       []string `mapstructure:"sections"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "procurement-sync")

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.allow_origins", []string{"*"})

	v.SetDefault("lock.backend", "postgres")
	v.SetDefault("lock.ttl", time.Hour)
	v.SetDefault("lock.badger_dir", "/var/lib/procsync/locks")

	v.SetDefault("archive.prefix", "")
	v.SetDefault("seed.dir", "./fixtures")

	v.SetDefault("sync.uasgs", []string{})
	v.SetDefault("sync.validity_window", 100*24*time.Hour)
	v.SetDefault("sync.heartbeat_every", 20*time.Second)
	v.SetDefault("sync.contracts_cron", "0 3 * * *")
	v.SetDefault("sync.pncp_cron", "0 5 * * *")
	v.SetDefault("sync.inlabs_cron", "0 9 * * 1-5")

	v.SetDefault("comprasnet.base_url", "https://contratos.comprasnet.gov.br")
	v.SetDefault("comprasnet.timeout", 60*time.Second)
	v.SetDefault("comprasnet.max_retries", 3)
	v.SetDefault("comprasnet.backoff_strategy", string(fetch.Fixed))
	v.SetDefault("comprasnet.backoff_base", 2*time.Second)
	v.SetDefault("comprasnet.max_concurrency", 4)

	v.SetDefault("pncp.base_url", "https://pncp.gov.br/api/consulta")
	v.SetDefault("pncp.detail_url", "https://pncp.gov.br/api/pncp")
	v.SetDefault("pncp.timeout", 60*time.Second)
	v.SetDefault("pncp.max_retries", 3)
	v.SetDefault("pncp.backoff_strategy", string(fetch.Exponential))
	v.SetDefault("pncp.backoff_base", time.Second)
	v.SetDefault("pncp.backoff_max", time.Minute)
	v.SetDefault("pncp.rate_limit", 5.0)
	v.SetDefault("pncp.rate_burst", 5)
	v.SetDefault("pncp.max_concurrency", 4)
	v.SetDefault("pncp.page_size", 50)
	v.SetDefault("pncp.detail_page_size", 500)
	v.SetDefault("pncp.max_pages", 0)
	v.SetDefault("pncp.batch_size", 200)

	v.SetDefault("inlabs.base_url", "https://inlabs.in.gov.br")
	v.SetDefault("inlabs.timeout", 2*time.Minute)
	v.SetDefault("inlabs.max_retries", 3)
	v.SetDefault("inlabs.backoff_strategy", string(fetch.Fixed))
	v.SetDefault("inlabs.backoff_base", 5*time.Second)
	v.SetDefault("inlabs.sections", []string{"DO1", "DO2", "DO3"})
	v.SetDefault("inlabs.session", "")

	// Keys need a default to be picked up from the environment.
	for _, p := range []string{"comprasnet", "pncp", "inlabs"} {
		for k, zero := range map[string]any{"backoff_max": time.Duration(0), "rate_limit": 0.0, "rate_burst": 0, "max_concurrency": 0, "token": ""} {
			if !v.IsSet(p + "." + k) {
				v.SetDefault(p+"."+k, zero)
			}
		}
	}
}

// Load reads the configuration. path may be empty; PROCSYNC_CONFIG then
// names the file, and without either only defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// AutomaticEnv does not split list values.
	cfg.Sync.UASGs = splitList(cfg.Sync.UASGs)
	cfg.Inlabs.Sections = splitList(cfg.Inlabs.Sections)
	cfg.API.AllowOrigins = splitList(cfg.API.AllowOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Lock.Backend {
	case "postgres", "badger":
	default:
		errs = append(errs, fmt.Errorf("invalid lock backend: %s, must be 'postgres' or 'badger'", c.Lock.Backend))
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl must be positive"))
	}
	if c.Sync.ValidityWindow <= 0 {
		errs = append(errs, errors.New("sync.validity_window must be positive"))
	}
	for name, p := range map[string]PipelineConfig{
		"comprasnet": c.Comprasnet,
		"pncp":       c.PNCP.PipelineConfig,
		"inlabs":     c.Inlabs.PipelineConfig,
	} {
		if p.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required", name))
		}
		if p.MaxRetries < 1 {
			errs = append(errs, fmt.Errorf("%s.max_retries must be at least 1", name))
		}
		switch fetch.Strategy(p.BackoffStrategy) {
		case fetch.Fixed, fetch.Exponential:
		default:
			errs = append(errs, fmt.Errorf("invalid %s.backoff_strategy: %s", name, p.BackoffStrategy))
		}
	}
	return errors.Join(errs...)
}

// Backoff converts the strategy settings.
func (p PipelineConfig) Backoff() fetch.Backoff {
	return fetch.Backoff{Strategy: fetch.Strategy(p.BackoffStrategy), Base: p.BackoffBase, Max: p.BackoffMax}
}

// Fetch builds the client config for the named pipeline.
func (p PipelineConfig) Fetch(pipeline string) fetch.Config {
	fc := fetch.Config{
		Pipeline:   pipeline,
		BaseURL:    p.BaseURL,
		Timeout:    p.Timeout,
		MaxRetries: p.MaxRetries,
		Backoff:    p.Backoff(),
		RateLimit:  p.RateLimit,
		RateBurst:  p.RateBurst,
		UserAgent:  "procurement-sync",
	}
	if p.Token != "" {
		fc.Headers = map[string]string{"Authorization": "Bearer " + p.Token}
	}
	return fc
}

// Stage returns the PNCP stage tuning.
func (p PNCPConfig) Stage() pncp.Config {
	return pncp.Config{
		PageSize:       p.PageSize,
		DetailPageSize: p.DetailPageSize,
		MaxConcurrency: p.MaxConcurrency,
		MaxPages:       p.MaxPages,
		BatchSize:      p.BatchSize,
	}
}

// Detail is the fetch config for item and result listings. Both PNCP
// clients share a limiter upstream; see app.Build.
func (p PNCPConfig) Detail() fetch.Config {
	fc := p.Fetch("pncp")
	fc.BaseURL = p.DetailURL
	return fc
}
