package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/haukened/rr-adblock/internal/adblock/common/urlutil"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/infra/catalog"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log     LogConfig     `koanf:"log"`
	Cache   CacheConfig   `koanf:"cache"`
	Update  UpdateConfig  `koanf:"update"`
	HTTP    HTTPConfig    `koanf:"http"`
	Engine  EngineConfig  `koanf:"engine"`
	Bridge  BridgeConfig  `koanf:"bridge"`
	Metrics MetricsConfig `koanf:"metrics"`

	// Sources are the filter list URLs, used when SourcesFile is empty.
	Sources []string `koanf:"sources" validate:"required_without=SourcesFile,dive,http_url"`

	// SourcesFile is an optional YAML, JSON or TOML catalog of {id, url} entries.
	SourcesFile string `koanf:"sources_file"`
}

type LogConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

type CacheConfig struct {
	// Dir holds one cache file per filter source.
	Dir       string        `koanf:"dir" validate:"required"`
	Freshness time.Duration `koanf:"freshness" validate:"gt=0"`
}

type UpdateConfig struct {
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	Workers      int           `koanf:"workers" validate:"gte=1,lte=64"`
	DrainTimeout time.Duration `koanf:"drain_timeout" validate:"gte=0"`
}

type HTTPConfig struct {
	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	ReadTimeout    time.Duration `koanf:"read_timeout" validate:"gt=0"`
	UserAgent      string        `koanf:"user_agent"`
}

type EngineConfig struct {
	// DB is the bbolt file for host rules; empty keeps them in memory.
	DB        string  `koanf:"db"`
	CacheSize int     `koanf:"cache_size" validate:"gte=0"`
	FPRate    float64 `koanf:"fp_rate" validate:"gt=0,lt=1"`
	Builtin   bool    `koanf:"builtin"`
}

type BridgeConfig struct {
	// Addr is the websocket command bridge listen address; empty disables it.
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

type MetricsConfig struct {
	// Addr is the Prometheus listen address; empty disables metrics.
	Addr string `koanf:"addr" validate:"omitempty,hostname_port"`
}

// DEFAULT_APP_CONFIG defines the default application configuration.
var DEFAULT_APP_CONFIG = AppConfig{
	Env: "prod",
	Log: LogConfig{Level: "info"},
	Cache: CacheConfig{
		Dir:       "/var/cache/rr-adblock",
		Freshness: domain.DefaultFreshnessWindow,
	},
	Update: UpdateConfig{
		Timeout:      120 * time.Second,
		Workers:      4,
		DrainTimeout: 5 * time.Second,
	},
	HTTP: HTTPConfig{
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    60 * time.Second,
		UserAgent:      "rr-adblock/1.0",
	},
	Engine: EngineConfig{
		CacheSize: 10_000,
		FPRate:    0.01,
		Builtin:   true,
	},
	Bridge:  BridgeConfig{Addr: "127.0.0.1:8053"},
	Metrics: MetricsConfig{},
	Sources: domain.DefaultSourceURLs,
}

// envPrefix is stripped from every environment variable.
const envPrefix = "ADBLOCK_"

// envKeys maps environment variable names (without prefix) to config keys.
// Variables not listed are ignored.
var envKeys = map[string]string{
	"ENV":                  "env",
	"LOG_LEVEL":            "log.level",
	"CACHE_DIR":            "cache.dir",
	"CACHE_FRESHNESS":      "cache.freshness",
	"UPDATE_TIMEOUT":       "update.timeout",
	"UPDATE_WORKERS":       "update.workers",
	"UPDATE_DRAIN_TIMEOUT": "update.drain_timeout",
	"HTTP_CONNECT_TIMEOUT": "http.connect_timeout",
	"HTTP_READ_TIMEOUT":    "http.read_timeout",
	"HTTP_USER_AGENT":      "http.user_agent",
	"ENGINE_DB":            "engine.db",
	"ENGINE_CACHE_SIZE":    "engine.cache_size",
	"ENGINE_FP_RATE":       "engine.fp_rate",
	"ENGINE_BUILTIN":       "engine.builtin",
	"BRIDGE_ADDR":          "bridge.addr",
	"METRICS_ADDR":         "metrics.addr",
	"SOURCES":              "sources",
	"SOURCES_FILE":         "sources_file",
}

// listKeys are split on spaces and commas.
var listKeys = map[string]struct{}{"sources": {}}

// validHTTPURL reports whether the field is an absolute http or https URL.
func validHTTPURL(fl validator.FieldLevel) bool {
	return urlutil.IsHTTPURL(fl.Field().String())
}

// envLoader loads ADBLOCK_ environment variables through envKeys and can be
// mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			mapped, ok := envKeys[strings.TrimPrefix(key, envPrefix)]
			if !ok {
				return "", nil
			}
			value = strings.TrimSpace(value)
			if _, isList := listKeys[mapped]; isList {
				return mapped, strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
			}
			return mapped, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG through the structs provider.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the "http_url" tag.
var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("http_url", validHTTPURL)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}

// catalogLoader reads a source catalog and can be mocked in tests.
var catalogLoader = catalog.Load

// SourceSpecs returns the configured filter sources: the catalog in
// SourcesFile when set, otherwise Sources.
func (c *AppConfig) SourceSpecs() ([]domain.SourceSpec, error) {
	if c.SourcesFile != "" {
		specs, err := catalogLoader(c.SourcesFile)
		if err != nil {
			return nil, fmt.Errorf("error loading sources file: %w", err)
		}
		return specs, nil
	}
	return domain.SpecsFromURLs(c.Sources), nil
}
