// Package config loads service configuration from an optional YAML file
// with environment-variable overrides. Environment wins over file wins
// over defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP    HTTP    `yaml:"http"`
	Log     Log     `yaml:"log"`
	Store   Store   `yaml:"store"`
	Bus     Bus     `yaml:"bus"`
	Policy  Policy  `yaml:"policy"`
	Extract Extract `yaml:"extract"`
	LLM     LLM     `yaml:"llm"`
	Worker  Worker  `yaml:"worker"`
}

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type Store struct {
	// Driver is "memory" or "postgres".
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type Bus struct {
	// Driver is "memory" or "jetstream".
	Driver     string `yaml:"driver"`
	NATSURL    string `yaml:"nats_url"`
	Stream     string `yaml:"stream"`
	MaxDeliver int    `yaml:"max_deliver"`
}

type Policy struct {
	MinExtractionConfidence float64 `yaml:"min_extraction_confidence"`
	DuplicateWindowDays     int     `yaml:"duplicate_window_days"`
	AutoApprovalCeiling     float64 `yaml:"auto_approval_ceiling"`
	// ApproverRoutes maps department ID to approver for the rule-based
	// advisor; the empty key is the fallback.
	ApproverRoutes map[string]string `yaml:"approver_routes"`
	// ApproverCandidates is the list offered to the LLM advisor.
	ApproverCandidates []string `yaml:"approver_candidates"`
}

type Extract struct {
	// BaseURL of the document-analysis service; empty selects the static
	// extractor for dev and tests.
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type LLM struct {
	// BaseURL of an OpenAI-compatible endpoint; empty disables the LLM
	// advisor in favor of the rule-based one.
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type Worker struct {
	PullWait      time.Duration `yaml:"pull_wait"`
	PolicyTimeout time.Duration `yaml:"policy_timeout"`
	CommitRetries uint64        `yaml:"commit_retries"`
}

func defaults() Config {
	return Config{
		HTTP: HTTP{Addr: ":8080"},
		Log:  Log{Level: "info"},
		Store: Store{
			Driver: "memory",
		},
		Bus: Bus{
			Driver:     "memory",
			NATSURL:    "nats://localhost:4222",
			Stream:     "INVOICES",
			MaxDeliver: 5,
		},
		Policy: Policy{
			MinExtractionConfidence: 0.70,
			DuplicateWindowDays:     90,
			AutoApprovalCeiling:     5000,
		},
		Worker: Worker{
			PullWait:      2 * time.Second,
			PolicyTimeout: 30 * time.Second,
			CommitRetries: 3,
		},
	}
}

// Load reads path (when non-empty) and applies AP_* environment
// overrides on top.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Bus.Driver {
	case "memory", "jetstream":
	default:
		return fmt.Errorf("config: unknown bus driver %q", c.Bus.Driver)
	}
	return nil
}

func applyEnv(cfg *Config) {
	envStr("AP_HTTP_ADDR", &cfg.HTTP.Addr)
	envStr("AP_LOG_LEVEL", &cfg.Log.Level)
	envBool("AP_LOG_PRETTY", &cfg.Log.Pretty)
	envStr("AP_STORE_DRIVER", &cfg.Store.Driver)
	envStr("AP_POSTGRES_DSN", &cfg.Store.PostgresDSN)
	envStr("AP_BUS_DRIVER", &cfg.Bus.Driver)
	envStr("AP_NATS_URL", &cfg.Bus.NATSURL)
	envStr("AP_NATS_STREAM", &cfg.Bus.Stream)
	envInt("AP_BUS_MAX_DELIVER", &cfg.Bus.MaxDeliver)
	envFloat("AP_MIN_EXTRACTION_CONFIDENCE", &cfg.Policy.MinExtractionConfidence)
	envInt("AP_DUPLICATE_WINDOW_DAYS", &cfg.Policy.DuplicateWindowDays)
	envFloat("AP_AUTO_APPROVAL_CEILING", &cfg.Policy.AutoApprovalCeiling)
	envStr("AP_EXTRACT_BASE_URL", &cfg.Extract.BaseURL)
	envStr("AP_EXTRACT_API_KEY", &cfg.Extract.APIKey)
	envStr("AP_LLM_BASE_URL", &cfg.LLM.BaseURL)
	envStr("AP_LLM_MODEL", &cfg.LLM.Model)
	envStr("AP_LLM_API_KEY", &cfg.LLM.APIKey)
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
