package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/genroute/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig                `yaml:"store" mapstructure:"store"`
	Log        LogConfig                  `yaml:"log" mapstructure:"log"`
	Server     ServerConfig               `yaml:"server" mapstructure:"server"`
	Providers  []model.ProviderDescriptor `yaml:"providers" mapstructure:"providers"`
	Cascade    CascadeConfig              `yaml:"cascade" mapstructure:"cascade"`
	Refusal    RefusalConfig              `yaml:"refusal" mapstructure:"refusal"`
	Fallback   FallbackConfig             `yaml:"fallback" mapstructure:"fallback"`
	Search     SearchConfig               `yaml:"search" mapstructure:"search"`
	Jina       JinaConfig                 `yaml:"jina" mapstructure:"jina"`
	Curation   CurationConfig             `yaml:"curation" mapstructure:"curation"`
	Notion     NotionConfig               `yaml:"notion" mapstructure:"notion"`
	Monitoring MonitoringConfig           `yaml:"monitoring" mapstructure:"monitoring"`
	Retry      RetryConfig                `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig              `yaml:"circuit" mapstructure:"circuit"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// CascadeConfig configures the provider cascade.
type CascadeConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RefusalConfig configures the refusal classifier.
type RefusalConfig struct {
	Threshold     float64 `yaml:"threshold" mapstructure:"threshold"`
	HighThreshold float64 `yaml:"high_threshold" mapstructure:"high_threshold"`
	PatternsFile  string  `yaml:"patterns_file" mapstructure:"patterns_file"`
}

// FallbackConfig configures the refusal fallback flow.
type FallbackConfig struct {
	EscalationTemperature float64  `yaml:"escalation_temperature" mapstructure:"escalation_temperature"`
	CurateTop             int      `yaml:"curate_top" mapstructure:"curate_top"`
	CurationTags          []string `yaml:"curation_tags" mapstructure:"curation_tags"`
	DegradedAnswer        string   `yaml:"degraded_answer" mapstructure:"degraded_answer"`
	NoInfoAnswer          string   `yaml:"no_info_answer" mapstructure:"no_info_answer"`
	SummaryIntro          string   `yaml:"summary_intro" mapstructure:"summary_intro"`
	GroundingPrompt       string   `yaml:"grounding_prompt" mapstructure:"grounding_prompt"`
	VisionPrompt          string   `yaml:"vision_prompt" mapstructure:"vision_prompt"`
	VisionMaxTokens       int      `yaml:"vision_max_tokens" mapstructure:"vision_max_tokens"`
	LogRequests           bool     `yaml:"log_requests" mapstructure:"log_requests"`
}

// SearchConfig configures the web search adapter.
type SearchConfig struct {
	MaxResults   int    `yaml:"max_results" mapstructure:"max_results"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Site         string `yaml:"site" mapstructure:"site"`
	SnippetChars int    `yaml:"snippet_chars" mapstructure:"snippet_chars"`
	Enrich       bool   `yaml:"enrich" mapstructure:"enrich"`
	EnrichPages  int    `yaml:"enrich_pages" mapstructure:"enrich_pages"`
}

// JinaConfig holds Jina AI API settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// CurationConfig selects where web results go for review.
type CurationConfig struct {
	Target      string `yaml:"target" mapstructure:"target"` // none, notion or webhook
	WebhookURL  string `yaml:"webhook_url" mapstructure:"webhook_url"`
	DeadLetters bool   `yaml:"dead_letters" mapstructure:"dead_letters"`
}

// NotionConfig holds Notion API credentials and the curation database ID.
type NotionConfig struct {
	Token      string  `yaml:"token" mapstructure:"token"`
	CurationDB string  `yaml:"curation_db" mapstructure:"curation_db"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MonitoringConfig configures the health checker and alerting.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MinRequests            int     `yaml:"min_requests" mapstructure:"min_requests"`
	RefusalRateThreshold   float64 `yaml:"refusal_rate_threshold" mapstructure:"refusal_rate_threshold"`
	ExhaustedRateThreshold float64 `yaml:"exhausted_rate_threshold" mapstructure:"exhausted_rate_threshold"`
	QuotaWarnRatio         float64 `yaml:"quota_warn_ratio" mapstructure:"quota_warn_ratio"`
	DLQThreshold           int     `yaml:"dlq_threshold" mapstructure:"dlq_threshold"`
}

// RetryConfig configures in-adapter retries for provider calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Curation targets.
const (
	CurationNone    = "none"
	CurationNotion  = "notion"
	CurationWebhook = "webhook"
)

// DefaultProviders is the cascade used when the config file lists none.
// Keys are read from the named environment variables.
func DefaultProviders() []model.ProviderDescriptor {
	return []model.ProviderDescriptor{
		{
			ID: "groq", Kind: model.ProviderKindOpenAI, Modality: model.ModalityText, Rank: 1,
			DailyLimit: 1000, Model: "llama-3.3-70b-versatile",
			BaseURL: "https://api.groq.com/openai/v1", APIKeyEnv: "GROQ_API_KEY",
		},
		{
			ID: "openrouter", Kind: model.ProviderKindOpenAI, Modality: model.ModalityText, Rank: 2,
			DailyLimit: 200, Model: "meta-llama/llama-3.3-70b-instruct:free",
			BaseURL: "https://openrouter.ai/api/v1", APIKeyEnv: "OPENROUTER_API_KEY",
		},
		{
			ID: "perplexity", Kind: model.ProviderKindPerplexity, Modality: model.ModalityText, Rank: 3,
			DailyLimit: 100, Model: "sonar", APIKeyEnv: "PERPLEXITY_API_KEY",
		},
		{
			ID: "anthropic", Kind: model.ProviderKindAnthropic, Modality: model.ModalityText, Rank: 4,
			DailyLimit: 100, Model: "claude-haiku-4-5-20251001", APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		{
			ID: "anthropic-vision", Kind: model.ProviderKindAnthropic, Modality: model.ModalityVision, Rank: 1,
			DailyLimit: 50, Model: "claude-haiku-4-5-20251001", APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		{
			ID: "openai-vision", Kind: model.ProviderKindOpenAI, Modality: model.ModalityVision, Rank: 2,
			DailyLimit: 50, Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY",
		},
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GENROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "genroute.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 90)
	v.SetDefault("cascade.timeout_secs", 15)
	v.SetDefault("refusal.threshold", 0.5)
	v.SetDefault("refusal.high_threshold", 0.8)
	v.SetDefault("fallback.escalation_temperature", 0.3)
	v.SetDefault("fallback.curate_top", 3)
	v.SetDefault("fallback.curation_tags", []string{"web_search", "refusal_escalation"})
	v.SetDefault("fallback.log_requests", true)
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.timeout_secs", 10)
	v.SetDefault("search.snippet_chars", 500)
	v.SetDefault("search.enrich_pages", 3)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("curation.target", CurationNone)
	v.SetDefault("curation.dead_letters", true)
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.min_requests", 20)
	v.SetDefault("monitoring.refusal_rate_threshold", 0.3)
	v.SetDefault("monitoring.exhausted_rate_threshold", 0.1)
	v.SetDefault("monitoring.quota_warn_ratio", 0.9)
	v.SetDefault("monitoring.dlq_threshold", 10)
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.initial_backoff_ms", 250)
	v.SetDefault("retry.max_backoff_ms", 2000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}
	cfg.ResolveProviderKeys()

	return &cfg, nil
}

// ResolveProviderKeys fills empty inline API keys from each provider's
// api_key_env variable.
func (c *Config) ResolveProviderKeys() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
	}
}

// Validate checks the settings a command mode depends on. Known modes are
// serve, generate, monitor and migrate.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	switch mode {
	case "serve", "generate":
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.validateProviders()...)
		errs = append(errs, c.validateRefusal()...)
		errs = append(errs, c.validateCuration()...)
		if c.Fallback.EscalationTemperature < 0 || c.Fallback.EscalationTemperature > 2 {
			errs = append(errs, "fallback.escalation_temperature must be between 0 and 2")
		}
	case "monitor":
		m := c.Monitoring
		if m.CheckIntervalSecs <= 0 {
			errs = append(errs, "monitoring.check_interval_secs must be > 0")
		}
		for name, v := range map[string]float64{
			"refusal_rate_threshold":   m.RefusalRateThreshold,
			"exhausted_rate_threshold": m.ExhaustedRateThreshold,
			"quota_warn_ratio":         m.QuotaWarnRatio,
		} {
			if v < 0 || v > 1 {
				errs = append(errs, fmt.Sprintf("monitoring.%s must be between 0 and 1", name))
			}
		}
	case "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProviders() []string {
	if len(c.Providers) == 0 {
		return []string{"providers must list at least one provider"}
	}
	var errs []string
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("providers[%d].id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Sprintf("providers[%d].id %q is duplicated", i, p.ID))
		}
		seen[p.ID] = true
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model is required", p.ID))
		}
		if p.Modality != "" && !p.Modality.Valid() {
			errs = append(errs, fmt.Sprintf("providers.%s.modality %q is unknown", p.ID, p.Modality))
		}
	}
	return errs
}

func (c *Config) validateRefusal() []string {
	r := c.Refusal
	var errs []string
	if r.Threshold <= 0 || r.Threshold > 1 {
		errs = append(errs, "refusal.threshold must be in (0, 1]")
	}
	if r.HighThreshold < r.Threshold || r.HighThreshold > 1 {
		errs = append(errs, "refusal.high_threshold must be between threshold and 1")
	}
	return errs
}

func (c *Config) validateCuration() []string {
	switch c.Curation.Target {
	case "", CurationNone:
		return nil
	case CurationNotion:
		var errs []string
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required for notion curation")
		}
		if c.Notion.CurationDB == "" {
			errs = append(errs, "notion.curation_db is required for notion curation")
		}
		return errs
	case CurationWebhook:
		if c.Curation.WebhookURL == "" {
			return []string{"curation.webhook_url is required for webhook curation"}
		}
		return nil
	default:
		return []string{fmt.Sprintf("curation.target must be none, notion or webhook, got %q", c.Curation.Target)}
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
