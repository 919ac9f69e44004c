package model

import "time"

// Modality identifies what kind of generation a provider serves.
type Modality string

const (
	ModalityText   Modality = "text"
	ModalityVision Modality = "vision" // image description
)

// Valid reports whether m is a known modality.
func (m Modality) Valid() bool {
	return m == ModalityText || m == ModalityVision
}

// ProviderKind selects the client implementation behind a provider.
type ProviderKind string

const (
	ProviderKindAnthropic  ProviderKind = "anthropic"
	ProviderKindOpenAI     ProviderKind = "openai" // any OpenAI-compatible endpoint, incl. self-hosted GPU workers
	ProviderKindPerplexity ProviderKind = "perplexity"
)

// ProviderDescriptor is the static configuration of one provider in the cascade.
// Descriptors are loaded at startup and never mutated.
type ProviderDescriptor struct {
	ID          string       `json:"id" yaml:"id" mapstructure:"id"`
	Kind        ProviderKind `json:"kind" yaml:"kind" mapstructure:"kind"`
	Modality    Modality     `json:"modality" yaml:"modality" mapstructure:"modality"`
	Rank        int          `json:"rank" yaml:"rank" mapstructure:"rank"`
	DailyLimit  int          `json:"daily_limit" yaml:"daily_limit" mapstructure:"daily_limit"` // <= 0 means uncapped
	Model       string       `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL     string       `json:"base_url,omitempty" yaml:"base_url" mapstructure:"base_url"`
	APIKey      string       `json:"-" yaml:"api_key" mapstructure:"api_key"`
	APIKeyEnv   string       `json:"-" yaml:"api_key_env" mapstructure:"api_key_env"`
	TimeoutSecs int          `json:"timeout_secs,omitempty" yaml:"timeout_secs" mapstructure:"timeout_secs"`
	// Keyless marks a self-hosted endpoint that needs no API key; its base
	// URL is its credential.
	Keyless bool `json:"keyless,omitempty" yaml:"keyless" mapstructure:"keyless"`
}

// Uncapped reports whether the provider has no daily call budget.
func (d ProviderDescriptor) Uncapped() bool {
	return d.DailyLimit <= 0
}

// Credentialed reports whether the provider can be called at all.
func (d ProviderDescriptor) Credentialed() bool {
	return d.APIKey != "" || (d.Keyless && d.BaseURL != "")
}

// Timeout returns the per-call timeout, or def when unset.
func (d ProviderDescriptor) Timeout(def time.Duration) time.Duration {
	if d.TimeoutSecs > 0 {
		return time.Duration(d.TimeoutSecs) * time.Second
	}
	return def
}
