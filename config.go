package promptbar

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	defaults "github.com/Paranoid-AF/promptbar/default"
)

// Config represents the user's promptbar configuration.
type Config struct {
	Version     int               `json:"version"`
	Generation  GenerationConfig  `json:"generation"`
	Embedding   EmbeddingConfig   `json:"embedding"`
	Toolbar     ToolbarConfig     `json:"toolbar"`
	Notify      NotifyConfig      `json:"notify"`
	Suggestions SuggestionsConfig `json:"suggestions"`
}

// GenerationConfig holds settings for the generation API.
type GenerationConfig struct {
	BaseURL            string  `json:"base_url"`
	APIKey             string  `json:"api_key"`
	Model              string  `json:"model"`
	MaxTokens          int     `json:"max_tokens,omitempty"`
	Temperature        float64 `json:"temperature,omitempty"`
	TimeoutSeconds     int     `json:"timeout_seconds,omitempty"`
	ProgressIntervalMS int     `json:"progress_interval_ms,omitempty"`
}

// EmbeddingConfig holds settings for the embedding API used by related-prompt search.
type EmbeddingConfig struct {
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	MaxRelated int    `json:"max_related,omitempty"`
}

// ToolbarConfig holds layout and timing settings for the toolbar.
type ToolbarConfig struct {
	MinWidth float64 `json:"min_width,omitempty"`
	TickMS   int     `json:"tick_ms,omitempty"`
}

// NotifyConfig holds transient notification settings.
type NotifyConfig struct {
	DurationMS int `json:"duration_ms,omitempty"`
}

// SuggestionsConfig holds the built-in prompt suggestions.
type SuggestionsConfig struct {
	Builtins []string `json:"builtins"`
}

// TickInterval returns the elapsed-time ticker period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Toolbar.TickMS) * time.Millisecond
}

// NotifyDuration returns how long transient notifications stay visible.
func (c *Config) NotifyDuration() time.Duration {
	return time.Duration(c.Notify.DurationMS) * time.Millisecond
}

// ConfigDir returns the config directory path.
// Resolution order: $PROMPTBAR_CONFIG_DIR > $XDG_CONFIG_HOME/promptbar > ~/.config/promptbar
func ConfigDir() string {
	if dir := os.Getenv("PROMPTBAR_CONFIG_DIR"); dir != "" {
		return dir
	}
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the directory holding the layout state file.
// Resolution order: $PROMPTBAR_STATE_DIR > $XDG_STATE_HOME/promptbar > ~/.local/state/promptbar
func StateDir() string {
	if dir := os.Getenv("PROMPTBAR_STATE_DIR"); dir != "" {
		return dir
	}
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// DataDir returns the directory saved interactions are written under.
// Resolution order: $PROMPTBAR_DATA_DIR > $XDG_DATA_HOME/promptbar > ~/.local/share/promptbar
func DataDir() string {
	if dir := os.Getenv("PROMPTBAR_DATA_DIR"); dir != "" {
		return dir
	}
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, fallback string) string {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, "promptbar")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "promptbar")
	}
	return filepath.Join(home, fallback, "promptbar")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// PromptPath returns the custom revise prompt path.
func PromptPath() string {
	return filepath.Join(ConfigDir(), "prompt.md")
}

// StatePath returns the layout key-value store path.
func StatePath() string {
	return filepath.Join(StateDir(), "state.toml")
}

// InteractionsDir returns the folder saved interactions are written to.
func InteractionsDir() string {
	return filepath.Join(DataDir(), "interactions")
}

// IndexCachePath returns the related-prompts embedding cache path.
func IndexCachePath() string {
	return filepath.Join(DataDir(), "embeddings.json")
}

// DefaultConfig returns the default configuration from the embedded default_config.json.
func DefaultConfig() *Config {
	var cfg Config
	if err := json.Unmarshal(defaults.DefaultConfigJSON, &cfg); err != nil {
		panic("promptbar: invalid embedded default_config.json: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from disk or returns defaults if not found.
func LoadConfig() (*Config, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = defaults.Generation.BaseURL
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = defaults.Generation.Model
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = defaults.Generation.MaxTokens
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = defaults.Generation.Temperature
	}
	if cfg.Generation.TimeoutSeconds == 0 {
		cfg.Generation.TimeoutSeconds = defaults.Generation.TimeoutSeconds
	}
	if cfg.Generation.ProgressIntervalMS == 0 {
		cfg.Generation.ProgressIntervalMS = defaults.Generation.ProgressIntervalMS
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}
	if cfg.Embedding.MaxRelated == 0 {
		cfg.Embedding.MaxRelated = defaults.Embedding.MaxRelated
	}
	if cfg.Toolbar.MinWidth == 0 {
		cfg.Toolbar.MinWidth = defaults.Toolbar.MinWidth
	}
	if cfg.Toolbar.TickMS == 0 {
		cfg.Toolbar.TickMS = defaults.Toolbar.TickMS
	}
	if cfg.Notify.DurationMS == 0 {
		cfg.Notify.DurationMS = defaults.Notify.DurationMS
	}
	if cfg.Suggestions.Builtins == nil {
		cfg.Suggestions.Builtins = defaults.Suggestions.Builtins
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if ResolveGenerationAPIKey(cfg) == "" {
		warnings = append(warnings, "generation API key is not configured; prompts will fail until PROMPTBAR_GENERATION_API_KEY or generation.api_key is set")
	}
	if cfg.Embedding.APIKey != "" && ResolveEmbeddingBaseURL(cfg) == "" {
		warnings = append(warnings, "embedding api_key is set but base_url is empty; related prompts are disabled")
	}
	if cfg.Toolbar.TickMS < 0 {
		warnings = append(warnings, "toolbar.tick_ms is negative; the default period is used instead")
	}
	return warnings
}

// envOr returns $PROMPTBAR_<name> when it is set and the field picked
// from cfg otherwise. A nil cfg contributes nothing.
func envOr(name string, cfg *Config, field func(*Config) string) string {
	if v := os.Getenv("PROMPTBAR_" + name); v != "" {
		return v
	}
	if cfg == nil {
		return ""
	}
	return field(cfg)
}

// The Resolve functions apply environment overrides to the API settings.
// Each variable is named PROMPTBAR_<SECTION>_<SETTING>, for example
// PROMPTBAR_GENERATION_API_KEY.

func ResolveGenerationBaseURL(cfg *Config) string {
	return envOr("GENERATION_API_BASE_URL", cfg, func(c *Config) string { return c.Generation.BaseURL })
}

func ResolveGenerationAPIKey(cfg *Config) string {
	return envOr("GENERATION_API_KEY", cfg, func(c *Config) string { return c.Generation.APIKey })
}

func ResolveGenerationModel(cfg *Config) string {
	return envOr("GENERATION_MODEL", cfg, func(c *Config) string { return c.Generation.Model })
}

func ResolveEmbeddingBaseURL(cfg *Config) string {
	return envOr("EMBEDDING_API_BASE_URL", cfg, func(c *Config) string { return c.Embedding.BaseURL })
}

func ResolveEmbeddingAPIKey(cfg *Config) string {
	return envOr("EMBEDDING_API_KEY", cfg, func(c *Config) string { return c.Embedding.APIKey })
}

func ResolveEmbeddingModel(cfg *Config) string {
	return envOr("EMBEDDING_MODEL", cfg, func(c *Config) string { return c.Embedding.Model })
}

// EmbeddingEnabled returns true when both base_url and api_key are configured for embedding.
func EmbeddingEnabled(cfg *Config) bool {
	if cfg == nil {
		return false
	}
	return ResolveEmbeddingBaseURL(cfg) != "" && ResolveEmbeddingAPIKey(cfg) != ""
}
