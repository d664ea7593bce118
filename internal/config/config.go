package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix         = "LOGINPATTERN"
	defaultConfigName = "loginpattern"
)

// ErrInvalid is returned by Validate for unusable settings.
var ErrInvalid = errors.New("invalid config")

// Config is the invocation surface of an analysis run.
type Config struct {
	WaitAfterClickMs      int       `mapstructure:"wait_after_click_ms"`
	ClickTimeoutMs        int       `mapstructure:"click_timeout_ms"`
	SavePathJSON          string    `mapstructure:"save_path_json"`
	SavePathYAML          string    `mapstructure:"save_path_yaml"`
	PromptVerbose         bool      `mapstructure:"prompt_verbose"`
	PlaceholderCredential string    `mapstructure:"placeholder_credential"`
	Headless              bool      `mapstructure:"headless"`
	LogLevel              string    `mapstructure:"log_level"`
	Pushgateway           string    `mapstructure:"pushgateway"`
	LLM                   LLMConfig `mapstructure:"llm"`
}

type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// Defaults returns the baseline configuration.
func Defaults() Config {
	return Config{
		WaitAfterClickMs:      2200,
		ClickTimeoutMs:        3000,
		SavePathJSON:          "./login_pattern.json",
		SavePathYAML:          "./login_pattern.yaml",
		PlaceholderCredential: "test@example.com",
		LogLevel:              "info",
		LLM:                   LLMConfig{Provider: "anthropic"},
	}
}

// WaitAfterClick is the settle duration after a triggered transition.
func (c Config) WaitAfterClick() time.Duration {
	return time.Duration(c.WaitAfterClickMs) * time.Millisecond
}

// ClickTimeout bounds the click action itself.
func (c Config) ClickTimeout() time.Duration {
	return time.Duration(c.ClickTimeoutMs) * time.Millisecond
}

func (c Config) Validate() error {
	if c.WaitAfterClickMs < 0 {
		return fmt.Errorf("%w: wait_after_click_ms must be >= 0, got %d", ErrInvalid, c.WaitAfterClickMs)
	}
	if c.ClickTimeoutMs < 0 {
		return fmt.Errorf("%w: click_timeout_ms must be >= 0, got %d", ErrInvalid, c.ClickTimeoutMs)
	}
	if strings.TrimSpace(c.SavePathJSON) == "" {
		return fmt.Errorf("%w: save_path_json is empty", ErrInvalid)
	}
	if strings.TrimSpace(c.SavePathYAML) == "" {
		return fmt.Errorf("%w: save_path_yaml is empty", ErrInvalid)
	}
	switch strings.ToLower(c.LLM.Provider) {
	case "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("%w: unknown llm provider %q (use anthropic, openai or gemini)", ErrInvalid, c.LLM.Provider)
	}
	return nil
}

// NewViper returns a viper instance seeded with defaults and bound to the
// LOGINPATTERN_* environment.
func NewViper() *viper.Viper {
	v := viper.New()
	d := Defaults()
	v.SetDefault("wait_after_click_ms", d.WaitAfterClickMs)
	v.SetDefault("click_timeout_ms", d.ClickTimeoutMs)
	v.SetDefault("save_path_json", d.SavePathJSON)
	v.SetDefault("save_path_yaml", d.SavePathYAML)
	v.SetDefault("prompt_verbose", d.PromptVerbose)
	v.SetDefault("placeholder_credential", d.PlaceholderCredential)
	v.SetDefault("headless", d.Headless)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("pushgateway", d.Pushgateway)
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and unmarshals the result. A
// missing default config file is not an error; a missing explicit one is.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(defaultConfigName)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.LLM.Model = strings.Trim(strings.TrimSpace(cfg.LLM.Model), "\"'")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
