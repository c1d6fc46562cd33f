// Package config builds the trainer configuration from flags, environment and config files.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. TRAINER_DB.
const EnvPrefix = "TRAINER"

// legacyEnv maps keys to the environment names older deployments used.
var legacyEnv = map[string]string{
	"db":          "DB_PATH",
	"llm-enabled": "USE_LLM",
	"llm-model":   "OLLAMA_MODEL",
	"recs-k":      "RECS_K",
}

// Config is built once at startup and handed to every component.
type Config struct {
	Addr          string   `validate:"required"`
	DB            string   `validate:"required"`
	Questions     []string `validate:"dive,required"`
	RecsK         int      `validate:"gte=1,lte=100"`
	Threshold     float64  `validate:"gte=0,lte=1"`
	Lang          string   `validate:"required,bcp47_language_tag"`
	LLMEnabled    bool
	LLMURL        string `validate:"required_if=LLMEnabled true,omitempty,url"`
	LLMKey        string
	LLMModel      string        `validate:"required_if=LLMEnabled true"`
	LLMTimeout    time.Duration `validate:"gt=0"`
	PromptVariant string        `validate:"oneof=strict standard lenient"`
	LogLevel      string        `validate:"oneof=debug info warn error"`
	LogFormat     string        `validate:"oneof=text json"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8000")
	v.SetDefault("db", "trainer.db")
	v.SetDefault("questions", []string{})
	v.SetDefault("recs-k", 5)
	v.SetDefault("threshold", 0.6)
	v.SetDefault("lang", "en")
	v.SetDefault("llm-enabled", false)
	v.SetDefault("llm-url", "http://localhost:11434/v1")
	v.SetDefault("llm-key", "ollama")
	v.SetDefault("llm-model", "llama3.1:8b")
	v.SetDefault("llm-timeout", 20*time.Second)
	v.SetDefault("prompt-variant", "standard")
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
}

// BindEnv enables TRAINER_* variables and the legacy aliases.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		_ = v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, "-", "_")), legacy)
	}
}

// ReadFile loads trainer.{yaml,toml,json} from the usual locations if present.
func ReadFile(v *viper.Viper) {
	v.SetConfigName("trainer")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/trainer")
	v.AddConfigPath("/etc/trainer")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
		return
	}
	slog.Info("loaded config file", "path", v.ConfigFileUsed())
}

// Load reads every key from v and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Addr:          v.GetString("addr"),
		DB:            v.GetString("db"),
		Questions:     v.GetStringSlice("questions"),
		RecsK:         v.GetInt("recs-k"),
		Threshold:     v.GetFloat64("threshold"),
		Lang:          strings.ToLower(strings.TrimSpace(v.GetString("lang"))),
		LLMEnabled:    v.GetBool("llm-enabled"),
		LLMURL:        strings.TrimSpace(v.GetString("llm-url")),
		LLMKey:        v.GetString("llm-key"),
		LLMModel:      strings.TrimSpace(v.GetString("llm-model")),
		LLMTimeout:    v.GetDuration("llm-timeout"),
		PromptVariant: strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant"))),
		LogLevel:      strings.ToLower(v.GetString("log-level")),
		LogFormat:     strings.ToLower(v.GetString("log-format")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// GraderModel is the name reported by /health and the attempts metric.
func (c Config) GraderModel() string {
	if c.LLMEnabled {
		return c.LLMModel
	}
	return "baseline"
}

// LogValue keeps the API key out of logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Addr),
		slog.String("db", c.DB),
		slog.Any("questions", c.Questions),
		slog.Int("recs_k", c.RecsK),
		slog.Float64("threshold", c.Threshold),
		slog.String("lang", c.Lang),
		slog.Bool("llm_enabled", c.LLMEnabled),
		slog.String("llm_url", c.LLMURL),
		slog.String("llm_model", c.LLMModel),
		slog.Duration("llm_timeout", c.LLMTimeout),
		slog.String("prompt_variant", c.PromptVariant),
	)
}
