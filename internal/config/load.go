package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "EMPLAN"

// Load configuration from environment variables and optionally config files.
// A .env file in the working directory is loaded first without overriding
// variables already set. Environment variables take precedence over values
// from config.yaml. Returns a populated Config struct or an error if
// loading or validation fails.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the working directory for an optional config.yaml.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct-level rules and the constraints spanning sections.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.RegisterValidation("database_url", validateDatabaseURL); err != nil {
		return fmt.Errorf("failed to register database_url validator: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Leases must outlive the calls made under them.
	budget := cfg.Queue.GenerationTimeout + cfg.Queue.RenderTimeout
	if cfg.Queue.LeaseDuration <= budget {
		return fmt.Errorf(
			"config validation failed: queue.lease_duration (%s) must exceed generation_timeout + render_timeout (%s)",
			cfg.Queue.LeaseDuration,
			budget,
		)
	}

	if cfg.LLM.Provider == "openai" && cfg.LLM.OpenAIAPIKey == "" && cfg.LLM.OpenAIBaseURL == "" {
		return errors.New("config validation failed: llm.openai_api_key or llm.openai_base_url is required for the openai provider")
	}

	return nil
}

// validateDatabaseURL accepts sqlite://<path> and postgres:// or
// postgresql:// URLs naming a host.
func validateDatabaseURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if path, ok := strings.CutPrefix(raw, "sqlite://"); ok {
		return strings.TrimSpace(path) != ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "postgres" || u.Scheme == "postgresql") && u.Host != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.openai_base_url", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.prompt_template_path", "")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)

	v.SetDefault("queue.worker_count", 1)
	v.SetDefault("queue.poll_interval", 10*time.Second)
	v.SetDefault("queue.error_backoff", 30*time.Second)
	v.SetDefault("queue.generation_timeout", 5*time.Minute)
	v.SetDefault("queue.render_timeout", time.Minute)
	v.SetDefault("queue.lease_duration", 10*time.Minute)
	v.SetDefault("queue.sweep_interval", time.Minute)
	v.SetDefault("queue.max_attempts", 3)

	v.SetDefault("artifacts.dir", defaultArtifactsDir())

	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.from_address", "plans@example.com")
	v.SetDefault("notify.from_name", "Emergency Plan Generator")
	v.SetDefault("notify.reply_to", "")
	v.SetDefault("notify.smtp_host", "")
	v.SetDefault("notify.smtp_port", 587)
	v.SetDefault("notify.smtp_username", "")
	v.SetDefault("notify.smtp_password", "")
	v.SetDefault("notify.nsq_addr", "")
	v.SetDefault("notify.nsq_topic", "plan.notifications")
	v.SetDefault("notify.kafka_brokers", []string{})
	v.SetDefault("notify.kafka_topic", "plan.notifications")
	v.SetDefault("notify.relay_poll_interval", 5*time.Second)
	v.SetDefault("notify.relay_batch_size", 20)
	v.SetDefault("notify.max_attempts", 6)
	v.SetDefault("notify.base_backoff", 30*time.Second)
	v.SetDefault("notify.max_backoff", 10*time.Minute)
	v.SetDefault("notify.send_timeout", 30*time.Second)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "emplan-api")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

func defaultArtifactsDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/emplan/artifacts"
	}
	return "artifacts"
}
