package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LLM       LLMConfig       `mapstructure:"llm" validate:"required"`
	Queue     QueueConfig     `mapstructure:"queue" validate:"required"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" validate:"required"`
	Notify    NotifyConfig    `mapstructure:"notify" validate:"required"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig selects the durable task store. URL is either a postgres://
// connection string or sqlite://<path>.
type DatabaseConfig struct {
	URL         string `mapstructure:"url" validate:"required,database_url"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
	MaxConns    int    `mapstructure:"max_conns" validate:"gte=1"`
}

// AuthConfig configures bearer-token protection of the task API. An empty
// secret leaves the API open.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	Provider           string `mapstructure:"provider" validate:"required,oneof=gemini openai"`
	GeminiAPIKey       string `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	OpenAIAPIKey       string `mapstructure:"openai_api_key"`
	OpenAIBaseURL      string `mapstructure:"openai_base_url" validate:"omitempty,url"`
	ModelName          string `mapstructure:"model_name" validate:"required"`
	PromptTemplatePath string `mapstructure:"prompt_template_path"`
	MaxRetries         int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds  int    `mapstructure:"retry_delay_seconds" validate:"gte=1,lte=60"`
}

// QueueConfig tunes the worker loop, its per-call deadlines and lease recovery.
type QueueConfig struct {
	WorkerCount       int           `mapstructure:"worker_count" validate:"gte=1"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ErrorBackoff      time.Duration `mapstructure:"error_backoff" validate:"gt=0"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout" validate:"gt=0"`
	RenderTimeout     time.Duration `mapstructure:"render_timeout" validate:"gt=0"`
	LeaseDuration     time.Duration `mapstructure:"lease_duration" validate:"gt=0"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"gte=1"`
}

// ArtifactsConfig locates rendered artifacts.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// NotifyConfig selects the notification driver, the sender identity and the
// outbox relay's retry policy.
type NotifyConfig struct {
	Driver            string        `mapstructure:"driver" validate:"required,oneof=log smtp nsq kafka"`
	FromAddress       string        `mapstructure:"from_address" validate:"required,email"`
	FromName          string        `mapstructure:"from_name"`
	ReplyTo           string        `mapstructure:"reply_to" validate:"omitempty,email"`
	SMTPHost          string        `mapstructure:"smtp_host" validate:"required_if=Driver smtp"`
	SMTPPort          int           `mapstructure:"smtp_port" validate:"gt=0,lt=65536"`
	SMTPUsername      string        `mapstructure:"smtp_username"`
	SMTPPassword      string        `mapstructure:"smtp_password"`
	NSQAddr           string        `mapstructure:"nsq_addr" validate:"required_if=Driver nsq"`
	NSQTopic          string        `mapstructure:"nsq_topic"`
	KafkaBrokers      []string      `mapstructure:"kafka_brokers" validate:"required_if=Driver kafka"`
	KafkaTopic        string        `mapstructure:"kafka_topic"`
	RelayPollInterval time.Duration `mapstructure:"relay_poll_interval" validate:"gt=0"`
	RelayBatchSize    int           `mapstructure:"relay_batch_size" validate:"gte=1"`
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseBackoff       time.Duration `mapstructure:"base_backoff" validate:"gt=0"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" validate:"gtefield=BaseBackoff"`
	SendTimeout       time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
}

// TelemetryConfig enables OTLP trace export when an endpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}
