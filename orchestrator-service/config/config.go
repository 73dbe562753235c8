package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/draftea/order-orchestrator/orchestrator-service/application"
	"github.com/draftea/order-orchestrator/orchestrator-service/infrastructure"
	sharedinfra "github.com/draftea/order-orchestrator/shared/infrastructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	ServiceName     string        `mapstructure:"service_name"`
	Env             string        `mapstructure:"env"`
	Port            string        `mapstructure:"port"`
	LogLevel        string        `mapstructure:"log_level"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Storage     Storage                  `mapstructure:"storage"`
	Database    Database                 `mapstructure:"database"`
	Redis       Redis                    `mapstructure:"redis"`
	Idempotency Idempotency              `mapstructure:"idempotency"`
	AWS         AWS                      `mapstructure:"aws"`
	Telemetry   Telemetry                `mapstructure:"telemetry"`
	Engine      application.EngineConfig `mapstructure:"engine"`
	Runner      application.RunnerConfig `mapstructure:"runner"`
	Services    Services                 `mapstructure:"services"`
}

// Storage selects the workflow repository and idempotency store backends
type Storage struct {
	Workflows   string `mapstructure:"workflows"`
	Idempotency string `mapstructure:"idempotency"`
}

type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	URL      string `mapstructure:"url"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Idempotency struct {
	Lease       time.Duration `mapstructure:"lease"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	// Retention is how long completed records are kept by the Redis store.
	Retention time.Duration `mapstructure:"retention"`
}

type AWS struct {
	sharedinfra.AWSConfig `mapstructure:",squash"`
	SNSTopicArn           string `mapstructure:"sns_topic_arn"`
	SQSQueueURL           string `mapstructure:"sqs_queue_url"`
	SubscriberWorkers     int32  `mapstructure:"subscriber_workers"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Services holds the collaborator endpoints the workflow calls
type Services struct {
	Ordering infrastructure.HTTPClientConfig `mapstructure:"ordering"`
	Catalog  infrastructure.HTTPClientConfig `mapstructure:"catalog"`
	Payment  infrastructure.HTTPClientConfig `mapstructure:"payment"`
}

// ReadConfig loads <ENVIRONMENT>.json from this directory; ORCHESTRATOR_*
// environment variables override it.
func ReadConfig() (*Config, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return nil, errors.New("unable to get current file")
	}

	return Load(viper.New(), filepath.Dir(filename), getConfigName())
}

// Load reads the named config from dir into a Config
func Load(v *viper.Viper, dir, name string) (*Config, error) {
	v.SetConfigName(name)
	v.SetConfigType("json")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "error unmarshaling config")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects unknown backends and unusable retry policies
func (c *Config) Validate() error {
	switch c.Storage.Workflows {
	case BackendMemory, BackendPostgres:
	default:
		return errors.Errorf("unknown workflow storage %q", c.Storage.Workflows)
	}

	switch c.Storage.Idempotency {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return errors.Errorf("unknown idempotency storage %q", c.Storage.Idempotency)
	}

	if err := c.Engine.RetryPolicy.Validate(); err != nil {
		return errors.Wrap(err, "invalid engine retry policy")
	}

	return nil
}

func getConfigName() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		return "local"
	}
	return env
}

func setDefaults(v *viper.Viper) {
	engine := application.DefaultEngineConfig()
	runner := application.DefaultRunnerConfig()

	// Service defaults
	v.SetDefault("service_name", "order-orchestrator")
	v.SetDefault("env", "local")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("request_timeout", "60s")
	v.SetDefault("shutdown_timeout", "30s")

	// Storage defaults
	v.SetDefault("storage.workflows", BackendPostgres)
	v.SetDefault("storage.idempotency", BackendPostgres)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "order_orchestrator")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.url", "")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Idempotency defaults
	v.SetDefault("idempotency.lease", "5m")
	v.SetDefault("idempotency.wait_timeout", "30s")
	v.SetDefault("idempotency.retention", "168h")

	// AWS defaults
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.sns_topic_arn", "arn:aws:sns:us-east-1:000000000000:order-events")
	v.SetDefault("aws.sqs_queue_url", "http://localhost:4566/000000000000/payment-results")
	v.SetDefault("aws.subscriber_workers", 4)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.otlp_endpoint", "")

	// Engine defaults
	v.SetDefault("engine.grace_period", engine.GracePeriod.String())
	v.SetDefault("engine.payment_timeout", "0s")
	v.SetDefault("engine.retry_policy.initial_interval", engine.RetryPolicy.InitialInterval.String())
	v.SetDefault("engine.retry_policy.maximum_interval", engine.RetryPolicy.MaximumInterval.String())
	v.SetDefault("engine.retry_policy.backoff_coefficient", engine.RetryPolicy.BackoffCoefficient)
	v.SetDefault("engine.retry_policy.maximum_attempts", engine.RetryPolicy.MaximumAttempts)
	v.SetDefault("engine.retry_policy.non_retryable_error_kinds", engine.RetryPolicy.NonRetryableErrorKinds)

	// Runner defaults
	v.SetDefault("runner.workers", runner.Workers)
	v.SetDefault("runner.poll_interval", runner.PollInterval.String())
	v.SetDefault("runner.batch_size", runner.BatchSize)

	// Collaborator defaults
	for service, port := range map[string]int{"ordering": 5102, "catalog": 5101, "payment": 5108} {
		v.SetDefault("services."+service+".base_url", fmt.Sprintf("http://localhost:%d", port))
		v.SetDefault("services."+service+".api_version", "1.0")
		v.SetDefault("services."+service+".timeout", "10s")
	}
}

// GetDatabaseURL constructs database URL from config
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}
