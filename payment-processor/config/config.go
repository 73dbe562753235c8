package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/draftea/order-orchestrator/payment-processor/application"
	sharedinfra "github.com/draftea/order-orchestrator/shared/infrastructure"
	"github.com/draftea/order-orchestrator/shared/retry"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	ServiceName     string                      `mapstructure:"service_name"`
	Env             string                      `mapstructure:"env"`
	Port            string                      `mapstructure:"port"`
	LogLevel        string                      `mapstructure:"log_level"`
	ShutdownTimeout time.Duration               `mapstructure:"shutdown_timeout"`
	Processor       application.ProcessorConfig `mapstructure:"processor"`
	AWS             AWS                         `mapstructure:"aws"`
	Telemetry       Telemetry                   `mapstructure:"telemetry"`
}

type AWS struct {
	sharedinfra.AWSConfig `mapstructure:",squash"`
	SNSTopicArn           string `mapstructure:"sns_topic_arn"`
}

type Telemetry struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// ReadConfig loads <ENVIRONMENT>.json from this directory; PAYMENT_PROCESSOR_*
// environment variables override it.
func ReadConfig() (*Config, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return nil, errors.New("unable to get current file")
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "local"
	}

	return Load(viper.New(), filepath.Dir(filename), env)
}

// Load reads the named config from dir into a Config
func Load(v *viper.Viper, dir, name string) (*Config, error) {
	v.SetConfigName(name)
	v.SetConfigType("json")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("PAYMENT_PROCESSOR")
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

	if config.Processor.Delay < 0 {
		return nil, errors.Errorf("processor delay must not be negative, got %s", config.Processor.Delay)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	policy := retry.DefaultPolicy()

	v.SetDefault("service_name", "payment-processor")
	v.SetDefault("env", "local")
	v.SetDefault("port", "5108")
	v.SetDefault("log_level", "info")
	v.SetDefault("shutdown_timeout", "30s")

	v.SetDefault("processor.delay", "15s")
	v.SetDefault("processor.payment_succeeded", true)
	v.SetDefault("processor.publish_retry_policy.initial_interval", policy.InitialInterval.String())
	v.SetDefault("processor.publish_retry_policy.maximum_interval", policy.MaximumInterval.String())
	v.SetDefault("processor.publish_retry_policy.backoff_coefficient", policy.BackoffCoefficient)
	v.SetDefault("processor.publish_retry_policy.maximum_attempts", 5)

	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.sns_topic_arn", "arn:aws:sns:us-east-1:000000000000:payment-results")

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.otlp_endpoint", "")
}
