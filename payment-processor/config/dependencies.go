package config

import (
	"context"
	"log/slog"
	"os"

	"github.com/draftea/order-orchestrator/payment-processor/application"
	"github.com/draftea/order-orchestrator/payment-processor/handlers"
	sharedinfra "github.com/draftea/order-orchestrator/shared/infrastructure"
	"github.com/draftea/order-orchestrator/shared/retry"
	"github.com/draftea/order-orchestrator/shared/telemetry"
)

type Dependencies struct {
	Logger *slog.Logger

	// Use Cases
	ProcessPayment *application.ProcessPayment

	// HTTP Handlers
	PaymentHandlers *handlers.PaymentHandlers

	// Infrastructure
	EventPublisher *sharedinfra.SNSEventPublisher

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: telemetry.NewLogger(os.Stdout, config.ServiceName, config.LogLevel),
	}
	slog.SetDefault(deps.Logger)

	if config.Telemetry.Enabled {
		telConfig := telemetry.PaymentProcessorConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, shutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			// Continue without telemetry rather than failing
			deps.Logger.Warn("failed to initialize telemetry", "error", err)
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = shutdown
		}
	}

	awsCfg, err := sharedinfra.LoadAWSConfig(ctx, config.AWS.AWSConfig)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.EventPublisher = sharedinfra.NewSNSEventPublisher(sharedinfra.NewSNSClient(awsCfg, config.AWS.AWSConfig), config.AWS.SNSTopicArn)

	deps.ProcessPayment = application.NewProcessPayment(deps.EventPublisher, config.Processor,
		application.WithLogger(deps.Logger),
		application.WithExecutor(retry.NewExecutor(retry.WithLogger(deps.Logger))),
	)
	deps.PaymentHandlers = handlers.NewPaymentHandlers(deps.ProcessPayment)

	return deps, nil
}

// Close flushes telemetry
func (d *Dependencies) Close() {
	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}
}
