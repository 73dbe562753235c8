package config

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/draftea/order-orchestrator/orchestrator-service/application"
	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/orchestrator-service/handlers"
	"github.com/draftea/order-orchestrator/orchestrator-service/infrastructure"
	"github.com/draftea/order-orchestrator/shared/events"
	"github.com/draftea/order-orchestrator/shared/idempotency"
	sharedinfra "github.com/draftea/order-orchestrator/shared/infrastructure"
	"github.com/draftea/order-orchestrator/shared/retry"
	"github.com/draftea/order-orchestrator/shared/telemetry"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Dependencies struct {
	Logger *slog.Logger

	// Storage
	DB    *sqlx.DB
	Redis *redis.Client

	// Repositories
	WorkflowRepository domain.WorkflowRepository
	IdempotencyStore   idempotency.Store

	// Workflow runtime
	Engine *application.Engine
	Runner *application.Runner

	// Use Cases
	CreateOrder      *application.CreateOrder
	GetOrderWorkflow *application.GetOrderWorkflow
	CancelOrder      *application.CancelOrder
	ConfirmPayment   *application.ConfirmPayment

	// HTTP Handlers
	OrderHandlers *handlers.OrderHandlers

	// Event Handlers
	PaymentEventHandlers *handlers.PaymentEventHandlers
	EventRouter          *events.Router

	// Infrastructure
	EventPublisher  *sharedinfra.SNSEventPublisher
	EventSubscriber *sharedinfra.SQSEventSubscriber

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: telemetry.NewLogger(os.Stdout, config.ServiceName, config.LogLevel),
	}
	slog.SetDefault(deps.Logger)

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.OrchestratorServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, shutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			// Continue without telemetry rather than failing
			deps.Logger.Warn("failed to initialize telemetry", "error", err)
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = shutdown
		}
	}

	if err := deps.buildStorage(ctx, config); err != nil {
		deps.Close()
		return nil, err
	}

	// Initialize AWS infrastructure
	awsCfg, err := sharedinfra.LoadAWSConfig(ctx, config.AWS.AWSConfig)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.EventPublisher = sharedinfra.NewSNSEventPublisher(sharedinfra.NewSNSClient(awsCfg, config.AWS.AWSConfig), config.AWS.SNSTopicArn)
	deps.EventSubscriber = sharedinfra.NewSQSEventSubscriber(
		sharedinfra.NewSQSClient(awsCfg, config.AWS.AWSConfig),
		config.AWS.SQSQueueURL,
		sharedinfra.WithTopicFilter(events.PaymentResultReceivedTopic),
		sharedinfra.WithWorkers(config.AWS.SubscriberWorkers),
		sharedinfra.WithSubscriberLogger(deps.Logger),
	)

	// Initialize collaborator clients
	orders := infrastructure.NewOrderingHTTPClient(config.Services.Ordering, &http.Client{Timeout: config.Services.Ordering.Timeout})
	catalog := infrastructure.NewCatalogHTTPClient(config.Services.Catalog, &http.Client{Timeout: config.Services.Catalog.Timeout})
	payments := infrastructure.NewPaymentHTTPClient(config.Services.Payment, &http.Client{Timeout: config.Services.Payment.Timeout})

	// Initialize workflow runtime
	deps.Engine = application.NewEngine(deps.WorkflowRepository, orders, catalog, payments, deps.EventPublisher, config.Engine,
		application.WithEngineLogger(deps.Logger),
		application.WithExecutor(retry.NewExecutor(retry.WithLogger(deps.Logger))),
	)
	deps.Runner = application.NewRunner(deps.Engine, deps.WorkflowRepository, config.Runner, nil, deps.Logger)
	deps.Engine.SetScheduler(deps.Runner)

	// Initialize use cases
	deps.CreateOrder = application.NewCreateOrder(deps.Engine, deps.newGuard(config, "create_order"), deps.Logger)
	deps.GetOrderWorkflow = application.NewGetOrderWorkflow(deps.WorkflowRepository)
	deps.CancelOrder = application.NewCancelOrder(deps.WorkflowRepository, deps.Runner, nil, deps.Logger)
	deps.ConfirmPayment = application.NewConfirmPayment(deps.WorkflowRepository, deps.Runner, deps.newGuard(config, "confirm_payment"), nil, deps.Logger)

	// Initialize handlers
	deps.OrderHandlers = handlers.NewOrderHandlers(deps.CreateOrder, deps.GetOrderWorkflow, deps.CancelOrder, deps.ConfirmPayment, deps.Logger)
	deps.PaymentEventHandlers = handlers.NewPaymentEventHandlers(deps.ConfirmPayment, deps.Logger)
	deps.EventRouter = events.NewRouter("orchestrator-service-event-router", deps.Logger)
	deps.PaymentEventHandlers.Register(deps.EventRouter)

	return deps, nil
}

func (d *Dependencies) buildStorage(ctx context.Context, config *Config) error {
	if config.Storage.Workflows == BackendPostgres || config.Storage.Idempotency == BackendPostgres {
		db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
		if err != nil {
			return errors.Wrap(err, "failed to connect to database")
		}
		d.DB = db
	}

	switch config.Storage.Workflows {
	case BackendPostgres:
		repo := infrastructure.NewPostgresWorkflowRepository(d.DB, nil)
		if err := repo.InitSchema(ctx); err != nil {
			return err
		}
		d.WorkflowRepository = repo
	default:
		d.Logger.Warn("workflow state is kept in memory and will not survive a restart")
		d.WorkflowRepository = infrastructure.NewMemoryWorkflowRepository(nil)
	}

	switch config.Storage.Idempotency {
	case BackendPostgres:
		store := idempotency.NewPostgresStore(d.DB, nil)
		if err := store.InitSchema(ctx); err != nil {
			return err
		}
		d.IdempotencyStore = store
	case BackendRedis:
		d.Redis = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "failed to ping redis")
		}
		d.IdempotencyStore = idempotency.NewRedisStore(d.Redis, config.Idempotency.Retention, nil)
	default:
		d.IdempotencyStore = idempotency.NewMemoryStore(nil)
	}

	return nil
}

func (d *Dependencies) newGuard(config *Config, namespace string) *idempotency.Guard {
	return idempotency.NewGuard(d.IdempotencyStore,
		idempotency.WithNamespace(namespace),
		idempotency.WithLease(config.Idempotency.Lease),
		idempotency.WithWaitTimeout(config.Idempotency.WaitTimeout),
		idempotency.WithLogger(d.Logger),
	)
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close database"))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close redis"))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return errors.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
