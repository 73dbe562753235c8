package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/draftea/order-orchestrator/orchestrator-service/domain"
	"github.com/draftea/order-orchestrator/shared/events"
	sharedinfra "github.com/draftea/order-orchestrator/shared/infrastructure"
	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

var _ domain.WorkflowRepository = (*PostgresWorkflowRepository)(nil)

// PostgresWorkflowRepository implements WorkflowRepository using PostgreSQL.
// Snapshots live in order_workflows, the signal inbox in
// order_workflow_signals and the history in the shared event_stream table.
type PostgresWorkflowRepository struct {
	db         *sqlx.DB
	eventStore *sharedinfra.PostgresEventStore
	clock      models.Clock
}

// NewPostgresWorkflowRepository creates a new PostgresWorkflowRepository
func NewPostgresWorkflowRepository(db *sqlx.DB, clock models.Clock) *PostgresWorkflowRepository {
	if clock == nil {
		clock = models.SystemClock
	}
	return &PostgresWorkflowRepository{
		db:         db,
		eventStore: sharedinfra.NewPostgresEventStore(db),
		clock:      clock,
	}
}

// InitSchema creates the workflow tables and the event stream if they do not exist.
func (r *PostgresWorkflowRepository) InitSchema(ctx context.Context) error {
	if err := r.eventStore.InitSchema(ctx); err != nil {
		return err
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS order_workflows (
			id UUID PRIMARY KEY,
			correlation_id UUID UNIQUE NOT NULL,
			request JSONB NOT NULL,
			create_request_id UUID NOT NULL,
			order_id INTEGER NOT NULL DEFAULT 0,
			step TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			attempts JSONB NOT NULL,
			wake_at TIMESTAMPTZ,
			outcome TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			stock_items JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			version INTEGER NOT NULL,
			history_version INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS order_workflows_runnable_idx ON order_workflows (step, wake_at)`,
		`CREATE TABLE IF NOT EXISTS order_workflow_signals (
			id UUID PRIMARY KEY,
			correlation_id UUID NOT NULL,
			kind TEXT NOT NULL,
			dedup_key TEXT UNIQUE NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			consumed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS order_workflow_signals_pending_idx
			ON order_workflow_signals (correlation_id) WHERE consumed_at IS NULL`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to create workflow tables")
		}
	}

	return nil
}

// postgresWorkflow represents a workflow snapshot in database
type postgresWorkflow struct {
	ID              string     `db:"id"`
	CorrelationID   string     `db:"correlation_id"`
	Request         []byte     `db:"request"`
	CreateRequestID string     `db:"create_request_id"`
	OrderID         int        `db:"order_id"`
	Step            string     `db:"step"`
	PaymentStatus   string     `db:"payment_status"`
	Attempts        []byte     `db:"attempts"`
	WakeAt          *time.Time `db:"wake_at"`
	Outcome         string     `db:"outcome"`
	FailureReason   string     `db:"failure_reason"`
	StockItems      []byte     `db:"stock_items"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	Version         int        `db:"version"`
	HistoryVersion  int        `db:"history_version"`
}

type postgresSignal struct {
	ID            string    `db:"id"`
	CorrelationID string    `db:"correlation_id"`
	Kind          string    `db:"kind"`
	DedupKey      string    `db:"dedup_key"`
	ReceivedAt    time.Time `db:"received_at"`
}

const workflowColumns = `id, correlation_id, request, create_request_id, order_id, step,
	payment_status, attempts, wake_at, outcome, failure_reason, stock_items,
	created_at, updated_at, version, history_version`

// Create inserts the instance and its first history events
func (r *PostgresWorkflowRepository) Create(ctx context.Context, instance *domain.WorkflowInstance) error {
	row, err := toPostgresWorkflow(instance)
	if err != nil {
		return err
	}
	row.HistoryVersion = len(instance.Events())

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `
		INSERT INTO order_workflows (`+workflowColumns+`) VALUES (
			:id, :correlation_id, :request, :create_request_id, :order_id, :step,
			:payment_status, :attempts, :wake_at, :outcome, :failure_reason, :stock_items,
			:created_at, :updated_at, :version, :history_version
		)
		ON CONFLICT (correlation_id) DO NOTHING`, row)
	if err != nil {
		return errors.Wrap(err, "failed to insert workflow")
	}

	if affected, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	} else if affected == 0 {
		return errors.Wrapf(domain.ErrInstanceExists, "correlation id %s", instance.CorrelationID)
	}

	if err := sharedinfra.AppendEventsTx(ctx, tx, instance.ID, instance.Events(), 0); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit workflow")
	}

	instance.HistoryVersion = row.HistoryVersion
	return nil
}

// Save updates the snapshot under optimistic locking, appends the recorded
// events and marks the applied signals consumed, all in one transaction.
func (r *PostgresWorkflowRepository) Save(ctx context.Context, instance *domain.WorkflowInstance) error {
	row, err := toPostgresWorkflow(instance)
	if err != nil {
		return err
	}
	row.HistoryVersion = instance.HistoryVersion + len(instance.Events())

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `
		UPDATE order_workflows SET
			order_id = :order_id,
			step = :step,
			payment_status = :payment_status,
			attempts = :attempts,
			wake_at = :wake_at,
			outcome = :outcome,
			failure_reason = :failure_reason,
			stock_items = :stock_items,
			updated_at = :updated_at,
			version = :version + 1,
			history_version = :history_version
		WHERE id = :id AND version = :version`, row)
	if err != nil {
		return errors.Wrap(err, "failed to update workflow")
	}

	if affected, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	} else if affected == 0 {
		return errors.Wrapf(domain.ErrConcurrentModification, "instance %s at version %d", instance.CorrelationID, instance.Version.Value)
	}

	if err := sharedinfra.AppendEventsTx(ctx, tx, instance.ID, instance.Events(), instance.HistoryVersion); err != nil {
		if errors.Is(err, sharedinfra.ErrConcurrencyConflict) {
			return errors.Wrap(domain.ErrConcurrentModification, err.Error())
		}
		return err
	}

	if consumed := instance.ConsumedSignals(); len(consumed) > 0 {
		ids := make([]string, len(consumed))
		for i, id := range consumed {
			ids[i] = id.String()
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE order_workflow_signals SET consumed_at = $1 WHERE id = ANY($2) AND consumed_at IS NULL`,
			r.clock(), pq.Array(ids))
		if err != nil {
			return errors.Wrap(err, "failed to consume signals")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit workflow")
	}

	instance.Version = instance.Version.Update()
	instance.HistoryVersion = row.HistoryVersion
	return nil
}

// FindByCorrelationID finds a workflow by the caller's correlation id
func (r *PostgresWorkflowRepository) FindByCorrelationID(ctx context.Context, correlationID models.ID) (*domain.WorkflowInstance, error) {
	var row postgresWorkflow
	err := r.db.GetContext(ctx, &row,
		`SELECT `+workflowColumns+` FROM order_workflows WHERE correlation_id = $1`,
		correlationID.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find workflow")
	}

	return toDomainWorkflow(&row)
}

// FindRunnable lists non-terminal instances whose timer is due, that still
// have work without a timer, or that have unconsumed signals.
func (r *PostgresWorkflowRepository) FindRunnable(ctx context.Context, now time.Time, limit int) ([]models.ID, error) {
	terminal := make([]string, len(domain.TerminalSteps))
	for i, step := range domain.TerminalSteps {
		terminal[i] = step.String()
	}

	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT w.correlation_id FROM order_workflows w
		WHERE w.step <> ALL($1)
		  AND (
			(w.wake_at IS NULL AND w.step <> $2)
			OR w.wake_at <= $3
			OR EXISTS (
				SELECT 1 FROM order_workflow_signals s
				WHERE s.correlation_id = w.correlation_id AND s.consumed_at IS NULL
			)
		  )
		ORDER BY w.updated_at
		LIMIT $4`,
		pq.Array(terminal), domain.StepAwaitingPayment.String(), now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find runnable workflows")
	}

	result := make([]models.ID, len(ids))
	for i, id := range ids {
		result[i] = models.ID(id)
	}
	return result, nil
}

// EnqueueSignal stores the signal unless one with the same dedup key exists
func (r *PostgresWorkflowRepository) EnqueueSignal(ctx context.Context, signal *domain.Signal) (bool, error) {
	res, err := r.db.NamedExecContext(ctx, `
		INSERT INTO order_workflow_signals (id, correlation_id, kind, dedup_key, received_at)
		VALUES (:id, :correlation_id, :kind, :dedup_key, :received_at)
		ON CONFLICT (dedup_key) DO NOTHING`,
		&postgresSignal{
			ID:            signal.ID.String(),
			CorrelationID: signal.CorrelationID.String(),
			Kind:          string(signal.Kind),
			DedupKey:      signal.DedupKey,
			ReceivedAt:    signal.ReceivedAt,
		})
	if err != nil {
		return false, errors.Wrap(err, "failed to enqueue signal")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return affected == 1, nil
}

// PendingSignals lists unconsumed signals in arrival order
func (r *PostgresWorkflowRepository) PendingSignals(ctx context.Context, correlationID models.ID) ([]*domain.Signal, error) {
	var rows []postgresSignal
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, correlation_id, kind, dedup_key, received_at
		FROM order_workflow_signals
		WHERE correlation_id = $1 AND consumed_at IS NULL
		ORDER BY received_at, id`,
		correlationID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pending signals")
	}

	signals := make([]*domain.Signal, len(rows))
	for i, row := range rows {
		signals[i] = &domain.Signal{
			ID:            models.ID(row.ID),
			CorrelationID: models.ID(row.CorrelationID),
			Kind:          domain.SignalKind(row.Kind),
			DedupKey:      row.DedupKey,
			ReceivedAt:    row.ReceivedAt,
		}
	}
	return signals, nil
}

// History returns the lifecycle events of an instance
func (r *PostgresWorkflowRepository) History(ctx context.Context, instanceID models.ID) ([]*events.Event, error) {
	return r.eventStore.GetEvents(ctx, instanceID)
}

func toPostgresWorkflow(instance *domain.WorkflowInstance) (*postgresWorkflow, error) {
	request, err := json.Marshal(instance.Request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal order request")
	}

	attempts, err := json.Marshal(instance.Attempts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal attempts")
	}

	stockItems := instance.StockItems
	if stockItems == nil {
		stockItems = []domain.StockItemResult{}
	}
	items, err := json.Marshal(stockItems)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal stock items")
	}

	return &postgresWorkflow{
		ID:              instance.ID.String(),
		CorrelationID:   instance.CorrelationID.String(),
		Request:         request,
		CreateRequestID: instance.CreateRequestID.String(),
		OrderID:         instance.OrderID,
		Step:            instance.Step.String(),
		PaymentStatus:   string(instance.PaymentStatus),
		Attempts:        attempts,
		WakeAt:          instance.WakeAt,
		Outcome:         string(instance.Outcome),
		FailureReason:   instance.FailureReason,
		StockItems:      items,
		CreatedAt:       instance.Timestamps.CreatedAt,
		UpdatedAt:       instance.Timestamps.UpdatedAt,
		Version:         instance.Version.Value,
		HistoryVersion:  instance.HistoryVersion,
	}, nil
}

func toDomainWorkflow(row *postgresWorkflow) (*domain.WorkflowInstance, error) {
	id, err := models.NewID(row.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid workflow ID")
	}

	correlationID, err := models.NewID(row.CorrelationID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid correlation ID")
	}

	var request domain.OrderRequest
	if err := json.Unmarshal(row.Request, &request); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal order request")
	}

	attempts := map[domain.Step]int{}
	if len(row.Attempts) > 0 {
		if err := json.Unmarshal(row.Attempts, &attempts); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal attempts")
		}
	}

	var stockItems []domain.StockItemResult
	if len(row.StockItems) > 0 {
		if err := json.Unmarshal(row.StockItems, &stockItems); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal stock items")
		}
	}

	return &domain.WorkflowInstance{
		ID:              id,
		CorrelationID:   correlationID,
		Request:         request,
		CreateRequestID: models.ID(row.CreateRequestID),
		OrderID:         row.OrderID,
		Step:            domain.Step(row.Step),
		PaymentStatus:   domain.PaymentStatus(row.PaymentStatus),
		Attempts:        attempts,
		WakeAt:          row.WakeAt,
		Outcome:         domain.Outcome(row.Outcome),
		FailureReason:   row.FailureReason,
		StockItems:      stockItems,
		Timestamps:      models.Timestamps{CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt},
		Version:         models.Version{Value: row.Version},
		HistoryVersion:  row.HistoryVersion,
	}, nil
}
