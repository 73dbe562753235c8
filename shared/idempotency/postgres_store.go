package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/draftea/order-orchestrator/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps records in the idempotency_keys table.
type PostgresStore struct {
	db    *sqlx.DB
	clock models.Clock
}

func NewPostgresStore(db *sqlx.DB, clock models.Clock) *PostgresStore {
	if clock == nil {
		clock = models.SystemClock
	}
	return &PostgresStore{db: db, clock: clock}
}

// InitSchema creates the idempotency_keys table if it does not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS idempotency_keys (
			key TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			result JSONB,
			locked_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to create idempotency_keys table")
		}
	}

	return nil
}

type postgresRecord struct {
	Key         string     `db:"key"`
	Status      string     `db:"status"`
	Result      []byte     `db:"result"`
	LockedAt    time.Time  `db:"locked_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

func (r *postgresRecord) toRecord() *Record {
	return &Record{
		Key:         r.Key,
		Status:      Status(r.Status),
		Result:      r.Result,
		LockedAt:    r.LockedAt,
		CompletedAt: r.CompletedAt,
	}
}

// Claim inserts a pending row, or refreshes the lock of a pending row whose
// lease expired. The conditional upsert makes it a single-writer CAS.
func (s *PostgresStore) Claim(ctx context.Context, key string, lease time.Duration) (*Record, bool, error) {
	now := s.clock()

	var staleBefore time.Time
	if lease > 0 {
		staleBefore = now.Add(-lease)
	}

	var claimed string
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO idempotency_keys (key, status, locked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET locked_at = EXCLUDED.locked_at
		WHERE idempotency_keys.status = $2 AND idempotency_keys.locked_at <= $4
		RETURNING key`,
		key, string(StatusPending), now, staleBefore,
	).Scan(&claimed)

	switch {
	case err == nil:
		return &Record{Key: key, Status: StatusPending, LockedAt: now}, true, nil
	case errors.Is(err, sql.ErrNoRows):
		rec, err := s.Get(ctx, key)
		return rec, false, err
	default:
		return nil, false, errors.Wrap(err, "failed to claim idempotency key")
	}
}

func (s *PostgresStore) Complete(ctx context.Context, key string, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, result = $3, completed_at = $4
		WHERE key = $1`,
		key, string(StatusCompleted), []byte(result), s.clock(),
	)
	if err != nil {
		return errors.Wrap(err, "failed to complete idempotency key")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return errors.Wrapf(ErrRecordNotFound, "key %s", key)
	}

	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND status = $2`,
		key, string(StatusPending),
	)
	return errors.Wrap(err, "failed to release idempotency key")
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	var row postgresRecord
	err := s.db.GetContext(ctx, &row, `
		SELECT key, status, result, locked_at, completed_at
		FROM idempotency_keys
		WHERE key = $1`,
		key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get idempotency key")
	}

	return row.toRecord(), nil
}
