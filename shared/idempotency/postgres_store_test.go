package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresStore(t *testing.T, clock *fakeClock) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		mock.ExpectClose()
		require.NoError(t, db.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	return NewPostgresStore(sqlx.NewDb(db, "postgres"), clock.Now), mock
}

func TestPostgresStore_InitSchema(t *testing.T) {
	store, mock := newPostgresStore(t, newFakeClock())

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS idempotency_keys").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.InitSchema(context.Background()))
}

func TestPostgresStore_Claim(t *testing.T) {
	clock := newFakeClock()

	t.Run("claims a new key", func(t *testing.T) {
		store, mock := newPostgresStore(t, clock)

		mock.ExpectQuery("INSERT INTO idempotency_keys").
			WithArgs("create_order:k1", "pending", clock.Now(), clock.Now().Add(-time.Minute)).
			WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("create_order:k1"))

		rec, claimed, err := store.Claim(context.Background(), "create_order:k1", time.Minute)
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, StatusPending, rec.Status)
	})

	t.Run("returns the completed record", func(t *testing.T) {
		store, mock := newPostgresStore(t, clock)
		completedAt := clock.Now()

		mock.ExpectQuery("INSERT INTO idempotency_keys").
			WillReturnRows(sqlmock.NewRows([]string{"key"}))
		mock.ExpectQuery("SELECT key, status, result, locked_at, completed_at FROM idempotency_keys").
			WithArgs("create_order:k1").
			WillReturnRows(sqlmock.NewRows([]string{"key", "status", "result", "locked_at", "completed_at"}).
				AddRow("create_order:k1", "completed", []byte(`{"order_id":42}`), clock.Now(), completedAt))

		rec, claimed, err := store.Claim(context.Background(), "create_order:k1", time.Minute)
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.True(t, rec.IsComplete())
		assert.JSONEq(t, `{"order_id":42}`, string(rec.Result))
	})

	t.Run("propagates driver errors", func(t *testing.T) {
		store, mock := newPostgresStore(t, clock)

		mock.ExpectQuery("INSERT INTO idempotency_keys").WillReturnError(errors.New("connection refused"))

		_, _, err := store.Claim(context.Background(), "create_order:k1", time.Minute)
		assert.Error(t, err)
	})
}

func TestPostgresStore_CompleteAndRelease(t *testing.T) {
	clock := newFakeClock()

	t.Run("complete", func(t *testing.T) {
		store, mock := newPostgresStore(t, clock)

		mock.ExpectExec("UPDATE idempotency_keys").
			WithArgs("k1", "completed", []byte(`"accepted"`), clock.Now()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Complete(context.Background(), "k1", json.RawMessage(`"accepted"`)))
	})

	t.Run("complete unknown key", func(t *testing.T) {
		store, mock := newPostgresStore(t, clock)

		mock.ExpectExec("UPDATE idempotency_keys").WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Complete(context.Background(), "k1", json.RawMessage(`1`))
		assert.ErrorIs(t, err, ErrRecordNotFound)
	})

	t.Run("release only deletes pending rows", func(t *testing.T) {
		store, mock := newPostgresStore(t, clock)

		mock.ExpectExec("DELETE FROM idempotency_keys WHERE key = \\$1 AND status = \\$2").
			WithArgs("k1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Release(context.Background(), "k1"))
	})
}

func TestPostgresStore_GetMissing(t *testing.T) {
	store, mock := newPostgresStore(t, newFakeClock())

	mock.ExpectQuery("SELECT key, status").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"key", "status", "result", "locked_at", "completed_at"}))

	rec, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
