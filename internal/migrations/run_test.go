//go:build integration

package migrations

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func getTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)

	cleanup := func() {
		_ = db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return db, cleanup
}

func getMigrationsPath(t *testing.T) string {
	projectRoot, err := filepath.Abs("../..")
	require.NoError(t, err)
	return filepath.Join(projectRoot, "migrations")
}

func columnType(t *testing.T, db *sql.DB, table, column string) string {
	var dataType string
	err := db.QueryRow(`
		SELECT data_type FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1 AND column_name = $2
	`, table, column).Scan(&dataType)
	if errors.Is(err, sql.ErrNoRows) {
		return ""
	}
	require.NoError(t, err)
	return dataType
}

func primaryKey(t *testing.T, db *sql.DB, table string) []string {
	rows, err := db.Query(`
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.table_schema = 'public' AND tc.table_name = $1 AND tc.constraint_type = 'PRIMARY KEY'
		ORDER BY kcu.ordinal_position
	`, table)
	require.NoError(t, err)
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		require.NoError(t, rows.Scan(&c))
		cols = append(cols, c)
	}
	require.NoError(t, rows.Err())
	return cols
}

func indexExists(t *testing.T, db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = 'public' AND indexname = $1)
	`, name).Scan(&exists)
	require.NoError(t, err)
	return exists
}

func TestRun_CreatesSchema(t *testing.T) {
	db, cleanup := getTestDB(t)
	defer cleanup()

	require.NoError(t, Run(db, getMigrationsPath(t)))

	assert.Equal(t, []string{"user_id"}, primaryKey(t, db, "subscriptions"))
	assert.Equal(t, "timestamp with time zone", columnType(t, db, "subscriptions", "trial_started_at"))
	assert.Equal(t, "timestamp with time zone", columnType(t, db, "subscriptions", "premium_since"))

	assert.Equal(t, []string{"charge_reference"}, primaryKey(t, db, "payments"))
	assert.Equal(t, "text", columnType(t, db, "payments", "provider_charge_reference"))
	assert.Equal(t, "integer", columnType(t, db, "payments", "amount"))
	assert.Equal(t, "bigint", columnType(t, db, "payments", "user_id"))
	assert.True(t, indexExists(t, db, "idx_payments_user_id"))
}

func TestRun_PaymentsRejectDuplicateCharge(t *testing.T) {
	db, cleanup := getTestDB(t)
	defer cleanup()

	require.NoError(t, Run(db, getMigrationsPath(t)))

	const insert = `
		INSERT INTO payments (charge_reference, user_id, amount, currency, processed_at)
		VALUES ($1, $2, $3, $4, now())
	`
	_, err := db.Exec(insert, "tg-charge-1", int64(42), 100, "XTR")
	require.NoError(t, err)

	_, err = db.Exec(insert, "tg-charge-1", int64(43), 100, "XTR")
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23505", pgErr.Code)
}

func TestRun_Idempotent(t *testing.T) {
	db, cleanup := getTestDB(t)
	defer cleanup()

	path := getMigrationsPath(t)
	require.NoError(t, Run(db, path))
	require.NoError(t, Run(db, path), "Running migrations twice should not fail")

	assert.Equal(t, []string{"user_id"}, primaryKey(t, db, "subscriptions"))
}
