//go:build integration

package postgresql

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/microanalysis-bot/internal/migrations"
	"github.com/magabrotheeeer/microanalysis-bot/internal/models"
)

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
}

func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	storage, err := New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	require.NoError(t, migrations.Run(storage.DB, migrationsDir(t)))
	return storage
}

func TestStorage_Integration(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()
	first := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

	_, err := s.GetRecord(ctx, 100)
	require.ErrorIs(t, err, models.ErrNotFound)

	started, err := s.StartTrialIfAbsent(ctx, 100, first)
	require.NoError(t, err)
	assert.True(t, started)

	started, err = s.StartTrialIfAbsent(ctx, 100, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, started)

	rec, err := s.GetRecord(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, rec.TrialStartedAt)
	assert.True(t, first.Equal(*rec.TrialStartedAt))
	assert.Nil(t, rec.PremiumSince)

	paid := first.Add(48 * time.Hour)
	require.NoError(t, s.GrantPremium(ctx, 100, paid))
	require.NoError(t, s.GrantPremium(ctx, 100, paid))

	rec, err = s.GetRecord(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, rec.PremiumSince)
	assert.True(t, paid.Equal(*rec.PremiumSince))
	assert.Equal(t, models.StatusPremium, rec.Status(paid.Add(365*24*time.Hour)))
}

func TestStorage_Integration_ConcurrentTrialStart(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.StartTrialIfAbsent(ctx, 200, base.Add(time.Duration(i)*time.Minute))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				started++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, started)
}

func TestStorage_Integration_RecordCharge(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()
	event := models.PaymentEvent{
		UserID:          300,
		ChargeReference: "tg_ch_300",
		Payload:         models.PremiumPayload,
		Currency:        models.PremiumCurrency,
		Amount:          models.PremiumPrice,
	}

	fresh, err := s.RecordCharge(ctx, event, time.Now())
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.RecordCharge(ctx, event, time.Now())
	require.NoError(t, err)
	assert.False(t, fresh)
}
