package coder_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbot/coder"
	"orderbot/db"
	"orderbot/order"
)

func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)
	return pool
}

// seedOrder stores an order so ratings can reference it.
func seedOrder(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()
	id := fmt.Sprintf("ORD-RT-%d", time.Now().UnixNano())
	_, err := order.NewRepository(pool).Create(context.Background(), order.Order{
		ID: id, AdminID: "admin-it", ClientName: "Acme", Compensation: "50$", Description: "Rated work", Level: 2,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

func TestPGRepository_RateLifecycle(t *testing.T) {
	pool := integrationPool(t)
	svc := coder.NewService(coder.NewRepository(pool), nil)
	ctx := context.Background()
	coderID := fmt.Sprintf("coder-%d", time.Now().UnixNano())

	lvl, err := svc.Level(ctx, coderID)
	require.NoError(t, err)
	assert.Equal(t, coder.MinLevel, lvl)

	first := seedOrder(t, pool)
	rated, err := svc.Rate(ctx, coder.RateParams{ProjectID: first, CoderID: coderID, AdminID: "admin-it", ProjectLevel: 2, Rating: 5})
	require.NoError(t, err)
	assert.Positive(t, rated.Coder.XP)
	assert.Equal(t, 1, rated.Coder.CompletedOrders)

	_, err = svc.Rate(ctx, coder.RateParams{ProjectID: first, CoderID: coderID, AdminID: "admin-it", ProjectLevel: 2, Rating: 4})
	assert.ErrorIs(t, err, coder.ErrAlreadyRated)

	second := seedOrder(t, pool)
	banned, err := svc.Rate(ctx, coder.RateParams{ProjectID: second, CoderID: coderID, AdminID: "admin-it", ProjectLevel: 2, Rating: 0})
	require.NoError(t, err)
	assert.Equal(t, coder.OutcomeBanned, banned.Record.Status)
	assert.True(t, banned.Coder.Banned)
	assert.Equal(t, rated.Coder.XP, banned.Coder.XP)

	prof, err := svc.Profile(ctx, coderID)
	require.NoError(t, err)
	assert.True(t, prof.Known)
	require.Len(t, prof.Ratings, 2)
	assert.Equal(t, second, prof.Ratings[0].ProjectID)

	top, err := svc.Leaderboard(ctx, 100)
	require.NoError(t, err)
	for _, c := range top {
		assert.NotEqual(t, coderID, c.UserID, "banned coders are not ranked")
	}
}
