package order_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbot/db"
	"orderbot/order"
)

// integrationPool connects to DATABASE_URL and applies the migrations.
func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, dsn, 16)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)
	return pool
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func seed(t *testing.T, repo *order.PGRepository, level int) order.Order {
	t.Helper()
	deadline := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	o, err := repo.Create(context.Background(), order.Order{
		ID:            uniqueID("ORD-IT"),
		AdminID:       "admin-it",
		ClientName:    "Acme",
		Compensation:  "50$",
		Description:   "Integration order",
		Level:         level,
		Deadline:      &deadline,
		RequiredRoles: []order.RoleRef{{ID: "r1", Name: "Python"}, {Name: "Rust"}},
		Tags:          []string{"api", "backend"},
		CreatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
	return o
}

func TestPGRepository_CreateAndGet(t *testing.T) {
	pool := integrationPool(t)
	repo := order.NewRepository(pool)
	ctx := context.Background()

	created := seed(t, repo, 3)
	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOpen, got.Status)
	assert.Equal(t, []order.RoleRef{{ID: "r1", Name: "Python"}, {Name: "Rust"}}, got.RequiredRoles)
	assert.Equal(t, []string{"api", "backend"}, got.Tags)
	require.NotNil(t, got.Deadline)
	assert.Equal(t, "2025-06-01", got.Deadline.Format(order.DateLayout))

	_, err = repo.Create(ctx, order.Order{ID: created.ID, AdminID: "a", ClientName: "c", Compensation: "1", Description: "d", Level: 1})
	assert.ErrorIs(t, err, order.ErrDuplicateID)

	_, err = repo.Get(ctx, "ORD-missing")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestPGRepository_AnnouncementRecordedOnce(t *testing.T) {
	pool := integrationPool(t)
	repo := order.NewRepository(pool)
	ctx := context.Background()

	o := seed(t, repo, 1)
	msgID := uniqueID("msg")
	require.NoError(t, repo.SetAnnouncement(ctx, o.ID, "chan-1", msgID))
	assert.Error(t, repo.SetAnnouncement(ctx, o.ID, "chan-1", uniqueID("msg")))
	assert.ErrorIs(t, repo.SetAnnouncement(ctx, "ORD-missing", "chan-1", uniqueID("msg")), order.ErrNotFound)

	got, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, msgID, got.MessageID)
}

func TestPGRepository_ConcurrentAssignSingleWinner(t *testing.T) {
	pool := integrationPool(t)
	repo := order.NewRepository(pool)
	o := seed(t, repo, 1)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			coderID := uniqueID(fmt.Sprintf("coder%d", i))
			_, err := repo.Assign(context.Background(), order.AssignParams{OrderID: o.ID, CoderID: coderID, At: time.Now().UTC()})
			if err == nil {
				mu.Lock()
				winners = append(winners, coderID)
				mu.Unlock()
				return
			}
			if !errors.Is(err, order.ErrInvalidTransition) {
				t.Errorf("unexpected assign error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, winners, 1)

	var active string
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT active_order_id FROM coders WHERE user_id = $1`, winners[0]).Scan(&active))
	assert.Equal(t, o.ID, active)
}

func TestPGRepository_BusyCoderAndRelease(t *testing.T) {
	pool := integrationPool(t)
	repo := order.NewRepository(pool)
	ctx := context.Background()
	coderID := uniqueID("coder")
	first := seed(t, repo, 1)
	second := seed(t, repo, 1)

	_, err := repo.Assign(ctx, order.AssignParams{OrderID: first.ID, CoderID: coderID, At: time.Now().UTC()})
	require.NoError(t, err)

	_, err = repo.Assign(ctx, order.AssignParams{OrderID: second.ID, CoderID: coderID, At: time.Now().UTC()})
	assert.ErrorIs(t, err, order.ErrCoderBusy)
	stillOpen, err := repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOpen, stillOpen.Status)

	done, err := repo.Finish(ctx, order.FinishParams{
		OrderID: first.ID, ActorID: coderID, From: []order.Status{order.StatusAssigned}, To: order.StatusCompleted, At: time.Now().UTC(), Credit: true,
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, done.Status)
	assert.NotNil(t, done.CompletedAt)

	var completed int
	require.NoError(t, pool.QueryRow(ctx, `SELECT completed_orders FROM coders WHERE user_id = $1`, coderID).Scan(&completed))
	assert.Equal(t, 1, completed)

	_, err = repo.Finish(ctx, order.FinishParams{
		OrderID: first.ID, ActorID: coderID, From: []order.Status{order.StatusOpen, order.StatusAssigned}, To: order.StatusCancelled, At: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	_, err = repo.Assign(ctx, order.AssignParams{OrderID: second.ID, CoderID: coderID, At: time.Now().UTC()})
	assert.NoError(t, err)

	var events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM order_events WHERE order_id = $1`, first.ID).Scan(&events))
	assert.Equal(t, 3, events)
}

func TestPGRepository_TouchVerificationCooldown(t *testing.T) {
	pool := integrationPool(t)
	repo := order.NewRepository(pool)
	ctx := context.Background()
	coderID := uniqueID("coder")
	o := seed(t, repo, 1)
	_, err := repo.Assign(ctx, order.AssignParams{OrderID: o.ID, CoderID: coderID, At: time.Now().UTC()})
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Second)
	_, err = repo.TouchVerification(ctx, o.ID, coderID, at, at.Add(-24*time.Hour))
	require.NoError(t, err)

	later := at.Add(time.Hour)
	_, err = repo.TouchVerification(ctx, o.ID, coderID, later, later.Add(-24*time.Hour))
	var cooldown *order.CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.True(t, cooldown.Last.Equal(at))

	_, err = repo.TouchVerification(ctx, o.ID, "someone-else", later, later)
	assert.ErrorIs(t, err, order.ErrForbidden)
}
