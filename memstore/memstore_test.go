package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbot/coder"
	"orderbot/order"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedOrder(t *testing.T, s *Store, id string) {
	t.Helper()
	_, err := s.Orders().Create(context.Background(), order.Order{ID: id, AdminID: "admin", ClientName: "Acme", Compensation: "50$", Description: "x", Level: 1, CreatedAt: t0})
	require.NoError(t, err)
}

func TestAssign_ConcurrentSingleWinner(t *testing.T) {
	s := New()
	seedOrder(t, s, "ORD-1")
	orders := s.Orders()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []string
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			coderID := fmt.Sprintf("coder-%d", i)
			if _, err := orders.Assign(context.Background(), order.AssignParams{OrderID: "ORD-1", CoderID: coderID, At: t0}); err == nil {
				mu.Lock()
				wins = append(wins, coderID)
				mu.Unlock()
			} else if !errors.Is(err, order.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, wins, 1)
	o, _ := orders.Get(context.Background(), "ORD-1")
	assert.Equal(t, order.StatusAssigned, o.Status)
	assert.Equal(t, wins[0], o.AssignedTo)
	c, err := s.Coders().Get(context.Background(), wins[0])
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", c.ActiveOrderID)
}

func TestAssign_BusyCoderLeavesOrderOpen(t *testing.T) {
	s := New()
	seedOrder(t, s, "ORD-1")
	seedOrder(t, s, "ORD-2")
	ctx := context.Background()

	_, err := s.Orders().Assign(ctx, order.AssignParams{OrderID: "ORD-1", CoderID: "c1", At: t0})
	require.NoError(t, err)
	_, err = s.Orders().Assign(ctx, order.AssignParams{OrderID: "ORD-2", CoderID: "c1", At: t0})
	require.ErrorIs(t, err, order.ErrCoderBusy)

	o2, _ := s.Orders().Get(ctx, "ORD-2")
	assert.Equal(t, order.StatusOpen, o2.Status)
	assert.Empty(t, o2.AssignedTo)
}

func TestFinish_ReleasesCoderAndCredits(t *testing.T) {
	s := New()
	seedOrder(t, s, "ORD-1")
	ctx := context.Background()
	_, err := s.Orders().Assign(ctx, order.AssignParams{OrderID: "ORD-1", CoderID: "c1", At: t0})
	require.NoError(t, err)

	done, err := s.Orders().Finish(ctx, order.FinishParams{OrderID: "ORD-1", ActorID: "c1", From: []order.Status{order.StatusAssigned}, To: order.StatusCompleted, At: t0, Credit: true})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	c, _ := s.Coders().Get(ctx, "c1")
	assert.Empty(t, c.ActiveOrderID)
	assert.Equal(t, 1, c.CompletedOrders)

	_, err = s.Orders().Finish(ctx, order.FinishParams{OrderID: "ORD-1", From: []order.Status{order.StatusOpen, order.StatusAssigned}, To: order.StatusCancelled, At: t0})
	assert.ErrorIs(t, err, order.ErrInvalidTransition, "completed is terminal")

	events := s.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "completed", events[2].To)
}

func TestFinish_RejectsIllegalEdge(t *testing.T) {
	s := New()
	seedOrder(t, s, "ORD-1")
	_, err := s.Orders().Finish(context.Background(), order.FinishParams{OrderID: "ORD-1", From: []order.Status{order.StatusOpen}, To: order.StatusCompleted, At: t0})
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestTouchVerification_Cooldown(t *testing.T) {
	s := New()
	seedOrder(t, s, "ORD-1")
	ctx := context.Background()
	_, err := s.Orders().Assign(ctx, order.AssignParams{OrderID: "ORD-1", CoderID: "c1", At: t0})
	require.NoError(t, err)

	_, err = s.Orders().TouchVerification(ctx, "ORD-1", "c1", t0, t0.Add(-24*time.Hour))
	require.NoError(t, err)

	later := t0.Add(time.Hour)
	_, err = s.Orders().TouchVerification(ctx, "ORD-1", "c1", later, later.Add(-24*time.Hour))
	var cd *order.CooldownError
	require.ErrorAs(t, err, &cd)
	assert.Equal(t, t0, cd.Last)

	_, err = s.Orders().TouchVerification(ctx, "ORD-1", "someone", later, later)
	assert.ErrorIs(t, err, order.ErrForbidden)
}

func TestApplyRating_Duplicate(t *testing.T) {
	s := New()
	rate := func(cur coder.Coder) (coder.Coder, coder.ProjectRating, error) {
		cur.XP += 20
		return cur, coder.ProjectRating{ID: "r", ProjectID: "ORD-1", Status: coder.OutcomeSuccess}, nil
	}
	ctx := context.Background()
	c, _, err := s.Coders().ApplyRating(ctx, "c1", rate)
	require.NoError(t, err)
	assert.Equal(t, int64(20), c.XP)

	_, _, err = s.Coders().ApplyRating(ctx, "c1", rate)
	require.ErrorIs(t, err, coder.ErrAlreadyRated)

	c, _ = s.Coders().Get(ctx, "c1")
	assert.Equal(t, int64(20), c.XP, "rejected rating must not mutate")
}

func TestApplyRating_KeepsActiveOrder(t *testing.T) {
	s := New()
	s.Coders().Put(coder.Coder{UserID: "c1", Level: 1, ActiveOrderID: "ORD-9"})
	_, _, err := s.Coders().ApplyRating(context.Background(), "c1", func(cur coder.Coder) (coder.Coder, coder.ProjectRating, error) {
		cur.ActiveOrderID = ""
		return cur, coder.ProjectRating{ProjectID: "ORD-1"}, nil
	})
	require.NoError(t, err)
	c, _ := s.Coders().Get(context.Background(), "c1")
	assert.Equal(t, "ORD-9", c.ActiveOrderID)
}
