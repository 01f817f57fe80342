// Package actors drives the order and coder repositories concurrently for
// the stress suite. Actors swallow the rejections the lifecycle is expected
// to produce under contention and count everything else.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"orderbot/coder"
	"orderbot/order"
)

// Unexpected counts errors that are neither lifecycle rejections nor caused
// by the run shutting down. Chaos makes some of them legitimate.
var Unexpected atomic.Int64

func note(ctx context.Context, err error) {
	if err == nil || ctx.Err() != nil {
		return
	}
	switch {
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrCoderBusy),
		errors.Is(err, order.ErrForbidden),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, coder.ErrAlreadyRated):
		return
	}
	var cooldown *order.CooldownError
	if errors.As(err, &cooldown) {
		return
	}
	Unexpected.Add(1)
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// pick returns a random order id in status, or "" when there is none.
func pick(ctx context.Context, pool *pgxpool.Pool, status order.Status) string {
	var id string
	err := pool.QueryRow(ctx, `SELECT id FROM orders WHERE status = $1 ORDER BY random() LIMIT 1`, string(status)).Scan(&id)
	if err != nil {
		return ""
	}
	return id
}

// Publisher keeps a supply of open orders.
func Publisher(ctx context.Context, pool *pgxpool.Pool, n int, stop <-chan struct{}) error {
	repo := order.NewRepository(pool)
	for i := 0; !stopped(ctx, stop); i++ {
		_, err := repo.Create(ctx, order.Order{
			ID:           fmt.Sprintf("ORD-S%d-%d-%d", n, i, time.Now().UnixNano()),
			AdminID:      "stress-admin",
			ClientName:   "Stress Client",
			Compensation: "100$",
			Description:  "Stress order",
			Level:        1 + rand.Intn(6),
			CreatedAt:    time.Now().UTC(),
		})
		note(ctx, err)
		pause(20, 30)
	}
	return nil
}

// Acceptor races other acceptors for random open orders as one coder.
func Acceptor(ctx context.Context, pool *pgxpool.Pool, coderID string, stop <-chan struct{}) error {
	repo := order.NewRepository(pool)
	for !stopped(ctx, stop) {
		if id := pick(ctx, pool, order.StatusOpen); id != "" {
			_, err := repo.Assign(ctx, order.AssignParams{OrderID: id, CoderID: coderID, At: time.Now().UTC()})
			note(ctx, err)
		}
		pause(5, 20)
	}
	return nil
}

// Finisher completes or cancels assigned orders, sometimes cancelling open
// ones as an administrator would.
func Finisher(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	repo := order.NewRepository(pool)
	for !stopped(ctx, stop) {
		params := order.FinishParams{ActorID: "stress-admin", At: time.Now().UTC()}
		switch rand.Intn(4) {
		case 0:
			params.OrderID = pick(ctx, pool, order.StatusOpen)
			params.From = []order.Status{order.StatusOpen, order.StatusAssigned}
			params.To = order.StatusCancelled
		case 1:
			params.OrderID = pick(ctx, pool, order.StatusAssigned)
			params.From = []order.Status{order.StatusOpen, order.StatusAssigned}
			params.To = order.StatusCancelled
		default:
			params.OrderID = pick(ctx, pool, order.StatusAssigned)
			params.From = []order.Status{order.StatusAssigned}
			params.To = order.StatusCompleted
			params.Credit = true
		}
		if params.OrderID != "" {
			_, err := repo.Finish(ctx, params)
			note(ctx, err)
		}
		pause(10, 30)
	}
	return nil
}

// Verifier stamps verification requests on assigned orders, both as the
// assignee and as a stranger.
func Verifier(ctx context.Context, pool *pgxpool.Pool, cooldown time.Duration, stop <-chan struct{}) error {
	repo := order.NewRepository(pool)
	for !stopped(ctx, stop) {
		var id, assignee string
		err := pool.QueryRow(ctx, `SELECT id, assigned_to FROM orders WHERE status = 'assigned' ORDER BY random() LIMIT 1`).Scan(&id, &assignee)
		if err == nil {
			if rand.Intn(4) == 0 {
				assignee = "stranger"
			}
			now := time.Now().UTC()
			_, err = repo.TouchVerification(ctx, id, assignee, now, now.Add(-cooldown))
			note(ctx, err)
		}
		pause(30, 50)
	}
	return nil
}

// Rater rates the assignee of random completed orders, often twice.
func Rater(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	svc := coder.NewService(coder.NewRepository(pool), nil)
	for !stopped(ctx, stop) {
		var (
			id, assignee string
			level        int
		)
		err := pool.QueryRow(ctx, `SELECT id, assigned_to, level FROM orders WHERE status = 'completed' ORDER BY random() LIMIT 1`).Scan(&id, &assignee, &level)
		if err == nil {
			_, err = svc.Rate(ctx, coder.RateParams{
				ProjectID: id, CoderID: assignee, AdminID: "stress-admin", ProjectLevel: level, Rating: rand.Intn(6),
			})
			note(ctx, err)
		}
		pause(20, 40)
	}
	return nil
}
