// Package reminder nudges coders whose assigned orders are close to their
// deadline.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"orderbot/order"
	"orderbot/ui"
)

type Source interface {
	ListAssignedDue(ctx context.Context, day time.Time) ([]order.Order, error)
}

type Sender interface {
	Send(ctx context.Context, channelID string, msg ui.Message) (string, error)
}

// Scheduler posts at most one reminder per order per calendar day.
type Scheduler struct {
	orders   Source
	sender   Sender
	interval time.Duration
	lead     time.Duration
	log      *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	sent map[string]string
}

func New(orders Source, sender Sender, interval, lead time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		orders:   orders,
		sender:   sender,
		interval: interval,
		lead:     lead,
		log:      log,
		now:      time.Now,
		sent:     make(map[string]string),
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("reminder tick failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick sends reminders for assigned orders due within the lead time and
// returns how many were posted.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.now().UTC()
	today := now.Format(order.DateLayout)
	due, err := s.orders.ListAssignedDue(ctx, now.Add(s.lead))
	if err != nil {
		return 0, fmt.Errorf("reminder: list due orders: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[string]bool, len(due))
	sent := 0
	var errs []error
	for _, o := range due {
		live[o.ID] = true
		if o.PrivateChannelID == "" || s.sent[o.ID] == today {
			continue
		}
		if _, err := s.sender.Send(ctx, o.PrivateChannelID, order.ReminderMessage(o)); err != nil {
			s.log.Warn("reminder not delivered", "order_id", o.ID, "channel_id", o.PrivateChannelID, "err", err)
			errs = append(errs, fmt.Errorf("reminder: %s: %w", o.ID, err))
			continue
		}
		s.sent[o.ID] = today
		sent++
	}
	for id := range s.sent {
		if !live[id] {
			delete(s.sent, id)
		}
	}
	if sent > 0 {
		s.log.Info("deadline reminders sent", "count", sent)
	}
	return sent, errors.Join(errs...)
}
