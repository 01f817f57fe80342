// Package memstore is an in-process record store with the same conditional
// semantics as the Postgres repositories. It backs tests and the memory
// store mode.
package memstore

import (
	"sync"
	"time"

	"orderbot/coder"
	"orderbot/order"
)

type Event struct {
	OrderID string
	From    string
	To      string
	ActorID string
	At      time.Time
}

type Store struct {
	mu      sync.Mutex
	orders  map[string]order.Order
	coders  map[string]coder.Coder
	ratings []coder.ProjectRating
	events  []Event
	now     func() time.Time
}

func New() *Store {
	return &Store{
		orders: make(map[string]order.Order),
		coders: make(map[string]coder.Coder),
		now:    time.Now,
	}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Orders returns the order repository view.
func (s *Store) Orders() *Orders { return &Orders{s: s} }

// Coders returns the coder repository view.
func (s *Store) Coders() *Coders { return &Coders{s: s} }

// Events returns the recorded status transitions in order.
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
