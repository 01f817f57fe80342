package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"orderbot/coder"
	"orderbot/order"
)

// Orders implements order.Repository.
type Orders struct {
	s *Store
}

var _ order.Repository = (*Orders)(nil)

func cloneOrder(o order.Order) order.Order {
	o.RequiredRoles = slices.Clone(o.RequiredRoles)
	o.Tags = slices.Clone(o.Tags)
	o.Deadline = cloneTime(o.Deadline)
	o.LastVerificationRequest = cloneTime(o.LastVerificationRequest)
	o.AssignedAt = cloneTime(o.AssignedAt)
	o.CompletedAt = cloneTime(o.CompletedAt)
	return o
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (r *Orders) Create(ctx context.Context, o order.Order) (order.Order, error) {
	if o.ID == "" {
		return order.Order{}, fmt.Errorf("order: create missing id")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return order.Order{}, order.ErrDuplicateID
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now().UTC()
	}
	o.Status = order.StatusOpen
	o.AssignedTo = ""
	o.MessageID, o.ChannelID, o.PrivateChannelID = "", "", ""
	o.UpdatedAt = o.CreatedAt
	s.orders[o.ID] = cloneOrder(o)
	s.events = append(s.events, Event{OrderID: o.ID, To: string(order.StatusOpen), ActorID: o.AdminID, At: o.CreatedAt})
	return cloneOrder(o), nil
}

func (r *Orders) Get(ctx context.Context, id string) (order.Order, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *Orders) List(ctx context.Context, f order.Filters) ([]order.Order, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]order.Order, 0, 16)
	for _, o := range s.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.AssignedTo != "" && o.AssignedTo != f.AssignedTo {
			continue
		}
		if f.AdminID != "" && o.AdminID != f.AdminID {
			continue
		}
		if f.DeadlineBefore != nil && (o.Deadline == nil || o.Deadline.After(*f.DeadlineBefore)) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *Orders) Assign(ctx context.Context, p order.AssignParams) (order.Order, error) {
	if p.OrderID == "" || p.CoderID == "" {
		return order.Order{}, fmt.Errorf("order: assign missing order or coder id")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[p.OrderID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	if o.Status != order.StatusOpen {
		return order.Order{}, fmt.Errorf("%w: order is %s", order.ErrInvalidTransition, o.Status)
	}
	c, ok := s.coders[p.CoderID]
	if !ok {
		c = coder.New(p.CoderID, p.At)
	}
	if c.Busy() {
		return order.Order{}, order.ErrCoderBusy
	}

	at := p.At
	o.Status = order.StatusAssigned
	o.AssignedTo = p.CoderID
	o.AssignedAt = &at
	o.UpdatedAt = at
	c.ActiveOrderID = o.ID
	c.LastActive = at
	c.UpdatedAt = at

	s.orders[o.ID] = o
	s.coders[c.UserID] = c
	s.events = append(s.events, Event{OrderID: o.ID, From: string(order.StatusOpen), To: string(order.StatusAssigned), ActorID: p.CoderID, At: at})
	return cloneOrder(o), nil
}

func (r *Orders) Finish(ctx context.Context, p order.FinishParams) (order.Order, error) {
	if len(p.From) == 0 {
		return order.Order{}, fmt.Errorf("order: finish missing source states")
	}
	for _, from := range p.From {
		if !order.CanTransition(from, p.To) {
			return order.Order{}, fmt.Errorf("%w: %s -> %s", order.ErrInvalidTransition, from, p.To)
		}
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[p.OrderID]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	if !slices.Contains(p.From, o.Status) {
		return order.Order{}, fmt.Errorf("%w: order is %s", order.ErrInvalidTransition, o.Status)
	}

	previous := o.Status
	at := p.At
	o.Status = p.To
	if p.To == order.StatusCompleted {
		o.CompletedAt = &at
	}
	o.UpdatedAt = at
	s.orders[o.ID] = o

	if c, ok := s.coders[o.AssignedTo]; ok && o.AssignedTo != "" && c.ActiveOrderID == o.ID {
		c.ActiveOrderID = ""
		if p.Credit {
			c.CompletedOrders++
		}
		c.LastActive = at
		c.UpdatedAt = at
		s.coders[c.UserID] = c
	}
	s.events = append(s.events, Event{OrderID: o.ID, From: string(previous), To: string(p.To), ActorID: p.ActorID, At: at})
	return cloneOrder(o), nil
}

func (r *Orders) SetAnnouncement(ctx context.Context, id, channelID, messageID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.MessageID != "" {
		return fmt.Errorf("order: announcement already recorded for %s", id)
	}
	o.ChannelID = channelID
	o.MessageID = messageID
	o.UpdatedAt = s.now().UTC()
	s.orders[id] = o
	return nil
}

func (r *Orders) SetPrivateChannel(ctx context.Context, id, channelID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.PrivateChannelID = channelID
	o.UpdatedAt = s.now().UTC()
	s.orders[id] = o
	return nil
}

func (r *Orders) TouchVerification(ctx context.Context, id, coderID string, at, notBefore time.Time) (order.Order, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	switch {
	case o.Status != order.StatusAssigned:
		return order.Order{}, fmt.Errorf("%w: order is %s", order.ErrInvalidTransition, o.Status)
	case o.AssignedTo != coderID:
		return order.Order{}, order.ErrForbidden
	case o.LastVerificationRequest != nil && o.LastVerificationRequest.After(notBefore):
		return order.Order{}, &order.CooldownError{Last: *o.LastVerificationRequest}
	}
	stamp := at
	o.LastVerificationRequest = &stamp
	o.UpdatedAt = at
	s.orders[id] = o
	return cloneOrder(o), nil
}
