package wizard

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"orderbot/order"
	"orderbot/skill"
)

type Step string

const (
	StepInitial  Step = "initial_modal"
	StepDate     Step = "date_selection"
	StepCategory Step = "select_role_category"
	StepLevel    Step = "select_level"
	StepPreview  Step = "preview_form"
	StepConfirm  Step = "confirmation"
)

var (
	ErrNoSession     = errors.New("wizard: no active order creation session")
	ErrSessionExists = errors.New("wizard: an order creation session is already active")
	ErrStaleStep     = errors.New("wizard: action does not match the current step")
	ErrNotAdmin      = errors.New("wizard: only administrators can create orders")
	ErrWrongChannel  = errors.New("wizard: session is bound to another channel")
	ErrExpired       = errors.New("wizard: confirmation expired")
)

// ValidationError rejects user input without advancing the step.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wizard: invalid %s: %s", e.Field, e.Reason)
}

// Draft accumulates the order fields collected so far.
type Draft struct {
	ClientName    string
	Compensation  string
	Description   string
	Deadline      string
	RequiredRoles []order.RoleRef
	Tags          []string
	Level         int
}

func (d *Draft) addRoles(roles []order.RoleRef) {
	for _, r := range roles {
		dup := false
		for _, have := range d.RequiredRoles {
			if have.ID != "" && have.ID == r.ID || have.ID == "" && have.Name == r.Name {
				dup = true
				break
			}
		}
		if !dup {
			d.RequiredRoles = append(d.RequiredRoles, r)
		}
	}
}

type Session struct {
	UserID    string
	ChannelID string
	Step      Step
	Draft     Draft
	// Retry holds the last rejected form input for prefilling.
	Retry    Draft
	Category skill.Category
	OrderID  string
	// Origin identifies the rendered preview so it can be expired in place.
	Origin    any
	StartedAt time.Time
	UpdatedAt time.Time

	confirm *confirmation
}

// confirmation is the one-shot gate on the confirmation step. Exactly one
// of publish, cancel or expiry wins resolve.
type confirmation struct {
	mu   sync.Mutex
	done bool
	stop func() bool
}

func (c *confirmation) resolve() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	c.done = true
	if c.stop != nil {
		c.stop()
	}
	return true
}
