package order

import (
	"slices"
	"strings"
	"time"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusAssigned  Status = "assigned"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusOpen:     {StatusAssigned, StatusCancelled},
	StatusAssigned: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Label() string {
	return strings.ToUpper(string(s))
}

// RoleRef is a skill tag, optionally backed by a platform role.
type RoleRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type Order struct {
	ID                      string
	AdminID                 string
	ClientName              string
	Compensation            string
	Description             string
	Status                  Status
	AssignedTo              string
	Level                   int
	Deadline                *time.Time
	RequiredRoles           []RoleRef
	Tags                    []string
	MessageID               string
	ChannelID               string
	PrivateChannelID        string
	LastVerificationRequest *time.Time
	CreatedAt               time.Time
	AssignedAt              *time.Time
	CompletedAt             *time.Time
	UpdatedAt               time.Time
}

// DeadlineText is the deadline as YYYY-MM-DD, or empty.
func (o Order) DeadlineText() string {
	if o.Deadline == nil {
		return ""
	}
	return o.Deadline.Format(DateLayout)
}

const DateLayout = "2006-01-02"

type Filters struct {
	Status         Status
	AssignedTo     string
	AdminID        string
	DeadlineBefore *time.Time
	Limit          int
}
