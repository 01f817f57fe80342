package coder

import "time"

type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeLevelUp   Outcome = "LEVEL_UP"
	OutcomeLevelDown Outcome = "LEVEL_DOWN"
	OutcomeBanned    Outcome = "BANNED"
)

type Coder struct {
	UserID          string
	ActiveOrderID   string
	CompletedOrders int
	XP              int64
	Level           int
	Banned          bool
	LastActive      time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Busy reports whether the coder holds an active order.
func (c Coder) Busy() bool {
	return c.ActiveOrderID != ""
}

// New returns the record a coder starts with before any rating.
func New(userID string, now time.Time) Coder {
	return Coder{
		UserID:     userID,
		Level:      MinLevel,
		LastActive: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

type ProjectRating struct {
	ID          string
	ProjectID   string
	CoderID     string
	AdminID     string
	Rating      int
	XPEarned    int64
	LevelBefore int
	LevelAfter  int
	Status      Outcome
	RatedAt     time.Time
}
