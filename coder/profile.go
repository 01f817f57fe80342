package coder

import (
	"context"
	"errors"
	"time"
)

// Profile is the read model behind the profile command.
type Profile struct {
	Coder       Coder
	Known       bool
	Progress    float64
	NextLevelXP int64
	Ratings     []ProjectRating
}

const profileRatings = 5

// Profile returns userID's standing. Unknown users get a fresh level 1
// profile with Known unset.
func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	c, err := s.repo.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return Profile{Coder: New(userID, time.Time{}), Progress: 0, NextLevelXP: Thresholds[1].MinXP}, nil
	case err != nil:
		return Profile{}, err
	}

	ratings, err := s.repo.ListRatings(ctx, userID, profileRatings)
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		Coder:    c,
		Known:    true,
		Progress: Progress(c.XP, c.Level),
		Ratings:  ratings,
	}
	if lvl := ClampLevel(c.Level); lvl < MaxLevel {
		p.NextLevelXP = Thresholds[lvl].MinXP
	}
	return p, nil
}

// Leaderboard lists the top non-banned coders by level then XP.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]Coder, error) {
	return s.repo.List(ctx, limit)
}
