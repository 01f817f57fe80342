package memstore

import (
	"context"
	"fmt"
	"sort"

	"orderbot/coder"
)

// Coders implements coder.Repository.
type Coders struct {
	s *Store
}

var _ coder.Repository = (*Coders)(nil)

func (r *Coders) Get(ctx context.Context, userID string) (coder.Coder, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coders[userID]
	if !ok {
		return coder.Coder{}, coder.ErrNotFound
	}
	return c, nil
}

func (r *Coders) List(ctx context.Context, limit int) ([]coder.Coder, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]coder.Coder, 0, len(s.coders))
	for _, c := range s.coders {
		if !c.Banned {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.XP != b.XP {
			return a.XP > b.XP
		}
		return a.UserID < b.UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Coders) ApplyRating(ctx context.Context, coderID string, fn coder.RatingFunc) (coder.Coder, coder.ProjectRating, error) {
	if coderID == "" {
		return coder.Coder{}, coder.ProjectRating{}, fmt.Errorf("coder: missing coder id")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.coders[coderID]
	if !ok {
		current = coder.New(coderID, s.now().UTC())
	}
	next, rating, err := fn(current)
	if err != nil {
		return coder.Coder{}, coder.ProjectRating{}, err
	}
	for _, existing := range s.ratings {
		if existing.ProjectID == rating.ProjectID && existing.CoderID == coderID {
			return coder.Coder{}, coder.ProjectRating{}, coder.ErrAlreadyRated
		}
	}

	// only the rating-owned fields move
	saved := current
	saved.CompletedOrders = next.CompletedOrders
	saved.XP = next.XP
	saved.Level = next.Level
	saved.Banned = next.Banned
	saved.LastActive = next.LastActive
	saved.UpdatedAt = next.LastActive
	rating.CoderID = coderID

	s.coders[coderID] = saved
	s.ratings = append(s.ratings, rating)
	return saved, rating, nil
}

func (r *Coders) ListRatings(ctx context.Context, coderID string, limit int) ([]coder.ProjectRating, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]coder.ProjectRating, 0, 8)
	for i := len(s.ratings) - 1; i >= 0 && len(out) < limit; i-- {
		if s.ratings[i].CoderID == coderID {
			out = append(out, s.ratings[i])
		}
	}
	return out, nil
}

// Put seeds or overwrites a coder record.
func (r *Coders) Put(c coder.Coder) {
	r.s.mu.Lock()
	r.s.coders[c.UserID] = c
	r.s.mu.Unlock()
}
