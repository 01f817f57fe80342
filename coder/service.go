package coder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo        Repository
	log         *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:        repo,
		log:         log,
		idGenerator: uuid.NewString,
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type RateParams struct {
	ProjectID    string
	CoderID      string
	AdminID      string
	ProjectLevel int
	Rating       int
}

type Rated struct {
	Coder  Coder
	Record ProjectRating
	Result Result
}

// Rate runs the XP engine for one project and persists the outcome. The
// rating is recorded even when the coder is already banned.
func (s *Service) Rate(ctx context.Context, params RateParams) (Rated, error) {
	if params.ProjectID == "" {
		return Rated{}, fmt.Errorf("coder: rate missing project id")
	}
	if params.CoderID == "" {
		return Rated{}, errMissingCoder
	}
	if params.AdminID == "" {
		return Rated{}, fmt.Errorf("coder: rate missing admin id")
	}

	now := s.now().UTC()
	var result Result
	saved, record, err := s.repo.ApplyRating(ctx, params.CoderID, func(cur Coder) (Coder, ProjectRating, error) {
		result = Evaluate(Input{
			CurrentXP:         cur.XP,
			CurrentLevel:      cur.Level,
			CompletedProjects: cur.CompletedOrders,
			Banned:            cur.Banned,
			ProjectLevel:      params.ProjectLevel,
			Rating:            params.Rating,
		})

		next := cur
		next.XP = result.NewXP
		next.Level = result.NewLevel
		next.CompletedOrders = result.CompletedProjects
		next.Banned = result.Banned
		next.LastActive = now

		rec := ProjectRating{
			ID:          s.idGenerator(),
			ProjectID:   params.ProjectID,
			CoderID:     params.CoderID,
			AdminID:     params.AdminID,
			Rating:      ClampRating(params.Rating),
			XPEarned:    result.XPEarned,
			LevelBefore: ClampLevel(cur.Level),
			LevelAfter:  result.NewLevel,
			Status:      result.Status,
			RatedAt:     now,
		}
		return next, rec, nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyRated) {
			return Rated{}, err
		}
		return Rated{}, fmt.Errorf("coder: rate: %w", err)
	}

	s.log.Info("project rated",
		"project_id", params.ProjectID,
		"coder_id", params.CoderID,
		"admin_id", params.AdminID,
		"rating", record.Rating,
		"status", record.Status,
		"xp_earned", record.XPEarned,
		"level_before", record.LevelBefore,
		"level_after", record.LevelAfter,
	)
	return Rated{Coder: saved, Record: record, Result: result}, nil
}

// Standing is what order acceptance needs to know about a coder.
type Standing struct {
	Level  int
	Banned bool
}

// Standing returns the coder's level and ban flag. Unknown coders are
// MinLevel and not banned.
func (s *Service) Standing(ctx context.Context, userID string) (Standing, error) {
	c, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Standing{Level: MinLevel}, nil
		}
		return Standing{}, err
	}
	return Standing{Level: ClampLevel(c.Level), Banned: c.Banned}, nil
}

// Level returns the coder's current level, MinLevel for unknown coders.
func (s *Service) Level(ctx context.Context, userID string) (int, error) {
	st, err := s.Standing(ctx, userID)
	if err != nil {
		return 0, err
	}
	return st.Level, nil
}
