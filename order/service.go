package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"orderbot/auth"
	"orderbot/coder"
	"orderbot/ui"
)

var (
	ErrLevelTooLow   = errors.New("order: coder level too low")
	ErrBanned        = errors.New("order: coder is banned")
	ErrNotAssignee   = errors.New("order: coder is not assigned to this order")
	ErrInvalidRating = errors.New("order: rating must be between 0 and 5")
	ErrSideEffect    = errors.New("order: follow-up step failed")
)

// SideEffectError reports a chat-side step that failed after the order
// change was already stored.
type SideEffectError struct {
	Step string
	Err  error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("order: %s: %v", e.Step, e.Err)
}

func (e *SideEffectError) Unwrap() []error { return []error{ErrSideEffect, e.Err} }

// Messenger posts and manages messages in channels.
type Messenger interface {
	Send(ctx context.Context, channelID string, msg ui.Message) (string, error)
	Edit(ctx context.Context, channelID, messageID string, msg ui.Message) error
	Delete(ctx context.Context, channelID, messageID string) error
	Recent(ctx context.Context, channelID string, limit int) ([]ui.Posted, error)
}

// Workspace manages per-order collaboration channels.
type Workspace interface {
	CreatePrivateChannel(ctx context.Context, name string, memberIDs ...string) (string, error)
	// Archive moves the channel under group and removes revokeUserID's access.
	Archive(ctx context.Context, channelID, group, revokeUserID string) error
}

// Rater is the XP engine front the lifecycle reports ratings to.
type Rater interface {
	Standing(ctx context.Context, userID string) (coder.Standing, error)
	Rate(ctx context.Context, params coder.RateParams) (coder.Rated, error)
}

type Config struct {
	LevelChannels        map[int]string
	DefaultChannel       string
	MentionRoleIDs       []string
	ArchivePrefix        string
	VerificationCooldown time.Duration
}

// recentScanLimit bounds the fallback search for a lost announcement.
const recentScanLimit = 100

type Service struct {
	repo        Repository
	coders      Rater
	messenger   Messenger
	workspace   Workspace
	cfg         Config
	log         *slog.Logger
	idGenerator func() string
	now         func() time.Time
}

func NewService(repo Repository, coders Rater, messenger Messenger, workspace Workspace, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.VerificationCooldown <= 0 {
		cfg.VerificationCooldown = 24 * time.Hour
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "archive"
	}
	s := &Service{
		repo:      repo,
		coders:    coders,
		messenger: messenger,
		workspace: workspace,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
	s.idGenerator = s.newID
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// NewID returns a fresh order id.
func (s *Service) NewID() string {
	return s.idGenerator()
}

// newID combines a nanosecond timestamp with random characters so ids are
// neither sequential nor shared between concurrent drafts.
func (s *Service) newID() string {
	stamp := strings.ToUpper(strconv.FormatInt(s.now().UnixNano(), 36))
	random := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return "ORD-" + stamp + "-" + random
}

func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.repo.Get(ctx, id)
}

// Accept assigns an open order to the acting coder.
func (s *Service) Accept(ctx context.Context, actor auth.Principal, orderID string) (Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusOpen {
		return Order{}, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}

	standing, err := s.coders.Standing(ctx, actor.UserID)
	if err != nil {
		return Order{}, fmt.Errorf("order: coder standing: %w", err)
	}
	if standing.Banned {
		return Order{}, ErrBanned
	}
	if standing.Level < o.Level {
		return Order{}, fmt.Errorf("%w: order needs level %d, coder is level %d", ErrLevelTooLow, o.Level, standing.Level)
	}

	assigned, err := s.repo.Assign(ctx, AssignParams{OrderID: orderID, CoderID: actor.UserID, At: s.now().UTC()})
	if err != nil {
		return Order{}, err
	}
	s.log.Info("order assigned", "order_id", assigned.ID, "coder_id", actor.UserID)

	var failures []error
	channelID, err := s.workspace.CreatePrivateChannel(ctx, privateChannelName(assigned.ID), assigned.AssignedTo, assigned.AdminID)
	if err != nil {
		failures = append(failures, &SideEffectError{Step: "create private channel", Err: err})
	} else {
		assigned.PrivateChannelID = channelID
		if err := s.repo.SetPrivateChannel(ctx, assigned.ID, channelID); err != nil {
			failures = append(failures, &SideEffectError{Step: "store private channel", Err: err})
		}
		if _, err := s.messenger.Send(ctx, channelID, welcomeMessage(assigned)); err != nil {
			failures = append(failures, &SideEffectError{Step: "post welcome", Err: err})
		}
	}
	if assigned.MessageID != "" {
		if err := s.messenger.Edit(ctx, assigned.ChannelID, assigned.MessageID, takenAnnouncement(assigned)); err != nil {
			failures = append(failures, &SideEffectError{Step: "mark announcement taken", Err: err})
		}
	}
	return assigned, s.report(assigned.ID, failures)
}

// Complete finishes an assigned order on behalf of its coder, its owning
// admin or any administrator.
func (s *Service) Complete(ctx context.Context, actor auth.Principal, orderID string) (Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusAssigned {
		return Order{}, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}
	if actor.UserID != o.AssignedTo && actor.UserID != o.AdminID && !actor.IsAdmin {
		return Order{}, ErrForbidden
	}
	return s.complete(ctx, actor, o)
}

// AdminComplete is the administrator override for Complete.
func (s *Service) AdminComplete(ctx context.Context, actor auth.Principal, orderID string) (Order, error) {
	if !actor.IsAdmin {
		return Order{}, ErrForbidden
	}
	return s.Complete(ctx, actor, orderID)
}

func (s *Service) complete(ctx context.Context, actor auth.Principal, o Order) (Order, error) {
	now := s.now().UTC()
	done, err := s.repo.Finish(ctx, FinishParams{
		OrderID: o.ID,
		ActorID: actor.UserID,
		From:    []Status{StatusAssigned},
		To:      StatusCompleted,
		At:      now,
		Credit:  actor.UserID == o.AssignedTo,
	})
	if err != nil {
		return Order{}, err
	}
	s.log.Info("order completed", "order_id", done.ID, "actor_id", actor.UserID, "coder_id", done.AssignedTo)

	var failures []error
	if done.PrivateChannelID != "" {
		if _, err := s.messenger.Send(ctx, done.PrivateChannelID, ui.Message{
			Content: fmt.Sprintf("Order **%s** marked as completed by %s.", done.ID, ui.UserMention(actor.UserID)),
		}); err != nil {
			failures = append(failures, &SideEffectError{Step: "post completion notice", Err: err})
		}
		if err := s.workspace.Archive(ctx, done.PrivateChannelID, s.archiveGroup(now), done.AssignedTo); err != nil {
			failures = append(failures, &SideEffectError{Step: "archive private channel", Err: err})
		}
	}
	return done, s.report(done.ID, failures)
}

// Cancel withdraws an open or assigned order. Only the owning admin or an
// administrator may cancel.
func (s *Service) Cancel(ctx context.Context, actor auth.Principal, orderID string) (Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if actor.UserID != o.AdminID && !actor.IsAdmin {
		return Order{}, ErrForbidden
	}
	if o.Status.Terminal() {
		return Order{}, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}

	now := s.now().UTC()
	cancelled, err := s.repo.Finish(ctx, FinishParams{
		OrderID: o.ID,
		ActorID: actor.UserID,
		From:    []Status{StatusOpen, StatusAssigned},
		To:      StatusCancelled,
		At:      now,
	})
	if err != nil {
		return Order{}, err
	}
	s.log.Info("order cancelled", "order_id", cancelled.ID, "actor_id", actor.UserID)

	var failures []error
	if err := s.retract(ctx, cancelled); err != nil {
		failures = append(failures, &SideEffectError{Step: "retract announcement", Err: err})
	}
	if cancelled.PrivateChannelID != "" {
		if _, err := s.messenger.Send(ctx, cancelled.PrivateChannelID, ui.Message{
			Content: fmt.Sprintf("Order **%s** was cancelled by %s. This channel is being archived.", cancelled.ID, ui.UserMention(actor.UserID)),
		}); err != nil {
			failures = append(failures, &SideEffectError{Step: "post cancellation notice", Err: err})
		}
		if err := s.workspace.Archive(ctx, cancelled.PrivateChannelID, s.archiveGroup(now), cancelled.AssignedTo); err != nil {
			failures = append(failures, &SideEffectError{Step: "archive private channel", Err: err})
		}
	}
	return cancelled, s.report(cancelled.ID, failures)
}

// RequestVerification lets the assigned coder ask administrators to check
// their work, at most once per cooldown window.
func (s *Service) RequestVerification(ctx context.Context, actor auth.Principal, orderID string) (Order, error) {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusAssigned {
		return Order{}, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}
	if actor.UserID != o.AssignedTo {
		return Order{}, ErrForbidden
	}

	now := s.now().UTC()
	stamped, err := s.repo.TouchVerification(ctx, orderID, actor.UserID, now, now.Add(-s.cfg.VerificationCooldown))
	if err != nil {
		var cd *CooldownError
		if errors.As(err, &cd) {
			cd.Remaining = cd.Last.Add(s.cfg.VerificationCooldown).Sub(now)
		}
		return Order{}, err
	}

	target := stamped.PrivateChannelID
	if target == "" {
		target = stamped.ChannelID
	}
	if _, err := s.messenger.Send(ctx, target, verificationMessage(stamped, s.cfg.MentionRoleIDs)); err != nil {
		return stamped, s.report(stamped.ID, []error{&SideEffectError{Step: "post verification request", Err: err}})
	}
	return stamped, nil
}

type RateParams struct {
	OrderID string
	CoderID string
	Rating  int
}

// Rate records an administrator's rating of the order's coder. An order
// still assigned is completed first.
func (s *Service) Rate(ctx context.Context, actor auth.Principal, params RateParams) (coder.Rated, error) {
	if !actor.IsAdmin {
		return coder.Rated{}, ErrForbidden
	}
	if params.Rating < coder.MinRating || params.Rating > coder.MaxRating {
		return coder.Rated{}, ErrInvalidRating
	}

	o, err := s.repo.Get(ctx, params.OrderID)
	if err != nil {
		return coder.Rated{}, err
	}
	if o.AssignedTo == "" || o.AssignedTo != params.CoderID {
		return coder.Rated{}, ErrNotAssignee
	}

	switch o.Status {
	case StatusAssigned:
		done, err := s.complete(ctx, actor, o)
		switch {
		case err == nil, errors.Is(err, ErrSideEffect):
			if err != nil {
				s.log.Warn("rating continued after completion side effects failed", "order_id", o.ID, "err", err)
			}
			o = done
		case errors.Is(err, ErrInvalidTransition):
			// someone else completed it concurrently
			if o, err = s.repo.Get(ctx, params.OrderID); err != nil {
				return coder.Rated{}, err
			}
			if o.Status != StatusCompleted {
				return coder.Rated{}, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
			}
		default:
			return coder.Rated{}, err
		}
	case StatusCompleted:
	default:
		return coder.Rated{}, fmt.Errorf("%w: order is %s", ErrInvalidTransition, o.Status)
	}

	return s.coders.Rate(ctx, coder.RateParams{
		ProjectID:    o.ID,
		CoderID:      params.CoderID,
		AdminID:      actor.UserID,
		ProjectLevel: o.Level,
		Rating:       params.Rating,
	})
}

// ListAssignedDue returns assigned orders whose deadline is on or before day.
func (s *Service) ListAssignedDue(ctx context.Context, day time.Time) ([]Order, error) {
	return s.repo.List(ctx, Filters{Status: StatusAssigned, DeadlineBefore: &day, Limit: 500})
}

func (s *Service) archiveGroup(now time.Time) string {
	return s.cfg.ArchivePrefix + "-" + now.Format("2006-01")
}

func (s *Service) report(orderID string, failures []error) error {
	if len(failures) == 0 {
		return nil
	}
	err := errors.Join(failures...)
	s.log.Error("order follow-up failed", "order_id", orderID, "err", err)
	return err
}

func privateChannelName(orderID string) string {
	return "order-" + strings.ToLower(orderID)
}
