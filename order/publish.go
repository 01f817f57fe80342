package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orderbot/ui"
)

var (
	ErrPersist         = errors.New("order: could not save order")
	ErrChannelNotFound = errors.New("order: announcement channel not found")
	ErrPublish         = errors.New("order: could not post announcement")
)

// PublishError carries which publish step failed. Order is set when the
// order row was stored before the failure.
type PublishError struct {
	Kind  error
	Order *Order
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *PublishError) Unwrap() []error { return []error{e.Kind, e.Err} }

// Publish stores the order as open and announces it in the channel mapped
// to its level, falling back to the default channel.
func (s *Service) Publish(ctx context.Context, o Order) (Order, error) {
	o.Status = StatusOpen
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now().UTC()
	}
	created, err := s.repo.Create(ctx, o)
	if err != nil {
		return Order{}, &PublishError{Kind: ErrPersist, Err: err}
	}

	channelID, messageID, err := s.announce(ctx, created)
	if err != nil {
		return created, &PublishError{Kind: kindOf(err), Order: &created, Err: err}
	}
	if err := s.repo.SetAnnouncement(ctx, created.ID, channelID, messageID); err != nil {
		return created, &PublishError{Kind: ErrPersist, Order: &created, Err: err}
	}
	created.ChannelID = channelID
	created.MessageID = messageID

	s.log.Info("order published", "order_id", created.ID, "level", created.Level, "channel_id", channelID, "message_id", messageID)
	return created, nil
}

func (s *Service) announce(ctx context.Context, o Order) (string, string, error) {
	msg := announcement(o)
	candidates := make([]string, 0, 2)
	if ch := s.cfg.LevelChannels[o.Level]; ch != "" {
		candidates = append(candidates, ch)
	}
	if s.cfg.DefaultChannel != "" && (len(candidates) == 0 || candidates[0] != s.cfg.DefaultChannel) {
		candidates = append(candidates, s.cfg.DefaultChannel)
	}
	if len(candidates) == 0 {
		return "", "", fmt.Errorf("%w: no channel for level %d", ErrChannelNotFound, o.Level)
	}

	var lastErr error
	for _, ch := range candidates {
		id, err := s.messenger.Send(ctx, ch, msg)
		if err == nil {
			return ch, id, nil
		}
		if !errors.Is(err, ui.ErrUnknownChannel) {
			return "", "", fmt.Errorf("%w: %w", ErrPublish, err)
		}
		s.log.Warn("announcement channel unreachable", "order_id", o.ID, "channel_id", ch, "err", err)
		lastErr = err
	}
	return "", "", fmt.Errorf("%w: %w", ErrChannelNotFound, lastErr)
}

func kindOf(err error) error {
	if errors.Is(err, ErrChannelNotFound) {
		return ErrChannelNotFound
	}
	return ErrPublish
}

// retract deletes the announcement by its stored reference, falling back to
// scanning recent messages in every publication channel for the order id.
func (s *Service) retract(ctx context.Context, o Order) error {
	if o.ChannelID != "" && o.MessageID != "" {
		err := s.messenger.Delete(ctx, o.ChannelID, o.MessageID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ui.ErrUnknownMessage), errors.Is(err, ui.ErrUnknownChannel):
			s.log.Warn("stored announcement reference is stale", "order_id", o.ID, "message_id", o.MessageID)
		default:
			return err
		}
	}
	return s.scanDeleted(ctx, o)
}

// scanDeleted removes any recent message that references o.ID. Finding
// nothing is not an error.
func (s *Service) scanDeleted(ctx context.Context, o Order) error {
	var errs []error
	for _, ch := range s.publicationChannels(o.ChannelID) {
		posted, err := s.messenger.Recent(ctx, ch, recentScanLimit)
		if err != nil {
			if !errors.Is(err, ui.ErrUnknownChannel) {
				errs = append(errs, fmt.Errorf("scan %s: %w", ch, err))
			}
			continue
		}
		for _, p := range posted {
			if !references(p, o.ID) {
				continue
			}
			if err := s.messenger.Delete(ctx, ch, p.ID); err != nil && !errors.Is(err, ui.ErrUnknownMessage) {
				errs = append(errs, err)
				continue
			}
			s.log.Info("announcement retracted by scan", "order_id", o.ID, "channel_id", ch, "message_id", p.ID)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) publicationChannels(first string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(s.cfg.LevelChannels)+2)
	add := func(ch string) {
		if ch != "" && !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	add(first)
	for level := 1; level <= 6; level++ {
		add(s.cfg.LevelChannels[level])
	}
	add(s.cfg.DefaultChannel)
	return out
}

func references(p ui.Posted, orderID string) bool {
	if strings.Contains(p.Content, orderID) {
		return true
	}
	for _, e := range p.Embeds {
		if strings.Contains(e.Footer, orderID) || strings.Contains(e.Title, orderID) {
			return true
		}
		for _, f := range e.Fields {
			if strings.Contains(f.Value, orderID) {
				return true
			}
		}
	}
	return false
}
