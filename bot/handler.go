// Package bot routes slash commands, component interactions and plain
// messages to the order wizard, the order lifecycle and the coder profiles.
// Every event produces exactly one reply.
package bot

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"

	"orderbot/action"
	"orderbot/auth"
	"orderbot/coder"
	"orderbot/order"
	"orderbot/ui"
	"orderbot/wizard"
)

// Orders is the lifecycle surface the handler drives.
type Orders interface {
	Accept(ctx context.Context, actor auth.Principal, orderID string) (order.Order, error)
	Complete(ctx context.Context, actor auth.Principal, orderID string) (order.Order, error)
	AdminComplete(ctx context.Context, actor auth.Principal, orderID string) (order.Order, error)
	Cancel(ctx context.Context, actor auth.Principal, orderID string) (order.Order, error)
	RequestVerification(ctx context.Context, actor auth.Principal, orderID string) (order.Order, error)
	Rate(ctx context.Context, actor auth.Principal, params order.RateParams) (coder.Rated, error)
}

type Profiles interface {
	Profile(ctx context.Context, userID string) (coder.Profile, error)
	Leaderboard(ctx context.Context, limit int) ([]coder.Coder, error)
}

// Event is one component click, menu selection or form submission.
type Event struct {
	Principal auth.Principal
	CustomID  string
	// Values holds select menu choices.
	Values []string
	// Fields holds submitted form values keyed by field id.
	Fields map[string]string
	// Origin references the message the component belongs to.
	Origin any
}

type Handler struct {
	wizard   *wizard.Machine
	orders   Orders
	profiles Profiles
	log      *slog.Logger
}

func NewHandler(w *wizard.Machine, orders Orders, profiles Profiles, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{wizard: w, orders: orders, profiles: profiles, log: log}
}

// Command handles a slash command.
func (h *Handler) Command(ctx context.Context, p auth.Principal, name string, options map[string]string) (reply ui.Reply) {
	defer h.rescue(p, "command", &reply)

	switch name {
	case CmdAdd:
		r, err := h.wizard.Start(ctx, p)
		if err != nil {
			return h.fail(p, err)
		}
		return r
	case CmdCancel:
		r, err := h.wizard.Cancel(ctx, p)
		if err != nil {
			return h.fail(p, err)
		}
		r.Update = false
		return r
	case CmdProfile:
		userID := p.UserID
		if u := strings.TrimSpace(options[OptUser]); u != "" {
			userID = u
		}
		prof, err := h.profiles.Profile(ctx, userID)
		if err != nil {
			return h.fail(p, err)
		}
		return ui.Show(profileMessage(prof))
	case CmdLeaderboard:
		top, err := h.profiles.Leaderboard(ctx, leaderboardSize)
		if err != nil {
			return h.fail(p, err)
		}
		return ui.Show(leaderboardMessage(top))
	case CmdAdminComplete:
		o, err := h.orders.AdminComplete(ctx, p, strings.TrimSpace(options[OptOrderID]))
		if err != nil {
			return h.fail(p, err)
		}
		return ui.Say("Order " + o.ID + " marked as completed.")
	}
	return ui.Say("Unknown command.")
}

// Text offers a plain message to the sender's wizard session. handled is
// false when the message is not wizard input.
func (h *Handler) Text(ctx context.Context, p auth.Principal, text string) (reply ui.Reply, handled bool) {
	defer func() {
		if r := recover(); r != nil {
			reply, handled = h.panicked(p, "text", r), true
		}
	}()

	r, handled, err := h.wizard.HandleText(ctx, p, text)
	if !handled {
		return ui.Reply{}, false
	}
	if err != nil {
		r = h.fail(p, err)
	}
	// a typed message has no component to update in place
	r.Update = false
	if r.Message != nil {
		r.Message.Ephemeral = false
	}
	return r, true
}

// Interact handles a component or form event.
func (h *Handler) Interact(ctx context.Context, ev Event) (reply ui.Reply) {
	p := ev.Principal
	defer h.rescue(p, ev.CustomID, &reply)

	act, err := action.Decode(ev.CustomID)
	if err != nil {
		h.log.Warn("unknown interaction", "user_id", p.UserID, "custom_id", ev.CustomID)
		return ui.Say("This button is no longer supported.")
	}

	r, err := h.dispatch(ctx, ev, act)
	if err != nil {
		if isValidation(err) {
			switch act.(type) {
			case action.SubmitInitial:
				return wizard.InvalidInitialReply(userError(err))
			case action.SubmitPreview:
				return wizard.InvalidPreviewReply(userError(err))
			}
		}
		return h.fail(p, err)
	}
	return r
}

func (h *Handler) dispatch(ctx context.Context, ev Event, act action.Action) (ui.Reply, error) {
	p := ev.Principal
	m := h.wizard
	switch a := act.(type) {
	case action.SubmitInitial:
		return m.SubmitInitial(ctx, p, ev.Fields)
	case action.ReopenInitial:
		return m.Reopen(ctx, p)
	case action.PickYear:
		return m.PickYear(ctx, p, first(ev.Values))
	case action.PickMonth:
		return m.PickMonth(ctx, p, first(ev.Values))
	case action.PickDay:
		return m.PickDay(ctx, p, a.Part, first(ev.Values))
	case action.ConfirmDate:
		return m.ConfirmDate(ctx, p)
	case action.SkipDate:
		return m.SkipDate(ctx, p)
	case action.PickCategory:
		return m.PickCategory(ctx, p, first(ev.Values))
	case action.PickRoles:
		return m.PickRoles(ctx, p, a.Category, ev.Values)
	case action.BackToCategory:
		return m.BackToCategory(ctx, p)
	case action.ConfirmRoles:
		return m.ConfirmRoles(ctx, p)
	case action.SkipRoles:
		return m.SkipRoles(ctx, p)
	case action.PickLevel:
		return m.PickLevel(ctx, p, first(ev.Values))
	case action.OpenPreview:
		return m.OpenPreview(ctx, p)
	case action.SubmitPreview:
		return m.SubmitPreview(ctx, p, ev.Fields, ev.Origin)
	case action.PublishDraft:
		o, err := m.Publish(ctx, p)
		if err != nil {
			return ui.Reply{}, err
		}
		return ui.Replace(ui.Message{
			Content:   "Order **" + o.ID + "** published in " + ui.ChannelMention(o.ChannelID) + ".",
			Ephemeral: true,
		}), nil
	case action.CancelDraft:
		return m.Cancel(ctx, p)

	case action.AcceptOrder:
		o, err := h.orders.Accept(ctx, p, a.OrderID)
		if err != nil {
			return ui.Reply{}, err
		}
		return ui.Say("You accepted order **" + o.ID + "**. Continue in " + ui.ChannelMention(o.PrivateChannelID) + "."), nil
	case action.CompleteOrder:
		o, err := h.orders.Complete(ctx, p, a.OrderID)
		if err != nil {
			return ui.Reply{}, err
		}
		return ui.Say("Order **" + o.ID + "** marked as completed."), nil
	case action.RequestVerification:
		if _, err := h.orders.RequestVerification(ctx, p, a.OrderID); err != nil {
			return ui.Reply{}, err
		}
		return ui.Say("Verification requested. An administrator will review your work."), nil
	case action.CancelOrder:
		o, err := h.orders.Cancel(ctx, p, a.OrderID)
		if err != nil {
			return ui.Reply{}, err
		}
		return ui.Say("Order **" + o.ID + "** cancelled."), nil
	case action.RateProject:
		rated, err := h.orders.Rate(ctx, p, order.RateParams{OrderID: a.OrderID, CoderID: a.CoderID, Rating: a.Rating})
		if err != nil {
			return ui.Reply{}, err
		}
		return ui.Show(ratedMessage(rated)), nil
	}
	return ui.Reply{}, action.ErrUnknownAction
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// rescue turns a panic into the generic failure reply and drops the
// user's wizard session so /add works again.
func (h *Handler) rescue(p auth.Principal, what string, reply *ui.Reply) {
	if r := recover(); r != nil {
		*reply = h.panicked(p, what, r)
	}
}

func (h *Handler) panicked(p auth.Principal, what string, r any) ui.Reply {
	h.log.Error("interaction panicked", "user_id", p.UserID, "event", what, "panic", r, "stack", string(debug.Stack()))
	h.wizard.Abort(p.UserID)
	return ui.Say(genericFailure)
}
