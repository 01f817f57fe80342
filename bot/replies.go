package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"orderbot/auth"
	"orderbot/coder"
	"orderbot/order"
	"orderbot/session"
	"orderbot/ui"
	"orderbot/wizard"
)

const (
	CmdAdd           = "add"
	CmdCancel        = "cancel"
	CmdProfile       = "profile"
	CmdLeaderboard   = "leaderboard"
	CmdAdminComplete = "admin-complete"

	OptUser    = "user"
	OptOrderID = "order_id"
)

const leaderboardSize = 10

const genericFailure = "Something went wrong. Your order draft was discarded; run /add to start again."

type OptionSpec struct {
	Name        string
	Description string
	Required    bool
	// User marks an option that takes a member instead of text.
	User bool
}

type CommandSpec struct {
	Name        string
	Description string
	Options     []OptionSpec
}

// Commands lists the slash commands the gateway registers.
var Commands = []CommandSpec{
	{Name: CmdAdd, Description: "Create a new order"},
	{Name: CmdCancel, Description: "Cancel the order you are creating"},
	{Name: CmdProfile, Description: "Show a coder's level and XP", Options: []OptionSpec{
		{Name: OptUser, Description: "Coder to show (defaults to you)", User: true},
	}},
	{Name: CmdLeaderboard, Description: "Show the top coders"},
	{Name: CmdAdminComplete, Description: "Mark an assigned order as completed", Options: []OptionSpec{
		{Name: OptOrderID, Description: "Order ID", Required: true},
	}},
}

func isValidation(err error) bool {
	var verr *wizard.ValidationError
	return errors.As(err, &verr)
}

// userError is the text shown for err, or empty for errors the user should
// only see as a generic failure.
func userError(err error) string {
	var (
		verr     *wizard.ValidationError
		cooldown *order.CooldownError
		publish  *order.PublishError
	)
	switch {
	case errors.As(err, &verr):
		return "Invalid " + strings.ReplaceAll(verr.Field, "_", " ") + ": " + verr.Reason + "."
	case errors.As(err, &cooldown):
		return fmt.Sprintf("You already requested verification. Try again in %d hours.", cooldown.Hours())
	case errors.As(err, &publish):
		return publishFailure(publish)
	case errors.Is(err, wizard.ErrNoSession):
		return "You have no order in progress. Run /add to start one."
	case errors.Is(err, wizard.ErrSessionExists), errors.Is(err, session.ErrExists):
		return "You already have an order in progress. Finish it or run /cancel first."
	case errors.Is(err, wizard.ErrStaleStep):
		return "That step is already done. Use the latest prompt."
	case errors.Is(err, wizard.ErrNotAdmin):
		return "Only administrators can create orders."
	case errors.Is(err, wizard.ErrWrongChannel):
		return "Continue in the channel where you started the order."
	case errors.Is(err, wizard.ErrExpired):
		return "This preview expired. Run /add to start again."
	case errors.Is(err, order.ErrNotFound):
		return "Order not found."
	case errors.Is(err, order.ErrForbidden):
		return "You are not allowed to do that."
	case errors.Is(err, order.ErrCoderBusy):
		return "You are already working on another order. Complete it first."
	case errors.Is(err, order.ErrBanned):
		return "You are banned from taking orders."
	case errors.Is(err, order.ErrLevelTooLow):
		return "Your level is too low for this order."
	case errors.Is(err, order.ErrNotAssignee):
		return "Only the assigned coder can do that."
	case errors.Is(err, order.ErrInvalidTransition):
		return "This order is no longer available for that action."
	case errors.Is(err, order.ErrInvalidRating):
		return "Ratings go from 0 to 5."
	case errors.Is(err, coder.ErrAlreadyRated):
		return "This coder was already rated for this order."
	case errors.Is(err, order.ErrSideEffect):
		return "Done, but some follow-up messages could not be posted. Check the order channel."
	}
	return ""
}

func publishFailure(e *order.PublishError) string {
	id := ""
	if e.Order != nil {
		id = e.Order.ID
	}
	switch {
	case errors.Is(e, order.ErrPersist) && id == "":
		return "The order could not be saved. Nothing was published; run /add to try again."
	case errors.Is(e, order.ErrPersist):
		return "Order " + id + " was announced but its announcement reference could not be saved. Cancelling it may leave the post behind."
	case errors.Is(e, order.ErrChannelNotFound):
		return "Order " + id + " was saved but no announcement channel could be found. Ask an administrator to check the channel settings."
	default:
		return "Order " + id + " was saved but could not be announced."
	}
}

// fail produces the single reply for a rejected action. Errors without a
// specific message are dependency failures: they are logged in full and
// the user's wizard session is dropped.
func (h *Handler) fail(p auth.Principal, err error) ui.Reply {
	if msg := userError(err); msg != "" {
		if errors.Is(err, order.ErrSideEffect) || errors.Is(err, order.ErrPersist) || errors.Is(err, order.ErrPublish) || errors.Is(err, order.ErrChannelNotFound) {
			h.log.Error("action partially failed", "user_id", p.UserID, "err", err)
		} else {
			h.log.Debug("action rejected", "user_id", p.UserID, "err", err)
		}
		return ui.Say(msg)
	}
	h.log.Error("action failed", "user_id", p.UserID, "err", err)
	h.wizard.Abort(p.UserID)
	return ui.Say(genericFailure)
}

func profileMessage(p coder.Profile) ui.Message {
	c := p.Coder
	e := ui.Embed{
		Title:       "Coder profile",
		Description: ui.UserMention(c.UserID),
		Color:       ui.ColorInfo,
		Fields: []ui.EmbedField{
			{Name: "Level", Value: strconv.Itoa(c.Level), Inline: true},
			{Name: "XP", Value: strconv.FormatInt(c.XP, 10), Inline: true},
			{Name: "Completed orders", Value: strconv.Itoa(c.CompletedOrders), Inline: true},
		},
	}
	if p.NextLevelXP > 0 {
		e.Fields = append(e.Fields, ui.EmbedField{Name: "Progress", Value: fmt.Sprintf("%.1f%% toward %d XP", p.Progress, p.NextLevelXP)})
	} else {
		e.Fields = append(e.Fields, ui.EmbedField{Name: "Progress", Value: "Top level reached"})
	}
	if c.Banned {
		e.Color = ui.ColorDanger
		e.Fields = append(e.Fields, ui.EmbedField{Name: "Status", Value: "Banned"})
	}
	if c.Busy() {
		e.Fields = append(e.Fields, ui.EmbedField{Name: "Working on", Value: c.ActiveOrderID})
	}
	if len(p.Ratings) > 0 {
		lines := make([]string, 0, len(p.Ratings))
		for _, r := range p.Ratings {
			lines = append(lines, fmt.Sprintf("%s: %d/5, +%d XP (%s)", r.ProjectID, r.Rating, r.XPEarned, outcomeLabel(r.Status)))
		}
		e.Fields = append(e.Fields, ui.EmbedField{Name: "Recent ratings", Value: strings.Join(lines, "\n")})
	}
	if !p.Known {
		e.Footer = "No rated orders yet."
	}
	return ui.Message{Embeds: []ui.Embed{e}, Ephemeral: true}
}

func leaderboardMessage(top []coder.Coder) ui.Message {
	if len(top) == 0 {
		return ui.Message{Content: "No coders have been rated yet.", Ephemeral: true}
	}
	lines := make([]string, 0, len(top))
	for i, c := range top {
		lines = append(lines, fmt.Sprintf("%d. %s level %d, %d XP, %d orders", i+1, ui.UserMention(c.UserID), c.Level, c.XP, c.CompletedOrders))
	}
	return ui.Message{
		Embeds: []ui.Embed{{Title: "Leaderboard", Description: strings.Join(lines, "\n"), Color: ui.ColorInfo}},
	}
}

func ratedMessage(r coder.Rated) ui.Message {
	rec := r.Record
	text := fmt.Sprintf("%s rated %d/5 for order **%s**: +%d XP. ", ui.UserMention(rec.CoderID), rec.Rating, rec.ProjectID, rec.XPEarned)
	switch rec.Status {
	case coder.OutcomeLevelUp:
		text += fmt.Sprintf("Level up to %d!", rec.LevelAfter)
	case coder.OutcomeLevelDown:
		text += fmt.Sprintf("Demoted to level %d.", rec.LevelAfter)
	case coder.OutcomeBanned:
		text += "The coder is banned from further orders."
	default:
		text += fmt.Sprintf("Level %d, %.1f%% to the next level.", rec.LevelAfter, r.Result.Progress)
	}
	return ui.Message{Content: text}
}

func outcomeLabel(o coder.Outcome) string {
	return strings.ToLower(strings.ReplaceAll(string(o), "_", " "))
}
