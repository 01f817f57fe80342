package order

import (
	"fmt"
	"strconv"
	"strings"

	"orderbot/action"
	"orderbot/ui"
)

const footerPrefix = "Order ID: "

func announcementEmbed(o Order) ui.Embed {
	fields := []ui.EmbedField{
		{Name: "Client", Value: o.ClientName, Inline: true},
		{Name: "Compensation", Value: o.Compensation, Inline: true},
		{Name: "Level", Value: strconv.Itoa(o.Level), Inline: true},
	}
	if d := o.DeadlineText(); d != "" {
		fields = append(fields, ui.EmbedField{Name: "Deadline", Value: d, Inline: true})
	}
	if len(o.RequiredRoles) > 0 {
		fields = append(fields, ui.EmbedField{Name: "Required roles", Value: roleList(o.RequiredRoles)})
	}
	if len(o.Tags) > 0 {
		fields = append(fields, ui.EmbedField{Name: "Tags", Value: strings.Join(o.Tags, ", ")})
	}
	return ui.Embed{
		Title:       "New order",
		Description: o.Description,
		Color:       ui.ColorInfo,
		Fields:      fields,
		Footer:      footerPrefix + o.ID,
	}
}

func announcement(o Order) ui.Message {
	return ui.Message{
		Embeds: []ui.Embed{announcementEmbed(o)},
		Buttons: []ui.Button{
			{Label: "Accept", Style: ui.StyleSuccess, ID: action.Encode(action.AcceptOrder{OrderID: o.ID})},
			{Label: "Cancel", Style: ui.StyleDanger, ID: action.Encode(action.CancelOrder{OrderID: o.ID})},
		},
	}
}

// Preview is the non-interactive rendering of a draft before publishing.
func Preview(o Order) ui.Embed {
	e := announcementEmbed(o)
	e.Title = "Order preview"
	e.Color = ui.ColorWarning
	return e
}

func takenAnnouncement(o Order) ui.Message {
	e := announcementEmbed(o)
	e.Title = "Order taken"
	e.Color = ui.ColorMuted
	e.Fields = append(e.Fields, ui.EmbedField{Name: "Assigned to", Value: ui.UserMention(o.AssignedTo)})
	return ui.Message{Embeds: []ui.Embed{e}}
}

func welcomeMessage(o Order) ui.Message {
	return ui.Message{
		Content: fmt.Sprintf("Welcome %s! %s will follow up here on order **%s**.",
			ui.UserMention(o.AssignedTo), ui.UserMention(o.AdminID), o.ID),
		Embeds: []ui.Embed{announcementEmbed(o)},
		Buttons: []ui.Button{
			{Label: "Mark complete", Style: ui.StyleSuccess, ID: action.Encode(action.CompleteOrder{OrderID: o.ID})},
			{Label: "Request verification", Style: ui.StylePrimary, ID: action.Encode(action.RequestVerification{OrderID: o.ID})},
		},
	}
}

func verificationMessage(o Order, mentionRoles []string) ui.Message {
	mentions := make([]string, 0, len(mentionRoles))
	for _, r := range mentionRoles {
		mentions = append(mentions, ui.RoleMention(r))
	}
	buttons := make([]ui.Button, 0, 6)
	for r := 0; r <= 5; r++ {
		style := ui.StyleSecondary
		if r == 0 {
			style = ui.StyleDanger
		}
		buttons = append(buttons, ui.Button{
			Label: strconv.Itoa(r),
			Style: style,
			ID:    action.Encode(action.RateProject{OrderID: o.ID, CoderID: o.AssignedTo, Rating: r}),
		})
	}
	return ui.Message{
		Content: strings.TrimSpace(fmt.Sprintf("%s %s requests verification of order **%s**. Rate the work from 0 to 5.",
			strings.Join(mentions, " "), ui.UserMention(o.AssignedTo), o.ID)),
		Buttons: buttons,
	}
}

// ReminderMessage nudges the coder about an approaching deadline.
func ReminderMessage(o Order) ui.Message {
	return ui.Message{
		Content: fmt.Sprintf("%s reminder: order **%s** is due on %s.", ui.UserMention(o.AssignedTo), o.ID, o.DeadlineText()),
	}
}

func roleList(roles []RoleRef) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		if r.ID != "" {
			parts = append(parts, ui.RoleMention(r.ID))
		} else {
			parts = append(parts, r.Name)
		}
	}
	return strings.Join(parts, ", ")
}
