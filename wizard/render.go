package wizard

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"orderbot/action"
	"orderbot/order"
	"orderbot/skill"
	"orderbot/ui"
)

const dateLayout = order.DateLayout

func initialForm(prefill Draft) ui.Form {
	return ui.Form{
		ID:    action.Encode(action.SubmitInitial{}),
		Title: "New order",
		Fields: []ui.Field{
			{ID: FieldClient, Label: "Client name", Value: prefill.ClientName, Required: true, MaxLength: maxClientLen},
			{ID: FieldCompensation, Label: "Compensation", Value: prefill.Compensation, Placeholder: "e.g. 50$", Required: true, MaxLength: maxCompensationLen},
			{ID: FieldDescription, Label: "Description", Value: prefill.Description, Paragraph: true, Required: true, MaxLength: maxDescriptionLen},
		},
	}
}

func previewForm(d Draft) ui.Form {
	names := make([]string, 0, len(d.RequiredRoles))
	for _, r := range d.RequiredRoles {
		names = append(names, r.Name)
	}
	return ui.Form{
		ID:    action.Encode(action.SubmitPreview{}),
		Title: "Review order",
		Fields: []ui.Field{
			{ID: FieldClient, Label: "Client name", Value: d.ClientName, Required: true, MaxLength: maxClientLen},
			{ID: FieldCompensation, Label: "Compensation", Value: d.Compensation, Required: true, MaxLength: maxCompensationLen},
			{ID: FieldDescription, Label: "Description", Value: d.Description, Paragraph: true, Required: true, MaxLength: maxDescriptionLen},
			{ID: FieldTags, Label: "Tags (comma separated)", Value: strings.Join(d.Tags, ", "), MaxLength: maxTagsLen},
			{ID: FieldRoles, Label: "Required roles (comma separated)", Value: strings.Join(names, ", "), Paragraph: true, MaxLength: maxRolesLen},
		},
	}
}

// InvalidInitialReply explains a rejected initial form and offers to reopen
// it with the typed values.
func InvalidInitialReply(msg string) ui.Reply {
	return ui.Show(ui.Message{
		Content:   msg,
		Ephemeral: true,
		Buttons: []ui.Button{
			{Label: "Reopen form", Style: ui.StylePrimary, ID: action.Encode(action.ReopenInitial{})},
			{Label: "Cancel", Style: ui.StyleDanger, ID: action.Encode(action.CancelDraft{})},
		},
	})
}

func datePrompt(sel DateSelection, deadline string, today time.Time) ui.Message {
	menus := []ui.Menu{{
		ID:          action.Encode(action.PickYear{}),
		Placeholder: "Year",
		Options:     intOptions(yearOptions(today), sel.Year, strconv.Itoa),
		MaxValues:   1,
	}}
	if sel.Year != 0 {
		menus = append(menus, ui.Menu{
			ID:          action.Encode(action.PickMonth{}),
			Placeholder: "Month",
			Options:     intOptions(monthOptions(sel.Year, today), sel.Month, func(m int) string { return time.Month(m).String() }),
			MaxValues:   1,
		})
	}
	if sel.Year != 0 && sel.Month != 0 {
		for i, chunk := range dayChunks(DayOptions(sel.Year, sel.Month, today)) {
			menus = append(menus, ui.Menu{
				ID:          action.Encode(action.PickDay{Part: i + 1}),
				Placeholder: fmt.Sprintf("Day %d-%d", chunk[0], chunk[len(chunk)-1]),
				Options:     intOptions(chunk, sel.Day, strconv.Itoa),
				MaxValues:   1,
			})
		}
	}

	content := "**Deadline.** Pick a year, month and day, type a date as YYYY-MM-DD, or skip."
	if deadline != "" {
		content += "\nSelected: **" + deadline + "**"
	}
	return ui.Message{
		Content:   content,
		Ephemeral: true,
		Menus:     menus,
		Buttons: []ui.Button{
			{Label: "Continue", Style: ui.StyleSuccess, ID: action.Encode(action.ConfirmDate{}), Disabled: deadline == ""},
			{Label: "Skip", Style: ui.StyleSecondary, ID: action.Encode(action.SkipDate{})},
			{Label: "Cancel", Style: ui.StyleDanger, ID: action.Encode(action.CancelDraft{})},
		},
	}
}

func intOptions(values []int, selected int, label func(int) string) []ui.Option {
	out := make([]ui.Option, 0, len(values))
	for _, v := range values {
		out = append(out, ui.Option{Label: label(v), Value: strconv.Itoa(v), Default: v == selected})
	}
	return out
}

func categoryPrompt(d Draft, note string) ui.Message {
	options := make([]ui.Option, 0, len(skill.Categories))
	for _, c := range skill.Categories {
		options = append(options, ui.Option{Label: c.Label(), Value: string(c)})
	}
	content := "**Required roles.** Choose a category to pick roles from, or skip."
	if len(d.RequiredRoles) > 0 {
		content += "\nSelected: " + roleNames(d.RequiredRoles)
	}
	if note != "" {
		content += "\n" + note
	}
	return ui.Message{
		Content:   content,
		Ephemeral: true,
		Menus:     []ui.Menu{{ID: action.Encode(action.PickCategory{}), Placeholder: "Category", Options: options, MaxValues: 1}},
		Buttons: []ui.Button{
			{Label: "Continue", Style: ui.StyleSuccess, ID: action.Encode(action.ConfirmRoles{})},
			{Label: "Skip", Style: ui.StyleSecondary, ID: action.Encode(action.SkipRoles{})},
			{Label: "Cancel", Style: ui.StyleDanger, ID: action.Encode(action.CancelDraft{})},
		},
	}
}

func rolesPrompt(cat skill.Category, roles []order.RoleRef, d Draft) ui.Message {
	options := make([]ui.Option, 0, len(roles))
	for _, r := range roles {
		selected := false
		for _, have := range d.RequiredRoles {
			if have.ID == r.ID && have.Name == r.Name {
				selected = true
			}
		}
		options = append(options, ui.Option{Label: r.Name, Value: roleValue(r), Default: selected})
	}
	return ui.Message{
		Content:   fmt.Sprintf("**%s.** Select the roles this order needs.", cat.Label()),
		Ephemeral: true,
		Menus: []ui.Menu{{
			ID:          action.Encode(action.PickRoles{Category: string(cat)}),
			Placeholder: "Roles",
			Options:     options,
			MinValues:   1,
			MaxValues:   len(options),
		}},
		Buttons: []ui.Button{
			{Label: "Back to categories", Style: ui.StyleSecondary, ID: action.Encode(action.BackToCategory{})},
			{Label: "Continue", Style: ui.StyleSuccess, ID: action.Encode(action.ConfirmRoles{})},
		},
	}
}

func levelPrompt() ui.Message {
	options := make([]ui.Option, 0, 6)
	for l := 1; l <= 6; l++ {
		o := ui.Option{Label: "Level " + strconv.Itoa(l), Value: strconv.Itoa(l)}
		if l == 6 {
			o.Description = "Restricted"
		}
		options = append(options, o)
	}
	return ui.Message{
		Content:   "**Difficulty.** Choose the order level, or type 1-6.",
		Ephemeral: true,
		Menus:     []ui.Menu{{ID: action.Encode(action.PickLevel{}), Placeholder: "Level", Options: options, MaxValues: 1}},
		Buttons:   []ui.Button{{Label: "Cancel", Style: ui.StyleDanger, ID: action.Encode(action.CancelDraft{})}},
	}
}

func reviewPrompt(note string) ui.Message {
	content := "Ready to review the order. Pick another level above to change it."
	if note != "" {
		content = note + "\n" + content
	}
	return ui.Message{
		Content:   content,
		Ephemeral: true,
		Buttons: []ui.Button{
			{Label: "Review order", Style: ui.StylePrimary, ID: action.Encode(action.OpenPreview{})},
			{Label: "Cancel", Style: ui.StyleDanger, ID: action.Encode(action.CancelDraft{})},
		},
	}
}

// InvalidPreviewReply explains a rejected review form and offers to reopen
// it with the typed values.
func InvalidPreviewReply(msg string) ui.Reply {
	return ui.Show(reviewPrompt(msg))
}

func previewMessage(o order.Order, note string, timeout time.Duration) ui.Message {
	content := fmt.Sprintf("Publish this order? The preview expires in %d minutes.", int(timeout.Minutes()))
	if note != "" {
		content = note + "\n" + content
	}
	return ui.Message{
		Content:   content,
		Ephemeral: true,
		Embeds:    []ui.Embed{order.Preview(o)},
		Buttons: []ui.Button{
			{Label: "Publish", Style: ui.StyleSuccess, ID: action.Encode(action.PublishDraft{})},
			{Label: "Cancel", Style: ui.StyleDanger, ID: action.Encode(action.CancelDraft{})},
		},
	}
}

// ExpiredPreview replaces a preview whose confirmation window closed.
func ExpiredPreview() ui.Message {
	return ui.Message{Content: "This preview expired. Run /add to start again.", Ephemeral: true}
}

func roleValue(r order.RoleRef) string {
	if r.ID != "" {
		return r.ID
	}
	return "name:" + r.Name
}

func roleNames(roles []order.RoleRef) string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return strings.Join(names, ", ")
}

const clampNotice = "Level 6 is restricted. The order was set to level 5."
