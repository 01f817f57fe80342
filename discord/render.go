package discord

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"orderbot/ui"
)

const (
	maxRows          = 5
	maxButtonsPerRow = 5
)

var buttonStyles = map[ui.Style]discordgo.ButtonStyle{
	ui.StylePrimary:   discordgo.PrimaryButton,
	ui.StyleSecondary: discordgo.SecondaryButton,
	ui.StyleSuccess:   discordgo.SuccessButton,
	ui.StyleDanger:    discordgo.DangerButton,
}

// components lays out menus one per row followed by buttons in rows of
// five, dropping whatever does not fit in five rows.
func components(msg ui.Message) []discordgo.MessageComponent {
	rows := make([]discordgo.MessageComponent, 0, maxRows)
	for _, m := range msg.Menus {
		if len(rows) == maxRows {
			return rows
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{menu(m)}})
	}
	var row []discordgo.MessageComponent
	for _, b := range msg.Buttons {
		style, ok := buttonStyles[b.Style]
		if !ok {
			style = discordgo.SecondaryButton
		}
		row = append(row, discordgo.Button{Label: b.Label, Style: style, CustomID: b.ID, Disabled: b.Disabled})
		if len(row) == maxButtonsPerRow {
			if len(rows) == maxRows {
				return rows
			}
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 && len(rows) < maxRows {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}
	return rows
}

func menu(m ui.Menu) discordgo.SelectMenu {
	opts := m.Options
	if len(opts) > ui.MaxMenuOptions {
		opts = opts[:ui.MaxMenuOptions]
	}
	options := make([]discordgo.SelectMenuOption, 0, len(opts))
	for _, o := range opts {
		options = append(options, discordgo.SelectMenuOption{
			Label:       o.Label,
			Value:       o.Value,
			Description: o.Description,
			Default:     o.Default,
		})
	}
	maxValues := m.MaxValues
	if maxValues <= 0 {
		maxValues = 1
	}
	if maxValues > len(options) {
		maxValues = len(options)
	}
	minValues := m.MinValues
	return discordgo.SelectMenu{
		MenuType:    discordgo.StringSelectMenu,
		CustomID:    m.ID,
		Placeholder: m.Placeholder,
		MinValues:   &minValues,
		MaxValues:   maxValues,
		Options:     options,
	}
}

func embeds(in []ui.Embed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		me := &discordgo.MessageEmbed{Title: e.Title, Description: e.Description, Color: e.Color}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		out = append(out, me)
	}
	return out
}

// posted converts a fetched message back into the neutral model used by the
// announcement scan.
func posted(m *discordgo.Message) ui.Posted {
	p := ui.Posted{ID: m.ID, Content: m.Content}
	for _, e := range m.Embeds {
		ue := ui.Embed{Title: e.Title, Description: e.Description, Color: e.Color}
		for _, f := range e.Fields {
			ue.Fields = append(ue.Fields, ui.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.Footer != nil {
			ue.Footer = e.Footer.Text
		}
		p.Embeds = append(p.Embeds, ue)
	}
	return p
}

func messageSend(msg ui.Message) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     embeds(msg.Embeds),
		Components: components(msg),
	}
}

func responseData(msg ui.Message) *discordgo.InteractionResponseData {
	d := &discordgo.InteractionResponseData{
		Content:    msg.Content,
		Embeds:     embeds(msg.Embeds),
		Components: components(msg),
	}
	if msg.Ephemeral {
		d.Flags = discordgo.MessageFlagsEphemeral
	}
	return d
}

func modal(f ui.Form) *discordgo.InteractionResponseData {
	fields := f.Fields
	if len(fields) > ui.MaxFormFields {
		fields = fields[:ui.MaxFormFields]
	}
	rows := make([]discordgo.MessageComponent, 0, len(fields))
	for _, fl := range fields {
		style := discordgo.TextInputShort
		if fl.Paragraph {
			style = discordgo.TextInputParagraph
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.TextInput{
				CustomID:    fl.ID,
				Label:       fl.Label,
				Style:       style,
				Placeholder: fl.Placeholder,
				Value:       fl.Value,
				Required:    fl.Required,
				MaxLength:   fl.MaxLength,
			},
		}})
	}
	return &discordgo.InteractionResponseData{CustomID: f.ID, Title: f.Title, Components: rows}
}

// formValues flattens a submitted modal into field id to value.
func formValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	out := make(map[string]string)
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if in, ok := inner.(*discordgo.TextInput); ok {
				out[in.CustomID] = in.Value
			}
		}
	}
	return out
}

// classify maps platform errors onto the ui sentinels the services react to.
func classify(err error) error {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownChannel:
			return errors.Join(ui.ErrUnknownChannel, err)
		case discordgo.ErrCodeUnknownMessage:
			return errors.Join(ui.ErrUnknownMessage, err)
		}
	}
	if rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
		return errors.Join(ui.ErrUnknownMessage, err)
	}
	return err
}
