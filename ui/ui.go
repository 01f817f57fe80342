// Package ui holds the transport-neutral presentation model the bot renders:
// messages with embeds, buttons and select menus, plus modal forms. The chat
// gateway adapter translates these into platform components.
package ui

import "errors"

var (
	ErrUnknownChannel = errors.New("ui: unknown channel")
	ErrUnknownMessage = errors.New("ui: unknown message")
)

// Platform limits.
const (
	MaxMenuOptions = 25
	MaxFormFields  = 5
)

type Style int

const (
	StylePrimary Style = iota + 1
	StyleSecondary
	StyleSuccess
	StyleDanger
)

const (
	ColorInfo    = 0x5865F2
	ColorSuccess = 0x57F287
	ColorWarning = 0xFEE75C
	ColorDanger  = 0xED4245
	ColorMuted   = 0x99AAB5
)

type Button struct {
	Label    string
	Style    Style
	ID       string
	Disabled bool
}

type Option struct {
	Label       string
	Value       string
	Description string
	Default     bool
}

type Menu struct {
	ID          string
	Placeholder string
	Options     []Option
	MinValues   int
	MaxValues   int
}

type Field struct {
	ID          string
	Label       string
	Value       string
	Placeholder string
	Paragraph   bool
	Required    bool
	MaxLength   int
}

type Form struct {
	ID     string
	Title  string
	Fields []Field
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title       string
	Description string
	Color       int
	Fields      []EmbedField
	Footer      string
}

// Message is a structured prompt or announcement. Buttons render in rows of five;
// each menu takes its own row.
type Message struct {
	Content   string
	Embeds    []Embed
	Buttons   []Button
	Menus     []Menu
	Ephemeral bool
}

// Reply is the answer to one inbound interaction. Exactly one of Message or
// Form is set. Update replaces the message the interaction originated from
// instead of sending a new one.
type Reply struct {
	Message *Message
	Form    *Form
	Update  bool
}

func Say(text string) Reply {
	return Reply{Message: &Message{Content: text, Ephemeral: true}}
}

func Show(msg Message) Reply {
	return Reply{Message: &msg}
}

func Replace(msg Message) Reply {
	return Reply{Message: &msg, Update: true}
}

func Open(form Form) Reply {
	return Reply{Form: &form}
}

// Posted is a message read back from a channel.
type Posted struct {
	ID      string
	Content string
	Embeds  []Embed
}

// RoleMention returns text that pings every member of the role.
func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

func UserMention(userID string) string {
	return "<@" + userID + ">"
}

func ChannelMention(channelID string) string {
	return "<#" + channelID + ">"
}
