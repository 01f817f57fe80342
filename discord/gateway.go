// Package discord connects the bot to a Discord guild with discordgo. It
// implements the messaging, workspace and role directory surfaces the
// services depend on and feeds gateway events into the bot handler.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"orderbot/auth"
	"orderbot/bot"
	"orderbot/order"
	"orderbot/ui"
)

const privateMemberPerms = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionAttachFiles

type Config struct {
	Token           string
	AppID           string
	GuildID         string
	PrivateCategory string
	AdminRoleIDs    []string
}

type Gateway struct {
	s       *discordgo.Session
	cfg     Config
	policy  *auth.Policy
	handler *bot.Handler
	log     *slog.Logger
}

func New(cfg Config, policy *auth.Policy, log *slog.Logger) (*Gateway, error) {
	if log == nil {
		log = slog.Default()
	}
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: new session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	return &Gateway{s: s, cfg: cfg, policy: policy, log: log}, nil
}

// Attach sets the handler events are routed to. It must be called before Run.
func (g *Gateway) Attach(h *bot.Handler) {
	g.handler = h
}

// Run opens the gateway, registers the slash commands and blocks until ctx
// is done.
func (g *Gateway) Run(ctx context.Context) error {
	if g.handler == nil {
		return errors.New("discord: no handler attached")
	}
	g.s.AddHandler(g.onInteraction)
	g.s.AddHandler(g.onMessage)
	g.s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		g.log.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	if err := g.s.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	defer g.s.Close()

	if err := g.RegisterCommands(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	g.log.Info("discord gateway closing")
	return nil
}

func (g *Gateway) RegisterCommands(ctx context.Context) error {
	cmds := make([]*discordgo.ApplicationCommand, 0, len(bot.Commands))
	for _, c := range bot.Commands {
		ac := &discordgo.ApplicationCommand{Name: c.Name, Description: c.Description}
		for _, o := range c.Options {
			typ := discordgo.ApplicationCommandOptionString
			if o.User {
				typ = discordgo.ApplicationCommandOptionUser
			}
			ac.Options = append(ac.Options, &discordgo.ApplicationCommandOption{
				Type: typ, Name: o.Name, Description: o.Description, Required: o.Required,
			})
		}
		cmds = append(cmds, ac)
	}
	if _, err := g.s.ApplicationCommandBulkOverwrite(g.cfg.AppID, g.cfg.GuildID, cmds, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	g.log.Info("slash commands registered", "count", len(cmds))
	return nil
}

func (g *Gateway) principal(user *discordgo.User, member *discordgo.Member, channelID string) (auth.Principal, error) {
	var roles []string
	if member != nil {
		roles = member.Roles
		if user == nil {
			user = member.User
		}
	}
	if user == nil {
		return auth.Principal{}, auth.ErrMissingUser
	}
	return g.policy.Resolve(user.ID, user.Username, channelID, roles)
}

func (g *Gateway) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := g.principal(i.User, i.Member, i.ChannelID)
	if err != nil {
		g.log.Warn("interaction without user", "interaction_id", i.ID)
		return
	}

	var reply ui.Reply
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		opts := make(map[string]string, len(data.Options))
		for _, o := range data.Options {
			if o.Type == discordgo.ApplicationCommandOptionUser {
				opts[o.Name] = fmt.Sprint(o.Value)
				continue
			}
			opts[o.Name] = o.StringValue()
		}
		reply = g.handler.Command(ctx, p, data.Name, opts)
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		reply = g.handler.Interact(ctx, bot.Event{Principal: p, CustomID: data.CustomID, Values: data.Values, Origin: i.Interaction})
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		reply = g.handler.Interact(ctx, bot.Event{Principal: p, CustomID: data.CustomID, Fields: formValues(data), Origin: i.Interaction})
	default:
		return
	}

	if err := g.respond(ctx, i.Interaction, reply); err != nil {
		g.log.Error("interaction response failed", "user_id", p.UserID, "interaction_id", i.ID, "err", err)
	}
}

func (g *Gateway) respond(ctx context.Context, i *discordgo.Interaction, reply ui.Reply) error {
	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseChannelMessageWithSource}
	switch {
	case reply.Form != nil:
		resp.Type = discordgo.InteractionResponseModal
		resp.Data = modal(*reply.Form)
	case reply.Message != nil:
		if reply.Update && i.Message != nil {
			resp.Type = discordgo.InteractionResponseUpdateMessage
		}
		resp.Data = responseData(*reply.Message)
	default:
		resp.Data = responseData(ui.Message{Content: "Done.", Ephemeral: true})
	}
	return g.s.InteractionRespond(i, resp, discordgo.WithContext(ctx))
}

func (g *Gateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := g.principal(m.Author, m.Member, m.ChannelID)
	if err != nil {
		return
	}
	reply, handled := g.handler.Text(ctx, p, m.Content)
	if !handled {
		return
	}
	if reply.Form != nil {
		reply.Message = &ui.Message{Content: "Use the buttons above to continue."}
	}
	if reply.Message == nil {
		return
	}
	send := messageSend(*reply.Message)
	send.Reference = m.Reference()
	if _, err := g.s.ChannelMessageSendComplex(m.ChannelID, send, discordgo.WithContext(ctx)); err != nil {
		g.log.Error("wizard reply failed", "user_id", p.UserID, "channel_id", m.ChannelID, "err", err)
	}
}

func (g *Gateway) Send(ctx context.Context, channelID string, msg ui.Message) (string, error) {
	m, err := g.s.ChannelMessageSendComplex(channelID, messageSend(msg), discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return m.ID, nil
}

func (g *Gateway) Edit(ctx context.Context, channelID, messageID string, msg ui.Message) error {
	content := msg.Content
	em := embeds(msg.Embeds)
	comps := components(msg)
	_, err := g.s.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         messageID,
		Channel:    channelID,
		Content:    &content,
		Embeds:     &em,
		Components: &comps,
	}, discordgo.WithContext(ctx))
	return classify(err)
}

func (g *Gateway) Delete(ctx context.Context, channelID, messageID string) error {
	return classify(g.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (g *Gateway) Recent(ctx context.Context, channelID string, limit int) ([]ui.Posted, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	msgs, err := g.s.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	out := make([]ui.Posted, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, posted(m))
	}
	return out, nil
}

// CreatePrivateChannel opens a text channel only memberIDs and the admin
// roles can see.
func (g *Gateway) CreatePrivateChannel(ctx context.Context, name string, memberIDs ...string) (string, error) {
	overwrites := []*discordgo.PermissionOverwrite{{
		ID:   g.cfg.GuildID,
		Type: discordgo.PermissionOverwriteTypeRole,
		Deny: discordgo.PermissionViewChannel,
	}}
	for _, id := range memberIDs {
		if id == "" {
			continue
		}
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID: id, Type: discordgo.PermissionOverwriteTypeMember, Allow: privateMemberPerms,
		})
	}
	for _, id := range g.cfg.AdminRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID: id, Type: discordgo.PermissionOverwriteTypeRole, Allow: privateMemberPerms,
		})
	}
	ch, err := g.s.GuildChannelCreateComplex(g.cfg.GuildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             g.cfg.PrivateCategory,
		PermissionOverwrites: overwrites,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: create channel %s: %w", name, classify(err))
	}
	return ch.ID, nil
}

// Archive moves channelID under the category named group, creating it when
// missing, and hides the channel from revokeUserID.
func (g *Gateway) Archive(ctx context.Context, channelID, group, revokeUserID string) error {
	parent, err := g.category(ctx, group)
	if err != nil {
		return err
	}
	if _, err := g.s.ChannelEdit(channelID, &discordgo.ChannelEdit{ParentID: parent}, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: move %s to %s: %w", channelID, group, classify(err))
	}
	if revokeUserID == "" {
		return nil
	}
	err = g.s.ChannelPermissionSet(channelID, revokeUserID, discordgo.PermissionOverwriteTypeMember, 0, discordgo.PermissionViewChannel, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord: revoke %s on %s: %w", revokeUserID, channelID, classify(err))
	}
	return nil
}

func (g *Gateway) category(ctx context.Context, name string) (string, error) {
	channels, err := g.s.GuildChannels(g.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: list channels: %w", classify(err))
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory && strings.EqualFold(ch.Name, name) {
			return ch.ID, nil
		}
	}
	ch, err := g.s.GuildChannelCreate(g.cfg.GuildID, name, discordgo.ChannelTypeGuildCategory, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("discord: create category %s: %w", name, classify(err))
	}
	return ch.ID, nil
}

// Roles lists the guild roles a draft can require, skipping @everyone and
// integration-managed roles.
func (g *Gateway) Roles(ctx context.Context) ([]order.RoleRef, error) {
	roles, err := g.s.GuildRoles(g.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: list roles: %w", classify(err))
	}
	return roleRefs(g.cfg.GuildID, roles), nil
}

func roleRefs(guildID string, roles []*discordgo.Role) []order.RoleRef {
	out := make([]order.RoleRef, 0, len(roles))
	for _, r := range roles {
		if r.ID == guildID || r.Managed {
			continue
		}
		out = append(out, order.RoleRef{ID: r.ID, Name: r.Name})
	}
	return out
}

// ExpirePreview rewrites the ephemeral preview that origin responded with.
func (g *Gateway) ExpirePreview(ctx context.Context, origin any, msg ui.Message) error {
	i, ok := origin.(*discordgo.Interaction)
	if !ok {
		return fmt.Errorf("discord: unexpected preview origin %T", origin)
	}
	content := msg.Content
	none := []discordgo.MessageComponent{}
	noEmbeds := []*discordgo.MessageEmbed{}
	_, err := g.s.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Content:    &content,
		Components: &none,
		Embeds:     &noEmbeds,
	}, discordgo.WithContext(ctx))
	return classify(err)
}
