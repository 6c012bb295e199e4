// Package discord adapts a discordgo session to the platform interfaces.
// Thin by design: every method is a direct gateway call plus translation.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"r6-rolesync/internal/platform"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

type Adapter struct {
	session *discordgo.Session
	guildID string
	logger  zerolog.Logger

	channelMu sync.Mutex
	channels  map[string]string // name -> id
}

func New(session *discordgo.Session, guildID string, logger zerolog.Logger) *Adapter {
	return &Adapter{
		session:  session,
		guildID:  guildID,
		logger:   logger,
		channels: make(map[string]string),
	}
}

func (a *Adapter) Roles(ctx context.Context) ([]platform.Role, error) {
	roles, err := a.session.GuildRoles(a.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	result := make([]platform.Role, len(roles))
	for i, r := range roles {
		result[i] = platform.Role{ID: r.ID, Name: r.Name, Hoisted: r.Hoist}
	}
	return result, nil
}

func (a *Adapter) CreateRole(ctx context.Context, name string, hoisted bool) (platform.Role, error) {
	color := rand.Intn(0xffffff)
	role, err := a.session.GuildRoleCreate(a.guildID, &discordgo.RoleParams{
		Name:  name,
		Color: &color,
		Hoist: &hoisted,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Role{}, fmt.Errorf("failed to create role %q: %w", name, err)
	}

	a.logger.Info().Str("role", name).Bool("hoisted", hoisted).Msg("created role")
	return platform.Role{ID: role.ID, Name: role.Name, Hoisted: role.Hoist}, nil
}

func (a *Adapter) Members(ctx context.Context) ([]platform.Member, error) {
	var members []platform.Member
	after := ""
	for {
		page, err := a.session.GuildMembers(a.guildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to list members: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			members = append(members, toMember(m))
			after = m.User.ID
		}
		if len(page) < 1000 {
			break
		}
	}
	return members, nil
}

func (a *Adapter) Member(ctx context.Context, memberID string) (*platform.Member, error) {
	m, err := a.session.GuildMember(a.guildID, memberID, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return nil, platform.ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to fetch member: %w", err)
	}
	member := toMember(m)
	return &member, nil
}

func (a *Adapter) AddRole(ctx context.Context, memberID, roleID string) error {
	if err := a.session.GuildMemberRoleAdd(a.guildID, memberID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to add role: %w", err)
	}
	return nil
}

func (a *Adapter) RemoveRole(ctx context.Context, memberID, roleID string) error {
	if err := a.session.GuildMemberRoleRemove(a.guildID, memberID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

func (a *Adapter) EnsureChannel(ctx context.Context, name string, adminOnly bool) error {
	if _, err := a.channelID(ctx, name); err == nil {
		return nil
	}

	data := discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildText,
	}
	if adminOnly {
		// The @everyone role shares its id with the guild.
		data.PermissionOverwrites = []*discordgo.PermissionOverwrite{{
			ID:   a.guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		}}
	}

	ch, err := a.session.GuildChannelCreateComplex(a.guildID, data, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create channel %q: %w", name, err)
	}

	a.channelMu.Lock()
	a.channels[ch.Name] = ch.ID
	a.channelMu.Unlock()

	a.logger.Info().Str("channel", name).Bool("admin_only", adminOnly).Msg("created channel")
	return nil
}

func (a *Adapter) Send(ctx context.Context, channelName, message string) error {
	channelID, err := a.channelID(ctx, channelName)
	if err != nil {
		return err
	}
	if _, err := a.session.ChannelMessageSend(channelID, message, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send to %q: %w", channelName, err)
	}
	return nil
}

func (a *Adapter) channelID(ctx context.Context, name string) (string, error) {
	a.channelMu.Lock()
	if id, ok := a.channels[name]; ok {
		a.channelMu.Unlock()
		return id, nil
	}
	a.channelMu.Unlock()

	channels, err := a.session.GuildChannels(a.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("failed to list channels: %w", err)
	}

	a.channelMu.Lock()
	defer a.channelMu.Unlock()
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText {
			a.channels[ch.Name] = ch.ID
		}
	}
	if id, ok := a.channels[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("channel %q not found", name)
}

// AwaitReply blocks until the member's next message in the channel, the
// timeout, or ctx. The temporary gateway handler is removed on every path.
func (a *Adapter) AwaitReply(ctx context.Context, channelID, memberID string, timeout time.Duration) (string, error) {
	replies := make(chan string, 1)
	remove := a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.ChannelID != channelID || m.Author == nil || m.Author.ID != memberID {
			return
		}
		select {
		case replies <- m.Content:
		default:
		}
	})
	defer remove()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replies:
		return reply, nil
	case <-timer.C:
		return "", platform.ErrReplyTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func toMember(m *discordgo.Member) platform.Member {
	member := platform.Member{
		RoleIDs: append([]string(nil), m.Roles...),
	}
	if m.User != nil {
		member.ID = m.User.ID
		member.Username = m.User.Username
		member.IsBot = m.User.Bot
	}
	return member
}
