package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"r6-rolesync/internal/domain"
	"r6-rolesync/internal/service"

	"github.com/bwmarrin/discordgo"
)

const commandPrefix = "!"

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || !strings.HasPrefix(m.Content, commandPrefix) {
		return
	}
	if m.GuildID != "" && m.GuildID != b.cfg.GuildID {
		return
	}

	fields := strings.Fields(strings.TrimPrefix(m.Content, commandPrefix))
	if len(fields) == 0 {
		return
	}
	command, args := strings.ToLower(fields[0]), fields[1:]

	switch command {
	case "link":
		b.handleLink(m, args)
	case "unlink":
		b.handleUnlink(m)
	case "update":
		b.handleUpdate(m)
	case "setup":
		b.handleSetup(m)
	case "help":
		b.handleHelp(m)
	}
}

// handleLink serves `!link handle [platform]` and the admin form
// `!link @user handle [platform]`.
func (b *Bot) handleLink(m *discordgo.MessageCreate, args []string) {
	if !b.inCommandChannel(m) {
		b.reply(m.ChannelID, fmt.Sprintf("This command can only be used in #%s or DMs.", b.cfg.CommandChannelName))
		return
	}

	targetID := m.Author.ID
	if len(m.Mentions) > 0 {
		if !b.isAdmin(m.Author.ID, m.ChannelID) {
			b.reply(m.ChannelID, "❌ Only admins can link other users.")
			return
		}
		targetID = m.Mentions[0].ID
		// Drop the mention token from the argument list.
		filtered := args[:0]
		for _, a := range args {
			if !strings.HasPrefix(a, "<@") {
				filtered = append(filtered, a)
			}
		}
		args = filtered
	}

	if len(args) == 0 || len(args) > 2 {
		b.reply(m.ChannelID, "❌ Usage: `!link handle [platform]` or `!link @user handle [platform]` (admin only)")
		return
	}
	handle := args[0]
	platformName := "pc"
	if len(args) == 2 {
		platformName = strings.ToLower(args[1])
	}

	fetched, err := b.linker.Link(context.Background(), targetID, m.ChannelID, handle, platformName)
	switch {
	case errors.Is(err, service.ErrInvalidHandle):
		b.reply(m.ChannelID, fmt.Sprintf("❌ Invalid Username: '%s' is not a valid player name. Please try again with the correct username.", handle))
		return
	case errors.Is(err, service.ErrConfirmationTimeout):
		b.reply(m.ChannelID, "❌ Confirmation timed out.")
		return
	case errors.Is(err, service.ErrConfirmationDeclined):
		b.reply(m.ChannelID, "Cancelled.")
		return
	case err != nil:
		b.logger.Error().Err(err).Str("handle", handle).Msg("link failed")
		b.reply(m.ChannelID, "❌ Something went wrong while linking, try again later.")
		return
	}

	display := "Unranked"
	if fetched != nil {
		display = fetched.Display()
	}
	b.reply(m.ChannelID, fmt.Sprintf("✅ Linked to account `%s` (Current Rank: %s)", handle, display))
}

// handleUnlink serves `!unlink` and the admin form `!unlink @user`.
func (b *Bot) handleUnlink(m *discordgo.MessageCreate) {
	if !b.inCommandChannel(m) {
		b.reply(m.ChannelID, fmt.Sprintf("This command can only be used in #%s or DMs.", b.cfg.CommandChannelName))
		return
	}

	targetID := m.Author.ID
	if len(m.Mentions) > 0 {
		if !b.isAdmin(m.Author.ID, m.ChannelID) {
			b.reply(m.ChannelID, "❌ Only admins can unlink other users.")
			return
		}
		targetID = m.Mentions[0].ID
	}

	err := b.linker.Unlink(context.Background(), targetID)
	switch {
	case errors.Is(err, domain.ErrNotLinked):
		b.reply(m.ChannelID, "❌ This user is not linked.")
	case err != nil:
		b.logger.Error().Err(err).Str("member_id", targetID).Msg("unlink failed")
		b.reply(m.ChannelID, "❌ Something went wrong while unlinking, try again later.")
	default:
		b.reply(m.ChannelID, "✅ Unlinked.")
	}
}

// handleUpdate triggers a reconciliation cycle on demand. Same code path
// as the timer.
func (b *Bot) handleUpdate(m *discordgo.MessageCreate) {
	if !b.isAdmin(m.Author.ID, m.ChannelID) {
		b.reply(m.ChannelID, "❌ Only admins can trigger an update.")
		return
	}
	if !b.inCommandChannel(m) {
		b.reply(m.ChannelID, fmt.Sprintf("This command can only be used in #%s.", b.cfg.CommandChannelName))
		return
	}

	b.reply(m.ChannelID, "⏳ Updating ranks...")
	b.audit.Log(context.Background(), fmt.Sprintf("🔄 Manual update triggered by <@%s>", m.Author.ID))

	changed, err := b.cycle.Run(context.Background())
	switch {
	case errors.Is(err, service.ErrCycleInProgress):
		b.reply(m.ChannelID, "⚠️ An update is already running.")
	case err != nil:
		b.logger.Error().Err(err).Msg("manual cycle failed")
		b.reply(m.ChannelID, "❌ Update failed, check the logs.")
	default:
		b.reply(m.ChannelID, fmt.Sprintf("✅ Rank Update Complete: updated %d users.", changed))
	}
}

// handleSetup pre-creates the role ladder and marks every untracked member
// unlinked.
func (b *Bot) handleSetup(m *discordgo.MessageCreate) {
	if !b.isAdmin(m.Author.ID, m.ChannelID) {
		b.reply(m.ChannelID, "❌ Only admins can run setup.")
		return
	}

	ctx := context.Background()
	if err := b.reconciler.EnsureRoleLadder(ctx); err != nil {
		b.logger.Error().Err(err).Msg("setup failed")
		b.reply(m.ChannelID, "❌ Error during setup, check the logs.")
		return
	}

	if err := b.guild.EnsureChannel(ctx, b.cfg.CommandChannelName, false); err != nil {
		b.logger.Error().Err(err).Str("channel", b.cfg.CommandChannelName).Msg("setup failed to ensure channel")
		b.reply(m.ChannelID, "❌ Error during setup, check the logs.")
		return
	}
	if err := b.guild.EnsureChannel(ctx, b.cfg.AdminChannelName, true); err != nil {
		b.logger.Error().Err(err).Str("channel", b.cfg.AdminChannelName).Msg("setup failed to ensure channel")
		b.reply(m.ChannelID, "❌ Error during setup, check the logs.")
		return
	}

	members, err := b.guild.Members(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("setup failed to enumerate members")
		b.reply(m.ChannelID, "❌ Error during setup, check the logs.")
		return
	}
	for _, member := range members {
		if member.IsBot {
			continue
		}
		exists, err := b.identities.Exists(ctx, member.ID)
		if err != nil || exists {
			continue
		}
		if err := b.reconciler.EnsureUnlinked(ctx, member.ID); err != nil {
			b.logger.Warn().Err(err).Str("member_id", member.ID).Msg("setup failed to mark member unlinked")
		}
	}

	b.reply(m.ChannelID, "✅ Setup Complete: all roles and channels created.")
	b.audit.Log(ctx, fmt.Sprintf("✅ Setup completed by <@%s>", m.Author.ID))
}

func (b *Bot) handleHelp(m *discordgo.MessageCreate) {
	var sb strings.Builder
	sb.WriteString("**Commands**\n")
	sb.WriteString("`!link handle [platform]` - Link to a game account (platform: pc, xbox, ps4)\n")
	sb.WriteString("`!unlink` - Unlink from your game account\n")
	sb.WriteString("`!help` - Show this message\n")

	if b.isAdmin(m.Author.ID, m.ChannelID) {
		sb.WriteString("\n**Admin**\n")
		sb.WriteString("`!link @user handle [platform]` - Link another user\n")
		sb.WriteString("`!unlink @user` - Unlink another user\n")
		sb.WriteString("`!update` - Run a rank update for all users now\n")
		sb.WriteString("`!setup` - Create all rank roles and channels\n")
	}

	b.reply(m.ChannelID, sb.String())
}
