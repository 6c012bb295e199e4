// Package bot wires gateway events to the reconciliation services. Thin
// glue: parsing, permission checks and responses live here, the logic in
// internal/service.
package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"r6-rolesync/internal/config"
	"r6-rolesync/internal/platform"
	"r6-rolesync/internal/repository"
	"r6-rolesync/internal/service"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

type Bot struct {
	session    *discordgo.Session
	guild      platform.Guild
	cfg        *config.Config
	cycle      *service.Cycle
	linker     *service.Linker
	reconciler *service.RoleReconciler
	identities *repository.IdentityRepository
	audit      *service.Audit
	logger     zerolog.Logger

	channelMu        sync.Mutex
	commandChannelID string

	stopOnce sync.Once
	stop     chan struct{}
}

func New(
	session *discordgo.Session,
	guild platform.Guild,
	cfg *config.Config,
	cycle *service.Cycle,
	linker *service.Linker,
	reconciler *service.RoleReconciler,
	identities *repository.IdentityRepository,
	audit *service.Audit,
	logger zerolog.Logger,
) *Bot {
	return &Bot{
		session:    session,
		guild:      guild,
		cfg:        cfg,
		cycle:      cycle,
		linker:     linker,
		reconciler: reconciler,
		identities: identities,
		audit:      audit,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Start registers the gateway handlers and launches the recurring update
// timer. The session must already be open.
func (b *Bot) Start() {
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMemberJoin)

	go b.runTimer()

	b.audit.Log(context.Background(), fmt.Sprintf("✅ Bot started at %s", time.Now().Format("2006-01-02 15:04:05")))
	b.logger.Info().Msg("bot started")
}

func (b *Bot) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// runTimer drives the hourly reconciliation. The manual !update command
// invokes the identical cycle logic; overlap is resolved by the cycle's
// run guard, not here.
func (b *Bot) runTimer() {
	ticker := time.NewTicker(b.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.audit.Log(context.Background(), "🔄 Starting scheduled rank update")
			changed, err := b.cycle.Run(context.Background())
			if err != nil {
				b.logger.Error().Err(err).Msg("scheduled cycle failed")
				continue
			}
			b.audit.Log(context.Background(), fmt.Sprintf("✅ Scheduled update complete - Updated %d users", changed))
		case <-b.stop:
			return
		}
	}
}

// onMemberJoin restores roles for linked members and marks everyone else
// unlinked.
func (b *Bot) onMemberJoin(_ *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.GuildID != b.cfg.GuildID || event.User == nil || event.User.Bot {
		return
	}

	ctx := context.Background()
	memberID := event.User.ID

	identity, err := b.identities.Get(ctx, memberID)
	if err == nil {
		if applyErr := b.reconciler.Apply(ctx, memberID, identity.CachedRank); applyErr != nil {
			b.logger.Warn().Err(applyErr).Str("member_id", memberID).Msg("failed to restore roles on join")
			return
		}
		restored := "Unranked"
		if identity.CachedRank != nil {
			restored = identity.CachedRank.Display()
		}
		b.audit.Log(ctx, fmt.Sprintf("✅ Member <@%s> joined - restored rank: %s", memberID, restored))
		return
	}

	if ensureErr := b.reconciler.EnsureUnlinked(ctx, memberID); ensureErr != nil {
		b.logger.Warn().Err(ensureErr).Str("member_id", memberID).Msg("failed to mark joining member unlinked")
		return
	}
	b.audit.Log(ctx, fmt.Sprintf("📝 Member <@%s> joined - assigned Unlinked role", memberID))
}

func (b *Bot) reply(channelID, message string) {
	if _, err := b.session.ChannelMessageSend(channelID, message); err != nil {
		b.logger.Warn().Err(err).Str("channel_id", channelID).Msg("failed to send reply")
	}
}

func (b *Bot) isAdmin(userID, channelID string) bool {
	perms, err := b.session.UserChannelPermissions(userID, channelID)
	if err != nil {
		b.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to resolve permissions")
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// inCommandChannel checks that a guild message arrived in the configured
// command channel; DMs always pass.
func (b *Bot) inCommandChannel(m *discordgo.MessageCreate) bool {
	if m.GuildID == "" {
		return true
	}
	return m.ChannelID == b.commandChannel()
}

func (b *Bot) commandChannel() string {
	b.channelMu.Lock()
	defer b.channelMu.Unlock()

	if b.commandChannelID != "" {
		return b.commandChannelID
	}

	channels, err := b.session.GuildChannels(b.cfg.GuildID)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to list channels")
		return ""
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == b.cfg.CommandChannelName {
			b.commandChannelID = ch.ID
			break
		}
	}
	return b.commandChannelID
}
