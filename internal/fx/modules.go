package fx

import (
	"r6-rolesync/internal/api"
	"r6-rolesync/internal/bot"
	"r6-rolesync/internal/config"
	"r6-rolesync/internal/database"
	"r6-rolesync/internal/logger"
	"r6-rolesync/internal/platform"
	"r6-rolesync/internal/platform/discord"
	"r6-rolesync/internal/repository"
	"r6-rolesync/internal/service"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideSession(cfg *config.Config) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	return session, nil
}

func ProvideAdapter(session *discordgo.Session, cfg *config.Config, logger zerolog.Logger) *discord.Adapter {
	return discord.New(session, cfg.GuildID, logger)
}

func ProvideGuild(adapter *discord.Adapter) platform.Guild { return adapter }

func ProvideMessenger(adapter *discord.Adapter) platform.Messenger { return adapter }

func ProvidePrompter(adapter *discord.Adapter) platform.Prompter { return adapter }

var Module = fx.Options(
	logger.Module,
	config.Module,
	fx.Provide(database.New),
	// repos
	fx.Provide(repository.NewIdentityRepository),
	fx.Provide(repository.NewRankHistoryRepository),
	// rank provider
	fx.Provide(api.New),
	// chat platform
	fx.Provide(ProvideSession),
	fx.Provide(ProvideAdapter),
	fx.Provide(ProvideGuild),
	fx.Provide(ProvideMessenger),
	fx.Provide(ProvidePrompter),
	// svc
	fx.Provide(service.NewAudit),
	fx.Provide(service.NewRoleReconciler),
	fx.Provide(service.NewCycle),
	fx.Provide(service.NewLinker),
	// bot
	fx.Provide(bot.New),
)
