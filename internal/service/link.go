package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"r6-rolesync/internal/api"
	"r6-rolesync/internal/config"
	"r6-rolesync/internal/constants"
	"r6-rolesync/internal/domain"
	"r6-rolesync/internal/platform"
	"r6-rolesync/internal/rank"
	"r6-rolesync/internal/repository"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidHandle means the provider does not know the handle.
	ErrInvalidHandle = errors.New("handle is not a valid player name")
	// ErrConfirmationTimeout means the re-link prompt expired unanswered.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	// ErrConfirmationDeclined means the member answered the re-link prompt
	// with anything but yes.
	ErrConfirmationDeclined = errors.New("confirmation declined")
)

// Linker owns the operator-facing linking workflow: validate the handle,
// confirm overwrites, populate the rank immediately and apply roles
// synchronously instead of waiting for the next cycle.
type Linker struct {
	provider   api.Provider
	identities *repository.IdentityRepository
	history    *repository.RankHistoryRepository
	reconciler *RoleReconciler
	prompter   platform.Prompter
	messenger  platform.Messenger
	audit      *Audit
	cfg        *config.Config
	logger     zerolog.Logger
}

func NewLinker(
	provider api.Provider,
	identities *repository.IdentityRepository,
	history *repository.RankHistoryRepository,
	reconciler *RoleReconciler,
	prompter platform.Prompter,
	messenger platform.Messenger,
	audit *Audit,
	cfg *config.Config,
	logger zerolog.Logger,
) *Linker {
	return &Linker{
		provider:   provider,
		identities: identities,
		history:    history,
		reconciler: reconciler,
		prompter:   prompter,
		messenger:  messenger,
		audit:      audit,
		cfg:        cfg,
		logger:     logger,
	}
}

// Link binds memberID to handle. channelID scopes the confirmation wait to
// the invoking channel. Returns the rank observed during the cold-start
// fetch, or nil when the fetch failed.
func (l *Linker) Link(ctx context.Context, memberID, channelID, handle, platformName string) (*rank.Rank, error) {
	validateCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	valid, err := l.provider.HandleExists(validateCtx, handle, platformName)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to validate handle: %w", err)
	}
	if !valid {
		return nil, ErrInvalidHandle
	}

	existing, err := l.identities.Get(ctx, memberID)
	if err != nil && !errors.Is(err, domain.ErrNotLinked) {
		return nil, fmt.Errorf("failed to look up existing link: %w", err)
	}
	if existing != nil && existing.Handle != handle {
		if err := l.confirmOverwrite(ctx, memberID, channelID, existing.Handle, handle); err != nil {
			return nil, err
		}
	}

	// Cold-start rank population. A fetch failure still links; the next
	// cycle fills the rank in.
	var fetched *rank.Rank
	fetchCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	result, err := l.provider.PlayerRank(fetchCtx, handle, platformName)
	cancel()
	if err != nil {
		l.logger.Warn().Err(err).Str("handle", handle).Msg("cold-start rank fetch failed, linking without rank")
	} else if result.Found {
		r := result.Rank
		fetched = &r
	}

	if err := l.identities.Link(ctx, memberID, handle, platformName); err != nil {
		return nil, fmt.Errorf("failed to store link: %w", err)
	}

	if fetched != nil {
		if err := l.identities.UpdateRank(ctx, memberID, *fetched); err != nil {
			l.logger.Warn().Err(err).Str("member_id", memberID).Msg("failed to store cold-start rank")
		} else if err := l.history.Insert(ctx, domain.RankChange{
			MemberID: memberID,
			Handle:   handle,
			NewRank:  *fetched,
		}); err != nil {
			l.logger.Warn().Err(err).Str("member_id", memberID).Msg("failed to record cold-start rank history")
		}
	}

	// Apply roles now rather than waiting for the next cycle.
	if err := l.reconciler.Apply(ctx, memberID, fetched); err != nil {
		if errors.Is(err, platform.ErrMemberNotFound) {
			l.logger.Debug().Str("member_id", memberID).Msg("member not present in guild, roles deferred to next join")
		} else {
			l.logger.Warn().Err(err).Str("member_id", memberID).Msg("failed to apply roles after link")
		}
	}

	display := "Unranked"
	if fetched != nil {
		display = fetched.Display()
	}
	l.audit.Log(ctx, fmt.Sprintf("🔗 Linked <@%s> to handle %s (Rank: %s)", memberID, handle, display))
	return fetched, nil
}

func (l *Linker) confirmOverwrite(ctx context.Context, memberID, channelID, oldHandle, newHandle string) error {
	prompt := fmt.Sprintf("⚠️ <@%s> you are currently linked to `%s`. Switch to `%s`? Reply with `yes` or `no`.",
		memberID, oldHandle, newHandle)
	if err := l.messenger.Send(ctx, l.cfg.CommandChannelName, prompt); err != nil {
		return fmt.Errorf("failed to send confirmation prompt: %w", err)
	}

	reply, err := l.prompter.AwaitReply(ctx, channelID, memberID, constants.ConfirmTimeout)
	if err != nil {
		if errors.Is(err, platform.ErrReplyTimeout) {
			return ErrConfirmationTimeout
		}
		return fmt.Errorf("confirmation wait failed: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(reply), "yes") {
		return ErrConfirmationDeclined
	}
	return nil
}

// Unlink removes the member's identity and strips rank roles immediately.
func (l *Linker) Unlink(ctx context.Context, memberID string) error {
	existed, err := l.identities.Unlink(ctx, memberID)
	if err != nil {
		return fmt.Errorf("failed to remove link: %w", err)
	}
	if !existed {
		return domain.ErrNotLinked
	}

	if err := l.reconciler.Strip(ctx, memberID); err != nil {
		if errors.Is(err, platform.ErrMemberNotFound) {
			l.logger.Debug().Str("member_id", memberID).Msg("member not present in guild, nothing to strip")
		} else {
			l.logger.Warn().Err(err).Str("member_id", memberID).Msg("failed to strip roles after unlink")
		}
	}

	l.audit.Log(ctx, fmt.Sprintf("🔓 Unlinked <@%s>", memberID))
	return nil
}
