package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"r6-rolesync/internal/api"
	"r6-rolesync/internal/config"
	"r6-rolesync/internal/constants"
	"r6-rolesync/internal/domain"
	"r6-rolesync/internal/platform"
	"r6-rolesync/internal/rank"
	"r6-rolesync/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrCycleInProgress is returned when a trigger fires while a cycle is
// already running. The second trigger is refused, not queued.
var ErrCycleInProgress = errors.New("reconciliation cycle already in progress")

type CycleState int32

const (
	StateIdle CycleState = iota
	StateRunning
	StateComplete
	StateFailed
)

func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Cycle drives one full reconciliation pass: for every tracked identity,
// fetch the live rank, diff against the cache, and fix role drift. The
// hourly timer and the manual trigger both call Run; there is no second
// code path.
type Cycle struct {
	provider   api.Provider
	identities *repository.IdentityRepository
	history    *repository.RankHistoryRepository
	reconciler *RoleReconciler
	guild      platform.Guild
	messenger  platform.Messenger
	audit      *Audit
	cfg        *config.Config
	logger     zerolog.Logger

	runMu sync.Mutex
	state atomic.Int32
}

func NewCycle(
	provider api.Provider,
	identities *repository.IdentityRepository,
	history *repository.RankHistoryRepository,
	reconciler *RoleReconciler,
	guild platform.Guild,
	messenger platform.Messenger,
	audit *Audit,
	cfg *config.Config,
	logger zerolog.Logger,
) *Cycle {
	return &Cycle{
		provider:   provider,
		identities: identities,
		history:    history,
		reconciler: reconciler,
		guild:      guild,
		messenger:  messenger,
		audit:      audit,
		cfg:        cfg,
		logger:     logger,
	}
}

func (c *Cycle) State() CycleState {
	return CycleState(c.state.Load())
}

// Run executes one cycle and returns the number of identities whose rank
// actually changed. Overlapping invocations are refused with
// ErrCycleInProgress.
func (c *Cycle) Run(ctx context.Context) (int, error) {
	if !c.runMu.TryLock() {
		return 0, ErrCycleInProgress
	}
	defer c.runMu.Unlock()

	runID := uuid.New().String()
	logger := c.logger.With().Str("run_id", runID).Logger()
	c.state.Store(int32(StateRunning))

	changed, err := c.run(ctx, logger)
	if err != nil {
		c.state.Store(int32(StateFailed))
		logger.Error().Err(err).Msg("reconciliation cycle failed")
		return changed, err
	}
	c.state.Store(int32(StateComplete))

	logger.Info().Int("changed", changed).Msg("reconciliation cycle complete")
	c.warnRateLimit(ctx, logger)
	return changed, nil
}

func (c *Cycle) run(ctx context.Context, logger zerolog.Logger) (int, error) {
	// Cycle-scoped quota accounting.
	c.provider.ResetRequestCount()

	dbCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	identities, err := c.identities.List(dbCtx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to list tracked identities: %w", err)
	}

	historyWrites := new(errgroup.Group)
	changed := 0

	for _, identity := range identities {
		current, ok := c.fetchRank(ctx, logger, identity)
		if !ok {
			continue
		}

		if identity.CachedRank != nil && *identity.CachedRank == current {
			continue
		}

		if err := c.applyChange(ctx, logger, identity, current, historyWrites); err != nil {
			logger.Warn().Err(err).
				Str("member_id", identity.MemberID).
				Msg("failed to persist rank change, skipping identity")
			continue
		}
		changed++
	}

	c.sweepUnlinked(ctx, logger)

	go func() {
		if err := historyWrites.Wait(); err != nil {
			logger.Warn().Err(err).Msg("rank history write-back failed")
		}
	}()

	return changed, nil
}

// fetchRank resolves the identity's live rank. A provider error is logged
// and the identity skipped for this cycle; a missing handle is a valid
// Unranked observation, not a failure.
func (c *Cycle) fetchRank(ctx context.Context, logger zerolog.Logger, identity domain.TrackedIdentity) (rank.Rank, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, constants.ExternalAPITimeout)
	defer cancel()

	result, err := c.provider.PlayerRank(fetchCtx, identity.Handle, identity.Platform)
	if err != nil {
		logger.Warn().Err(err).
			Str("member_id", identity.MemberID).
			Str("handle", identity.Handle).
			Msg("provider error, skipping identity this cycle")
		return rank.Unranked, false
	}
	if !result.Found {
		logger.Debug().
			Str("handle", identity.Handle).
			Msg("handle no longer known to provider, treating as unranked")
		return rank.Unranked, true
	}
	return result.Rank, true
}

func (c *Cycle) applyChange(ctx context.Context, logger zerolog.Logger, identity domain.TrackedIdentity, current rank.Rank, historyWrites *errgroup.Group) error {
	dbCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
	defer cancel()

	if err := c.identities.UpdateRank(dbCtx, identity.MemberID, current); err != nil {
		return err
	}

	change := domain.RankChange{
		MemberID:     identity.MemberID,
		Handle:       identity.Handle,
		PreviousRank: identity.CachedRank,
		NewRank:      current,
	}
	historyWrites.Go(func() error {
		hCtx, hCancel := context.WithTimeout(context.Background(), constants.DatabaseTimeout)
		defer hCancel()
		return c.history.Insert(hCtx, change)
	})

	// Role drift fix is per-member best effort; a mutation failure must not
	// block the rest of the batch.
	if err := c.reconciler.Apply(ctx, identity.MemberID, &current); err != nil {
		if errors.Is(err, platform.ErrMemberNotFound) {
			logger.Debug().
				Str("member_id", identity.MemberID).
				Msg("member not present in guild, roles untouched")
		} else {
			logger.Warn().Err(err).
				Str("member_id", identity.MemberID).
				Msg("failed to reconcile roles")
		}
	}

	before := "Unranked"
	if identity.CachedRank != nil {
		before = identity.CachedRank.Display()
	}
	c.audit.Log(ctx, fmt.Sprintf("📊 Updated <@%s> rank: %s → %s", identity.MemberID, before, current.Display()))
	return nil
}

// sweepUnlinked ensures every present member without a tracked identity
// holds the unlinked marker role, self-healing against missed join events
// or manual role edits.
func (c *Cycle) sweepUnlinked(ctx context.Context, logger zerolog.Logger) {
	members, err := c.guild.Members(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to enumerate members for unlinked sweep")
		return
	}

	for _, member := range members {
		if member.IsBot {
			continue
		}

		dbCtx, cancel := context.WithTimeout(ctx, constants.DatabaseTimeout)
		exists, err := c.identities.Exists(dbCtx, member.ID)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("member_id", member.ID).Msg("failed to check identity during sweep")
			continue
		}
		if exists {
			continue
		}

		if err := c.reconciler.EnsureUnlinked(ctx, member.ID); err != nil {
			logger.Warn().Err(err).Str("member_id", member.ID).Msg("failed to ensure unlinked role")
		}
	}
}

func (c *Cycle) warnRateLimit(ctx context.Context, logger zerolog.Logger) {
	pct := c.provider.RateLimitPercentage()
	if pct < c.cfg.RateLimitWarnThreshold {
		return
	}

	logger.Warn().Float64("percentage", pct).Msg("provider rate limit pressure above threshold")
	msg := fmt.Sprintf("⚠️ Rate Limit Warning: API rate limit is at %.1f%%. Updates may be slower.", pct)
	if err := c.messenger.Send(ctx, c.cfg.CommandChannelName, msg); err != nil {
		logger.Warn().Err(err).Msg("failed to deliver rate limit warning")
	}
}
