package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"r6-rolesync/internal/api"
	"r6-rolesync/internal/platform"
	"r6-rolesync/internal/rank"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func found(r rank.Rank) api.Result {
	return api.Result{Rank: r, Found: true}
}

func linkWithRank(t *testing.T, env *testEnv, memberID, handle string, r rank.Rank) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, env.identities.Link(ctx, memberID, handle, "pc"))
	require.NoError(t, env.identities.UpdateRank(ctx, memberID, r))
}

func TestCycleReturnsChangedCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Three tracked identities, two with a changed rank.
	linkWithRank(t, env, "member-a", "HandleA", rank.SilverI)
	linkWithRank(t, env, "member-b", "HandleB", rank.GoldII)
	linkWithRank(t, env, "member-c", "HandleC", rank.BronzeIII)

	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.guild.PutMember(platform.Member{ID: "member-b"})
	env.guild.PutMember(platform.Member{ID: "member-c"})

	env.provider.setRank("HandleA", found(rank.GoldIII))  // changed
	env.provider.setRank("HandleB", found(rank.GoldII))   // unchanged
	env.provider.setRank("HandleC", found(rank.SilverII)) // changed

	changed, err := env.cycle.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
	assert.Equal(t, StateComplete, env.cycle.State())

	a, err := env.identities.Get(ctx, "member-a")
	require.NoError(t, err)
	assert.Equal(t, rank.GoldIII, *a.CachedRank)

	b, err := env.identities.Get(ctx, "member-b")
	require.NoError(t, err)
	assert.Equal(t, rank.GoldII, *b.CachedRank)

	c, err := env.identities.Get(ctx, "member-c")
	require.NoError(t, err)
	assert.Equal(t, rank.SilverII, *c.CachedRank)
}

func TestCycleAppliesRolesOnChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	linkWithRank(t, env, "member-a", "HandleA", rank.SilverI)
	seedMemberWithRoles(t, env, "member-a", "Silver 1", "Silver")

	env.provider.setRank("HandleA", found(rank.GoldII))

	changed, err := env.cycle.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	assert.ElementsMatch(t, []string{"Gold 2", "Gold"}, env.guild.MemberRoleNames("member-a"))
}

func TestCycleFirstObservationCountsAsChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Linked but never observed: cached rank is NULL.
	require.NoError(t, env.identities.Link(ctx, "member-a", "HandleA", "pc"))
	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.provider.setRank("HandleA", found(rank.Unranked))

	changed, err := env.cycle.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	a, err := env.identities.Get(ctx, "member-a")
	require.NoError(t, err)
	require.NotNil(t, a.CachedRank)
	assert.Equal(t, rank.Unranked, *a.CachedRank)
}

func TestCycleProviderErrorSkipsIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	linkWithRank(t, env, "member-a", "HandleA", rank.SilverI)
	linkWithRank(t, env, "member-b", "HandleB", rank.GoldII)
	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.guild.PutMember(platform.Member{ID: "member-b"})

	env.provider.setErr("HandleA", errors.New("upstream timeout"))
	env.provider.setRank("HandleB", found(rank.GoldI))

	changed, err := env.cycle.Run(ctx)
	require.NoError(t, err, "one identity's failure is not fatal to the cycle")
	assert.Equal(t, 1, changed)

	// The failed identity keeps its cached rank for the next cycle.
	a, err := env.identities.Get(ctx, "member-a")
	require.NoError(t, err)
	assert.Equal(t, rank.SilverI, *a.CachedRank)
}

func TestCycleHandleGoneTreatedAsUnranked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	linkWithRank(t, env, "member-a", "HandleA", rank.GoldII)
	env.guild.PutMember(platform.Member{ID: "member-a"})

	env.provider.setRank("HandleA", api.Result{Found: false})

	changed, err := env.cycle.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	a, err := env.identities.Get(ctx, "member-a")
	require.NoError(t, err)
	assert.Equal(t, rank.Unranked, *a.CachedRank)
}

func TestCycleSweepRestoresUnlinkedRole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Untracked member whose unlinked role was manually removed.
	env.guild.PutMember(platform.Member{ID: "member-x", Username: "drifter"})
	// Tracked member and a bot, neither of which should be touched.
	linkWithRank(t, env, "member-a", "HandleA", rank.GoldII)
	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.guild.PutMember(platform.Member{ID: "bot-1", IsBot: true})
	env.provider.setRank("HandleA", found(rank.GoldII))

	_, err := env.cycle.Run(ctx)
	require.NoError(t, err)

	assert.Contains(t, env.guild.MemberRoleNames("member-x"), "Unlinked")
	assert.NotContains(t, env.guild.MemberRoleNames("member-a"), "Unlinked")
	assert.Empty(t, env.guild.MemberRoleNames("bot-1"))
}

func TestCycleResetsRequestCount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, env.provider.resets)
}

func TestCycleRefusesOverlappingRuns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	linkWithRank(t, env, "member-a", "HandleA", rank.SilverI)
	env.guild.PutMember(platform.Member{ID: "member-a"})

	block := make(chan struct{})
	env.provider.blockOn = block
	env.provider.setRank("HandleA", found(rank.GoldII))

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, err := env.cycle.Run(ctx)
		assert.NoError(t, err)
	}()

	<-started
	require.Eventually(t, func() bool {
		return env.cycle.State() == StateRunning
	}, time.Second, time.Millisecond)

	_, err := env.cycle.Run(ctx)
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(block)
	<-done
}

func TestCycleRateLimitWarning(t *testing.T) {
	env := newTestEnv(t)
	env.provider.rate = 92.5

	_, err := env.cycle.Run(context.Background())
	require.NoError(t, err)

	messages := env.guild.SentTo("bot-commands")
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[len(messages)-1], "92.5%")
}

func TestCycleNoWarningBelowThreshold(t *testing.T) {
	env := newTestEnv(t)
	env.provider.rate = 12

	_, err := env.cycle.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, env.guild.SentTo("bot-commands"))
}

func TestCycleRecordsRankHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	linkWithRank(t, env, "member-a", "HandleA", rank.SilverI)
	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.provider.setRank("HandleA", found(rank.GoldII))

	_, err := env.cycle.Run(ctx)
	require.NoError(t, err)

	// History is written back asynchronously.
	require.Eventually(t, func() bool {
		changes, err := env.history.GetByMember(ctx, "member-a", 10)
		return err == nil && len(changes) == 1
	}, time.Second, 10*time.Millisecond)

	changes, err := env.history.GetByMember(ctx, "member-a", 10)
	require.NoError(t, err)
	require.NotNil(t, changes[0].PreviousRank)
	assert.Equal(t, rank.SilverI, *changes[0].PreviousRank)
	assert.Equal(t, rank.GoldII, changes[0].NewRank)
}
