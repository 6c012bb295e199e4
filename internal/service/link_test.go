package service

import (
	"context"
	"strings"
	"testing"

	"r6-rolesync/internal/domain"
	"r6-rolesync/internal/platform"
	"r6-rolesync/internal/rank"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkFreshMember(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.provider.setRank("ShadowOp", found(rank.GoldII))

	fetched, err := env.linker.Link(ctx, "member-a", "chan-1", "ShadowOp", "pc")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, rank.GoldII, *fetched)

	identity, err := env.identities.Get(ctx, "member-a")
	require.NoError(t, err)
	assert.Equal(t, "ShadowOp", identity.Handle)
	require.NotNil(t, identity.CachedRank)
	assert.Equal(t, rank.GoldII, *identity.CachedRank)

	// Roles applied synchronously, not deferred to the next cycle.
	assert.ElementsMatch(t, []string{"Gold 2", "Gold"}, env.guild.MemberRoleNames("member-a"))

	changes, err := env.history.GetByMember(ctx, "member-a", 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].PreviousRank)
	assert.Equal(t, rank.GoldII, changes[0].NewRank)
}

func TestLinkInvalidHandle(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.linker.Link(context.Background(), "member-a", "chan-1", "NoSuchPlayer", "pc")
	assert.ErrorIs(t, err, ErrInvalidHandle)

	exists, repoErr := env.identities.Exists(context.Background(), "member-a")
	require.NoError(t, repoErr)
	assert.False(t, exists)
}

func TestRelinkRequiresConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.provider.setRank("OldHandle", found(rank.SilverI))
	env.provider.setRank("NewHandle", found(rank.GoldII))

	_, err := env.linker.Link(ctx, "member-a", "chan-1", "OldHandle", "pc")
	require.NoError(t, err)

	env.guild.QueueReply("chan-1", "member-a", "yes")
	_, err = env.linker.Link(ctx, "member-a", "chan-1", "NewHandle", "pc")
	require.NoError(t, err)

	identity, err := env.identities.Get(ctx, "member-a")
	require.NoError(t, err)
	assert.Equal(t, "NewHandle", identity.Handle)

	// A confirmation prompt was sent to the command channel.
	var prompted bool
	for _, msg := range env.guild.SentTo("bot-commands") {
		if strings.Contains(msg, "OldHandle") && strings.Contains(msg, "NewHandle") {
			prompted = true
		}
	}
	assert.True(t, prompted)
}

func TestRelinkDeclined(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.provider.setRank("OldHandle", found(rank.SilverI))
	env.provider.setRank("NewHandle", found(rank.GoldII))

	_, err := env.linker.Link(ctx, "member-a", "chan-1", "OldHandle", "pc")
	require.NoError(t, err)

	env.guild.QueueReply("chan-1", "member-a", "no")
	_, err = env.linker.Link(ctx, "member-a", "chan-1", "NewHandle", "pc")
	assert.ErrorIs(t, err, ErrConfirmationDeclined)

	identity, err := env.identities.Get(ctx, "member-a")
	require.NoError(t, err)
	assert.Equal(t, "OldHandle", identity.Handle, "declined confirmation leaves the link untouched")
}

func TestRelinkTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.provider.setRank("OldHandle", found(rank.SilverI))
	env.provider.setRank("NewHandle", found(rank.GoldII))

	_, err := env.linker.Link(ctx, "member-a", "chan-1", "OldHandle", "pc")
	require.NoError(t, err)

	// No reply queued: the wait times out.
	_, err = env.linker.Link(ctx, "member-a", "chan-1", "NewHandle", "pc")
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
}

func TestRelinkSameHandleSkipsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.provider.setRank("ShadowOp", found(rank.SilverI))

	_, err := env.linker.Link(ctx, "member-a", "chan-1", "ShadowOp", "pc")
	require.NoError(t, err)

	// Same handle again: no prompt, no reply needed.
	env.provider.setRank("ShadowOp", found(rank.GoldII))
	fetched, err := env.linker.Link(ctx, "member-a", "chan-1", "ShadowOp", "pc")
	require.NoError(t, err)
	assert.Equal(t, rank.GoldII, *fetched)
}

func TestLinkStealsHandleFromPriorOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.guild.PutMember(platform.Member{ID: "member-b"})
	env.provider.setRank("ShadowOp", found(rank.GoldII))

	_, err := env.linker.Link(ctx, "member-a", "chan-1", "ShadowOp", "pc")
	require.NoError(t, err)

	_, err = env.linker.Link(ctx, "member-b", "chan-1", "ShadowOp", "pc")
	require.NoError(t, err)

	// At most one owner per handle: A is silently unlinked.
	_, err = env.identities.Get(ctx, "member-a")
	assert.ErrorIs(t, err, domain.ErrNotLinked)

	identity, err := env.identities.Get(ctx, "member-b")
	require.NoError(t, err)
	assert.Equal(t, "ShadowOp", identity.Handle)
}

func TestUnlink(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.guild.PutMember(platform.Member{ID: "member-a"})
	env.provider.setRank("ShadowOp", found(rank.PlatinumII))

	_, err := env.linker.Link(ctx, "member-a", "chan-1", "ShadowOp", "pc")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"Platinum 2", "Platinum"}, env.guild.MemberRoleNames("member-a"))

	require.NoError(t, env.linker.Unlink(ctx, "member-a"))

	_, err = env.identities.Get(ctx, "member-a")
	assert.ErrorIs(t, err, domain.ErrNotLinked)
	assert.ElementsMatch(t, []string{"Unlinked"}, env.guild.MemberRoleNames("member-a"))
}

func TestUnlinkNotLinked(t *testing.T) {
	env := newTestEnv(t)

	err := env.linker.Unlink(context.Background(), "member-a")
	assert.ErrorIs(t, err, domain.ErrNotLinked)
}
