package domain

import (
	"errors"
	"time"

	"r6-rolesync/internal/rank"
)

// ErrNotLinked is returned when a member has no tracked identity.
var ErrNotLinked = errors.New("member is not linked")

// TrackedIdentity binds a chat member to a game handle and the rank last
// observed for it. CachedRank is nil until the first successful fetch.
type TrackedIdentity struct {
	MemberID   string
	Handle     string
	Platform   string
	CachedRank *rank.Rank
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RankChange is one observed rank transition, kept as an append-only log.
type RankChange struct {
	ID           string
	MemberID     string
	Handle       string
	PreviousRank *rank.Rank
	NewRank      rank.Rank
	ChangedAt    time.Time
}
