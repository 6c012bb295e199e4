// Package platform is the boundary to the chat platform. The reconciliation
// engine talks only to these interfaces; the discord subpackage adapts the
// real gateway and Memory backs the tests.
package platform

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMemberNotFound = errors.New("member not found in guild")
	ErrReplyTimeout   = errors.New("timed out waiting for reply")
)

type Role struct {
	ID      string
	Name    string
	Hoisted bool
}

type Member struct {
	ID       string
	Username string
	IsBot    bool
	RoleIDs  []string
}

func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Guild exposes the role and member operations the reconciler needs. The
// role set is shared mutable state: callers must read before writing
// (get-or-create) to stay idempotent under interleaved triggers.
type Guild interface {
	Roles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, name string, hoisted bool) (Role, error)
	Members(ctx context.Context) ([]Member, error)
	Member(ctx context.Context, memberID string) (*Member, error)
	AddRole(ctx context.Context, memberID, roleID string) error
	RemoveRole(ctx context.Context, memberID, roleID string) error

	// EnsureChannel creates the named text channel if it does not exist.
	// adminOnly hides the channel from regular members.
	EnsureChannel(ctx context.Context, name string, adminOnly bool) error
}

// Messenger sends to a channel addressed by name; the adapter owns the
// name-to-id resolution.
type Messenger interface {
	Send(ctx context.Context, channelName, message string) error
}

// Prompter waits for the member's next message in a channel, bounded by
// timeout. Scoped per (member, channel): concurrent prompts for different
// members do not observe each other's replies.
type Prompter interface {
	AwaitReply(ctx context.Context, channelID, memberID string, timeout time.Duration) (string, error)
}
