package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-memory Guild/Messenger/Prompter used by the service tests
// and by dry runs. It mirrors the semantics the discord adapter provides:
// role ids are stable, role creation is name-checked by callers, sends are
// recorded per channel.
type Memory struct {
	mu       sync.Mutex
	nextRole int
	roles    map[string]Role    // by id
	members  map[string]*Member // by id
	channels map[string]bool    // name -> adminOnly
	sent     map[string][]string
	replies  map[string]string // by "channelID/memberID"
}

func NewMemory() *Memory {
	return &Memory{
		roles:    make(map[string]Role),
		members:  make(map[string]*Member),
		channels: make(map[string]bool),
		sent:     make(map[string][]string),
		replies:  make(map[string]string),
	}
}

func (m *Memory) Roles(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roles := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		roles = append(roles, r)
	}
	return roles, nil
}

func (m *Memory) CreateRole(ctx context.Context, name string, hoisted bool) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextRole++
	role := Role{
		ID:      fmt.Sprintf("role-%d", m.nextRole),
		Name:    name,
		Hoisted: hoisted,
	}
	m.roles[role.ID] = role
	return role, nil
}

func (m *Memory) Members(ctx context.Context) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := make([]Member, 0, len(m.members))
	for _, mem := range m.members {
		copied := *mem
		copied.RoleIDs = append([]string(nil), mem.RoleIDs...)
		members = append(members, copied)
	}
	return members, nil
}

func (m *Memory) Member(ctx context.Context, memberID string) (*Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[memberID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	copied := *mem
	copied.RoleIDs = append([]string(nil), mem.RoleIDs...)
	return &copied, nil
}

func (m *Memory) AddRole(ctx context.Context, memberID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[memberID]
	if !ok {
		return ErrMemberNotFound
	}
	if _, ok := m.roles[roleID]; !ok {
		return fmt.Errorf("unknown role %q", roleID)
	}
	for _, id := range mem.RoleIDs {
		if id == roleID {
			return nil
		}
	}
	mem.RoleIDs = append(mem.RoleIDs, roleID)
	return nil
}

func (m *Memory) RemoveRole(ctx context.Context, memberID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[memberID]
	if !ok {
		return ErrMemberNotFound
	}
	for i, id := range mem.RoleIDs {
		if id == roleID {
			mem.RoleIDs = append(mem.RoleIDs[:i], mem.RoleIDs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) EnsureChannel(ctx context.Context, name string, adminOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.channels[name]; !ok {
		m.channels[name] = adminOnly
	}
	return nil
}

func (m *Memory) Send(ctx context.Context, channelName, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent[channelName] = append(m.sent[channelName], message)
	return nil
}

func (m *Memory) AwaitReply(ctx context.Context, channelID, memberID string, timeout time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := channelID + "/" + memberID
	reply, ok := m.replies[key]
	if !ok {
		return "", ErrReplyTimeout
	}
	delete(m.replies, key)
	return reply, nil
}

// Seeding and inspection helpers for tests.

func (m *Memory) PutMember(member Member) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := member
	copied.RoleIDs = append([]string(nil), member.RoleIDs...)
	m.members[member.ID] = &copied
}

func (m *Memory) QueueReply(channelID, memberID, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replies[channelID+"/"+memberID] = reply
}

func (m *Memory) SentTo(channelName string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.sent[channelName]...)
}

// MemberRoleNames resolves a member's role ids to names, for assertions.
func (m *Memory) MemberRoleNames(memberID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	mem, ok := m.members[memberID]
	if !ok {
		return nil
	}
	var names []string
	for _, id := range mem.RoleIDs {
		if role, ok := m.roles[id]; ok {
			names = append(names, role.Name)
		}
	}
	return names
}

// Channel reports whether the named channel exists and whether it is
// admin-only.
func (m *Memory) Channel(name string) (adminOnly, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	adminOnly, ok = m.channels[name]
	return adminOnly, ok
}

// RoleByName returns the first role with the given name, for assertions.
func (m *Memory) RoleByName(name string) (Role, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.roles {
		if r.Name == name {
			return r, true
		}
	}
	return Role{}, false
}
