package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"r6-rolesync/internal/config"
	"r6-rolesync/internal/platform"
	"r6-rolesync/internal/rank"

	"github.com/rs/zerolog"
)

// RoleReconciler applies the role-membership delta for a member's desired
// rank: remove every held rank role, then add the specific-rank role
// (hidden) and its tier role (hoisted). Role creation is get-or-create by
// name so interleaved triggers never produce duplicates.
type RoleReconciler struct {
	guild  platform.Guild
	audit  *Audit
	logger zerolog.Logger

	unrankedRole string
	unlinkedRole string

	// roleIDs caches name-to-id resolutions so repeated reconciliations do
	// not re-enumerate the guild role set for names already seen.
	roleMu  sync.Mutex
	roleIDs map[string]string
}

func NewRoleReconciler(guild platform.Guild, audit *Audit, cfg *config.Config, logger zerolog.Logger) *RoleReconciler {
	return &RoleReconciler{
		guild:        guild,
		audit:        audit,
		logger:       logger,
		unrankedRole: cfg.UnrankedRoleName,
		unlinkedRole: cfg.UnlinkedRoleName,
		roleIDs:      make(map[string]string),
	}
}

// managedNames is the full rank-role set: every specific and tier role plus
// the unranked and unlinked markers.
func (r *RoleReconciler) managedNames() []string {
	names := rank.AllRoleNames()
	names = append(names, r.unrankedRole, r.unlinkedRole)
	return names
}

// Apply reconciles the member's roles to desired. A nil desired rank, or
// Unranked, yields the unranked role only.
func (r *RoleReconciler) Apply(ctx context.Context, memberID string, desired *rank.Rank) error {
	removed, byName, err := r.removeManaged(ctx, memberID)
	if err != nil {
		return err
	}

	var wanted []roleSpec
	if desired == nil || *desired == rank.Unranked {
		wanted = []roleSpec{{name: r.unrankedRole, hoisted: true}}
	} else {
		wanted = []roleSpec{
			{name: desired.RoleName(), hoisted: false},
			{name: desired.Tier().RoleName(), hoisted: true},
		}
	}

	added, err := r.addRoles(ctx, memberID, wanted, byName)
	if err != nil {
		return err
	}

	r.auditDelta(ctx, memberID, removed, added)
	return nil
}

// Strip removes every rank role and applies the unlinked marker. Used when
// an identity is removed.
func (r *RoleReconciler) Strip(ctx context.Context, memberID string) error {
	removed, byName, err := r.removeManaged(ctx, memberID)
	if err != nil {
		return err
	}

	added, err := r.addRoles(ctx, memberID, []roleSpec{{name: r.unlinkedRole, hoisted: true}}, byName)
	if err != nil {
		return err
	}

	r.auditDelta(ctx, memberID, removed, added)
	return nil
}

// EnsureUnlinked adds the unlinked marker if the member does not hold it.
// Existing rank roles are left alone; used by the cycle's self-healing
// sweep over untracked members.
func (r *RoleReconciler) EnsureUnlinked(ctx context.Context, memberID string) error {
	member, err := r.guild.Member(ctx, memberID)
	if err != nil {
		return err
	}

	roleID, err := r.getOrCreateRole(ctx, r.unlinkedRole, true, nil)
	if err != nil {
		return err
	}
	if member.HasRole(roleID) {
		return nil
	}
	if err := r.guild.AddRole(ctx, memberID, roleID); err != nil {
		return fmt.Errorf("failed to add unlinked role: %w", err)
	}

	r.logger.Info().Str("member_id", memberID).Msg("restored unlinked marker role")
	return nil
}

// EnsureRoleLadder pre-creates every managed role, tier roles hoisted and
// specific-rank roles hidden. Idempotent.
func (r *RoleReconciler) EnsureRoleLadder(ctx context.Context) error {
	hoisted := map[string]bool{
		r.unrankedRole: true,
		r.unlinkedRole: true,
	}
	for rk := rank.BronzeIII; rk <= rank.Champion; rk++ {
		hoisted[rk.Tier().RoleName()] = true
		if _, ok := hoisted[rk.RoleName()]; !ok {
			hoisted[rk.RoleName()] = false
		}
	}

	for _, name := range r.managedNames() {
		if _, err := r.getOrCreateRole(ctx, name, hoisted[name], nil); err != nil {
			return fmt.Errorf("failed to ensure role %q: %w", name, err)
		}
	}
	return nil
}

type roleSpec struct {
	name    string
	hoisted bool
}

// removeManaged removes every managed role the member currently holds and
// returns the removed names plus the guild's current name-to-role index for
// reuse by the add phase.
func (r *RoleReconciler) removeManaged(ctx context.Context, memberID string) ([]string, map[string]platform.Role, error) {
	member, err := r.guild.Member(ctx, memberID)
	if err != nil {
		return nil, nil, err
	}

	roles, err := r.guild.Roles(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to enumerate roles: %w", err)
	}
	byName := make(map[string]platform.Role, len(roles))
	for _, role := range roles {
		byName[role.Name] = role
	}

	var removed []string
	for _, name := range r.managedNames() {
		role, ok := byName[name]
		if !ok || !member.HasRole(role.ID) {
			continue
		}
		if err := r.guild.RemoveRole(ctx, memberID, role.ID); err != nil {
			return removed, nil, fmt.Errorf("failed to remove role %q: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, byName, nil
}

func (r *RoleReconciler) addRoles(ctx context.Context, memberID string, wanted []roleSpec, byName map[string]platform.Role) ([]string, error) {
	var added []string
	for _, spec := range wanted {
		roleID, err := r.getOrCreateRole(ctx, spec.name, spec.hoisted, byName)
		if err != nil {
			return added, err
		}
		if err := r.guild.AddRole(ctx, memberID, roleID); err != nil {
			return added, fmt.Errorf("failed to add role %q: %w", spec.name, err)
		}
		added = append(added, spec.name)
	}
	return added, nil
}

// getOrCreateRole resolves a role id by name, creating the role when it
// does not exist yet. The lookup before create keeps creation idempotent
// when a manual trigger interleaves with the timer. byName may carry a
// fresh role enumeration to spare a network round trip; nil forces one.
func (r *RoleReconciler) getOrCreateRole(ctx context.Context, name string, hoisted bool, byName map[string]platform.Role) (string, error) {
	r.roleMu.Lock()
	defer r.roleMu.Unlock()

	if id, ok := r.roleIDs[name]; ok {
		return id, nil
	}

	if byName == nil {
		roles, err := r.guild.Roles(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to enumerate roles: %w", err)
		}
		byName = make(map[string]platform.Role, len(roles))
		for _, role := range roles {
			byName[role.Name] = role
		}
	}

	if role, ok := byName[name]; ok {
		r.roleIDs[name] = role.ID
		return role.ID, nil
	}

	role, err := r.guild.CreateRole(ctx, name, hoisted)
	if err != nil {
		return "", err
	}
	r.logger.Info().Str("role", name).Msg("created role")
	r.roleIDs[name] = role.ID
	return role.ID, nil
}

func (r *RoleReconciler) auditDelta(ctx context.Context, memberID string, removed, added []string) {
	if len(removed) == 0 && len(added) == 0 {
		return
	}
	var parts []string
	if len(removed) > 0 {
		parts = append(parts, "removed "+strings.Join(removed, ", "))
	}
	if len(added) > 0 {
		parts = append(parts, "added "+strings.Join(added, ", "))
	}
	r.audit.Log(ctx, fmt.Sprintf("🎭 Roles for <@%s>: %s", memberID, strings.Join(parts, "; ")))
}
