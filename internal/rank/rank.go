// Package rank defines the canonical competitive rank enumeration and the
// pure normalization from provider-returned rank strings.
package rank

import "strings"

// Rank is a canonical competitive rank, ordered from Unranked upward.
type Rank int

const (
	Unranked Rank = iota
	BronzeIII
	BronzeII
	BronzeI
	SilverIII
	SilverII
	SilverI
	GoldIII
	GoldII
	GoldI
	PlatinumIII
	PlatinumII
	PlatinumI
	Diamond
	Champion
)

// Tier is the coarse grouping of ranks sharing a visible role.
type Tier int

const (
	TierUnranked Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierPlatinum
	TierDiamond
	TierChampion
)

type rankInfo struct {
	slug     string // stored form, also the normalized provider form
	roleName string // hidden specific-rank role
	tier     Tier
}

var ranks = map[Rank]rankInfo{
	Unranked:    {"unranked", "", TierUnranked},
	BronzeIII:   {"bronze-3", "Bronze 3", TierBronze},
	BronzeII:    {"bronze-2", "Bronze 2", TierBronze},
	BronzeI:     {"bronze-1", "Bronze 1", TierBronze},
	SilverIII:   {"silver-3", "Silver 3", TierSilver},
	SilverII:    {"silver-2", "Silver 2", TierSilver},
	SilverI:     {"silver-1", "Silver 1", TierSilver},
	GoldIII:     {"gold-3", "Gold 3", TierGold},
	GoldII:      {"gold-2", "Gold 2", TierGold},
	GoldI:       {"gold-1", "Gold 1", TierGold},
	PlatinumIII: {"platinum-3", "Platinum 3", TierPlatinum},
	PlatinumII:  {"platinum-2", "Platinum 2", TierPlatinum},
	PlatinumI:   {"platinum-1", "Platinum 1", TierPlatinum},
	Diamond:     {"diamond", "Diamond 1", TierDiamond},
	Champion:    {"champion", "Champion", TierChampion},
}

var tierRoleNames = map[Tier]string{
	TierUnranked: "",
	TierBronze:   "Bronze",
	TierSilver:   "Silver",
	TierGold:     "Gold",
	TierPlatinum: "Platinum",
	TierDiamond:  "Diamond",
	TierChampion: "Champion",
}

var bySlug = func() map[string]Rank {
	m := make(map[string]Rank, len(ranks))
	for r, info := range ranks {
		m[info.slug] = r
	}
	return m
}()

// Normalize maps an arbitrary provider rank string onto the canonical
// enumeration. Lower-case, whitespace to hyphen, table lookup. Empty or
// unknown input yields Unranked.
func Normalize(raw string) Rank {
	slug := strings.ToLower(strings.TrimSpace(raw))
	slug = strings.Join(strings.Fields(slug), "-")
	if r, ok := bySlug[slug]; ok {
		return r
	}
	return Unranked
}

// Parse converts a stored slug back into a Rank. The second return is false
// for unknown input.
func Parse(slug string) (Rank, bool) {
	r, ok := bySlug[slug]
	return r, ok
}

// String returns the stable slug form used for persistence.
func (r Rank) String() string {
	if info, ok := ranks[r]; ok {
		return info.slug
	}
	return "unranked"
}

// RoleName returns the hidden specific-rank role name, empty for Unranked.
func (r Rank) RoleName() string {
	return ranks[r].roleName
}

func (r Rank) Tier() Tier {
	return ranks[r].tier
}

// Display returns the human-readable form used in audit lines.
func (r Rank) Display() string {
	if r == Unranked {
		return "Unranked"
	}
	return ranks[r].roleName
}

// RoleName returns the visible (hoisted) tier role name, empty for TierUnranked.
func (t Tier) RoleName() string {
	return tierRoleNames[t]
}

// AllRoleNames returns every specific-rank and tier role name, deduplicated,
// in rank order. The unranked and unlinked marker roles are configured
// elsewhere and not included.
func AllRoleNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for r := BronzeIII; r <= Champion; r++ {
		for _, name := range []string{r.RoleName(), r.Tier().RoleName()} {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}
