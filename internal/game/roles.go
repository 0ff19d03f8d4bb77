// Package game holds the static role registry (component A) and the
// role-distribution and assignment logic run once at game start.
package game

// Alignment is a player's political faction.
type Alignment string

const (
	AlignmentMafia   Alignment = "mafia"
	AlignmentTown    Alignment = "town"
	AlignmentNeutral Alignment = "neutral"
)

// ActionType is a night-action kind.
type ActionType string

const (
	ActionKill        ActionType = "KILL"
	ActionProtect     ActionType = "PROTECT"
	ActionInvestigate ActionType = "INVESTIGATE"
	ActionNone        ActionType = "NONE"
)

// Priority is the deterministic night-resolution tie-break key.
func (a ActionType) Priority() int {
	switch a {
	case ActionKill:
		return 10
	case ActionProtect:
		return 20
	case ActionInvestigate:
		return 30
	default:
		return 99
	}
}

// TargetFilter narrows which alive players a role may target.
type TargetFilter string

const (
	FilterNonMafia TargetFilter = "nonMafia"
	FilterAnyAlive TargetFilter = "anyAlive"
	FilterNone     TargetFilter = "none"
)

// NightSpec describes a role's optional night action.
type NightSpec struct {
	Type           ActionType
	MaxTargets     int
	TargetRequired bool
}

// TargetRules constrains which players a role's action may name.
type TargetRules struct {
	AllowSelf  bool
	AllowAlive bool
	AllowDead  bool
	Filter     TargetFilter
}

// VoteTallyVisibility controls what a role sees of the live vote count.
type VoteTallyVisibility string

const (
	TalliesLive  VoteTallyVisibility = "live"
	TalliesFinal VoteTallyVisibility = "final"
	TalliesNone  VoteTallyVisibility = "none"
)

// Visibility describes what a role's holder is allowed to see.
type Visibility struct {
	KnowsTeammates  bool
	SeesVoteTallies VoteTallyVisibility
}

// Voting describes a role's ballot rights.
type Voting struct {
	CanVote bool
	Weight  int
}

// Chat describes a role's speaking rights per channel. The dead channel
// is gated by player status, not role, so it has no flag here.
type Chat struct {
	CanSpeak   bool
	NightMafia bool
}

// Role is one entry in the static registry.
type Role struct {
	ID           string
	Alignment    Alignment
	Night        *NightSpec
	Targets      TargetRules
	Visibility   Visibility
	Voting       Voting
	Chat         Chat
	WinsWithTeam Alignment
}

const (
	RoleMafia       = "mafia"
	RoleDetective   = "detective"
	RoleDoctor      = "doctor"
	RoleTownsperson = "townsperson"
)

// Registry is the static table mapping role id to its full spec.
var Registry = map[string]Role{
	RoleMafia: {
		ID:        RoleMafia,
		Alignment: AlignmentMafia,
		Night:     &NightSpec{Type: ActionKill, MaxTargets: 1, TargetRequired: true},
		Targets:   TargetRules{AllowSelf: false, AllowAlive: true, AllowDead: false, Filter: FilterNonMafia},
		Visibility: Visibility{
			KnowsTeammates:  true,
			SeesVoteTallies: TalliesLive,
		},
		Voting:       Voting{CanVote: true, Weight: 1},
		Chat:         Chat{CanSpeak: true, NightMafia: true},
		WinsWithTeam: AlignmentMafia,
	},
	RoleDoctor: {
		ID:        RoleDoctor,
		Alignment: AlignmentTown,
		Night:     &NightSpec{Type: ActionProtect, MaxTargets: 1, TargetRequired: true},
		Targets:   TargetRules{AllowSelf: true, AllowAlive: true, AllowDead: false, Filter: FilterAnyAlive},
		Visibility: Visibility{
			KnowsTeammates:  false,
			SeesVoteTallies: TalliesLive,
		},
		Voting:       Voting{CanVote: true, Weight: 1},
		Chat:         Chat{CanSpeak: true},
		WinsWithTeam: AlignmentTown,
	},
	RoleDetective: {
		ID:        RoleDetective,
		Alignment: AlignmentTown,
		Night:     &NightSpec{Type: ActionInvestigate, MaxTargets: 1, TargetRequired: true},
		Targets:   TargetRules{AllowSelf: false, AllowAlive: true, AllowDead: false, Filter: FilterAnyAlive},
		Visibility: Visibility{
			KnowsTeammates:  false,
			SeesVoteTallies: TalliesLive,
		},
		Voting:       Voting{CanVote: true, Weight: 1},
		Chat:         Chat{CanSpeak: true},
		WinsWithTeam: AlignmentTown,
	},
	RoleTownsperson: {
		ID:        RoleTownsperson,
		Alignment: AlignmentTown,
		Night:     nil,
		Targets:   TargetRules{Filter: FilterNone},
		Visibility: Visibility{
			KnowsTeammates:  false,
			SeesVoteTallies: TalliesLive,
		},
		Voting:       Voting{CanVote: true, Weight: 1},
		Chat:         Chat{CanSpeak: true},
		WinsWithTeam: AlignmentTown,
	},
}

// GetRole looks up a role by id; ok is false for an unknown id.
func GetRole(id string) (Role, bool) {
	r, ok := Registry[id]
	return r, ok
}

// Distribution is the computed role counts for a seated player count.
type Distribution struct {
	Mafia       int
	Detective   int
	Doctor      int
	Townsperson int
}

// ComputeDistribution computes the role counts: always 1 detective,
// mafiaCount = max(1, floor(N/3)), remainder townsperson, with the doctor
// slot filled whenever N is large enough to support it (N>=4) so that the
// rule degrades gracefully down to the minimum room size of 3.
func ComputeDistribution(n int) Distribution {
	mafiaCount := n / 3
	if mafiaCount < 1 {
		mafiaCount = 1
	}
	detective := 1
	doctor := 0
	if n >= 4 {
		doctor = 1
	}
	townsperson := n - mafiaCount - detective - doctor
	if townsperson < 0 {
		townsperson = 0
	}
	return Distribution{
		Mafia:       mafiaCount,
		Detective:   detective,
		Doctor:      doctor,
		Townsperson: townsperson,
	}
}

// RoleList expands a Distribution into one role id per seat, unshuffled.
func (d Distribution) RoleList() []string {
	list := make([]string, 0, d.Mafia+d.Detective+d.Doctor+d.Townsperson)
	for i := 0; i < d.Mafia; i++ {
		list = append(list, RoleMafia)
	}
	for i := 0; i < d.Detective; i++ {
		list = append(list, RoleDetective)
	}
	for i := 0; i < d.Doctor; i++ {
		list = append(list, RoleDoctor)
	}
	for i := 0; i < d.Townsperson; i++ {
		list = append(list, RoleTownsperson)
	}
	return list
}
