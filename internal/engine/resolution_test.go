package engine

import (
	"encoding/json"
	"testing"
)

func newTestPlayer(id, name, roleID, alignment string) Player {
	return Player{ID: id, Name: name, RoleID: roleID, Alignment: alignment, Status: StatusAlive, Connected: true}
}

func baseNightState() State {
	s := NewState("room-1", "ABCDEF", "mafia1", DefaultSettings())
	s.Phase = PhaseNight
	s.Players = map[string]Player{
		"mafia1":  newTestPlayer("mafia1", "Mallory", "mafia", "mafia"),
		"doctor1": newTestPlayer("doctor1", "Dana", "doctor", "town"),
		"detect1": newTestPlayer("detect1", "Dex", "detective", "town"),
		"town1":   newTestPlayer("town1", "Tom", "townsperson", "town"),
	}
	s.PlayerOrder = []string{"mafia1", "doctor1", "detect1", "town1"}
	return s
}

func TestResolveNight_KillWithoutProtect(t *testing.T) {
	s := baseNightState()
	s.NightActions = map[string]NightAction{
		"a1": {ActionID: "a1", PlayerID: "mafia1", Type: "KILL", TargetID: "town1", Priority: 10},
	}
	events := ResolveNight(s)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	var p nightResolvedPayload
	if err := json.Unmarshal(events[0].Payload, &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.DeadPlayerID != "town1" {
		t.Errorf("expected town1 to die, got %q", p.DeadPlayerID)
	}
}

func TestResolveNight_ProtectCancelsKill(t *testing.T) {
	s := baseNightState()
	s.NightActions = map[string]NightAction{
		"a1": {ActionID: "a1", PlayerID: "mafia1", Type: "KILL", TargetID: "town1", Priority: 10},
		"a2": {ActionID: "a2", PlayerID: "doctor1", Type: "PROTECT", TargetID: "town1", Priority: 20},
	}
	events := ResolveNight(s)
	var p nightResolvedPayload
	_ = json.Unmarshal(events[0].Payload, &p)
	if p.DeadPlayerID != "" {
		t.Errorf("expected no death when doctor protects the kill target, got %q", p.DeadPlayerID)
	}
}

func TestResolveNight_ProtectOfOtherPlayerDoesNotCancelKill(t *testing.T) {
	s := baseNightState()
	s.NightActions = map[string]NightAction{
		"a1": {ActionID: "a1", PlayerID: "mafia1", Type: "KILL", TargetID: "town1", Priority: 10},
		"a2": {ActionID: "a2", PlayerID: "doctor1", Type: "PROTECT", TargetID: "detect1", Priority: 20},
	}
	events := ResolveNight(s)
	var p nightResolvedPayload
	_ = json.Unmarshal(events[0].Payload, &p)
	if p.DeadPlayerID != "town1" {
		t.Errorf("expected town1 to still die when protect targets someone else, got %q", p.DeadPlayerID)
	}
}

func TestResolveNight_DetectiveInvestigationReportsAlignment(t *testing.T) {
	s := baseNightState()
	s.NightActions = map[string]NightAction{
		"a1": {ActionID: "a1", PlayerID: "detect1", Type: "INVESTIGATE", TargetID: "mafia1", Priority: 30},
	}
	events := ResolveNight(s)
	var p nightResolvedPayload
	_ = json.Unmarshal(events[0].Payload, &p)
	if len(p.NewInvestigations) != 1 {
		t.Fatalf("expected 1 investigation result, got %d", len(p.NewInvestigations))
	}
	r := p.NewInvestigations[0]
	if r.InvestigatorID != "detect1" || r.TargetID != "mafia1" || !r.IsMafia {
		t.Errorf("unexpected investigation result: %+v", r)
	}
}

func TestResolveNight_MafiaCannotTargetMafia(t *testing.T) {
	s := baseNightState()
	s.Players["mafia2"] = newTestPlayer("mafia2", "Moe", "mafia", "mafia")
	s.NightActions = map[string]NightAction{
		"a1": {ActionID: "a1", PlayerID: "mafia1", Type: "KILL", TargetID: "mafia2", Priority: 10},
	}
	events := ResolveNight(s)
	var p nightResolvedPayload
	_ = json.Unmarshal(events[0].Payload, &p)
	if p.DeadPlayerID != "" {
		t.Errorf("expected mafia-on-mafia kill to be ignored, got death of %q", p.DeadPlayerID)
	}
}

func TestResolveNight_IsPermutationInvariant(t *testing.T) {
	// A kill and a protect of a different target, inserted under every
	// map key ordering Go happens to choose, must always produce the same
	// dead player: the tie-break sort is total over (priority, submittedAt,
	// actionId), not insertion order.
	base := baseNightState()
	base.Players["mafia2"] = newTestPlayer("mafia2", "Moe", "mafia", "mafia")

	actionSets := [][2]NightAction{
		{
			{ActionID: "a1", PlayerID: "mafia1", Type: "KILL", TargetID: "town1", SubmittedAtMs: 100, Priority: 10},
			{ActionID: "a2", PlayerID: "doctor1", Type: "PROTECT", TargetID: "detect1", SubmittedAtMs: 200, Priority: 20},
		},
	}
	for _, pair := range actionSets {
		for _, order := range [][2]int{{0, 1}, {1, 0}} {
			s := base
			s.NightActions = make(map[string]NightAction)
			first, second := pair[order[0]], pair[order[1]]
			s.NightActions[first.ActionID] = first
			s.NightActions[second.ActionID] = second
			events := ResolveNight(s)
			var p nightResolvedPayload
			_ = json.Unmarshal(events[0].Payload, &p)
			if p.DeadPlayerID != "town1" {
				t.Errorf("insertion order %v: expected town1 dead, got %q", order, p.DeadPlayerID)
			}
		}
	}
}

func baseVotingState() State {
	s := NewState("room-1", "ABCDEF", "p1", DefaultSettings())
	s.Phase = PhaseDayVoting
	s.Players = map[string]Player{
		"p1": newTestPlayer("p1", "Alice", "townsperson", "town"),
		"p2": newTestPlayer("p2", "Bob", "townsperson", "town"),
		"p3": newTestPlayer("p3", "Cleo", "townsperson", "town"),
		"p4": newTestPlayer("p4", "Dee", "mafia", "mafia"),
		"p5": newTestPlayer("p5", "Eve", "townsperson", "town"),
	}
	s.PlayerOrder = []string{"p1", "p2", "p3", "p4", "p5"}
	return s
}

func TestResolveVoting_MajorityLynch(t *testing.T) {
	s := baseVotingState()
	s.Votes = map[string]Vote{
		"v1": {ActionID: "v1", PlayerID: "p1", TargetID: "p4"},
		"v2": {ActionID: "v2", PlayerID: "p2", TargetID: "p4"},
		"v3": {ActionID: "v3", PlayerID: "p3", TargetID: "p4"},
	}
	events := ResolveVoting(s)
	var p votingResolvedPayload
	_ = json.Unmarshal(events[0].Payload, &p)
	if p.LynchedPlayerID != "p4" {
		t.Errorf("expected p4 lynched with 3/5 votes, got %q", p.LynchedPlayerID)
	}
}

func TestResolveVoting_TieUnderMajorityResolvesToNoLynch(t *testing.T) {
	s := baseVotingState()
	s.Votes = map[string]Vote{
		"v1": {ActionID: "v1", PlayerID: "p1", TargetID: "p4"},
		"v2": {ActionID: "v2", PlayerID: "p4", TargetID: "p1"},
	}
	events := ResolveVoting(s)
	var p votingResolvedPayload
	_ = json.Unmarshal(events[0].Payload, &p)
	if p.LynchedPlayerID != "" {
		t.Errorf("expected no lynch on a 1-1 tie under majority mode, got %q", p.LynchedPlayerID)
	}
}

func TestResolveVoting_PluralityLynchesTopVoteGetterWithoutMajority(t *testing.T) {
	s := baseVotingState()
	s.Settings.VotingMode = VotingPlurality
	s.Votes = map[string]Vote{
		"v1": {ActionID: "v1", PlayerID: "p1", TargetID: "p4"},
		"v2": {ActionID: "v2", PlayerID: "p2", TargetID: "p4"},
		"v3": {ActionID: "v3", PlayerID: "p3", TargetID: "p5"},
	}
	events := ResolveVoting(s)
	var p votingResolvedPayload
	_ = json.Unmarshal(events[0].Payload, &p)
	if p.LynchedPlayerID != "p4" {
		t.Errorf("expected p4 (2 votes) lynched under plurality, got %q", p.LynchedPlayerID)
	}
}

func TestResolveVoting_AbstainsDoNotCountTowardTally(t *testing.T) {
	s := baseVotingState()
	s.Votes = map[string]Vote{
		"v1": {ActionID: "v1", PlayerID: "p1", TargetID: "p4"},
		"v2": {ActionID: "v2", PlayerID: "p2", Abstain: true},
	}
	events := ResolveVoting(s)
	var p votingResolvedPayload
	_ = json.Unmarshal(events[0].Payload, &p)
	if p.LynchedPlayerID != "" {
		t.Errorf("1 vote out of 5 alive should not reach majority, got lynch of %q", p.LynchedPlayerID)
	}
}

func TestCheckVictory(t *testing.T) {
	cases := []struct {
		name    string
		players map[string]Player
		want    VictoryCondition
	}{
		{
			name: "mafia equals town triggers mafia victory",
			players: map[string]Player{
				"m1": newTestPlayer("m1", "M", "mafia", "mafia"),
				"t1": newTestPlayer("t1", "T", "townsperson", "town"),
			},
			want: VictoryMafia,
		},
		{
			name: "no mafia alive triggers town victory",
			players: map[string]Player{
				"t1": newTestPlayer("t1", "T1", "townsperson", "town"),
				"t2": newTestPlayer("t2", "T2", "townsperson", "town"),
			},
			want: VictoryTown,
		},
		{
			name: "mafia outnumbered continues the game",
			players: map[string]Player{
				"m1": newTestPlayer("m1", "M", "mafia", "mafia"),
				"t1": newTestPlayer("t1", "T1", "townsperson", "town"),
				"t2": newTestPlayer("t2", "T2", "townsperson", "town"),
			},
			want: VictoryNone,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewState("r", "C", "m1", DefaultSettings())
			s.Players = tc.players
			if got := CheckVictory(s); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestAdvancePhase_LinearProgressionAndTimerArithmetic(t *testing.T) {
	s := NewState("r", "C", "m1", DefaultSettings())
	s.Players = map[string]Player{
		"m1": newTestPlayer("m1", "M", "mafia", "mafia"),
		"t1": newTestPlayer("t1", "T1", "townsperson", "town"),
		"t2": newTestPlayer("t2", "T2", "townsperson", "town"),
	}
	s.Phase = PhaseNight
	now := int64(1_000_000)
	events := AdvancePhase(s, now)
	var p phaseAdvancedPayload
	_ = json.Unmarshal(events[0].Payload, &p)
	if p.Phase != PhaseDayAnnouncement {
		t.Fatalf("expected night to advance to day_announcement, got %s", p.Phase)
	}
	if p.Timer == nil || p.Timer.StartedAt != now || p.Timer.EndsAt != now+30_000 {
		t.Errorf("unexpected timer: %+v", p.Timer)
	}
}

func TestAdvancePhase_DeclaresVictoryInsteadOfAdvancing(t *testing.T) {
	s := NewState("r", "C", "m1", DefaultSettings())
	s.Phase = PhaseDayVoting
	s.Players = map[string]Player{
		"t1": newTestPlayer("t1", "T1", "townsperson", "town"),
	}
	events := AdvancePhase(s, 0)
	if len(events) != 1 || events[0].EventType != EventVictoryDeclared {
		t.Fatalf("expected a victory.declared event, got %+v", events)
	}
	var p victoryDeclaredPayload
	_ = json.Unmarshal(events[0].Payload, &p)
	if p.Condition != VictoryTown {
		t.Errorf("expected town victory once mafia is extinct, got %s", p.Condition)
	}
}
