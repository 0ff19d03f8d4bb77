package game

import "testing"

func TestAssignRoles_MatchesDistributionAndCoversEveryPlayer(t *testing.T) {
	players := []string{"p1", "p2", "p3", "p4", "p5", "p6"}
	assignments, err := AssignRoles(players)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assignments) != len(players) {
		t.Fatalf("expected %d assignments, got %d", len(players), len(assignments))
	}
	seen := map[string]bool{}
	counts := map[string]int{}
	for _, a := range assignments {
		if seen[a.PlayerID] {
			t.Errorf("player %s assigned more than once", a.PlayerID)
		}
		seen[a.PlayerID] = true
		counts[a.RoleID]++
		r, ok := GetRole(a.RoleID)
		if !ok || r.Alignment != a.Alignment {
			t.Errorf("assignment %+v has a role/alignment mismatch against the registry", a)
		}
	}
	for _, p := range players {
		if !seen[p] {
			t.Errorf("player %s was never assigned a role", p)
		}
	}
	want := ComputeDistribution(len(players))
	if counts[RoleMafia] != want.Mafia || counts[RoleDetective] != want.Detective ||
		counts[RoleDoctor] != want.Doctor || counts[RoleTownsperson] != want.Townsperson {
		t.Errorf("assigned counts %+v did not match distribution %+v", counts, want)
	}
}

func TestAssignRoles_RejectsFewerThanThreePlayers(t *testing.T) {
	if _, err := AssignRoles([]string{"p1", "p2"}); err == nil {
		t.Error("expected an error for fewer than 3 players")
	}
}

func TestRandIndex_StaysInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		v, err := RandIndex(7)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v < 0 || v >= 7 {
			t.Fatalf("RandIndex(7) returned out-of-range value %d", v)
		}
	}
}
