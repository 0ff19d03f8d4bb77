package engine

import (
	"encoding/json"
	"testing"

	"github.com/sairajesh711/mafia-room-core/internal/types"
)

func mustEvent(eventType string, payload any) types.Event {
	b, _ := json.Marshal(payload)
	return types.Event{EventType: eventType, Payload: b}
}

func TestReduce_RoomCreatedInitializesLobby(t *testing.T) {
	s := NewState("", "", "", Settings{})
	s.Reduce(mustEvent(EventRoomCreated, roomCreatedPayload{
		RoomID: "room-1", Code: "ABCDEF", HostID: "host1", Settings: DefaultSettings(),
	}))
	if s.RoomID != "room-1" || s.Code != "ABCDEF" || s.HostID != "host1" {
		t.Fatalf("unexpected state after room.created: %+v", s)
	}
	if s.Phase != PhaseLobby {
		t.Errorf("expected lobby phase, got %s", s.Phase)
	}
}

func TestReduce_PlayerJoinedAddsToOrderOnce(t *testing.T) {
	s := NewState("room-1", "ABCDEF", "host1", DefaultSettings())
	s.Reduce(mustEvent(EventPlayerJoined, playerJoinedPayload{PlayerID: "p1", Name: "Alice"}))
	if _, ok := s.Players["p1"]; !ok {
		t.Fatal("expected p1 to be seated")
	}
	if s.Players["p1"].Status != StatusAlive || !s.Players["p1"].Connected {
		t.Errorf("expected a freshly joined player to be alive and connected: %+v", s.Players["p1"])
	}
	if len(s.PlayerOrder) != 1 || s.PlayerOrder[0] != "p1" {
		t.Errorf("expected player order [p1], got %v", s.PlayerOrder)
	}
}

func TestReduce_PlayerKickedRemovesFromOrderAndMap(t *testing.T) {
	s := NewState("room-1", "ABCDEF", "host1", DefaultSettings())
	s.Reduce(mustEvent(EventPlayerJoined, playerJoinedPayload{PlayerID: "p1", Name: "Alice"}))
	s.Reduce(mustEvent(EventPlayerJoined, playerJoinedPayload{PlayerID: "p2", Name: "Bob"}))
	s.Reduce(mustEvent(EventPlayerKicked, playerKickedPayload{PlayerID: "p1"}))
	if _, ok := s.Players["p1"]; ok {
		t.Error("expected p1 to be removed from Players")
	}
	if len(s.PlayerOrder) != 1 || s.PlayerOrder[0] != "p2" {
		t.Errorf("expected player order [p2], got %v", s.PlayerOrder)
	}
}

func TestReduce_ConnectionChangedTracksDisconnectAndReconnect(t *testing.T) {
	s := NewState("room-1", "ABCDEF", "host1", DefaultSettings())
	s.Reduce(mustEvent(EventPlayerJoined, playerJoinedPayload{PlayerID: "p1", Name: "Alice"}))
	s.Reduce(mustEvent(EventPlayerConnectionChanged, connectionChangedPayload{PlayerID: "p1", Connected: false}))
	if s.Players["p1"].Status != StatusDisconnected {
		t.Fatalf("expected p1 disconnected, got %s", s.Players["p1"].Status)
	}
	s.Reduce(mustEvent(EventPlayerConnectionChanged, connectionChangedPayload{PlayerID: "p1", Connected: true}))
	if s.Players["p1"].Status != StatusAlive {
		t.Errorf("expected p1 alive again after reconnect, got %s", s.Players["p1"].Status)
	}
}

func TestReduce_ConnectionChangeDoesNotResurrectTheDead(t *testing.T) {
	s := NewState("room-1", "ABCDEF", "host1", DefaultSettings())
	s.Reduce(mustEvent(EventPlayerJoined, playerJoinedPayload{PlayerID: "p1", Name: "Alice"}))
	p := s.Players["p1"]
	p.Status = StatusDead
	s.Players["p1"] = p
	s.Reduce(mustEvent(EventPlayerConnectionChanged, connectionChangedPayload{PlayerID: "p1", Connected: false}))
	if s.Players["p1"].Status != StatusDead {
		t.Errorf("expected dead player to remain dead on disconnect, got %s", s.Players["p1"].Status)
	}
}

func TestReduce_NightResolvedClearsActionsAndKillsTarget(t *testing.T) {
	s := NewState("room-1", "ABCDEF", "host1", DefaultSettings())
	s.Reduce(mustEvent(EventPlayerJoined, playerJoinedPayload{PlayerID: "p1", Name: "Alice"}))
	s.NightActions["a1"] = NightAction{ActionID: "a1", PlayerID: "p1", Type: "KILL", TargetID: "p1"}
	s.Reduce(mustEvent(EventNightResolved, nightResolvedPayload{DeadPlayerID: "p1", Narrative: "Alice died."}))
	if len(s.NightActions) != 0 {
		t.Error("expected night actions cleared after resolution")
	}
	if s.Players["p1"].Status != StatusDead {
		t.Errorf("expected p1 dead, got %s", s.Players["p1"].Status)
	}
	if len(s.PublicNarrative) != 1 || s.PublicNarrative[0] != "Alice died." {
		t.Errorf("expected narrative appended, got %v", s.PublicNarrative)
	}
}

func TestReduce_VoteCastReplacesPriorBallotFromSameVoter(t *testing.T) {
	s := NewState("room-1", "ABCDEF", "host1", DefaultSettings())
	s.Reduce(mustEvent(EventVoteCast, voteCastPayload{Vote: Vote{ActionID: "v1", PlayerID: "p1", TargetID: "p2"}}))
	s.Reduce(mustEvent(EventVoteCast, voteCastPayload{Vote: Vote{ActionID: "v2", PlayerID: "p1", TargetID: "p3"}}))
	if len(s.Votes) != 1 {
		t.Fatalf("expected exactly one live ballot per voter, got %d", len(s.Votes))
	}
	if s.Votes["v2"].TargetID != "p3" {
		t.Errorf("expected the voter's latest ballot to stick, got %+v", s.Votes["v2"])
	}
}

func TestReduce_VictoryDeclaredEndsTheRoom(t *testing.T) {
	s := NewState("room-1", "ABCDEF", "host1", DefaultSettings())
	s.Phase = PhaseDayVoting
	s.Timer = &Timer{Phase: PhaseDayVoting, EndsAt: 999}
	s.Reduce(mustEvent(EventVictoryDeclared, victoryDeclaredPayload{Condition: VictoryTown}))
	if s.Phase != PhaseEnded {
		t.Errorf("expected phase ended, got %s", s.Phase)
	}
	if s.Timer != nil {
		t.Error("expected timer cleared once the room ends")
	}
	if s.VictoryCondition != VictoryTown {
		t.Errorf("expected town victory recorded, got %s", s.VictoryCondition)
	}
}

func TestStateCopy_DeepCopiesMutableCollections(t *testing.T) {
	s := NewState("room-1", "ABCDEF", "host1", DefaultSettings())
	s.Reduce(mustEvent(EventPlayerJoined, playerJoinedPayload{PlayerID: "p1", Name: "Alice"}))
	cp := s.Copy()

	p := cp.Players["p1"]
	p.Name = "Mutated"
	cp.Players["p1"] = p
	cp.PlayerOrder[0] = "mutated-order"

	if s.Players["p1"].Name != "Alice" {
		t.Error("mutating the copy's Players map leaked back into the original")
	}
	if s.PlayerOrder[0] != "p1" {
		t.Error("mutating the copy's PlayerOrder slice leaked back into the original")
	}
}

func TestMarshalUnmarshalState_RoundTrips(t *testing.T) {
	s := NewState("room-1", "ABCDEF", "host1", DefaultSettings())
	s.Reduce(mustEvent(EventPlayerJoined, playerJoinedPayload{PlayerID: "p1", Name: "Alice"}))
	raw, err := MarshalState(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := UnmarshalState(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.RoomID != s.RoomID || back.Players["p1"].Name != "Alice" {
		t.Errorf("state did not round-trip: %+v", back)
	}
}

func TestAliveCounts_TalliesByAlignment(t *testing.T) {
	s := NewState("room-1", "ABCDEF", "host1", DefaultSettings())
	s.Players = map[string]Player{
		"m1": newTestPlayer("m1", "M", "mafia", "mafia"),
		"t1": newTestPlayer("t1", "T1", "townsperson", "town"),
		"t2": newTestPlayer("t2", "T2", "townsperson", "town"),
		"d1": func() Player {
			p := newTestPlayer("d1", "Dead", "townsperson", "town")
			p.Status = StatusDead
			return p
		}(),
	}
	mafia, town, neutral := s.AliveCounts()
	if mafia != 1 || town != 2 || neutral != 0 {
		t.Errorf("got mafia=%d town=%d neutral=%d, want 1/2/0", mafia, town, neutral)
	}
}
