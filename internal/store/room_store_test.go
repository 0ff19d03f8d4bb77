package store

import (
	"context"
	"errors"
	"testing"

	"github.com/sairajesh711/mafia-room-core/internal/engine"
)

var errUnderlyingFailure = errors.New("mutator exploded")

func TestCreateRoom_ReservesAUniqueCodeAndWritesLobbyState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	roomID, code, err := s.CreateRoom(ctx, "host1", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if roomID == "" || len(code) != 6 {
		t.Fatalf("expected a room id and a 6-character code, got %q / %q", roomID, code)
	}

	state, ok, err := s.GetRoomState(ctx, roomID)
	if err != nil || !ok {
		t.Fatalf("expected to load the room just created, ok=%v err=%v", ok, err)
	}
	if state.HostID != "host1" || state.Code != code {
		t.Errorf("unexpected state: %+v", state)
	}

	foundID, err := s.FindRoomByCode(ctx, code)
	if err != nil || foundID != roomID {
		t.Errorf("expected FindRoomByCode to resolve back to %q, got %q (err=%v)", roomID, foundID, err)
	}
}

func TestCreateRoom_NeverHandsBackAPreReservedCode(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// The codes CreateRoom draws are random, so a collision cannot be
	// forced here; instead a code is reserved directly through
	// reserveCode, and CreateRoom must still succeed without returning it.
	if _, err := s.reserveCode(ctx, "TAKEN1", "someone-else"); err != nil {
		t.Fatalf("unexpected error priming a collision: %v", err)
	}
	roomID, code, err := s.CreateRoom(ctx, "host1", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code == "TAKEN1" {
		t.Error("expected CreateRoom to never hand back a pre-reserved code")
	}
	if roomID == "" {
		t.Error("expected a valid room id")
	}
}

func TestUpdateRoomStateSafe_PreservesHostIDAgainstAMisbehavingMutator(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	roomID, _, err := s.CreateRoom(ctx, "host1", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, err := s.UpdateRoomStateSafe(ctx, roomID, func(st engine.State) (engine.State, error) {
		st.HostID = "someone-else"
		st.Phase = engine.PhaseNight
		return st, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after.HostID != "host1" {
		t.Errorf("expected hostId preserved against drift, got %q", after.HostID)
	}
	if after.Phase != engine.PhaseNight {
		t.Errorf("expected the mutator's other changes to still commit, got phase %q", after.Phase)
	}
}

func TestUpdateRoomStateSafe_AbortsOnMutatorError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	roomID, _, err := s.CreateRoom(ctx, "host1", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, _, _ := s.GetRoomState(ctx, roomID)

	_, err = s.UpdateRoomStateSafe(ctx, roomID, func(st engine.State) (engine.State, error) {
		return st, errUnderlyingFailure
	})
	if err == nil {
		t.Fatal("expected the mutator's error to propagate")
	}
	after, _, _ := s.GetRoomState(ctx, roomID)
	if after.Phase != before.Phase {
		t.Error("expected no commit when the mutator fails")
	}
}

func TestCommitRoomStateIf_FailsWithWriteLossOnAStaleRead(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	roomID, _, err := s.CreateRoom(ctx, "host1", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, _, _ := s.GetRoomState(ctx, roomID)
	state.LastSeq = 5
	if err := s.UpdateRoomState(ctx, roomID, state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A commit based on the pre-advance read must lose.
	stale := state
	stale.LastSeq = 6
	if err := s.commitRoomStateIf(ctx, roomID, stale, 0); !errors.Is(err, ErrWriteLoss) {
		t.Errorf("expected ErrWriteLoss for a stale expected seq, got %v", err)
	}
	if err := s.commitRoomStateIf(ctx, roomID, stale, 5); err != nil {
		t.Errorf("expected a commit against the current seq to succeed, got %v", err)
	}
}

func TestUpdateRoomStateSafe_RetriesPastATransientConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	roomID, _, err := s.CreateRoom(ctx, "host1", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// First mutator invocation races a concurrent writer by bumping the
	// committed seq behind its own back; the retry then wins cleanly.
	calls := 0
	after, err := s.UpdateRoomStateSafe(ctx, roomID, func(st engine.State) (engine.State, error) {
		calls++
		if calls == 1 {
			interloper := st
			interloper.LastSeq = st.LastSeq + 1
			if err := s.UpdateRoomState(ctx, roomID, interloper); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		st.LastSeq++
		st.Phase = engine.PhaseNight
		return st, nil
	})
	if err != nil {
		t.Fatalf("expected the retry cycle to absorb one lost write, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly one retry, got %d mutator calls", calls)
	}
	if after.Phase != engine.PhaseNight {
		t.Errorf("expected the retried mutation committed, got phase %q", after.Phase)
	}
}

func TestDeleteRoom_RemovesStateAndCodeReservation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	roomID, code, err := s.CreateRoom(ctx, "host1", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteRoom(ctx, roomID, code); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := s.GetRoomState(ctx, roomID); ok {
		t.Error("expected room state gone after delete")
	}
	if id, _ := s.FindRoomByCode(ctx, code); id != "" {
		t.Error("expected code reservation released after delete")
	}
}
