package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/sairajesh711/mafia-room-core/internal/engine"
	"github.com/sairajesh711/mafia-room-core/internal/types"
)

func TestAppendEvents_RoundTripsInOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	events := []types.Event{
		{RoomID: "room-1", Seq: 1, EventType: "player.joined"},
		{RoomID: "room-1", Seq: 2, EventType: "phase.advanced"},
	}
	if err := s.AppendEvents(ctx, "room-1", events); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.RecentEvents(ctx, "room-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("expected events back oldest-first, got %+v", got)
	}
}

func TestAppendEvents_CapsTheStreamAtTheNewestEntries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < maxEventLogEntries+10; i++ {
		e := types.Event{RoomID: "room-1", Seq: int64(i + 1), EventType: fmt.Sprintf("e%d", i)}
		if err := s.AppendEvents(ctx, "room-1", []types.Event{e}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	got, err := s.RecentEvents(ctx, "room-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != maxEventLogEntries {
		t.Fatalf("expected the stream capped at %d entries, got %d", maxEventLogEntries, len(got))
	}
	if got[0].Seq != 11 || got[len(got)-1].Seq != int64(maxEventLogEntries+10) {
		t.Errorf("expected the oldest entries trimmed, got seqs %d..%d", got[0].Seq, got[len(got)-1].Seq)
	}
}

func TestSaveAndLoadSnapshot_RoundTripsTheCheckpoint(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	state := engine.NewState("room-1", "ABCDEF", "host1", engine.DefaultSettings())
	state.Phase = engine.PhaseNight
	state.LastSeq = 7
	if err := s.SaveSnapshot(ctx, "room-1", state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok, err := s.LoadSnapshot(ctx, "room-1")
	if err != nil || !ok {
		t.Fatalf("expected to load the checkpoint, ok=%v err=%v", ok, err)
	}
	if got.Phase != engine.PhaseNight || got.LastSeq != 7 || got.HostID != "host1" {
		t.Errorf("checkpoint did not round-trip: %+v", got)
	}
}

func TestLoadSnapshot_UnknownRoomReportsNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, ok, err := s.LoadSnapshot(context.Background(), "nope"); err != nil || ok {
		t.Errorf("expected ok=false for an unknown room, got ok=%v err=%v", ok, err)
	}
}
