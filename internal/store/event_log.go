package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sairajesh711/mafia-room-core/internal/engine"
	"github.com/sairajesh711/mafia-room-core/internal/types"
)

// maxEventLogEntries caps the per-room recovery stream: enough to
// replay the tail of a phase on leader failover, small enough to never be
// a second source of truth.
const maxEventLogEntries = 50

// AppendEvents pushes committed events onto the room's capped recovery
// stream, trimming it to the newest maxEventLogEntries.
func (s *Store) AppendEvents(ctx context.Context, roomID string, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	encoded := make([]interface{}, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		encoded = append(encoded, b)
	}
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		log := s.eventLogs[roomID]
		for _, raw := range encoded {
			log = append(log, string(raw.([]byte)))
		}
		if len(log) > maxEventLogEntries {
			log = log[len(log)-maxEventLogEntries:]
		}
		s.eventLogs[roomID] = log
		return nil
	}
	pipe := s.Client.TxPipeline()
	pipe.RPush(ctx, eventLogKey(roomID), encoded...)
	pipe.LTrim(ctx, eventLogKey(roomID), -maxEventLogEntries, -1)
	pipe.Expire(ctx, eventLogKey(roomID), roomTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RecentEvents loads the room's recovery stream, oldest first.
func (s *Store) RecentEvents(ctx context.Context, roomID string) ([]types.Event, error) {
	var raws []string
	if s.MemoryMode {
		s.mu.RLock()
		raws = append(raws, s.eventLogs[roomID]...)
		s.mu.RUnlock()
	} else {
		var err error
		raws, err = s.Client.LRange(ctx, eventLogKey(roomID), 0, -1).Result()
		if err != nil {
			return nil, err
		}
	}
	events := make([]types.Event, 0, len(raws))
	for _, raw := range raws {
		var e types.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// SaveSnapshot writes the room's full-state JSON checkpoint
// (snapshot:room:<roomId>).
func (s *Store) SaveSnapshot(ctx context.Context, roomID string, state engine.State) error {
	raw, err := engine.MarshalState(state)
	if err != nil {
		return err
	}
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.snapshots[roomID] = memSnapshot{state: raw, expiresAt: time.Now().Add(roomTTL)}
		return nil
	}
	return s.Client.Set(ctx, snapshotKey(roomID), raw, roomTTL).Err()
}

// LoadSnapshot reads the last checkpoint for roomID, or ok=false if none
// was ever written.
func (s *Store) LoadSnapshot(ctx context.Context, roomID string) (engine.State, bool, error) {
	var raw string
	if s.MemoryMode {
		s.mu.RLock()
		snap, ok := s.snapshots[roomID]
		s.mu.RUnlock()
		if !ok {
			return engine.State{}, false, nil
		}
		raw = snap.state
	} else {
		var err error
		raw, err = s.Client.Get(ctx, snapshotKey(roomID)).Result()
		if errors.Is(err, redis.Nil) {
			return engine.State{}, false, nil
		}
		if err != nil {
			return engine.State{}, false, err
		}
	}
	state, err := engine.UnmarshalState(raw)
	if err != nil {
		return engine.State{}, false, err
	}
	return state, true, nil
}

func eventLogKey(roomID string) string { return "room:" + roomID + ":events" }
func snapshotKey(roomID string) string { return "snapshot:room:" + roomID }
