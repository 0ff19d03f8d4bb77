package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sairajesh711/mafia-room-core/internal/engine"
)

var ErrWriteLoss = errors.New("store: room state changed since read")

const maxCodeAttempts = 5

// CreateRoom reserves a fresh room code and writes the room's initial
// lobby state. Code reservation is atomic (set-if-absent); on collision a
// new code is drawn and the reservation retried.
func (s *Store) CreateRoom(ctx context.Context, hostID, hostName string) (roomID, code string, err error) {
	roomID = uuid.NewString()
	state := engine.NewState(roomID, "", hostID, engine.DefaultSettings())

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		candidate, genErr := engine.GenerateRoomCode()
		if genErr != nil {
			return "", "", genErr
		}
		reserved, reserveErr := s.reserveCode(ctx, candidate, roomID)
		if reserveErr != nil {
			return "", "", reserveErr
		}
		if !reserved {
			continue
		}
		state.Code = candidate
		raw, marshalErr := engine.MarshalState(state)
		if marshalErr != nil {
			_ = s.releaseCode(ctx, candidate)
			return "", "", marshalErr
		}
		if err := s.writeRoom(ctx, roomID, candidate, hostID, raw); err != nil {
			_ = s.releaseCode(ctx, candidate)
			return "", "", err
		}
		return roomID, candidate, nil
	}
	return "", "", fmt.Errorf("store: exhausted %d room code attempts", maxCodeAttempts)
}

func (s *Store) reserveCode(ctx context.Context, code, roomID string) (bool, error) {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, exists := s.roomCodes[code]; exists {
			return false, nil
		}
		s.roomCodes[code] = roomID
		return true, nil
	}
	ok, err := s.Client.SetNX(ctx, roomCodeKey(code), roomID, roomTTL).Result()
	return ok, err
}

func (s *Store) releaseCode(ctx context.Context, code string) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.roomCodes, code)
		return nil
	}
	return s.Client.Del(ctx, roomCodeKey(code)).Err()
}

func (s *Store) writeRoom(ctx context.Context, roomID, code, hostID, rawState string) error {
	now := time.Now().Unix()
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.rooms[roomID] = memRoom{state: rawState, code: code, hostID: hostID, createdAt: now, seq: 0, expiresAt: time.Now().Add(roomTTL)}
		return nil
	}
	pipe := s.Client.TxPipeline()
	pipe.HSet(ctx, roomKey(roomID), map[string]any{
		"state":     rawState,
		"code":      code,
		"hostId":    hostID,
		"createdAt": now,
		"seq":       0,
	})
	pipe.Expire(ctx, roomKey(roomID), roomTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// FindRoomByCode resolves a room code to a room id, or "" if unknown.
func (s *Store) FindRoomByCode(ctx context.Context, code string) (string, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.roomCodes[code], nil
	}
	roomID, err := s.Client.Get(ctx, roomCodeKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return roomID, err
}

// GetRoomState loads the authoritative state for roomID, or an empty
// State and ok=false if the room does not exist.
func (s *Store) GetRoomState(ctx context.Context, roomID string) (engine.State, bool, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		r, ok := s.rooms[roomID]
		if !ok {
			return engine.State{}, false, nil
		}
		state, err := engine.UnmarshalState(r.state)
		return state, true, err
	}
	raw, err := s.Client.HGet(ctx, roomKey(roomID), "state").Result()
	if errors.Is(err, redis.Nil) {
		return engine.State{}, false, nil
	}
	if err != nil {
		return engine.State{}, false, err
	}
	state, err := engine.UnmarshalState(raw)
	return state, true, err
}

// UpdateRoomState performs an unconditional overwrite of a room's state
// and refreshes its idle TTL.
func (s *Store) UpdateRoomState(ctx context.Context, roomID string, state engine.State) error {
	raw, err := engine.MarshalState(state)
	if err != nil {
		return err
	}
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		r, ok := s.rooms[roomID]
		if !ok {
			return fmt.Errorf("store: room %s not found", roomID)
		}
		r.state = raw
		r.seq = state.LastSeq
		r.expiresAt = time.Now().Add(roomTTL)
		s.rooms[roomID] = r
		return nil
	}
	pipe := s.Client.TxPipeline()
	pipe.HSet(ctx, roomKey(roomID), "state", raw, "seq", state.LastSeq)
	pipe.Expire(ctx, roomKey(roomID), roomTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// maxCommitAttempts bounds the load/mutate/commit retry cycle: a
// commit that keeps losing to concurrent writers surfaces ErrWriteLoss to
// the dispatcher, which reports INTERNAL_ERROR.
const maxCommitAttempts = 3

// casCommitScript commits the new state only if the stored sequence still
// matches what the caller read, the store-side half of the WRITE_LOSS
// contract.
var casCommitScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "seq")
if cur == false then cur = "0" end
if cur ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], "state", ARGV[2], "seq", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// commitRoomStateIf writes state only if the room's committed sequence
// still equals expectSeq; otherwise it fails with ErrWriteLoss.
func (s *Store) commitRoomStateIf(ctx context.Context, roomID string, state engine.State, expectSeq int64) error {
	raw, err := engine.MarshalState(state)
	if err != nil {
		return err
	}
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		r, ok := s.rooms[roomID]
		if !ok {
			return fmt.Errorf("store: room %s not found", roomID)
		}
		if r.seq != expectSeq {
			return ErrWriteLoss
		}
		r.state = raw
		r.seq = state.LastSeq
		r.expiresAt = time.Now().Add(roomTTL)
		s.rooms[roomID] = r
		return nil
	}
	res, err := casCommitScript.Run(ctx, s.Client, []string{roomKey(roomID)},
		expectSeq, raw, state.LastSeq, roomTTL.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if res != 1 {
		return ErrWriteLoss
	}
	return nil
}

// UpdateRoomStateSafe loads the current state, applies mutator, copies
// hostId from the pre-image over the result, and commits, retrying the
// whole cycle on a lost write. mutator's non-nil error
// aborts the commit.
func (s *Store) UpdateRoomStateSafe(ctx context.Context, roomID string, mutator func(engine.State) (engine.State, error)) (engine.State, error) {
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		before, ok, err := s.GetRoomState(ctx, roomID)
		if err != nil {
			return engine.State{}, err
		}
		if !ok {
			return engine.State{}, fmt.Errorf("store: room %s not found", roomID)
		}
		after, err := mutator(before)
		if err != nil {
			return engine.State{}, err
		}
		// Belt-and-braces: hostId must never drift between commits.
		after.HostID = before.HostID
		err = s.commitRoomStateIf(ctx, roomID, after, before.LastSeq)
		if errors.Is(err, ErrWriteLoss) {
			continue
		}
		if err != nil {
			return engine.State{}, err
		}
		return after, nil
	}
	return engine.State{}, ErrWriteLoss
}

// DeleteRoom removes a room and its code reservation.
func (s *Store) DeleteRoom(ctx context.Context, roomID, code string) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.rooms, roomID)
		delete(s.roomCodes, code)
		return nil
	}
	pipe := s.Client.TxPipeline()
	pipe.Del(ctx, roomKey(roomID))
	pipe.Del(ctx, roomCodeKey(code))
	_, err := pipe.Exec(ctx)
	return err
}

func roomKey(roomID string) string   { return "room:" + roomID }
func roomCodeKey(code string) string { return "room_code:" + code }
