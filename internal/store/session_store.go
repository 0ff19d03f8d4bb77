package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Session is the persisted (player, room) socket binding.
type Session struct {
	PlayerID          string `json:"playerId"`
	RoomID            string `json:"roomId"`
	SessionID         string `json:"sessionId"`
	SocketID          string `json:"socketId"`
	ConnectedAt       int64  `json:"connectedAt"`
	LastAckedActionID string `json:"lastAckedActionId,omitempty"`
}

// RegisterSession writes a fresh session binding, overwriting any prior
// one for this (playerId, roomId) pair.
func (s *Store) RegisterSession(ctx context.Context, sess Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	key := sessionKey(sess.PlayerID, sess.RoomID)
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.sessions[key] = memSession{data: map[string]string{"session": string(raw)}, expiresAt: time.Now().Add(sessionTTL)}
		return nil
	}
	pipe := s.Client.TxPipeline()
	pipe.HSet(ctx, key, "session", raw)
	pipe.Expire(ctx, key, sessionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// GetSession loads the current session for (playerId, roomId), or ok=false
// if none is registered.
func (s *Store) GetSession(ctx context.Context, playerID, roomID string) (Session, bool, error) {
	key := sessionKey(playerID, roomID)
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		m, ok := s.sessions[key]
		if !ok {
			return Session{}, false, nil
		}
		var sess Session
		if err := json.Unmarshal([]byte(m.data["session"]), &sess); err != nil {
			return Session{}, false, err
		}
		return sess, true, nil
	}
	raw, err := s.Client.HGet(ctx, key, "session").Result()
	if errors.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

// UpdateSocket rebinds the session's live socket id on reconnection,
// without disturbing the rest of the session record.
func (s *Store) UpdateSocket(ctx context.Context, playerID, roomID, socketID string) error {
	sess, ok, err := s.GetSession(ctx, playerID, roomID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("store: no session to rebind")
	}
	sess.SocketID = socketID
	return s.RegisterSession(ctx, sess)
}

// EvictSession deletes a session binding outright; callers use this to
// implement "latest wins" duplicate-login eviction before registering
// the new socket.
func (s *Store) EvictSession(ctx context.Context, playerID, roomID string) error {
	key := sessionKey(playerID, roomID)
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.sessions, key)
		return nil
	}
	return s.Client.Del(ctx, key).Err()
}

func sessionKey(playerID, roomID string) string { return "session:" + playerID + ":" + roomID }
