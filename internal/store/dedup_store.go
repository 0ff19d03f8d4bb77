package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStatus is the lifecycle state of one in-flight or completed
// action id.
type DedupStatus string

const (
	DedupProcessing DedupStatus = "processing"
	DedupCompleted  DedupStatus = "completed"
	DedupFailed     DedupStatus = "failed"
)

type dedupRecord struct {
	Status   DedupStatus     `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// BeginProcessing records actionId as in-flight if it has never been seen
// before. ok is false if a record already exists (caller must inspect it
// via Lookup instead of double-processing).
func (s *Store) BeginProcessing(ctx context.Context, actionID, playerID, roomID string) (bool, error) {
	key := dedupKey(actionID, playerID, roomID)
	rec := dedupRecord{Status: DedupProcessing}
	raw, _ := json.Marshal(rec)
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		if d, ok := s.dedups[key]; ok && time.Now().Before(d.expiresAt) {
			return false, nil
		}
		s.dedups[key] = memDedup{status: string(DedupProcessing), expiresAt: time.Now().Add(dedupProcessingTTL)}
		return true, nil
	}
	return s.Client.SetNX(ctx, key, raw, dedupProcessingTTL).Result()
}

// Lookup returns the current dedup record for actionId, or ok=false if
// none exists.
func (s *Store) Lookup(ctx context.Context, actionID, playerID, roomID string) (DedupStatus, json.RawMessage, bool, error) {
	key := dedupKey(actionID, playerID, roomID)
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		d, ok := s.dedups[key]
		if !ok || time.Now().After(d.expiresAt) {
			return "", nil, false, nil
		}
		return DedupStatus(d.status), json.RawMessage(d.response), true, nil
	}
	raw, err := s.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, err
	}
	var rec dedupRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return "", nil, false, err
	}
	return rec.Status, rec.Response, true, nil
}

// CompleteProcessing marks actionId completed with the response to replay
// on any future duplicate submission.
func (s *Store) CompleteProcessing(ctx context.Context, actionID, playerID, roomID string, response json.RawMessage) error {
	key := dedupKey(actionID, playerID, roomID)
	rec := dedupRecord{Status: DedupCompleted, Response: response}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dedups[key] = memDedup{status: string(DedupCompleted), response: string(response), expiresAt: time.Now().Add(dedupProcessingTTL)}
		return nil
	}
	return s.Client.Set(ctx, key, raw, dedupProcessingTTL).Err()
}

// FailProcessing marks actionId failed, allowing retry after a short TTL.
func (s *Store) FailProcessing(ctx context.Context, actionID, playerID, roomID, reason string) error {
	key := dedupKey(actionID, playerID, roomID)
	rec := dedupRecord{Status: DedupFailed, Error: reason}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dedups[key] = memDedup{status: string(DedupFailed), expiresAt: time.Now().Add(dedupFailedTTL)}
		return nil
	}
	return s.Client.Set(ctx, key, raw, dedupFailedTTL).Err()
}

func dedupKey(actionID, playerID, roomID string) string {
	return "action:" + actionID + ":" + playerID + ":" + roomID
}
