package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript performs the compare-and-set renewal atomically: it only
// resets the TTL if the lease is still held by the calling instance.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// releaseScript deletes the lease only if still held by the caller, so a
// graceful shutdown never clobbers a lease some other instance has since
// acquired after this one's expired.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// AcquireLease attempts to become the writer for roomID. Acquisition is a
// set-if-absent of the lease key to instanceID with a 10s TTL.
func (s *Store) AcquireLease(ctx context.Context, roomID, instanceID string) (bool, error) {
	key := leaseKey(roomID)
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		l, ok := s.leases[key]
		if ok && time.Now().Before(l.expiresAt) && l.instanceID != instanceID {
			return false, nil
		}
		s.leases[key] = memLease{instanceID: instanceID, expiresAt: time.Now().Add(leaseTTL)}
		return true, nil
	}
	return s.Client.SetNX(ctx, key, instanceID, leaseTTL).Result()
}

// RenewLease extends a held lease's TTL; it resigns (returns false, nil)
// silently if the lease has moved to another instance.
func (s *Store) RenewLease(ctx context.Context, roomID, instanceID string) (bool, error) {
	key := leaseKey(roomID)
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		l, ok := s.leases[key]
		if !ok || l.instanceID != instanceID {
			return false, nil
		}
		l.expiresAt = time.Now().Add(leaseTTL)
		s.leases[key] = l
		return true, nil
	}
	res, err := renewScript.Run(ctx, s.Client, []string{key}, instanceID, leaseTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// ReleaseLease gives up a held lease on graceful shutdown.
func (s *Store) ReleaseLease(ctx context.Context, roomID, instanceID string) error {
	key := leaseKey(roomID)
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		if l, ok := s.leases[key]; ok && l.instanceID == instanceID {
			delete(s.leases, key)
		}
		return nil
	}
	_, err := releaseScript.Run(ctx, s.Client, []string{key}, instanceID).Result()
	return err
}

// IsLeader reports whether instanceID currently holds the lease for
// roomID, without attempting to acquire or renew it.
func (s *Store) IsLeader(ctx context.Context, roomID, instanceID string) (bool, error) {
	key := leaseKey(roomID)
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		l, ok := s.leases[key]
		return ok && l.instanceID == instanceID && time.Now().Before(l.expiresAt), nil
	}
	holder, err := s.Client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return holder == instanceID, nil
}

func leaseKey(roomID string) string { return "leader:" + roomID }
