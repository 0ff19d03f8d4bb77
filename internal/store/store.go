// Package store is the Redis-backed persistence layer behind components D
// (room store), E (session store), F (leader election) and G (dedup
// cache), one key family per concern.
//
// A MemoryMode fallback backs all four components with in-process maps
// when no Redis address is configured,
// trading durability and cross-instance fan-out for a zero-dependency
// single-process deployment.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomTTL            = 24 * time.Hour
	sessionTTL         = 25 * time.Hour
	leaseTTL           = 10 * time.Second
	dedupProcessingTTL = 10 * time.Minute
	dedupFailedTTL     = 60 * time.Second
)

type Store struct {
	Client     *redis.Client
	MemoryMode bool

	mu        sync.RWMutex
	rooms     map[string]memRoom
	roomCodes map[string]string
	sessions  map[string]memSession
	leases    map[string]memLease
	dedups    map[string]memDedup
	snapshots map[string]memSnapshot
	eventLogs map[string][]string
}

type memRoom struct {
	state     string
	code      string
	hostID    string
	createdAt int64
	seq       int64
	expiresAt time.Time
}

type memSession struct {
	data      map[string]string
	expiresAt time.Time
}

type memLease struct {
	instanceID string
	expiresAt  time.Time
}

type memDedup struct {
	status    string
	response  string
	expiresAt time.Time
}

type memSnapshot struct {
	state     string
	expiresAt time.Time
}

func New(client *redis.Client) *Store {
	return &Store{Client: client}
}

func NewMemoryStore() *Store {
	return &Store{
		MemoryMode: true,
		rooms:      make(map[string]memRoom),
		roomCodes:  make(map[string]string),
		sessions:   make(map[string]memSession),
		leases:     make(map[string]memLease),
		dedups:     make(map[string]memDedup),
		snapshots:  make(map[string]memSnapshot),
		eventLogs:  make(map[string][]string),
	}
}

// Connect dials Redis and verifies reachability, mirroring the connect-
// then-ping idiom used for every other backing store in this codebase.
func Connect(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (s *Store) Close() error {
	if s.MemoryMode {
		return nil
	}
	return s.Client.Close()
}
