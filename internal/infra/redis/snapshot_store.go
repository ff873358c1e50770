package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"atlas-game-engine/internal/domain"
)

// SnapshotStore persists resumption snapshots as JSON blobs:
//
//	SET atlas:snapshot:{sessionID} {json} EX ttl
//
// Every save refreshes the TTL, so active sessions slide their expiry forward
// and abandoned ones age out on their own.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(snap.Session.SessionID), raw, s.ttl).Err()
}

func (s *SnapshotStore) LoadSnapshot(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Snapshot{}, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (s *SnapshotStore) key(sessionID string) string {
	return "atlas:snapshot:" + sessionID
}
