package redisstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ale866/malta-photogramme3d/internal/job"
)

// jobUpdateChannel carries job status snapshots from the worker process to
// the API server's realtime gateway.
const jobUpdateChannel = "model_jobs:updates"

const refreshKeyPrefix = "refresh:"

var ErrSessionNotFound = errors.New("refresh session not found")

type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Close() error { return s.rdb.Close() }

// PublishJobUpdate fans a snapshot out to whatever server instances are
// bridging updates to websocket subscribers. Best-effort: failures are
// logged, never propagated into the pipeline.
func (s *Store) PublishJobUpdate(ctx context.Context, snapshot job.StatusDTO) {
	b, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("job_update_marshal_failed job=%s err=%v", snapshot.JobID, err)
		return
	}
	if err := s.rdb.Publish(ctx, jobUpdateChannel, b).Err(); err != nil {
		log.Printf("job_update_publish_failed job=%s err=%v", snapshot.JobID, err)
	}
}

// Update implements pipeline.Broadcaster.
func (s *Store) Update(ctx context.Context, snapshot job.StatusDTO) {
	s.PublishJobUpdate(ctx, snapshot)
}

// SubscribeJobUpdates delivers every published snapshot to fn until ctx is
// cancelled.
func (s *Store) SubscribeJobUpdates(ctx context.Context, fn func(job.StatusDTO)) error {
	sub := s.rdb.Subscribe(ctx, jobUpdateChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var dto job.StatusDTO
			if err := json.Unmarshal([]byte(msg.Payload), &dto); err != nil {
				log.Printf("job_update_decode_failed err=%v", err)
				continue
			}
			fn(dto)
		}
	}
}

// Refresh-token sessions. The raw token is never stored, only its hash.

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func refreshKey(userID uint64, token string) string {
	return fmt.Sprintf("%s%d:%s", refreshKeyPrefix, userID, hashToken(token))
}

func (s *Store) SaveRefreshToken(ctx context.Context, userID uint64, token string, ttl time.Duration) error {
	return s.rdb.Set(ctx, refreshKey(userID, token), "1", ttl).Err()
}

// ConsumeRefreshToken deletes the session if it exists; refresh tokens rotate
// on every use.
func (s *Store) ConsumeRefreshToken(ctx context.Context, userID uint64, token string) error {
	n, err := s.rdb.Del(ctx, refreshKey(userID, token)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
