// Package redis implements history.Store on Redis, for deployments
// that want shared history across engine restarts or multiple nodes
// without running a relational database.
//
// Records are stored as JSON values under conveyor:history:{id}, with
// a Sorted Set ordered by finish time driving both listing and the
// retention prune.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/conveyor"
	"github.com/xraph/conveyor/history"
	"github.com/xraph/conveyor/id"
	"github.com/xraph/conveyor/job"
)

var _ history.Store = (*Store)(nil)

const keyPrefix = "conveyor:"

// recordKey returns the key for a terminal record: conveyor:history:{id}
func recordKey(jobID string) string { return keyPrefix + "history:" + jobID }

// byFinishedKey is the Sorted Set of record IDs scored by finish time.
const byFinishedKey = keyPrefix + "history_by_finished"

// Store implements history.Store backed by Redis. The caller owns the
// client lifecycle.
type Store struct {
	client goredis.Cmdable
}

// New creates a Redis-backed history store.
func New(client goredis.Cmdable) *Store {
	return &Store{client: client}
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Record stores the terminal record and indexes it by finish time.
func (s *Store) Record(ctx context.Context, r *job.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("conveyor/redis: marshal record %s: %w", r.ID, err)
	}

	jID := r.ID.String()
	score := float64(finishedAt(r).UnixNano())

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recordKey(jID), data, 0)
	pipe.ZAdd(ctx, byFinishedKey, goredis.Z{Score: score, Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conveyor/redis: record job %s: %w", r.ID, err)
	}
	return nil
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	data, err := s.client.Get(ctx, recordKey(jobID.String())).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, conveyor.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: get job %s: %w", jobID, err)
	}

	var rec job.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("conveyor/redis: unmarshal job %s: %w", jobID, err)
	}
	return &rec, nil
}

// List returns matching records, most recently finished first. Filters
// are applied after fetching, so heavily filtered queries over a large
// history pay for the full scan.
func (s *Store) List(ctx context.Context, opts history.ListOpts) ([]*job.Record, error) {
	ids, err := s.client.ZRevRange(ctx, byFinishedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, jID := range ids {
		keys[i] = recordKey(jID)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("conveyor/redis: list records: %w", err)
	}

	var out []*job.Record
	skipped := 0
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // index entry without a record, e.g. mid-prune
		}
		var rec job.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("conveyor/redis: unmarshal record: %w", err)
		}
		if !matches(&rec, opts) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, &rec)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

// Prune deletes records finished strictly before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	max := fmt.Sprintf("(%d", cutoff.UnixNano())
	ids, err := s.client.ZRangeByScore(ctx, byFinishedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("conveyor/redis: prune scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, jID := range ids {
		keys[i] = recordKey(jID)
		members[i] = jID
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, byFinishedKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("conveyor/redis: prune delete: %w", err)
	}
	return len(ids), nil
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

func matches(r *job.Record, opts history.ListOpts) bool {
	if opts.Kind != "" && r.Kind != opts.Kind {
		return false
	}
	if opts.Status != "" && r.Status != opts.Status {
		return false
	}
	if opts.CorrelationID != "" && r.CorrelationID != opts.CorrelationID {
		return false
	}
	return true
}

func finishedAt(r *job.Record) time.Time {
	if r.FinishedAt != nil {
		return *r.FinishedAt
	}
	return r.CreatedAt
}
