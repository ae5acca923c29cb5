package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const indexPrefix = "idx:"

// RedisStore implements Store on Redis hashes. Each record is one hash keyed
// by the record key. Attribute queries are served by secondary index sets
// (idx:<attr>:<value> -> set of record keys) maintained on every write for
// the attributes named at construction time.
type RedisStore struct {
	client  *redis.Client
	indexed map[string]bool
}

// NewRedisStore creates a RedisStore using the given client. The indexed
// arguments name the attributes that QueryByAttribute must be able to serve;
// writes maintain an index set per (attribute, value) pair for them.
func NewRedisStore(client *redis.Client, indexed ...string) *RedisStore {
	idx := make(map[string]bool, len(indexed))
	for _, attr := range indexed {
		idx[attr] = true
	}
	return &RedisStore{client: client, indexed: idx}
}

// DialRedis connects to Redis at addr and verifies the connection.
func DialRedis(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: redis connection failed: %w", err)
	}
	return client, nil
}

func indexKey(attr, value string) string {
	return indexPrefix + attr + ":" + value
}

// Get retrieves a record. Returns (nil, nil) if the key does not exist.
func (s *RedisStore) Get(ctx context.Context, key string) (Record, error) {
	result, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	return Record(result), nil
}

// Put stores a record, replacing any existing record under the key. Index
// sets for the record's indexed attributes are updated in the same pipeline.
func (s *RedisStore) Put(ctx context.Context, key string, rec Record) error {
	old, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, key)
	fields := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		fields[k] = v
	}
	pipe.HSet(ctx, key, fields)
	s.reindex(ctx, pipe, key, old, rec)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

// Update applies a partial patch to an existing record. Patching a missing
// key creates it, matching upsert semantics of the write path.
func (s *RedisStore) Update(ctx context.Context, key string, patch Record) error {
	old, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	merged := old.Clone()
	if merged == nil {
		merged = make(Record, len(patch))
	}
	for k, v := range patch {
		merged[k] = v
	}

	pipe := s.client.Pipeline()
	fields := make(map[string]interface{}, len(patch))
	for k, v := range patch {
		fields[k] = v
	}
	pipe.HSet(ctx, key, fields)
	s.reindex(ctx, pipe, key, old, merged)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: update %s: %w", key, err)
	}
	return nil
}

// Delete removes a record and its index memberships.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	old, err := s.Get(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, key)
	s.reindex(ctx, pipe, key, old, nil)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

// QueryByAttribute returns every record whose attr equals value. The
// attribute must be one of the indexed attributes.
func (s *RedisStore) QueryByAttribute(ctx context.Context, attr, value string) ([]Keyed, error) {
	if !s.indexed[attr] {
		return nil, fmt.Errorf("store: attribute %q is not indexed", attr)
	}

	keys, err := s.client.SMembers(ctx, indexKey(attr, value)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: query %s=%s: %w", attr, value, err)
	}

	out := make([]Keyed, 0, len(keys))
	for _, key := range keys {
		rec, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// Stale index entry; drop it opportunistically.
			s.client.SRem(ctx, indexKey(attr, value), key)
			continue
		}
		out = append(out, Keyed{Key: key, Record: rec})
	}
	return out, nil
}

// reindex queues index-set mutations onto pipe for the transition from prev
// to next (nil next means the record is being deleted).
func (s *RedisStore) reindex(ctx context.Context, pipe redis.Pipeliner, key string, prev, next Record) {
	for attr := range s.indexed {
		oldVal, hadOld := "", false
		if prev != nil {
			oldVal, hadOld = prev[attr], prev[attr] != ""
		}
		newVal, hasNew := "", false
		if next != nil {
			newVal, hasNew = next[attr], next[attr] != ""
		}

		if hadOld && (!hasNew || oldVal != newVal) {
			pipe.SRem(ctx, indexKey(attr, oldVal), key)
		}
		if hasNew && (!hadOld || oldVal != newVal) {
			pipe.SAdd(ctx, indexKey(attr, newVal), key)
		}
	}
}
