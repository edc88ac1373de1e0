package sessions

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/goatbytes/consoul/internal/models"
)

// RedisStore is the primary Store backend. Key layout:
//
//	<prefix>:session:<id>           JSON-encoded state, TTL set to the configured session TTL
//	<prefix>:sessions                sorted set of ids scored by updated_at (seconds), for list_sessions
//
// Grounded on the resolver/registry packages' RWMutex-guarded-map
// structuring style, adapted to keep a recency sorted set as the index
// List reads.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	ttl       int64 // seconds; 0 disables expiry
}

// NewRedisStore builds a RedisStore. ttlSeconds<=0 disables key expiry.
func NewRedisStore(client *redis.Client, prefix string, ttlSeconds int64) *RedisStore {
	if prefix == "" {
		prefix = "consoul"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttlSeconds}
}

func (r *RedisStore) sessionKey(id string) string { return r.prefix + ":session:" + id }
func (r *RedisStore) indexKey() string            { return r.prefix + ":sessions" }

func (r *RedisStore) Save(ctx context.Context, state *models.Session) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	key := r.sessionKey(state.SessionID)
	pipe.Set(ctx, key, data, 0)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, time.Duration(r.ttl)*time.Second)
	}
	score := float64(state.UpdatedAt.Unix())
	pipe.ZAdd(ctx, r.indexKey(), &redis.Z{Score: score, Member: state.SessionID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Load(ctx context.Context, sessionID string) (*models.Session, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state models.Session
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(sessionID))
	pipe.ZRem(ctx, r.indexKey(), sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// List reads the whole recency sorted set, loads every session it names,
// and re-sorts by the embedded updated_at (falling back to created_at, then 0) so that
// an index entry surviving past its value's expiry never produces a
// missing-timestamp-sorts-first result.
func (r *RedisStore) List(ctx context.Context, namespace string, limit, offset int) ([]string, error) {
	if limit == 0 {
		return []string{}, nil
	}

	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	type item struct {
		id        string
		updatedAt int64
	}
	items := make([]item, 0, len(ids))
	for _, id := range ids {
		if namespace != "" && len(id) < len(namespace) {
			continue
		}
		if namespace != "" && id[:len(namespace)] != namespace {
			continue
		}
		data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
		if err == redis.Nil {
			// Expired or deleted but index entry lingered; drop it lazily.
			r.client.ZRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		var state models.Session
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		ts := state.UpdatedAt.Unix()
		if ts <= 0 {
			ts = state.CreatedAt.Unix()
		}
		items = append(items, item{id: id, updatedAt: ts})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].updatedAt > items[j].updatedAt
	})

	if offset >= len(items) {
		return []string{}, nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out, nil
}

