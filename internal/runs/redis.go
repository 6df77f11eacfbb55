package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "agegate:run:"

// RedisStore keeps each run as a JSON value that expires after ttl.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// putScript replaces the stored status but keeps the larger progress value,
// so an out-of-order write cannot move progress backwards.
var putScript = redis.NewScript(`
local prev = redis.call("GET", KEYS[1])
local next = cjson.decode(ARGV[1])
if prev then
	local old = cjson.decode(prev)
	if old.progress ~= nil and next.progress ~= nil and old.progress > next.progress then
		next.progress = old.progress
	end
end
redis.call("SET", KEYS[1], cjson.encode(next), "PX", ARGV[2])
return 1
`)

func (r *RedisStore) Put(ctx context.Context, s Status) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode run status: %w", err)
	}
	if err := putScript.Run(ctx, r.client, []string{keyPrefix + s.RunID}, data, r.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("store run status: %w", err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, runID string) (*Status, error) {
	data, err := r.client.Get(ctx, keyPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run status: %w", err)
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode run status: %w", err)
	}
	return &s, nil
}
