// Package repository persists stream watermarks outside the process.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	redis "github.com/go-redis/redis/v9"

	"github.com/okian/telewatch/internal/domain/model"
	"github.com/okian/telewatch/internal/domain/watermark"
	"github.com/okian/telewatch/pkg/metrics"
)

const defaultKey = "telewatch:watermarks"

// advanceScript stores ARGV[2] under field ARGV[1] only if it is greater than
// the current value. Values are decimal unix nanoseconds, compared by length
// then lexically so no precision is lost to Lua numbers.
var advanceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
local new = ARGV[2]
if cur then
	if #new < #cur or (#new == #cur and new <= cur) then
		return 0
	end
end
redis.call('HSET', KEYS[1], ARGV[1], new)
return 1
`)

// RedisTracker implements watermark.Tracker on a Redis hash so watermarks
// survive restarts and can be shared by replicas.
type RedisTracker struct {
	client redis.UniversalClient
	key    string
}

var _ watermark.Tracker = (*RedisTracker)(nil)

// NewRedisTracker creates a tracker backed by client.
func NewRedisTracker(client redis.UniversalClient, opts ...Option) *RedisTracker {
	t := &RedisTracker{
		client: client,
		key:    defaultKey,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial connects to addr and checks the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrUnavailable, addr, err)
	}
	return client, nil
}

func (t *RedisTracker) ShouldProcess(ctx context.Context, streamID string, candidateEnd time.Time) (bool, error) {
	last, ok, err := t.Last(ctx, streamID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return candidateEnd.After(last), nil
}

func (t *RedisTracker) Advance(ctx context.Context, streamID string, newEnd time.Time) error {
	if newEnd.Before(time.Unix(0, 0)) {
		return fmt.Errorf("%w: %s is before the unix epoch", ErrCorruptWatermark, newEnd)
	}
	err := advanceScript.Run(ctx, t.client, []string{t.key}, streamID, encode(newEnd)).Err()
	if err != nil {
		metrics.RecordErrorByComponent("repository", "advance")
		return fmt.Errorf("%w: advance %s: %w", ErrUnavailable, streamID, err)
	}
	return nil
}

func (t *RedisTracker) Last(ctx context.Context, streamID string) (time.Time, bool, error) {
	raw, err := t.client.HGet(ctx, t.key, streamID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		metrics.RecordErrorByComponent("repository", "read")
		return time.Time{}, false, fmt.Errorf("%w: read %s: %w", ErrUnavailable, streamID, err)
	}
	last, err := decode(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %w", streamID, err)
	}
	return last, true, nil
}

func (t *RedisTracker) Snapshot(ctx context.Context) ([]model.WatermarkState, error) {
	all, err := t.client.HGetAll(ctx, t.key).Result()
	if err != nil {
		metrics.RecordErrorByComponent("repository", "read")
		return nil, fmt.Errorf("%w: snapshot: %w", ErrUnavailable, err)
	}

	out := make([]model.WatermarkState, 0, len(all))
	for id, raw := range all {
		last, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		out = append(out, model.WatermarkState{StreamID: id, LastSeenEnd: last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out, nil
}

// Close releases the underlying client.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

func encode(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func decode(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrCorruptWatermark, raw)
	}
	return time.Unix(0, n).UTC(), nil
}
