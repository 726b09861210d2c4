package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/cgduncan7/autobaan/internal/baan"
)

const (
	defaultPrefix = "autobaan"
	snapshotTTL   = 48 * time.Hour
	promoteBatch  = 100
)

// Redis is a list-backed job queue. Delayed jobs wait in a sorted set scored
// by due time and move to the list when a worker next dequeues.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

var (
	_ Queue     = (*Redis)(nil)
	_ Snapshots = (*Redis)(nil)
)

// OpenRedis connects to a redis:// URL, or a bare host:port.
func OpenRedis(ctx context.Context, addr string) (*Redis, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return NewRedis(rdb, defaultPrefix), nil
}

func NewRedis(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (q *Redis) Close() error { return q.rdb.Close() }

func (q *Redis) Ping(ctx context.Context) error { return q.rdb.Ping(ctx).Err() }

func (q *Redis) jobsKey() string { return q.prefix + ":jobs" }
func (q *Redis) delayedKey() string { return q.prefix + ":delayed" }
func (q *Redis) snapshotKey(day string) string { return q.prefix + ":snapshot:" + day }

func (q *Redis) Enqueue(ctx context.Context, j Job) error {
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now().UTC()
	}
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.jobsKey(), b).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", j.Kind, err)
	}
	log.Ctx(ctx).Debug().Str("job_id", j.ID).Str("job_type", string(j.Kind)).Msg("Job enqueued")
	return nil
}

func (q *Redis) EnqueueAt(ctx context.Context, j Job, at time.Time) error {
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now().UTC()
	}
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	z := redis.Z{Score: float64(at.UnixMilli()), Member: string(b)}
	if err := q.rdb.ZAdd(ctx, q.delayedKey(), z).Err(); err != nil {
		return fmt.Errorf("schedule %s: %w", j.Kind, err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context, wait time.Duration) (Job, bool, error) {
	if err := q.promoteDue(ctx, time.Now()); err != nil {
		return Job{}, false, err
	}

	res, err := q.rdb.BRPop(ctx, wait, q.jobsKey()).Result()
	if errors.Is(err, redis.Nil) {
		return Job{}, false, nil
	}
	if err != nil {
		return Job{}, false, fmt.Errorf("dequeue: %w", err)
	}
	var j Job
	if err := json.Unmarshal([]byte(res[1]), &j); err != nil {
		return Job{}, false, fmt.Errorf("decode job: %w", err)
	}
	return j, true, nil
}

// releaseScript moves one member from the delayed set to the job list. Both
// writes happen in one script, so a job is never claimed without being pushed
// and only the worker whose ZREM succeeds pushes it.
var releaseScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("LPUSH", KEYS[2], ARGV[1])
return 1
`)

// promoteDue moves delayed jobs that are due onto the list.
func (q *Redis) promoteDue(ctx context.Context, now time.Time) error {
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("read delayed jobs: %w", err)
	}
	keys := []string{q.delayedKey(), q.jobsKey()}
	for _, member := range due {
		if err := releaseScript.Run(ctx, q.rdb, keys, member).Err(); err != nil {
			return fmt.Errorf("release delayed job: %w", err)
		}
	}
	return nil
}

func (q *Redis) LoadSnapshot(ctx context.Context, day string) (baan.CourtSnapshot, bool, error) {
	b, err := q.rdb.Get(ctx, q.snapshotKey(day)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", day, err)
	}
	var snap baan.CourtSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %s: %w", day, err)
	}
	return snap, true, nil
}

func (q *Redis) SaveSnapshot(ctx context.Context, day string, snap baan.CourtSnapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := q.rdb.Set(ctx, q.snapshotKey(day), b, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("save snapshot %s: %w", day, err)
	}
	return nil
}
