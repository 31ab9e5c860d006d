package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/research-pipeline/internal/model"
)

// acquireScript sets the key lock only when absent, then records the lock
// body under its id and indexes it by session.
// KEYS: key lock, id record, session index. ARGV: lock id, ttl ms, body.
var acquireScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[2])
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('PEXPIRE', KEYS[3], ARGV[2])
return 1
`)

// releaseScript deletes the key lock only if it still belongs to the id.
// KEYS: key lock, id record, session index. ARGV: lock id.
var releaseScript = redis.NewScript(`
local owned = redis.call('GET', KEYS[1]) == ARGV[1]
if owned then
	redis.call('DEL', KEYS[1])
end
redis.call('DEL', KEYS[2])
redis.call('SREM', KEYS[3], ARGV[1])
if owned then
	return 1
end
return 0
`)

// RedisOptions configures the redis-backed manager.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // Key prefix, default "research:"
}

// Redis is a Manager shared across processes through redis. Expiry is
// enforced by key TTLs so Sweep has nothing to reclaim.
type Redis struct {
	client *redis.Client
	prefix string
	opts   Options
}

// NewRedis connects a client from opts.
func NewRedis(ro RedisOptions, opts Options) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     ro.Addr,
		Password: ro.Password,
		DB:       ro.DB,
	})
	return NewRedisWithClient(client, ro.Prefix, opts)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, opts Options) *Redis {
	if prefix == "" {
		prefix = "research:"
	}
	return &Redis{client: client, prefix: prefix, opts: opts.withDefaults()}
}

func (r *Redis) keyLock(sessionID, scraperID string) string {
	return fmt.Sprintf("%slock:%s:%s", r.prefix, sessionID, scraperID)
}

func (r *Redis) idKey(lockID string) string {
	return fmt.Sprintf("%slockid:%s", r.prefix, lockID)
}

func (r *Redis) sessionKey(sessionID string) string {
	return fmt.Sprintf("%ssession:%s:locks", r.prefix, sessionID)
}

func (r *Redis) Acquire(ctx context.Context, sessionID, scraperID string, urls []string) (*model.ExecutionLock, error) {
	if err := validateKey(sessionID, scraperID); err != nil {
		return nil, err
	}
	l := newLock(sessionID, scraperID, urls, r.opts.NowFunc(), r.opts.TTL)
	body, err := json.Marshal(l)
	if err != nil {
		return nil, eris.Wrap(err, "redis lock: marshal")
	}

	ok, err := acquireScript.Run(ctx, r.client,
		[]string{r.keyLock(sessionID, scraperID), r.idKey(l.ID), r.sessionKey(sessionID)},
		l.ID, r.opts.TTL.Milliseconds(), string(body),
	).Int()
	if err != nil {
		return nil, eris.Wrapf(err, "redis lock: acquire %s/%s", sessionID, scraperID)
	}
	if ok == 0 {
		return nil, nil
	}
	return l, nil
}

func (r *Redis) Release(ctx context.Context, lockID string) (bool, error) {
	l, err := r.load(ctx, lockID)
	if err != nil || l == nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, r.client,
		[]string{r.keyLock(l.SessionID, l.ScraperID), r.idKey(lockID), r.sessionKey(l.SessionID)},
		lockID,
	).Int()
	if err != nil {
		return false, eris.Wrapf(err, "redis lock: release %s", lockID)
	}
	return n == 1, nil
}

func (r *Redis) ReleaseSession(ctx context.Context, sessionID string) (int, error) {
	ids, err := r.client.SMembers(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return 0, eris.Wrapf(err, "redis lock: list session %s", sessionID)
	}
	return r.releaseIDs(ctx, sessionID, ids)
}

// releaseIDs releases ids and drops them from the session index. Ids whose
// record already expired are dropped too.
func (r *Redis) releaseIDs(ctx context.Context, sessionID string, ids []string) (int, error) {
	released := 0
	for _, id := range ids {
		ok, err := r.Release(ctx, id)
		if err != nil {
			return released, err
		}
		if ok {
			released++
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	// Only the listed ids leave the index; a lock acquired meanwhile stays.
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := r.client.SRem(ctx, r.sessionKey(sessionID), members...).Err(); err != nil {
		return released, eris.Wrap(err, "redis lock: clear session index")
	}
	return released, nil
}

// Sweep is a no-op; redis expires keys on its own.
func (r *Redis) Sweep(context.Context) (int, error) { return 0, nil }

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) load(ctx context.Context, lockID string) (*model.ExecutionLock, error) {
	body, err := r.client.Get(ctx, r.idKey(lockID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "redis lock: load %s", lockID)
	}
	var l model.ExecutionLock
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, eris.Wrap(err, "redis lock: unmarshal")
	}
	return &l, nil
}
