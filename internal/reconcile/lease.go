package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld reports that another runner holds the job lease.
var ErrLeaseHeld = errors.New("lease held by another runner")

// ErrLeaseLost reports that a held lease expired or was taken over.
var ErrLeaseLost = errors.New("lease lost")

const releaseLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

const renewLeaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// Lease guards a job so that one tick runs at a time across runners.
// Acquire returns ErrLeaseHeld when the lease is taken.
type Lease interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Held, error)
}

// Held is an acquired lease. Renew pushes the expiry out by ttl and returns
// ErrLeaseLost when the lease no longer belongs to the holder.
type Held interface {
	Renew(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// LocalLease serializes ticks inside one process.
type LocalLease struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLease returns an empty LocalLease.
func NewLocalLease() *LocalLease {
	return &LocalLease{held: map[string]bool{}}
}

func (lease *LocalLease) Acquire(_ context.Context, name string, _ time.Duration) (Held, error) {
	lease.mu.Lock()
	defer lease.mu.Unlock()
	if lease.held[name] {
		return nil, ErrLeaseHeld
	}
	lease.held[name] = true
	return &localHeld{lease: lease, name: name}, nil
}

type localHeld struct {
	lease *LocalLease
	name  string
}

// Renew is a no-op: local leases do not expire.
func (held *localHeld) Renew(context.Context, time.Duration) error {
	return nil
}

func (held *localHeld) Release(context.Context) error {
	held.lease.mu.Lock()
	defer held.lease.mu.Unlock()
	delete(held.lease.held, held.name)
	return nil
}

// RedisCommander is the part of a go-redis client RedisLease uses.
type RedisCommander interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLease shares job leases between processes through Redis. The key
// expires after ttl so a crashed runner cannot hold it forever. Renew and
// release only touch the key while it still carries this runner's token.
type RedisLease struct {
	client RedisCommander
	prefix string
	token  func() string
}

// NewRedisLease builds a RedisLease. Keys are "<prefix><job name>".
func NewRedisLease(client RedisCommander, prefix string) (*RedisLease, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidWorkerConfig)
	}
	if prefix == "" {
		prefix = "tourledger:lease:"
	}
	return &RedisLease{client: client, prefix: prefix, token: uuid.NewString}, nil
}

func (lease *RedisLease) Acquire(ctx context.Context, name string, ttl time.Duration) (Held, error) {
	key := lease.prefix + name
	token := lease.token()
	acquired, err := lease.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !acquired {
		return nil, ErrLeaseHeld
	}
	return &redisHeld{client: lease.client, key: key, token: token}, nil
}

type redisHeld struct {
	client RedisCommander
	key    string
	token  string
}

func (held *redisHeld) Renew(ctx context.Context, ttl time.Duration) error {
	renewed, err := held.client.Eval(ctx, renewLeaseScript, []string{held.key}, held.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", held.key, err)
	}
	if renewed == 0 {
		return fmt.Errorf("%w: %s", ErrLeaseLost, held.key)
	}
	return nil
}

func (held *redisHeld) Release(ctx context.Context) error {
	if err := held.client.Eval(ctx, releaseLeaseScript, []string{held.key}, held.token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", held.key, err)
	}
	return nil
}
