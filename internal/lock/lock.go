// Package lock implements a Redis-backed distributed lock. internal/cron
// takes it per schedule so only one process fires a given schedule at a
// time; the delayed-scheduler promotion loop does not use it.
//
// Uses SETNX to acquire, and Lua scripts for atomic check-and-delete and
// check-and-extend release/extend.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	xerrors "github.com/muaviaUsmani/jobyard/internal/errors"
	"github.com/muaviaUsmani/jobyard/internal/keystore"
)

// Lock is a held distributed lock.
type Lock struct {
	store *keystore.Store
	key   string
	token string
	ttl   time.Duration
}

// Acquire attempts to take the named lock. Returns (nil, nil) if another
// holder already owns it.
func Acquire(ctx context.Context, store *keystore.Store, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.New().String()

	ok, err := store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	return &Lock{store: store, key: key, token: token, ttl: ttl}, nil
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Release deletes the lock, only if this Lock still owns it.
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.store.Eval(ctx, releaseScript, []string{l.key}, l.token)
	return err
}

const extendScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Extend extends the lock TTL, only if this Lock still owns it.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	res, err := l.store.Eval(ctx, extendScript, []string{l.key}, l.token, ttl.Milliseconds())
	if err != nil {
		return err
	}
	n, _ := res.(int64)
	if n == 0 {
		return &xerrors.ConfigError{Field: "lock", Reason: "no longer owned by this instance"}
	}
	l.ttl = ttl
	return nil
}

// Key returns the lock's Redis key (unprefixed).
func (l *Lock) Key() string { return l.key }

// Token returns the lock's ownership token.
func (l *Lock) Token() string { return l.token }

// TTL returns the lock's current time-to-live.
func (l *Lock) TTL() time.Duration { return l.ttl }
