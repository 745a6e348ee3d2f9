// Package keystore is the narrow capability the core job engine depends
// on: list push/pop/blocking-pop/length/remove, sorted-set add/range/
// remove/cardinality, string get/set/del, set add/remove/members, and hash
// ops, all automatically prefixed. It has no key-enumeration operation.
// Nothing above this package talks to *redis.Client directly.
//
// Connection-pool tuning and precomputed-key style follow an
// internal/queue/redis.go-style queue; Eval for atomic check-and-act Lua
// scripts follows the same pattern a distributed lock uses.
package keystore

import (
	"context"
	"fmt"
	"time"

	"github.com/muaviaUsmani/jobyard/internal/dsn"
	xerrors "github.com/muaviaUsmani/jobyard/internal/errors"
	"github.com/redis/go-redis/v9"
)

// Store is the KeyStore capability, backed by a go-redis client.
type Store struct {
	client *redis.Client
	prefix string
}

// Options configure the underlying connection pool. A nil *Options passed
// to New selects the tuned defaults (pool sized for many concurrent workers
// plus blocking reservations); a non-nil Options is used field for field,
// and its zero fields are not replaced by those defaults.
type Options struct {
	PoolSize        int
	MinIdleConns    int
	ConnMaxIdleTime time.Duration
	PoolTimeout     time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

func defaultOptions() Options {
	return Options{
		PoolSize:        50,
		MinIdleConns:    5,
		ConnMaxIdleTime: 10 * time.Minute,
		PoolTimeout:     5 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    3 * time.Second,
	}
}

// New parses dsnString with the internal/dsn grammar and opens a pooled
// connection. prefix is the key namespace (default "resque:" when empty).
func New(dsnString string, prefix string, opts *Options) (*Store, error) {
	parsed, err := dsn.Parse(dsnString)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	if opts != nil {
		o = *opts
	}

	redisOpts := &redis.Options{
		Addr:            fmt.Sprintf("%s:%d", parsed.Host, parsed.Port),
		PoolSize:        o.PoolSize,
		MinIdleConns:    o.MinIdleConns,
		ConnMaxIdleTime: o.ConnMaxIdleTime,
		PoolTimeout:     o.PoolTimeout,
		MaxRetries:      o.MaxRetries,
		MinRetryBackoff: o.MinRetryBackoff,
		MaxRetryBackoff: o.MaxRetryBackoff,
		DialTimeout:     o.DialTimeout,
		ReadTimeout:     o.ReadTimeout,
		WriteTimeout:    o.WriteTimeout,
		ContextTimeoutEnabled: true,
	}
	if parsed.HasUser {
		redisOpts.Username = parsed.User
	}
	if parsed.HasPass {
		redisOpts.Password = parsed.Pass
	}
	if parsed.HasDB {
		redisOpts.DB = parsed.DB
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), redisOpts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, &xerrors.TransportError{Op: "ping", Err: err}
	}

	if prefix == "" {
		prefix = "resque:"
	}

	return &Store{client: client, prefix: prefix}, nil
}

// NewFromClient wraps an already-constructed go-redis client (used by
// tests against miniredis, and by callers that want their own pool
// tuning).
func NewFromClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "resque:"
	}
	return &Store{client: client, prefix: prefix}
}

// Key prefixes name with the store's namespace.
func (s *Store) Key(name string) string {
	return s.prefix + name
}

// Prefix returns the configured key prefix.
func (s *Store) Prefix() string { return s.prefix }

// Raw exposes the underlying client for callers that need Lua scripting
// (distributed lock, promotion) or pipelining beyond this capability's
// surface.
func (s *Store) Raw() *redis.Client { return s.client }

// Close closes the pooled connection.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return &xerrors.TransportError{Op: "close", Err: err}
	}
	return nil
}

// --- list ops ---

func (s *Store) ListPushTail(ctx context.Context, key, value string) error {
	if err := s.client.RPush(ctx, s.Key(key), value).Err(); err != nil {
		return &xerrors.TransportError{Op: "rpush", Err: err}
	}
	return nil
}

// ListPopHead removes and returns the head of the list, non-blocking.
// Returns ("", false, nil) if empty.
func (s *Store) ListPopHead(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.LPop(ctx, s.Key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, &xerrors.TransportError{Op: "lpop", Err: err}
	}
	return v, true, nil
}

// BlockingPopHead blocks up to timeout across the supplied keys (in
// order), returning the first available value and which key it came from.
// Native multi-key BLPOP already implements the leftmost-ready-queue
// tie-break: no extra logic needed on top of it.
func (s *Store) BlockingPopHead(ctx context.Context, keys []string, timeout time.Duration) (key, value string, ok bool, err error) {
	if len(keys) == 0 {
		return "", "", false, nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.Key(k)
	}
	res, e := s.client.BLPop(ctx, timeout, prefixed...).Result()
	if e == redis.Nil {
		return "", "", false, nil
	}
	if e != nil {
		if ctx.Err() != nil {
			return "", "", false, ctx.Err()
		}
		return "", "", false, &xerrors.TransportError{Op: "blpop", Err: e}
	}
	// res is [key, value]
	unprefixed := res[0][len(s.prefix):]
	return unprefixed, res[1], true, nil
}

func (s *Store) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, s.Key(key)).Result()
	if err != nil {
		return 0, &xerrors.TransportError{Op: "llen", Err: err}
	}
	return n, nil
}

// ListRemove removes up to count occurrences of value from the list.
// Returns the number removed.
func (s *Store) ListRemove(ctx context.Context, key string, count int64, value string) (int64, error) {
	n, err := s.client.LRem(ctx, s.Key(key), count, value).Result()
	if err != nil {
		return 0, &xerrors.TransportError{Op: "lrem", Err: err}
	}
	return n, nil
}

// --- set ops (queue registry, worker registry) ---

func (s *Store) SetAdd(ctx context.Context, key, member string) error {
	if err := s.client.SAdd(ctx, s.Key(key), member).Err(); err != nil {
		return &xerrors.TransportError{Op: "sadd", Err: err}
	}
	return nil
}

func (s *Store) SetRemove(ctx context.Context, key, member string) error {
	if err := s.client.SRem(ctx, s.Key(key), member).Err(); err != nil {
		return &xerrors.TransportError{Op: "srem", Err: err}
	}
	return nil
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, s.Key(key)).Result()
	if err != nil {
		return nil, &xerrors.TransportError{Op: "smembers", Err: err}
	}
	return members, nil
}

// --- sorted set ops (delayed schedule) ---

func (s *Store) SortedSetAdd(ctx context.Context, key string, score float64, member string) error {
	if err := s.client.ZAdd(ctx, s.Key(key), redis.Z{Score: score, Member: member}).Err(); err != nil {
		return &xerrors.TransportError{Op: "zadd", Err: err}
	}
	return nil
}

func (s *Store) SortedSetRemove(ctx context.Context, key, member string) error {
	if err := s.client.ZRem(ctx, s.Key(key), member).Err(); err != nil {
		return &xerrors.TransportError{Op: "zrem", Err: err}
	}
	return nil
}

func (s *Store) SortedSetCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, s.Key(key)).Result()
	if err != nil {
		return 0, &xerrors.TransportError{Op: "zcard", Err: err}
	}
	return n, nil
}

// SortedSetRangeByScore returns members with score in [min, max], ascending.
func (s *Store) SortedSetRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	args := &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}
	if limit > 0 {
		args.Count = limit
	}
	members, err := s.client.ZRangeByScore(ctx, s.Key(key), args).Result()
	if err != nil {
		return nil, &xerrors.TransportError{Op: "zrangebyscore", Err: err}
	}
	return members, nil
}

// SortedSetMinScore returns the smallest score in the set, or ok=false if
// the set is empty.
func (s *Store) SortedSetMinScore(ctx context.Context, key string) (float64, bool, error) {
	res, err := s.client.ZRangeWithScores(ctx, s.Key(key), 0, 0).Result()
	if err != nil {
		return 0, false, &xerrors.TransportError{Op: "zrange", Err: err}
	}
	if len(res) == 0 {
		return 0, false, nil
	}
	return res[0].Score, true, nil
}

// --- string ops ---

func (s *Store) StringGet(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.Key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, &xerrors.TransportError{Op: "get", Err: err}
	}
	return v, true, nil
}

func (s *Store) StringSet(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.Key(key), value, ttl).Err(); err != nil {
		return &xerrors.TransportError{Op: "set", Err: err}
	}
	return nil
}

func (s *Store) StringDel(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.Key(key)).Err(); err != nil {
		return &xerrors.TransportError{Op: "del", Err: err}
	}
	return nil
}

// SetNX sets key to value only if it does not already exist, with a TTL.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.Key(key), value, ttl).Result()
	if err != nil {
		return false, &xerrors.TransportError{Op: "setnx", Err: err}
	}
	return ok, nil
}

// --- hash ops (status records, worker "working on" records) ---

func (s *Store) HashSet(ctx context.Context, key string, fields map[string]string) error {
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	if err := s.client.HSet(ctx, s.Key(key), values...).Err(); err != nil {
		return &xerrors.TransportError{Op: "hset", Err: err}
	}
	return nil
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, s.Key(key)).Result()
	if err != nil {
		return nil, &xerrors.TransportError{Op: "hgetall", Err: err}
	}
	return m, nil
}

func (s *Store) HashDel(ctx context.Context, key string, fields ...string) error {
	if err := s.client.HDel(ctx, s.Key(key), fields...).Err(); err != nil {
		return &xerrors.TransportError{Op: "hdel", Err: err}
	}
	return nil
}

// Expire sets a TTL on an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.Key(key), ttl).Err(); err != nil {
		return &xerrors.TransportError{Op: "expire", Err: err}
	}
	return nil
}

// Eval runs a Lua script against prefixed keys, for atomic check-and-act
// sequences (distributed lock release/extend).
func (s *Store) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.Key(k)
	}
	res, err := s.client.Eval(ctx, script, prefixed, args...).Result()
	if err != nil && err != redis.Nil {
		return nil, &xerrors.TransportError{Op: "eval", Err: err}
	}
	return res, nil
}
