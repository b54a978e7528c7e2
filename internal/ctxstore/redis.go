package ctxstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
)

type (
	// Redis is a Store that keeps each scope in one hash. Values are JSON
	// encoded, so numbers read back as float64
	Redis struct {
		client *redis.Client
		prefix string
		owned  bool
	}

	// RedisOption configures a Redis store
	RedisOption func(*Redis)
)

const maxUpdateAttempts = 100

var (
	ErrUpdateContention = errors.New("context update retries exhausted")
	ErrEncodeValue      = errors.New("unable to encode context value")
)

var _ Store = (*Redis)(nil)

// WithPrefix sets the key prefix for scope hashes
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis connects a Redis store. The store owns the client and closes it
func NewRedis(
	addr, password string, db int, opts ...RedisOption,
) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	r := NewRedisFromClient(client, opts...)
	r.owned = true
	return r
}

// NewRedisFromClient creates a Redis store over an existing client
func NewRedisFromClient(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "wireflow",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks connectivity
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, scope, key string) (any, bool, error) {
	top, rest, err := splitKey(key)
	if err != nil {
		return nil, false, err
	}
	if err := checkScope(scope); err != nil {
		return nil, false, err
	}
	data, err := r.client.HGet(ctx, r.key(scope), top).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lookupJSON(data, rest)
}

func (r *Redis) Set(ctx context.Context, scope, key string, value any) error {
	top, rest, err := splitKey(key)
	if err != nil {
		return err
	}
	if rest != "" {
		_, err := r.Update(ctx, scope, key, func(any, bool) (any, error) {
			return value, nil
		})
		return err
	}
	if err := checkScope(scope); err != nil {
		return err
	}
	if value == nil {
		return r.client.HDel(ctx, r.key(scope), top).Err()
	}
	data, err := encode(value)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, r.key(scope), top, data).Err()
}

func (r *Redis) Keys(ctx context.Context, scope string) ([]string, error) {
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	res, err := r.client.HKeys(ctx, r.key(scope)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(res)
	return res, nil
}

// Update performs an optimistic read-modify-write, retrying when another
// writer modifies the scope between the read and the write
func (r *Redis) Update(
	ctx context.Context, scope, key string, fn UpdateFunc,
) (any, error) {
	top, rest, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	if err := checkScope(scope); err != nil {
		return nil, err
	}
	hash := r.key(scope)

	var res any
	txn := func(tx *redis.Tx) error {
		var root any
		hasRoot := false
		data, err := tx.HGet(ctx, hash, top).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &root); err != nil {
				return err
			}
			hasRoot = true
		}

		old, ok := root, hasRoot
		if rest != "" && hasRoot {
			if old, ok, err = lookupPath(root, rest); err != nil {
				return err
			}
		}
		next, err := fn(old, ok)
		if err != nil {
			return err
		}
		if rest != "" {
			if root, err = assignPath(root, rest, next); err != nil {
				return err
			}
		} else {
			root = next
		}

		var enc []byte
		if root != nil {
			if enc, err = encode(root); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if root == nil {
				pipe.HDel(ctx, hash, top)
			} else {
				pipe.HSet(ctx, hash, top, enc)
			}
			return nil
		})
		res = next
		return err
	}

	for range maxUpdateAttempts {
		err := r.client.Watch(ctx, txn, hash)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrUpdateContention, scope, key)
}

func (r *Redis) Clear(ctx context.Context, scope string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	return r.client.Del(ctx, r.key(scope)).Err()
}

func (r *Redis) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) key(scope string) string {
	return r.prefix + ":ctx:" + scope
}

func encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeValue, err)
	}
	return data, nil
}
