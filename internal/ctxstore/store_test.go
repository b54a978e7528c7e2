package ctxstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/internal/config"
	"github.com/kode4food/wireflow/internal/ctxstore"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) ctxstore.Store {
		return ctxstore.NewMemory()
	})
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) ctxstore.Store {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return ctxstore.NewRedisFromClient(client, ctxstore.WithPrefix("t"))
	})
}

func TestRedisKeysArePrefixed(t *testing.T) {
	mr := miniredis.RunT(t)
	store := ctxstore.NewRedis(mr.Addr(), "", 0, ctxstore.WithPrefix("wf"))
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "node:a", "count", 1.0))
	assert.Equal(t, "1", mr.HGet("wf:ctx:node:a", "count"))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := ctxstore.Open(ctx, config.ContextStorage{
		Module: config.ContextMemory,
	})
	require.NoError(t, err)
	assert.IsType(t, &ctxstore.Memory{}, store)

	mr := miniredis.RunT(t)
	store, err = ctxstore.Open(ctx, config.ContextStorage{
		Module: config.ContextRedis, Addr: mr.Addr(), Prefix: "x",
	})
	require.NoError(t, err)
	assert.IsType(t, &ctxstore.Redis{}, store)
	assert.NoError(t, store.Close())

	_, err = ctxstore.Open(ctx, config.ContextStorage{Module: "etcd"})
	assert.ErrorIs(t, err, config.ErrInvalidContextModule)
}

func TestScopeNames(t *testing.T) {
	assert.Equal(t, "flow:f1", ctxstore.FlowScope("f1"))
	assert.Equal(t, "node:n1", ctxstore.NodeScope("n1"))
	assert.True(t, ctxstore.IsFlowScope("flow:f1"))
	assert.True(t, ctxstore.IsNodeScope("node:n1"))
	assert.False(t, ctxstore.IsNodeScope(ctxstore.GlobalScope))
}

func runStoreContract(
	t *testing.T, open func(*testing.T) ctxstore.Store,
) {
	t.Helper()
	ctx := context.Background()

	t.Run("get_missing", func(t *testing.T) {
		s := open(t)
		_, ok, err := s.Get(ctx, "node:a", "nothing")
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set_get_delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "node:a", "name", "alpha"))

		v, ok, err := s.Get(ctx, "node:a", "name")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "alpha", v)

		require.NoError(t, s.Set(ctx, "node:a", "name", nil))
		_, ok, err = s.Get(ctx, "node:a", "name")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("scopes_are_isolated", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "node:a", "k", "node"))
		require.NoError(t, s.Set(ctx, "flow:f1", "k", "flow"))
		require.NoError(t, s.Set(ctx, ctxstore.GlobalScope, "k", "global"))

		v, _, _ := s.Get(ctx, "node:a", "k")
		assert.Equal(t, "node", v)
		v, _, _ = s.Get(ctx, "flow:f1", "k")
		assert.Equal(t, "flow", v)
		v, _, _ = s.Get(ctx, ctxstore.GlobalScope, "k")
		assert.Equal(t, "global", v)
	})

	t.Run("nested_paths", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "flow:f1", "stats.count", 2.0))
		require.NoError(t, s.Set(ctx, "flow:f1", "stats.name", "n"))

		v, ok, err := s.Get(ctx, "flow:f1", "stats.count")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2.0, v)

		v, _, err = s.Get(ctx, "flow:f1", "stats")
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"count": 2.0, "name": "n"}, v)

		_, ok, err = s.Get(ctx, "flow:f1", "stats.missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Set(ctx, "flow:f1", "scalar", "x"))
		err = s.Set(ctx, "flow:f1", "scalar.deeper", 1.0)
		assert.ErrorIs(t, err, ctxstore.ErrNotAMap)
	})

	t.Run("keys_sorted", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "node:a", "b", 1.0))
		require.NoError(t, s.Set(ctx, "node:a", "a", 1.0))

		keys, err := s.Keys(ctx, "node:a")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, keys)

		keys, err = s.Keys(ctx, "node:empty")
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("clear", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "node:a", "k", 1.0))
		require.NoError(t, s.Set(ctx, "node:b", "k", 1.0))
		require.NoError(t, s.Clear(ctx, "node:a"))

		_, ok, _ := s.Get(ctx, "node:a", "k")
		assert.False(t, ok)
		_, ok, _ = s.Get(ctx, "node:b", "k")
		assert.True(t, ok)
	})

	t.Run("invalid_scope_and_key", func(t *testing.T) {
		s := open(t)
		assert.ErrorIs(t,
			s.Set(ctx, "bogus", "k", 1.0), ctxstore.ErrInvalidScope)
		assert.ErrorIs(t,
			s.Set(ctx, "node:", "k", 1.0), ctxstore.ErrInvalidScope)
		assert.ErrorIs(t,
			s.Set(ctx, "node:a", "", 1.0), ctxstore.ErrInvalidKey)
		assert.ErrorIs(t,
			s.Set(ctx, "node:a", "a.", 1.0), ctxstore.ErrInvalidKey)
	})

	t.Run("update_error_keeps_value", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "node:a", "k", "v"))
		boom := errors.New("boom")
		_, err := s.Update(ctx, "node:a", "k",
			func(any, bool) (any, error) { return nil, boom },
		)
		assert.ErrorIs(t, err, boom)
		v, _, _ := s.Get(ctx, "node:a", "k")
		assert.Equal(t, "v", v)
	})

	t.Run("concurrent_updates_are_not_lost", func(t *testing.T) {
		s := open(t)
		const workers = 4
		const perWorker = 25

		var wg sync.WaitGroup
		for range workers {
			wg.Go(func() {
				for range perWorker {
					_, err := s.Update(ctx, "node:a", "counter",
						func(old any, ok bool) (any, error) {
							if !ok {
								return 1.0, nil
							}
							return old.(float64) + 1, nil
						},
					)
					assert.NoError(t, err)
				}
			})
		}
		wg.Wait()

		v, _, err := s.Get(ctx, "node:a", "counter")
		require.NoError(t, err)
		assert.Equal(t, float64(workers*perWorker), v)
	})
}
