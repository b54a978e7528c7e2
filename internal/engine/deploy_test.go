package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/wireflow/internal/assert/helpers"
	"github.com/kode4food/wireflow/internal/assert/wait"
	"github.com/kode4food/wireflow/internal/ctxstore"
	"github.com/kode4food/wireflow/internal/engine"
	"github.com/kode4food/wireflow/pkg/api"
)

const counterFlow = `[
	{"id":"f1","type":"tab"},
	{"id":"in","type":"inject","z":"f1","wires":[["a","b"]]},
	{"id":"a","type":"counter","z":"f1","name":"%s"},
	{"id":"b","type":"counter","z":"f1"}
]`

func counters(name string) string {
	return fmt.Sprintf(counterFlow, name)
}

func TestDeployNodesKeepsUnchanged(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		env.Deploy(t, counters("one"), api.DeployFull)
		env.Inject(t, "in", 1)
		env.Inject(t, "in", 2)
		env.WaitIdle(t)

		res := env.Deploy(t, counters("two"), api.DeployNodes)
		assert.Equal(t, []api.NodeID{"a"}, res.Diff.Changed)

		assert.Equal(t, 2, env.Nodes.Instances("a"))
		assert.Equal(t, 1, env.Nodes.Instances("b"))
		assert.Equal(t, 1, env.Nodes.Closes("a"))
		assert.Equal(t, 0, env.Nodes.Closes("b"))

		_, ok := env.ContextValue(t, ctxstore.NodeScope("a"), "count")
		assert.False(t, ok)
		count, ok := env.ContextValue(t, ctxstore.NodeScope("b"), "count")
		assert.True(t, ok)
		assert.Equal(t, 2.0, count)
		flow, ok := env.ContextValue(t, ctxstore.FlowScope("f1"), "count")
		assert.True(t, ok)
		assert.Equal(t, 4.0, flow)

		env.Inject(t, "in", 3)
		env.WaitIdle(t)
		count, _ = env.ContextValue(t, ctxstore.NodeScope("b"), "count")
		assert.Equal(t, 3.0, count)
	})
}

func TestDeployFullRestartsEverything(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		ctx := context.Background()
		require.NoError(t,
			env.Contexts.Global().Set(ctx, "shared", "kept"),
		)
		env.Deploy(t, counters("one"), api.DeployFull)
		env.Inject(t, "in", 1)
		env.WaitIdle(t)

		env.Deploy(t, counters("one"), api.DeployFull)
		assert.Equal(t, 2, env.Nodes.Instances("a"))
		assert.Equal(t, 2, env.Nodes.Instances("b"))

		_, ok := env.ContextValue(t, ctxstore.NodeScope("b"), "count")
		assert.False(t, ok)
		_, ok = env.ContextValue(t, ctxstore.FlowScope("f1"), "count")
		assert.False(t, ok)
		v, ok := env.ContextValue(t, ctxstore.GlobalScope, "shared")
		assert.True(t, ok)
		assert.Equal(t, "kept", v)
		v, _ = env.ContextValue(t, ctxstore.GlobalScope, "seed")
		assert.Equal(t, 42, v)
	})
}

func TestDeployFlowsRestartsChangedFlow(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		doc := func(label string) string {
			return `[
				{"id":"f1","type":"tab","label":"` + label + `"},
				{"id":"a","type":"pass","z":"f1"},
				{"id":"b","type":"pass","z":"f1"},
				{"id":"f2","type":"tab"},
				{"id":"c","type":"pass","z":"f2"}
			]`
		}
		env.Deploy(t, doc("one"), api.DeployFull)
		res := env.Deploy(t, doc("two"), api.DeployFlows)
		assert.Equal(t, []api.FlowID{"f1"}, res.Diff.ChangedFlows)
		assert.Empty(t, res.Diff.Changed)

		assert.Equal(t, 2, env.Nodes.Instances("a"))
		assert.Equal(t, 2, env.Nodes.Instances("b"))
		assert.Equal(t, 1, env.Nodes.Instances("c"))
	})
}

func TestDeployRewireKeepsInstances(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		env.Deploy(t, `[
			{"id":"f1","type":"tab"},
			{"id":"in","type":"inject","z":"f1","wires":[["p"]]},
			{"id":"p","type":"pass","z":"f1","wires":[["x"]]},
			{"id":"x","type":"collect","z":"f1"},
			{"id":"y","type":"collect","z":"f1"}
		]`, api.DeployFull)
		res := env.Deploy(t, `[
			{"id":"f1","type":"tab"},
			{"id":"in","type":"inject","z":"f1","wires":[["p"]]},
			{"id":"p","type":"pass","z":"f1","wires":[["y"]]},
			{"id":"x","type":"collect","z":"f1"},
			{"id":"y","type":"collect","z":"f1"}
		]`, api.DeployNodes)
		assert.Equal(t, []api.NodeID{"p"}, res.Diff.Rewired)
		assert.Equal(t, 1, env.Nodes.Instances("p"))

		env.Inject(t, "in", "hi")
		assert.Equal(t, []any{"hi"},
			payloads(env.Nodes.Collector.Wait(t, "y", 1)),
		)
		assert.Empty(t, env.Nodes.Collector.Messages("x"))
	})
}

func TestDeployTransfersPendingMessages(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		env.Deploy(t, `[
			{"id":"f1","type":"tab"},
			{"id":"in","type":"inject","z":"f1","wires":[["blk"]]},
			{"id":"blk","type":"block","z":"f1","wires":[["out"]]},
			{"id":"out","type":"collect","z":"f1"}
		]`, api.DeployFull)

		env.Inject(t, "in", 1)
		env.Inject(t, "in", 2)
		env.Inject(t, "in", 3)
		assert.Eventually(t, func() bool {
			st, ok := env.Engine.FlowState("f1")
			return ok && st.Nodes["blk"].Pending == 2
		}, 5*time.Second, 5*time.Millisecond)

		env.Deploy(t, `[
			{"id":"f1","type":"tab"},
			{"id":"in","type":"inject","z":"f1","wires":[["blk"]]},
			{"id":"blk","type":"block","z":"f1","name":"new",
			 "wires":[["out"]]},
			{"id":"out","type":"collect","z":"f1"}
		]`, api.DeployNodes)

		env.Nodes.Gate.Open()
		got := env.Nodes.Collector.Wait(t, "out", 2)
		assert.Equal(t, []any{2, 3}, payloads(got))
		env.WaitIdle(t)
	})
}

func TestDeployDropsMessagesForRemovedNodes(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		env.Deploy(t, `[
			{"id":"f1","type":"tab"},
			{"id":"in","type":"inject","z":"f1","wires":[["blk"]]},
			{"id":"blk","type":"block","z":"f1"}
		]`, api.DeployFull)
		env.Inject(t, "in", 1)
		env.Inject(t, "in", 2)

		env.Deploy(t, `[
			{"id":"f1","type":"tab"},
			{"id":"in","type":"inject","z":"f1"}
		]`, api.DeployNodes)
		env.WaitIdle(t)
		assert.Equal(t, 1, env.Nodes.Closes("blk"))
	})
}

func TestDeployConflict(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		env.Deploy(t, `[
			{"id":"f1","type":"tab"},
			{"id":"s","type":"stubborn","z":"f1"}
		]`, api.DeployFull)

		def, err := api.ParseDefinition([]byte(`[{"id":"f1","type":"tab"}]`))
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			_, err := env.Engine.Deploy(
				context.Background(), def, api.DeployFull,
			)
			done <- err
		}()

		assert.Eventually(t, func() bool {
			return env.Nodes.Closes("s") == 1
		}, 5*time.Second, time.Millisecond)

		_, err = env.Engine.Deploy(context.Background(), def, api.DeployFull)
		assert.ErrorIs(t, err, engine.ErrDeployInProgress)

		env.Nodes.Gate.Open()
		assert.NoError(t, <-done)
	}, helpers.WithCloseTimeout(5*time.Second))
}

func TestDeployCloseTimeout(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		env.Deploy(t, `[
			{"id":"f1","type":"tab"},
			{"id":"s","type":"stubborn","z":"f1"}
		]`, api.DeployFull)

		start := time.Now()
		env.Deploy(t, `[{"id":"f1","type":"tab"}]`, api.DeployFull)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, 1.0,
			counterValue(t, env.Metrics, "wireflow_node_close_timeouts_total"),
		)
	}, helpers.WithCloseTimeout(20*time.Millisecond))
}

func TestDeployRevisionCheck(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		first := env.Deploy(t, counters("one"), api.DeployFull)
		assert.Equal(t, first.Rev, env.Engine.Rev())

		def, err := api.ParseDefinition([]byte(counters("two")))
		require.NoError(t, err)

		_, err = env.Engine.Deploy(context.Background(), def,
			api.DeployNodes, engine.ExpectRev("stale"),
		)
		assert.ErrorIs(t, err, engine.ErrRevisionMismatch)
		assert.Equal(t, first.Rev, env.Engine.Rev())

		res, err := env.Engine.Deploy(context.Background(), def,
			api.DeployNodes, engine.ExpectRev(first.Rev),
		)
		require.NoError(t, err)
		assert.NotEqual(t, first.Rev, res.Rev)
	})
}

func TestDeployRejectsInvalidDefinition(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		env.Deploy(t, doubleFlow, api.DeployFull)
		rev := env.Engine.Rev()

		for _, doc := range []string{
			`[{"id":"f1","type":"tab"},
			  {"id":"x","type":"no-such-type","z":"f1"}]`,
			`[{"id":"f1","type":"tab"},
			  {"id":"x","type":"pass","z":"f1","wires":[["nowhere"]]}]`,
			`[{"id":"f1","type":"tab"},
			  {"id":"x","type":"broker-user","z":"f1","broker":"none"}]`,
		} {
			def, err := api.ParseDefinition([]byte(doc))
			require.NoError(t, err)
			_, err = env.Engine.Deploy(
				context.Background(), def, api.DeployFull,
			)
			assert.ErrorIs(t, err, engine.ErrConfiguration)
		}

		assert.Equal(t, rev, env.Engine.Rev())
		assert.Equal(t, 1, env.Nodes.Instances("dbl"))
		env.Inject(t, "in", 1)
		assert.Equal(t, []any{2.0},
			payloads(env.Nodes.Collector.Wait(t, "out", 1)),
		)
	})
}

func TestDeployInvalidMode(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		_, err := env.Engine.Deploy(
			context.Background(), &api.Definition{}, "partial",
		)
		assert.ErrorIs(t, err, engine.ErrConfiguration)
		assert.ErrorIs(t, err, api.ErrInvalidDeployMode)
	})
}

func TestDeployConfigNodes(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		env.Deploy(t, `[
			{"id":"f1","type":"tab"},
			{"id":"in","type":"inject","z":"f1","wires":[["use"]]},
			{"id":"use","type":"broker-user","z":"f1","broker":"brk",
			 "wires":[["out"]]},
			{"id":"out","type":"collect","z":"f1"},
			{"id":"brk","type":"broker","prefix":"mq:"}
		]`, api.DeployFull)

		env.Inject(t, "in", "hello")
		got := env.Nodes.Collector.Wait(t, "out", 1)
		assert.Equal(t, "mq:hello", got[0].Payload())
	})
}

func TestDeployPublishesEvent(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		consumer := env.Hub.NewConsumer()
		defer consumer.Close()

		res := env.Deploy(t, doubleFlow, api.DeployFull)
		ev := wait.On(t, consumer).ForEvent(wait.Deployed())
		assert.Equal(t, res.Rev, ev.Data.(*api.DeployResult).Rev)
	})
}

func TestDeployPersists(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		res := env.Deploy(t, doubleFlow, api.DeployFull)

		def, err := env.Store.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, res.Rev, def.Rev())
	})
}

func TestDeployMetrics(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		env.Deploy(t, doubleFlow, api.DeployFull)
		_, err := env.Engine.Deploy(
			context.Background(), &api.Definition{}, "bogus",
		)
		require.Error(t, err)

		families, err := env.Metrics.Gather()
		require.NoError(t, err)
		names := map[string]bool{}
		for _, f := range families {
			names[f.GetName()] = true
		}
		assert.True(t, names["wireflow_deploy_total"])
		assert.True(t, names["wireflow_deploy_duration_seconds"])
		assert.Equal(t, 2.0,
			counterValue(t, env.Metrics, "wireflow_deploy_total"),
		)
	})
}

// counterValue sums every series of a counter family
func counterValue(
	t *testing.T, reg *prometheus.Registry, name string,
) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var res float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			res += m.GetCounter().GetValue()
		}
	}
	return res
}
