package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/orneryd/nornicext/pkg/storage"
	"github.com/orneryd/nornicext/pkg/txevent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type testModule struct {
	id       string
	policies txevent.InclusionPolicies
	before   func(view txevent.View) (any, error)

	calls      *[]string
	committed  []any
	rolledBack []any
}

func (m *testModule) ID() string                          { return m.id }
func (m *testModule) Policies() txevent.InclusionPolicies { return m.policies }

func (m *testModule) BeforeCommit(_ context.Context, view txevent.View) (any, error) {
	if m.calls != nil {
		*m.calls = append(*m.calls, m.id)
	}
	if m.before == nil {
		return m.id + "-state", nil
	}
	return m.before(view)
}

func (m *testModule) AfterCommit(state any)   { m.committed = append(m.committed, state) }
func (m *testModule) AfterRollback(state any) { m.rolledBack = append(m.rolledBack, state) }

func setup(t *testing.T, modules ...TxDrivenModule) (*Runtime, *storage.TransactionManager, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	rt := New(Config{Registerer: reg, Namespace: "test"})
	for _, m := range modules {
		require.NoError(t, rt.Register(m))
	}
	manager := storage.NewTransactionManager(storage.NewMemoryEngine())
	manager.RegisterHandler(rt)
	return rt, manager, reg
}

func createNode(id storage.NodeID, labels ...string) func(tx *storage.Transaction) error {
	return func(tx *storage.Transaction) error {
		_, err := tx.CreateNode(&storage.Node{ID: id, Labels: labels, Properties: map[string]any{"name": string(id)}})
		return err
	}
}

func TestRegister(t *testing.T) {
	rt := New(Config{})

	require.NoError(t, rt.Register(&testModule{id: "a"}))
	require.NoError(t, rt.Register(&testModule{id: "b"}))

	err := rt.Register(&testModule{id: "a"})
	assert.ErrorIs(t, err, ErrDuplicateModule)
	assert.ErrorIs(t, rt.Register(&testModule{}), ErrInvalidModule)
	assert.ErrorIs(t, rt.Register(nil), ErrInvalidModule)

	assert.Equal(t, []string{"a", "b"}, rt.Modules())
}

func TestDispatchOrderAndState(t *testing.T) {
	var calls []string
	a := &testModule{id: "a", calls: &calls}
	b := &testModule{id: "b", calls: &calls}
	rt, manager, _ := setup(t, a, b)

	require.NoError(t, manager.Run(createNode("n1")))

	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, []any{"a-state"}, a.committed)
	assert.Equal(t, []any{"b-state"}, b.committed)
	assert.Empty(t, a.rolledBack)
	assert.Empty(t, rt.states, "states are released after commit")
}

func TestNoDispatchWithoutMutations(t *testing.T) {
	var calls []string
	a := &testModule{id: "a", calls: &calls}
	rt, manager, _ := setup(t, a)

	require.NoError(t, manager.Run(func(tx *storage.Transaction) error { return nil }))

	assert.Empty(t, calls)
	assert.Empty(t, a.committed)
	assert.Zero(t, testutil.ToFloat64(rt.metrics.transactions), "empty transactions are not dispatched")
}

func TestModuleSeesFilteredView(t *testing.T) {
	var seen []storage.NodeID
	noSecrets := txevent.InclusionPolicies{
		Nodes: txevent.NodeFunc(func(n txevent.Node) bool { return !n.HasLabel("Secret") }),
	}
	m := &testModule{id: "m", policies: noSecrets, before: func(view txevent.View) (any, error) {
		for _, n := range view.AllCreatedNodes() {
			seen = append(seen, n.ID())
		}
		return nil, nil
	}}
	rt, manager, reg := setup(t, m)

	require.NoError(t, manager.Run(func(tx *storage.Transaction) error {
		if err := createNode("public")(tx); err != nil {
			return err
		}
		return createNode("hidden", "Secret")(tx)
	}))
	assert.Equal(t, []storage.NodeID{"public"}, seen)

	t.Run("excluded changes skip the module", func(t *testing.T) {
		seen = nil
		require.NoError(t, manager.Run(createNode("hidden2", "Secret")))
		assert.Empty(t, seen)
		assert.Equal(t, float64(1), testutil.ToFloat64(rt.metrics.outcomes.WithLabelValues("m", outcomeSkipped)))
		assert.Equal(t, float64(1), testutil.ToFloat64(rt.metrics.outcomes.WithLabelValues("m", outcomeOK)))
		assert.Equal(t, float64(2), testutil.ToFloat64(rt.metrics.transactions))

		count, err := testutil.GatherAndCount(reg, "test_runtime_module_duration_seconds")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestLaterModulesSeeEarlierWrites(t *testing.T) {
	writer := &testModule{id: "writer", before: func(view txevent.View) (any, error) {
		for _, n := range view.AllCreatedNodes() {
			if _, err := n.CreateRelationshipTo(n, "SELF", nil); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}}
	var relTypes []string
	reader := &testModule{id: "reader", before: func(view txevent.View) (any, error) {
		for _, r := range view.AllCreatedRelationships() {
			relTypes = append(relTypes, r.Type())
		}
		return nil, nil
	}}
	_, manager, _ := setup(t, writer, reader)

	require.NoError(t, manager.Run(createNode("n1")))

	assert.Equal(t, []string{"SELF"}, relTypes)
	edges, err := manager.Engine().GetOutgoingEdges("n1")
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestFailureRollsBack(t *testing.T) {
	boom := errors.New("boom")
	first := &testModule{id: "first"}
	failing := &testModule{id: "failing", before: func(txevent.View) (any, error) { return nil, boom }}
	never := &testModule{id: "never"}
	rt, manager, _ := setup(t, first, failing, never)

	err := manager.Run(createNode("n1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var me *ModuleError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, KindFailure, me.Kind)
	assert.Equal(t, "failing", me.Module)

	_, getErr := manager.Engine().GetNode("n1")
	assert.ErrorIs(t, getErr, storage.ErrNotFound)

	assert.Equal(t, []any{"first-state"}, first.rolledBack)
	assert.Empty(t, first.committed)
	assert.Empty(t, failing.rolledBack)
	assert.Empty(t, never.rolledBack)
	assert.Equal(t, float64(1), testutil.ToFloat64(rt.metrics.outcomes.WithLabelValues("failing", outcomeFailure)))
}

func TestDeliberateRollback(t *testing.T) {
	m := &testModule{id: "guard", before: func(view txevent.View) (any, error) {
		for _, n := range view.AllCreatedNodes() {
			if !n.HasProperty("owner") {
				return nil, Rollback("nodes need an owner")
			}
		}
		return nil, nil
	}}
	_, manager, _ := setup(t, m)

	err := manager.Run(createNode("n1"))
	require.Error(t, err)
	assert.Equal(t, KindDeliberateRollback, KindOf(err))
	assert.Contains(t, err.Error(), "module guard")
	assert.Contains(t, err.Error(), "nodes need an owner")

	count, countErr := manager.Engine().NodeCount()
	require.NoError(t, countErr)
	assert.Zero(t, count)
}

func TestNeedsReinitializationLetsTransactionCommit(t *testing.T) {
	stale := &testModule{id: "stale", before: func(txevent.View) (any, error) {
		return nil, NeedsReinitialization(errors.New("index out of date"))
	}}
	after := &testModule{id: "after"}
	rt, manager, _ := setup(t, stale, after)

	require.NoError(t, manager.Run(createNode("n1")))

	_, err := manager.Engine().GetNode("n1")
	require.NoError(t, err)

	needs, cause := rt.NeedsReinitialization("stale")
	assert.True(t, needs)
	assert.ErrorContains(t, cause, "index out of date")
	assert.Empty(t, stale.committed, "no state was produced")
	assert.Equal(t, []any{"after-state"}, after.committed)

	rt.MarkReinitialized("stale")
	needs, cause = rt.NeedsReinitialization("stale")
	assert.False(t, needs)
	assert.NoError(t, cause)
}

func TestModuleSpans(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   codes.Code
		wantStatus string
	}{
		{"success", nil, codes.Unset, ""},
		{"failure", errors.New("boom"), codes.Error, "failure"},
		{"deliberate rollback", Rollback("vetoed"), codes.Error, "deliberate_rollback"},
		{"needs reinitialization", NeedsReinitialization(errors.New("stale")), codes.Error, "needs_reinitialization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
			t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

			rt := New(Config{TracerProvider: tp})
			require.NoError(t, rt.Register(&testModule{id: "traced", before: func(txevent.View) (any, error) {
				return nil, tt.err
			}}))
			manager := storage.NewTransactionManager(storage.NewMemoryEngine())
			manager.RegisterHandler(rt)

			tx := manager.Begin()
			require.NoError(t, createNode("n1")(tx))
			commitErr := tx.Commit()
			if KindOf(tt.err) == KindNeedsReinitialization || tt.err == nil {
				require.NoError(t, commitErr)
			} else {
				require.Error(t, commitErr)
			}

			spans := rec.Ended()
			require.Len(t, spans, 1)
			span := spans[0]
			assert.Equal(t, "runtime.BeforeCommit", span.Name())

			attrs := make(map[attribute.Key]string)
			for _, kv := range span.Attributes() {
				attrs[kv.Key] = kv.Value.AsString()
			}
			assert.Equal(t, "traced", attrs["module.id"])
			assert.Equal(t, tx.ID, attrs["tx.id"])

			assert.Equal(t, tt.wantCode, span.Status().Code)
			assert.Equal(t, tt.wantStatus, span.Status().Description)
			if tt.err != nil {
				require.NotEmpty(t, span.Events())
				assert.Equal(t, "exception", span.Events()[0].Name)
			}
		})
	}

	t.Run("skipped modules get no span", func(t *testing.T) {
		rec := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		rt := New(Config{TracerProvider: tp})
		require.NoError(t, rt.Register(&testModule{id: "blind", policies: txevent.InclusionPolicies{
			Nodes: txevent.NodeFunc(func(txevent.Node) bool { return false }),
		}}))
		manager := storage.NewTransactionManager(storage.NewMemoryEngine())
		manager.RegisterHandler(rt)

		require.NoError(t, manager.Run(createNode("n1")))
		assert.Empty(t, rec.Ended())
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"plain error", errors.New("x"), KindFailure},
		{"rollback", Rollback("x"), KindDeliberateRollback},
		{"reinit", NeedsReinitialization(errors.New("x")), KindNeedsReinitialization},
		{"wrapped rollback", errors.Join(errors.New("ctx"), Rollback("x")), KindDeliberateRollback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
	assert.Equal(t, "deliberate_rollback", KindDeliberateRollback.String())
}

func TestWithoutMetrics(t *testing.T) {
	rt := New(Config{})
	require.NoError(t, rt.Register(&testModule{id: "a"}))
	manager := storage.NewTransactionManager(storage.NewMemoryEngine())
	manager.RegisterHandler(rt)

	require.NoError(t, manager.Run(createNode("n1")))
	assert.Nil(t, rt.metrics)
}
