// Package runtime dispatches transactions to transaction-driven modules.
//
// The Runtime registers itself as a storage.TransactionHandler. Before each
// commit it builds a filtered txevent.View for every module, in registration
// order, and hands it to the module's BeforeCommit. Each module sees the
// writes made by the modules before it. Whatever a module returns from
// BeforeCommit is passed back to its AfterCommit or AfterRollback.
//
// Example:
//
//	rt := runtime.New(runtime.Config{Registerer: prometheus.NewRegistry()})
//	if err := rt.Register(changelog.New("audit", policy.Business())); err != nil {
//		return err
//	}
//	manager.RegisterHandler(rt)
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/orneryd/nornicext/pkg/storage"
	"github.com/orneryd/nornicext/pkg/txevent"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "nornicext.runtime"

// TxDrivenModule reacts to the changes of each transaction.
//
// BeforeCommit may read and write through the view's handles. Its error
// decides the fate of the transaction, see ErrorKind. The returned state is
// kept until the transaction ends.
type TxDrivenModule interface {
	ID() string
	Policies() txevent.InclusionPolicies
	BeforeCommit(ctx context.Context, view txevent.View) (any, error)
	AfterCommit(state any)
	AfterRollback(state any)
}

// Config holds runtime options.
type Config struct {
	// Registerer receives the runtime metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	// Namespace prefixes metric names.
	Namespace string
	// TracerProvider creates the module spans. Nil uses the global provider.
	TracerProvider trace.TracerProvider
	// Debug logs every dispatch.
	Debug bool
}

type registration struct {
	module      TxDrivenModule
	needsReinit bool
	lastFailure error
}

type invocation struct {
	reg   *registration
	state any
}

// Runtime runs registered modules around every transaction of the managers
// it is registered with.
type Runtime struct {
	mu      sync.RWMutex
	modules []*registration

	statesMu sync.Mutex
	states   map[string][]invocation

	metrics *metrics
	tracer  trace.Tracer
	debug   bool
}

var _ storage.TransactionHandler = (*Runtime)(nil)

// New creates an empty runtime.
func New(cfg Config) *Runtime {
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	r := &Runtime{
		states: make(map[string][]invocation),
		tracer: tp.Tracer(tracerName),
		debug:  cfg.Debug,
	}
	if cfg.Registerer != nil {
		r.metrics = newMetrics(cfg.Registerer, cfg.Namespace)
	}
	return r
}

// Register appends m to the dispatch order.
func (r *Runtime) Register(m TxDrivenModule) error {
	if m == nil || m.ID() == "" {
		return ErrInvalidModule
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.modules {
		if reg.module.ID() == m.ID() {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, m.ID())
		}
	}
	r.modules = append(r.modules, &registration{module: m})
	log.Printf("[runtime] registered module %s", m.ID())
	return nil
}

// Modules returns the registered module IDs in dispatch order.
func (r *Runtime) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.modules))
	for i, reg := range r.modules {
		ids[i] = reg.module.ID()
	}
	return ids
}

// NeedsReinitialization reports whether module id asked to be re-initialized,
// and the error it raised.
func (r *Runtime) NeedsReinitialization(id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.modules {
		if reg.module.ID() == id {
			return reg.needsReinit, reg.lastFailure
		}
	}
	return false, nil
}

// MarkReinitialized clears the re-initialization flag of module id.
func (r *Runtime) MarkReinitialized(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.modules {
		if reg.module.ID() == id {
			reg.needsReinit = false
			reg.lastFailure = nil
		}
	}
}

// BeforeCommit implements storage.TransactionHandler.
func (r *Runtime) BeforeCommit(tx *storage.Transaction, data *storage.TransactionData) error {
	r.mu.RLock()
	modules := append([]*registration(nil), r.modules...)
	r.mu.RUnlock()
	if len(modules) == 0 || data.IsEmpty() {
		return nil
	}

	r.metrics.transaction()
	ctx := context.Background()
	raw := data
	seen := tx.OperationCount()

	var invoked []invocation
	defer func() {
		if len(invoked) > 0 {
			r.statesMu.Lock()
			r.states[tx.ID] = invoked
			r.statesMu.Unlock()
		}
	}()

	for _, reg := range modules {
		// Pick up writes made by the previous modules.
		if n := tx.OperationCount(); n != seen {
			raw = tx.Data()
			seen = n
		}

		id := reg.module.ID()
		view := txevent.NewFilteredView(txevent.NewView(tx, raw), reg.module.Policies())
		if !view.MutationsOccurred() {
			r.metrics.outcome(id, outcomeSkipped)
			if r.debug {
				log.Printf("[runtime] tx %s: nothing for module %s", tx.ID, id)
			}
			continue
		}

		state, err := r.invoke(ctx, tx, reg, view)
		if err == nil {
			invoked = append(invoked, invocation{reg: reg, state: state})
			continue
		}

		switch KindOf(err) {
		case KindNeedsReinitialization:
			log.Printf("[runtime] module %s needs re-initialization: %v", id, err)
			r.mu.Lock()
			reg.needsReinit = true
			reg.lastFailure = err
			r.mu.Unlock()
			r.metrics.outcome(id, outcomeReinit)
		case KindDeliberateRollback:
			r.metrics.outcome(id, outcomeRollback)
			return withModule(err, id)
		default:
			log.Printf("[runtime] module %s failed, rolling back tx %s: %v", id, tx.ID, err)
			r.metrics.outcome(id, outcomeFailure)
			return withModule(err, id)
		}
	}
	return nil
}

func (r *Runtime) invoke(ctx context.Context, tx *storage.Transaction, reg *registration, view txevent.View) (any, error) {
	id := reg.module.ID()
	ctx, span := r.tracer.Start(ctx, "runtime.BeforeCommit",
		trace.WithAttributes(
			attribute.String("module.id", id),
			attribute.String("tx.id", tx.ID),
		),
	)
	defer span.End()

	if r.debug {
		log.Printf("[runtime] tx %s: dispatching to module %s", tx.ID, id)
	}

	start := time.Now()
	state, err := reg.module.BeforeCommit(ctx, view)
	r.metrics.observe(id, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
		return nil, err
	}
	r.metrics.outcome(id, outcomeOK)
	return state, nil
}

// AfterCommit implements storage.TransactionHandler.
func (r *Runtime) AfterCommit(tx *storage.Transaction) {
	for _, inv := range r.takeStates(tx.ID) {
		inv.reg.module.AfterCommit(inv.state)
	}
}

// AfterRollback implements storage.TransactionHandler. Only modules whose
// BeforeCommit succeeded are notified.
func (r *Runtime) AfterRollback(tx *storage.Transaction) {
	for _, inv := range r.takeStates(tx.ID) {
		inv.reg.module.AfterRollback(inv.state)
	}
}

func (r *Runtime) takeStates(txID string) []invocation {
	r.statesMu.Lock()
	defer r.statesMu.Unlock()
	invoked := r.states[txID]
	delete(r.states, txID)
	return invoked
}

func withModule(err error, id string) error {
	var me *ModuleError
	if errors.As(err, &me) {
		if me.Module == "" {
			me.Module = id
		}
		return me
	}
	return &ModuleError{Kind: KindFailure, Module: id, Err: err}
}
