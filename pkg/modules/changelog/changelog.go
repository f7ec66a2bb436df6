// Package changelog logs every committed transaction as a list of mutation
// lines.
//
// The lines are rendered before commit, while the changes are still
// readable, and written to the log only once the transaction committed:
//
//	Created node (:Person {name: Alice})
//	Changed relationship (a)-[:KNOWS {since: 2020}]->(b) to (a)-[:KNOWS {since: 2021}]->(b)
package changelog

import (
	"context"
	"log"
	"sync"

	"github.com/orneryd/nornicext/pkg/txevent"
)

// Module is a runtime module recording mutation lines.
type Module struct {
	id       string
	policies txevent.InclusionPolicies
	logf     func(format string, args ...any)

	mu        sync.Mutex
	last      []string
	committed int
	discarded int
}

// New creates a changelog module. Only changes visible through policies are
// recorded.
func New(id string, policies txevent.InclusionPolicies) *Module {
	return &Module{id: id, policies: policies, logf: log.Printf}
}

func (m *Module) ID() string { return m.id }

func (m *Module) Policies() txevent.InclusionPolicies { return m.policies }

// BeforeCommit renders the mutations; the lines are the module state.
func (m *Module) BeforeCommit(_ context.Context, view txevent.View) (any, error) {
	return view.MutationsToStrings(), nil
}

// AfterCommit logs the lines rendered before commit.
func (m *Module) AfterCommit(state any) {
	lines, _ := state.([]string)

	m.mu.Lock()
	m.last = lines
	m.committed++
	m.mu.Unlock()

	for _, line := range lines {
		m.logf("[changelog:%s] %s", m.id, line)
	}
}

// AfterRollback drops the lines.
func (m *Module) AfterRollback(state any) {
	lines, _ := state.([]string)

	m.mu.Lock()
	m.discarded++
	m.mu.Unlock()

	m.logf("[changelog:%s] transaction rolled back, %d mutations discarded", m.id, len(lines))
}

// Last returns the lines of the last committed transaction.
func (m *Module) Last() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.last...)
}

// Stats returns the number of committed and rolled back transactions seen.
func (m *Module) Stats() (committed, discarded int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed, m.discarded
}
