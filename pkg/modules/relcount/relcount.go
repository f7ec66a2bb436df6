// Package relcount keeps the relationship count of every node in a node
// property.
//
// The count is stored under DegreeKey on each node touched by a created or
// deleted relationship. Relationships with internal types never count. When
// the module is given types, only relationships of those types count. When it
// is scoped to labels, only nodes carrying one of them hold a count.
//
// A node that already had relationships but carries no count was written
// before the module was installed; the module then asks for re-initialization
// and Reinitialize recomputes every count.
package relcount

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/orneryd/nornicext/pkg/policy"
	"github.com/orneryd/nornicext/pkg/runtime"
	"github.com/orneryd/nornicext/pkg/storage"
	"github.com/orneryd/nornicext/pkg/txevent"
	"github.com/orneryd/nornicext/pkg/util"
)

// DegreeKey is the node property holding the count.
const DegreeKey = policy.InternalPrefix + "degree"

// Module maintains DegreeKey.
type Module struct {
	id     string
	types  []string
	labels []string
	rels   txevent.RelationshipFunc
}

// New creates a module counting relationships of types, or of every
// non-internal type when types is empty.
func New(id string, types ...string) *Module {
	rels := policy.BusinessRelationships()
	if len(types) > 0 {
		rels = policy.AndRelationships(rels, policy.RelationshipsOfTypes(types...))
	}
	return &Module{id: id, types: types, rels: rels}
}

// WithLabels restricts the counted nodes to those carrying one of labels.
func (m *Module) WithLabels(labels ...string) *Module {
	m.labels = labels
	return m
}

func (m *Module) ID() string { return m.id }

func (m *Module) counts(n txevent.Node) bool {
	if len(m.labels) == 0 {
		return true
	}
	for _, label := range m.labels {
		if n.HasLabel(label) {
			return true
		}
	}
	return false
}

// Policies only restricts relationships; node properties stay visible so the
// stored count can be read back.
func (m *Module) Policies() txevent.InclusionPolicies {
	return txevent.InclusionPolicies{Relationships: m.rels}
}

// BeforeCommit writes the new count of every surviving endpoint. It returns
// the counts it wrote.
func (m *Module) BeforeCommit(_ context.Context, view txevent.View) (any, error) {
	endpoints := collectEndpoints(view)
	counts := make(map[storage.NodeID]int, len(endpoints))

	for id, n := range endpoints {
		if view.HasNodeBeenDeleted(id) || !m.counts(n) {
			continue
		}
		created := len(view.CreatedRelationships(id, storage.DirectionBoth))
		deleted := len(view.DeletedRelationships(id, storage.DirectionBoth))

		degree, err := n.Degree(storage.DirectionBoth)
		if err != nil {
			return nil, fmt.Errorf("counting relationships of %s: %w", id, err)
		}
		before := degree
		if n.Epoch() == txevent.Current {
			before = degree - created + deleted
		} else {
			degree = before + created - deleted
		}

		if before > 0 && !view.HasNodeBeenCreated(id) && !n.HasProperty(DegreeKey) {
			return nil, runtime.NeedsReinitialization(
				fmt.Errorf("node %s has %d relationships but no stored count", id, before))
		}
		counts[id] = degree
	}

	ids := make([]storage.NodeID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := endpoints[id].SetProperty(DegreeKey, counts[id]); err != nil {
			return nil, fmt.Errorf("storing count of %s: %w", id, err)
		}
	}
	return counts, nil
}

func (m *Module) AfterCommit(any) {}

func (m *Module) AfterRollback(any) {}

// Reinitialize recomputes the count of every counted node in one transaction
// of manager.
func (m *Module) Reinitialize(manager *storage.TransactionManager) error {
	nodes, err := m.sweep(manager.Engine())
	if err != nil {
		return fmt.Errorf("reinitializing %s: %w", m.id, err)
	}

	counted := make(map[string]bool)
	for _, t := range m.types {
		counted[t] = true
	}
	countable := func(relType string) bool {
		if policy.IsInternal(relType) {
			return false
		}
		return len(counted) == 0 || counted[relType]
	}

	updated := 0
	err = manager.Run(func(tx *storage.Transaction) error {
		for _, node := range nodes {
			out, err := tx.GetOutgoingEdges(node.ID)
			if err != nil {
				return err
			}
			in, err := tx.GetIncomingEdges(node.ID)
			if err != nil {
				return err
			}

			seen := make(map[storage.EdgeID]struct{}, len(out)+len(in))
			for _, e := range append(out, in...) {
				if countable(e.Type) {
					seen[e.ID] = struct{}{}
				}
			}

			if stored, ok := node.Properties[DegreeKey]; ok && util.ArrayFriendlyEquals(stored, len(seen)) {
				continue
			}
			if err := tx.SetNodeProperty(node.ID, DegreeKey, len(seen)); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reinitializing %s: %w", m.id, err)
	}
	log.Printf("[relcount:%s] reinitialized %d nodes", m.id, updated)
	return nil
}

// sweep lists the nodes Reinitialize visits, through the label index when the
// module is scoped.
func (m *Module) sweep(engine storage.Engine) ([]*storage.Node, error) {
	if len(m.labels) == 0 {
		return engine.GetAllNodes(), nil
	}
	seen := make(map[storage.NodeID]*storage.Node)
	for _, label := range m.labels {
		nodes, err := engine.GetNodesByLabel(label)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			seen[n.ID] = n
		}
	}
	nodes := make([]*storage.Node, 0, len(seen))
	for _, n := range seen {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// Degree returns the stored count of n, zero when absent.
func Degree(n *storage.Node) int {
	if v, ok := n.Properties[DegreeKey].(int); ok {
		return v
	}
	return 0
}

// collectEndpoints maps every endpoint of a created or deleted relationship to
// a handle, preferring Current handles.
func collectEndpoints(view txevent.View) map[storage.NodeID]txevent.Node {
	endpoints := make(map[storage.NodeID]txevent.Node)
	for _, r := range view.AllCreatedRelationships() {
		endpoints[r.StartNodeID()] = r.StartNode()
		endpoints[r.EndNodeID()] = r.EndNode()
	}
	for _, r := range view.AllDeletedRelationships() {
		for _, n := range []txevent.Node{r.StartNode(), r.EndNode()} {
			if _, ok := endpoints[n.ID()]; !ok {
				endpoints[n.ID()] = n
			}
		}
	}
	return endpoints
}
