package txevent

import (
	"fmt"

	"github.com/orneryd/nornicext/pkg/storage"
)

// FilteredView re-derives every answer of an inner View through a set of
// inclusion policies, so that excluded elements and properties look as if they
// never existed or never changed.
//
// Handles returned by a FilteredView are filtered too: their property access
// hides excluded keys and their traversal skips excluded relationships and
// relationships leading to excluded nodes.
type FilteredView struct {
	inner View
	p     InclusionPolicies
}

var _ View = (*FilteredView)(nil)

// NewFilteredView wraps inner. Zero-valued policies make it answer exactly like
// inner.
func NewFilteredView(inner View, p InclusionPolicies) *FilteredView {
	return &FilteredView{inner: inner, p: p}
}

// ============================================================================
// Enumerations
// ============================================================================

func (f *FilteredView) AllCreatedNodes() []Node { return f.filterNodes(f.inner.AllCreatedNodes()) }
func (f *FilteredView) AllDeletedNodes() []Node { return f.filterNodes(f.inner.AllDeletedNodes()) }

func (f *FilteredView) AllChangedNodes() []Change[Node] {
	inner := f.inner.AllChangedNodes()
	changes := make([]Change[Node], 0, len(inner))
	for _, c := range inner {
		if f.nodeChangeVisible(c) {
			changes = append(changes, f.wrapNodeChange(c))
		}
	}
	return changes
}

func (f *FilteredView) AllCreatedRelationships() []Relationship {
	return f.filterRelationships(f.inner.AllCreatedRelationships())
}

func (f *FilteredView) AllDeletedRelationships() []Relationship {
	return f.filterRelationships(f.inner.AllDeletedRelationships())
}

func (f *FilteredView) AllChangedRelationships() []Change[Relationship] {
	inner := f.inner.AllChangedRelationships()
	changes := make([]Change[Relationship], 0, len(inner))
	for _, c := range inner {
		if f.relationshipChangeVisible(c) {
			changes = append(changes, f.wrapRelationshipChange(c))
		}
	}
	return changes
}

func (f *FilteredView) filterNodes(nodes []Node) []Node {
	kept := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if f.p.includeNode(n) {
			kept = append(kept, f.wrapNode(n))
		}
	}
	return kept
}

func (f *FilteredView) filterRelationships(rels []Relationship) []Relationship {
	kept := make([]Relationship, 0, len(rels))
	for _, r := range rels {
		if f.p.includeRelationship(r) {
			kept = append(kept, f.wrapRelationship(r))
		}
	}
	return kept
}

// ============================================================================
// Membership
// ============================================================================

func (f *FilteredView) HasNodeBeenCreated(id storage.NodeID) bool {
	n, err := f.inner.CreatedNode(id)
	return err == nil && f.p.includeNode(n)
}

func (f *FilteredView) HasNodeBeenDeleted(id storage.NodeID) bool {
	n, err := f.inner.DeletedNode(id)
	return err == nil && f.p.includeNode(n)
}

func (f *FilteredView) HasNodeBeenChanged(id storage.NodeID) bool {
	c, err := f.inner.ChangedNode(id)
	return err == nil && f.nodeChangeVisible(c)
}

func (f *FilteredView) HasRelationshipBeenCreated(id storage.EdgeID) bool {
	r, err := f.inner.CreatedRelationship(id)
	return err == nil && f.p.includeRelationship(r)
}

func (f *FilteredView) HasRelationshipBeenDeleted(id storage.EdgeID) bool {
	r, err := f.inner.DeletedRelationship(id)
	return err == nil && f.p.includeRelationship(r)
}

func (f *FilteredView) HasRelationshipBeenChanged(id storage.EdgeID) bool {
	c, err := f.inner.ChangedRelationship(id)
	return err == nil && f.relationshipChangeVisible(c)
}

func (f *FilteredView) CreatedNode(id storage.NodeID) (Node, error) {
	n, err := f.inner.CreatedNode(id)
	if err != nil {
		return nil, err
	}
	if !f.p.includeNode(n) {
		return nil, fmt.Errorf("created node %s: %w", id, ErrNotInTransaction)
	}
	return f.wrapNode(n), nil
}

func (f *FilteredView) DeletedNode(id storage.NodeID) (Node, error) {
	n, err := f.inner.DeletedNode(id)
	if err != nil {
		return nil, err
	}
	if !f.p.includeNode(n) {
		return nil, fmt.Errorf("deleted node %s: %w", id, ErrNotInTransaction)
	}
	return f.wrapNode(n), nil
}

func (f *FilteredView) ChangedNode(id storage.NodeID) (Change[Node], error) {
	c, err := f.inner.ChangedNode(id)
	if err != nil {
		return Change[Node]{}, err
	}
	if !f.nodeChangeVisible(c) {
		return Change[Node]{}, fmt.Errorf("changed node %s: %w", id, ErrNotInTransaction)
	}
	return f.wrapNodeChange(c), nil
}

func (f *FilteredView) CreatedRelationship(id storage.EdgeID) (Relationship, error) {
	r, err := f.inner.CreatedRelationship(id)
	if err != nil {
		return nil, err
	}
	if !f.p.includeRelationship(r) {
		return nil, fmt.Errorf("created relationship %s: %w", id, ErrNotInTransaction)
	}
	return f.wrapRelationship(r), nil
}

func (f *FilteredView) DeletedRelationship(id storage.EdgeID) (Relationship, error) {
	r, err := f.inner.DeletedRelationship(id)
	if err != nil {
		return nil, err
	}
	if !f.p.includeRelationship(r) {
		return nil, fmt.Errorf("deleted relationship %s: %w", id, ErrNotInTransaction)
	}
	return f.wrapRelationship(r), nil
}

func (f *FilteredView) ChangedRelationship(id storage.EdgeID) (Change[Relationship], error) {
	c, err := f.inner.ChangedRelationship(id)
	if err != nil {
		return Change[Relationship]{}, err
	}
	if !f.relationshipChangeVisible(c) {
		return Change[Relationship]{}, fmt.Errorf("changed relationship %s: %w", id, ErrNotInTransaction)
	}
	return f.wrapRelationshipChange(c), nil
}

// ============================================================================
// Change visibility
// ============================================================================

// A changed element is visible when either side is included and at least one
// visible property change (or label change, for nodes) remains.

func (f *FilteredView) nodeIncluded(c Change[Node]) bool {
	return f.p.includeNode(c.Previous) || f.p.includeNode(c.Current)
}

func (f *FilteredView) nodeChangeVisible(c Change[Node]) bool {
	if !f.nodeIncluded(c) {
		return false
	}
	id := c.Current.ID()
	if len(f.inner.AssignedLabels(id)) > 0 || len(f.inner.RemovedLabels(id)) > 0 {
		return true
	}
	return len(f.createdNodeProperties(c)) > 0 ||
		len(f.changedNodeProperties(c)) > 0 ||
		len(f.deletedNodeProperties(c)) > 0
}

func (f *FilteredView) relationshipIncluded(c Change[Relationship]) bool {
	return f.p.includeRelationship(c.Previous) || f.p.includeRelationship(c.Current)
}

func (f *FilteredView) relationshipChangeVisible(c Change[Relationship]) bool {
	if !f.relationshipIncluded(c) {
		return false
	}
	return len(f.createdRelationshipProperties(c)) > 0 ||
		len(f.changedRelationshipProperties(c)) > 0 ||
		len(f.deletedRelationshipProperties(c)) > 0
}

// Created and changed keys are judged on the current side, deleted keys on the
// previous side.

func (f *FilteredView) createdNodeProperties(c Change[Node]) map[string]any {
	return filterKeys(f.inner.CreatedNodeProperties(c.Current.ID()), func(key string) bool {
		return f.p.includeNodeProperty(key, c.Current)
	})
}

func (f *FilteredView) changedNodeProperties(c Change[Node]) map[string]Change[any] {
	return filterKeys(f.inner.ChangedNodeProperties(c.Current.ID()), func(key string) bool {
		return f.p.includeNodeProperty(key, c.Current)
	})
}

func (f *FilteredView) deletedNodeProperties(c Change[Node]) map[string]any {
	return filterKeys(f.inner.DeletedNodeProperties(c.Previous.ID()), func(key string) bool {
		return f.p.includeNodeProperty(key, c.Previous)
	})
}

func (f *FilteredView) createdRelationshipProperties(c Change[Relationship]) map[string]any {
	return filterKeys(f.inner.CreatedRelationshipProperties(c.Current.ID()), func(key string) bool {
		return f.p.includeRelationshipProperty(key, c.Current)
	})
}

func (f *FilteredView) changedRelationshipProperties(c Change[Relationship]) map[string]Change[any] {
	return filterKeys(f.inner.ChangedRelationshipProperties(c.Current.ID()), func(key string) bool {
		return f.p.includeRelationshipProperty(key, c.Current)
	})
}

func (f *FilteredView) deletedRelationshipProperties(c Change[Relationship]) map[string]any {
	return filterKeys(f.inner.DeletedRelationshipProperties(c.Previous.ID()), func(key string) bool {
		return f.p.includeRelationshipProperty(key, c.Previous)
	})
}

func filterKeys[V any](m map[string]V, include func(key string) bool) map[string]V {
	kept := make(map[string]V, len(m))
	for k, v := range m {
		if include(k) {
			kept[k] = v
		}
	}
	return kept
}

// ============================================================================
// Property and label queries
// ============================================================================

// includedNodeChange returns the inner change of id when the node is included
// on either side.
func (f *FilteredView) includedNodeChange(id storage.NodeID) (Change[Node], bool) {
	c, err := f.inner.ChangedNode(id)
	if err != nil || !f.nodeIncluded(c) {
		return Change[Node]{}, false
	}
	return c, true
}

func (f *FilteredView) includedRelationshipChange(id storage.EdgeID) (Change[Relationship], bool) {
	c, err := f.inner.ChangedRelationship(id)
	if err != nil || !f.relationshipIncluded(c) {
		return Change[Relationship]{}, false
	}
	return c, true
}

func (f *FilteredView) HasNodePropertyBeenCreated(id storage.NodeID, key string) bool {
	_, ok := f.CreatedNodeProperties(id)[key]
	return ok
}

func (f *FilteredView) HasNodePropertyBeenChanged(id storage.NodeID, key string) bool {
	_, ok := f.ChangedNodeProperties(id)[key]
	return ok
}

func (f *FilteredView) HasNodePropertyBeenDeleted(id storage.NodeID, key string) bool {
	_, ok := f.DeletedNodeProperties(id)[key]
	return ok
}

func (f *FilteredView) CreatedNodeProperties(id storage.NodeID) map[string]any {
	c, ok := f.includedNodeChange(id)
	if !ok {
		return map[string]any{}
	}
	return f.createdNodeProperties(c)
}

func (f *FilteredView) ChangedNodeProperties(id storage.NodeID) map[string]Change[any] {
	c, ok := f.includedNodeChange(id)
	if !ok {
		return map[string]Change[any]{}
	}
	return f.changedNodeProperties(c)
}

func (f *FilteredView) DeletedNodeProperties(id storage.NodeID) map[string]any {
	c, ok := f.includedNodeChange(id)
	if !ok {
		return map[string]any{}
	}
	return f.deletedNodeProperties(c)
}

func (f *FilteredView) HasRelationshipPropertyBeenCreated(id storage.EdgeID, key string) bool {
	_, ok := f.CreatedRelationshipProperties(id)[key]
	return ok
}

func (f *FilteredView) HasRelationshipPropertyBeenChanged(id storage.EdgeID, key string) bool {
	_, ok := f.ChangedRelationshipProperties(id)[key]
	return ok
}

func (f *FilteredView) HasRelationshipPropertyBeenDeleted(id storage.EdgeID, key string) bool {
	_, ok := f.DeletedRelationshipProperties(id)[key]
	return ok
}

func (f *FilteredView) CreatedRelationshipProperties(id storage.EdgeID) map[string]any {
	c, ok := f.includedRelationshipChange(id)
	if !ok {
		return map[string]any{}
	}
	return f.createdRelationshipProperties(c)
}

func (f *FilteredView) ChangedRelationshipProperties(id storage.EdgeID) map[string]Change[any] {
	c, ok := f.includedRelationshipChange(id)
	if !ok {
		return map[string]Change[any]{}
	}
	return f.changedRelationshipProperties(c)
}

func (f *FilteredView) DeletedRelationshipProperties(id storage.EdgeID) map[string]any {
	c, ok := f.includedRelationshipChange(id)
	if !ok {
		return map[string]any{}
	}
	return f.deletedRelationshipProperties(c)
}

func (f *FilteredView) HasLabelBeenAssigned(id storage.NodeID, label string) bool {
	_, ok := f.includedNodeChange(id)
	return ok && f.inner.HasLabelBeenAssigned(id, label)
}

func (f *FilteredView) HasLabelBeenRemoved(id storage.NodeID, label string) bool {
	_, ok := f.includedNodeChange(id)
	return ok && f.inner.HasLabelBeenRemoved(id, label)
}

func (f *FilteredView) AssignedLabels(id storage.NodeID) []string {
	if _, ok := f.includedNodeChange(id); !ok {
		return []string{}
	}
	return f.inner.AssignedLabels(id)
}

func (f *FilteredView) RemovedLabels(id storage.NodeID) []string {
	if _, ok := f.includedNodeChange(id); !ok {
		return []string{}
	}
	return f.inner.RemovedLabels(id)
}

func (f *FilteredView) DeletedRelationships(nodeID storage.NodeID, dir storage.Direction, types ...string) []Relationship {
	return f.filterRelationships(f.inner.DeletedRelationships(nodeID, dir, types...))
}

func (f *FilteredView) CreatedRelationships(nodeID storage.NodeID, dir storage.Direction, types ...string) []Relationship {
	return f.filterRelationships(f.inner.CreatedRelationships(nodeID, dir, types...))
}

func (f *FilteredView) MutationsOccurred() bool { return mutationsOccurred(f) }

func (f *FilteredView) MutationsToStrings() []string { return renderMutations(f) }

// ============================================================================
// Filtered handles
// ============================================================================

func (f *FilteredView) wrapNode(n Node) Node {
	if fn, ok := n.(*filteredNode); ok && fn.f == f {
		return fn
	}
	return &filteredNode{Node: n, f: f}
}

func (f *FilteredView) wrapRelationship(r Relationship) Relationship {
	if fr, ok := r.(*filteredRelationship); ok && fr.f == f {
		return fr
	}
	return &filteredRelationship{Relationship: r, f: f}
}

func (f *FilteredView) wrapNodeChange(c Change[Node]) Change[Node] {
	return Change[Node]{Previous: f.wrapNode(c.Previous), Current: f.wrapNode(c.Current)}
}

func (f *FilteredView) wrapRelationshipChange(c Change[Relationship]) Change[Relationship] {
	return Change[Relationship]{Previous: f.wrapRelationship(c.Previous), Current: f.wrapRelationship(c.Current)}
}

type filteredNode struct {
	Node
	f *FilteredView
}

func (n *filteredNode) includeKey(key string) bool {
	return n.f.p.includeNodeProperty(key, n.Node)
}

func (n *filteredNode) Properties() map[string]any {
	return filterKeys(n.Node.Properties(), n.includeKey)
}

func (n *filteredNode) Property(key string) (any, bool) {
	if !n.includeKey(key) {
		return nil, false
	}
	return n.Node.Property(key)
}

func (n *filteredNode) PropertyOr(key string, def any) any {
	if v, ok := n.Property(key); ok {
		return v
	}
	return def
}

func (n *filteredNode) HasProperty(key string) bool {
	_, ok := n.Property(key)
	return ok
}

func (n *filteredNode) PropertyKeys() []string { return sortedKeys(n.Properties()) }

func (n *filteredNode) Relationships(dir storage.Direction, types ...string) ([]Relationship, error) {
	rels, err := n.Node.Relationships(dir, types...)
	if err != nil {
		return nil, err
	}
	kept := make([]Relationship, 0, len(rels))
	for _, r := range rels {
		if !n.f.p.includeRelationship(r) {
			continue
		}
		other, err := r.OtherNode(n.ID())
		if err != nil {
			return nil, err
		}
		if !n.f.p.includeNode(other) {
			continue
		}
		kept = append(kept, n.f.wrapRelationship(r))
	}
	return kept, nil
}

func (n *filteredNode) HasRelationship(dir storage.Direction, types ...string) (bool, error) {
	degree, err := n.Degree(dir, types...)
	return degree > 0, err
}

func (n *filteredNode) Degree(dir storage.Direction, types ...string) (int, error) {
	rels, err := n.Relationships(dir, types...)
	return len(rels), err
}

func (n *filteredNode) CreateRelationshipTo(other Node, relType string, props map[string]any) (Relationship, error) {
	r, err := n.Node.CreateRelationshipTo(other, relType, props)
	if err != nil {
		return nil, err
	}
	return n.f.wrapRelationship(r), nil
}

func (n *filteredNode) String() string { return nodeToString(n) }

type filteredRelationship struct {
	Relationship
	f *FilteredView
}

func (r *filteredRelationship) includeKey(key string) bool {
	return r.f.p.includeRelationshipProperty(key, r.Relationship)
}

func (r *filteredRelationship) Properties() map[string]any {
	return filterKeys(r.Relationship.Properties(), r.includeKey)
}

func (r *filteredRelationship) Property(key string) (any, bool) {
	if !r.includeKey(key) {
		return nil, false
	}
	return r.Relationship.Property(key)
}

func (r *filteredRelationship) PropertyOr(key string, def any) any {
	if v, ok := r.Property(key); ok {
		return v
	}
	return def
}

func (r *filteredRelationship) HasProperty(key string) bool {
	_, ok := r.Property(key)
	return ok
}

func (r *filteredRelationship) PropertyKeys() []string { return sortedKeys(r.Properties()) }

func (r *filteredRelationship) StartNode() Node { return r.f.wrapNode(r.Relationship.StartNode()) }
func (r *filteredRelationship) EndNode() Node   { return r.f.wrapNode(r.Relationship.EndNode()) }

func (r *filteredRelationship) OtherNode(id storage.NodeID) (Node, error) {
	n, err := r.Relationship.OtherNode(id)
	if err != nil {
		return nil, err
	}
	return r.f.wrapNode(n), nil
}

func (r *filteredRelationship) String() string { return relationshipToString(r) }
