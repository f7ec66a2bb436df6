package txevent

import (
	"fmt"
	"log"
	"sort"

	"github.com/orneryd/nornicext/pkg/storage"
)

// View answers questions about the changes made by one transaction.
//
// Enumerations return handles in the order the host reported the elements.
// Property and label queries about an element that was not changed (created,
// deleted or untouched) return false or an empty result.
type View interface {
	AllCreatedNodes() []Node
	AllDeletedNodes() []Node
	AllChangedNodes() []Change[Node]
	AllCreatedRelationships() []Relationship
	AllDeletedRelationships() []Relationship
	AllChangedRelationships() []Change[Relationship]

	HasNodeBeenCreated(id storage.NodeID) bool
	HasNodeBeenDeleted(id storage.NodeID) bool
	HasNodeBeenChanged(id storage.NodeID) bool
	HasRelationshipBeenCreated(id storage.EdgeID) bool
	HasRelationshipBeenDeleted(id storage.EdgeID) bool
	HasRelationshipBeenChanged(id storage.EdgeID) bool

	// Lookups fail with ErrNotInTransaction when id is not in the requested
	// set.
	CreatedNode(id storage.NodeID) (Node, error)
	DeletedNode(id storage.NodeID) (Node, error)
	ChangedNode(id storage.NodeID) (Change[Node], error)
	CreatedRelationship(id storage.EdgeID) (Relationship, error)
	DeletedRelationship(id storage.EdgeID) (Relationship, error)
	ChangedRelationship(id storage.EdgeID) (Change[Relationship], error)

	HasNodePropertyBeenCreated(id storage.NodeID, key string) bool
	HasNodePropertyBeenChanged(id storage.NodeID, key string) bool
	HasNodePropertyBeenDeleted(id storage.NodeID, key string) bool
	CreatedNodeProperties(id storage.NodeID) map[string]any
	ChangedNodeProperties(id storage.NodeID) map[string]Change[any]
	DeletedNodeProperties(id storage.NodeID) map[string]any

	HasRelationshipPropertyBeenCreated(id storage.EdgeID, key string) bool
	HasRelationshipPropertyBeenChanged(id storage.EdgeID, key string) bool
	HasRelationshipPropertyBeenDeleted(id storage.EdgeID, key string) bool
	CreatedRelationshipProperties(id storage.EdgeID) map[string]any
	ChangedRelationshipProperties(id storage.EdgeID) map[string]Change[any]
	DeletedRelationshipProperties(id storage.EdgeID) map[string]any

	HasLabelBeenAssigned(id storage.NodeID, label string) bool
	HasLabelBeenRemoved(id storage.NodeID, label string) bool
	// AssignedLabels and RemovedLabels return sorted labels.
	AssignedLabels(id storage.NodeID) []string
	RemovedLabels(id storage.NodeID) []string

	// DeletedRelationships lists relationships of nodeID deleted by the
	// transaction as Previous handles; CreatedRelationships lists created ones
	// as Current handles.
	DeletedRelationships(nodeID storage.NodeID, dir storage.Direction, types ...string) []Relationship
	CreatedRelationships(nodeID storage.NodeID, dir storage.Direction, types ...string) []Relationship

	MutationsOccurred() bool
	// MutationsToStrings renders every mutation as one line, sorted and
	// de-duplicated.
	MutationsToStrings() []string
}

// LazyView is the View over a live graph and an indexed Delta. Handles are
// computed on demand.
type LazyView struct {
	proj  *projector
	delta *Delta
}

var _ View = (*LazyView)(nil)

// NewView indexes raw and returns a View reading through g. g must reflect
// every event in raw.
func NewView(g Graph, raw *storage.TransactionData) *LazyView {
	d := IndexDelta(raw)
	return &LazyView{proj: &projector{graph: g, delta: d}, delta: d}
}

func (v *LazyView) AllCreatedNodes() []Node {
	nodes := make([]Node, len(v.delta.createdNodes))
	for i, id := range v.delta.createdNodes {
		nodes[i] = v.proj.node(id, Current)
	}
	return nodes
}

func (v *LazyView) AllDeletedNodes() []Node {
	nodes := make([]Node, len(v.delta.deletedNodes))
	for i, id := range v.delta.deletedNodes {
		nodes[i] = v.proj.node(id, Previous)
	}
	return nodes
}

func (v *LazyView) AllChangedNodes() []Change[Node] {
	changes := make([]Change[Node], len(v.delta.changedNodes))
	for i, id := range v.delta.changedNodes {
		changes[i] = v.changedNode(id)
	}
	return changes
}

func (v *LazyView) AllCreatedRelationships() []Relationship {
	return v.wrapAll(v.delta.createdEdges, Current)
}

func (v *LazyView) AllDeletedRelationships() []Relationship {
	return v.wrapAll(v.delta.deletedEdges, Previous)
}

func (v *LazyView) AllChangedRelationships() []Change[Relationship] {
	changes := make([]Change[Relationship], 0, len(v.delta.changedEdges))
	for _, id := range v.delta.changedEdges {
		c, err := v.ChangedRelationship(id)
		if err != nil {
			log.Printf("[txevent] skipping changed relationship: %v", err)
			continue
		}
		changes = append(changes, c)
	}
	return changes
}

func (v *LazyView) wrapAll(recs []storage.EdgeRecord, epoch Epoch) []Relationship {
	rels := make([]Relationship, len(recs))
	for i, rec := range recs {
		rels[i] = v.proj.relationship(rec, epoch)
	}
	return rels
}

func (v *LazyView) changedNode(id storage.NodeID) Change[Node] {
	return Change[Node]{
		Previous: v.proj.node(id, Previous),
		Current:  v.proj.node(id, Current),
	}
}

func (v *LazyView) HasNodeBeenCreated(id storage.NodeID) bool { return v.delta.nodeCreated(id) }
func (v *LazyView) HasNodeBeenDeleted(id storage.NodeID) bool { return v.delta.nodeDeleted(id) }
func (v *LazyView) HasNodeBeenChanged(id storage.NodeID) bool { return v.delta.nodeChanged(id) }

func (v *LazyView) HasRelationshipBeenCreated(id storage.EdgeID) bool {
	return v.delta.edgeCreated(id)
}

func (v *LazyView) HasRelationshipBeenDeleted(id storage.EdgeID) bool {
	return v.delta.edgeDeleted(id)
}

func (v *LazyView) HasRelationshipBeenChanged(id storage.EdgeID) bool {
	return v.delta.edgeChanged(id)
}

func (v *LazyView) CreatedNode(id storage.NodeID) (Node, error) {
	if !v.delta.nodeCreated(id) {
		return nil, fmt.Errorf("created node %s: %w", id, ErrNotInTransaction)
	}
	return v.proj.node(id, Current), nil
}

func (v *LazyView) DeletedNode(id storage.NodeID) (Node, error) {
	if !v.delta.nodeDeleted(id) {
		return nil, fmt.Errorf("deleted node %s: %w", id, ErrNotInTransaction)
	}
	return v.proj.node(id, Previous), nil
}

func (v *LazyView) ChangedNode(id storage.NodeID) (Change[Node], error) {
	if !v.delta.nodeChanged(id) {
		return Change[Node]{}, fmt.Errorf("changed node %s: %w", id, ErrNotInTransaction)
	}
	return v.changedNode(id), nil
}

func (v *LazyView) CreatedRelationship(id storage.EdgeID) (Relationship, error) {
	rec, ok := v.delta.createdEdgeSet[id]
	if !ok {
		return nil, fmt.Errorf("created relationship %s: %w", id, ErrNotInTransaction)
	}
	return v.proj.relationship(rec, Current), nil
}

func (v *LazyView) DeletedRelationship(id storage.EdgeID) (Relationship, error) {
	rec, ok := v.delta.deletedEdgeSet[id]
	if !ok {
		return nil, fmt.Errorf("deleted relationship %s: %w", id, ErrNotInTransaction)
	}
	return v.proj.relationship(rec, Previous), nil
}

// ChangedRelationship reads type and endpoints from the live relationship
// once; they cannot change within a transaction.
func (v *LazyView) ChangedRelationship(id storage.EdgeID) (Change[Relationship], error) {
	if !v.delta.edgeChanged(id) {
		return Change[Relationship]{}, fmt.Errorf("changed relationship %s: %w", id, ErrNotInTransaction)
	}
	edge, err := v.proj.graph.GetEdge(id)
	if err != nil {
		return Change[Relationship]{}, fmt.Errorf("changed relationship %s: %w", id, err)
	}
	rec := recordOf(edge)
	return Change[Relationship]{
		Previous: v.proj.relationship(rec, Previous),
		Current:  v.proj.relationship(rec, Current),
	}, nil
}

func (v *LazyView) HasNodePropertyBeenCreated(id storage.NodeID, key string) bool {
	return v.delta.changedNodeDelta(id).property(key).created()
}

func (v *LazyView) HasNodePropertyBeenChanged(id storage.NodeID, key string) bool {
	return v.delta.changedNodeDelta(id).property(key).changed()
}

func (v *LazyView) HasNodePropertyBeenDeleted(id storage.NodeID, key string) bool {
	return v.delta.changedNodeDelta(id).property(key).deleted()
}

func (v *LazyView) CreatedNodeProperties(id storage.NodeID) map[string]any {
	return v.delta.changedNodeDelta(id).createdProperties()
}

func (v *LazyView) ChangedNodeProperties(id storage.NodeID) map[string]Change[any] {
	return v.delta.changedNodeDelta(id).changedProperties()
}

func (v *LazyView) DeletedNodeProperties(id storage.NodeID) map[string]any {
	return v.delta.changedNodeDelta(id).deletedProperties()
}

func (v *LazyView) HasRelationshipPropertyBeenCreated(id storage.EdgeID, key string) bool {
	return v.delta.changedEdgeDelta(id).property(key).created()
}

func (v *LazyView) HasRelationshipPropertyBeenChanged(id storage.EdgeID, key string) bool {
	return v.delta.changedEdgeDelta(id).property(key).changed()
}

func (v *LazyView) HasRelationshipPropertyBeenDeleted(id storage.EdgeID, key string) bool {
	return v.delta.changedEdgeDelta(id).property(key).deleted()
}

func (v *LazyView) CreatedRelationshipProperties(id storage.EdgeID) map[string]any {
	return v.delta.changedEdgeDelta(id).createdProperties()
}

func (v *LazyView) ChangedRelationshipProperties(id storage.EdgeID) map[string]Change[any] {
	return v.delta.changedEdgeDelta(id).changedProperties()
}

func (v *LazyView) DeletedRelationshipProperties(id storage.EdgeID) map[string]any {
	return v.delta.changedEdgeDelta(id).deletedProperties()
}

func (v *LazyView) HasLabelBeenAssigned(id storage.NodeID, label string) bool {
	l, ok := v.delta.changedNodeDelta(id).label(label)
	return ok && l.after
}

func (v *LazyView) HasLabelBeenRemoved(id storage.NodeID, label string) bool {
	l, ok := v.delta.changedNodeDelta(id).label(label)
	return ok && l.before
}

func (v *LazyView) AssignedLabels(id storage.NodeID) []string {
	return v.delta.changedNodeDelta(id).labelsWhere(func(l labelDelta) bool { return l.after })
}

func (v *LazyView) RemovedLabels(id storage.NodeID) []string {
	return v.delta.changedNodeDelta(id).labelsWhere(func(l labelDelta) bool { return l.before })
}

func (v *LazyView) DeletedRelationships(nodeID storage.NodeID, dir storage.Direction, types ...string) []Relationship {
	recs := selectRelationships(nodeID, v.delta.deletedEdgesByNode[nodeID], dir, types)
	return v.wrapAll(recs, Previous)
}

func (v *LazyView) CreatedRelationships(nodeID storage.NodeID, dir storage.Direction, types ...string) []Relationship {
	recs := selectRelationships(nodeID, v.delta.createdEdgesByNode[nodeID], dir, types)
	return v.wrapAll(recs, Current)
}

func (v *LazyView) MutationsOccurred() bool { return v.delta.MutationsOccurred() }

func (v *LazyView) MutationsToStrings() []string { return renderMutations(v) }

// property returns the collapsed delta of key. Collapsed deltas never hold
// no-ops, so a missing key reports false for every predicate.
func (e *entityDelta) property(key string) propertyDelta {
	if e == nil {
		return propertyDelta{}
	}
	return e.props[key]
}

func (e *entityDelta) label(label string) (labelDelta, bool) {
	if e == nil {
		return labelDelta{}, false
	}
	l, ok := e.labels[label]
	return l, ok
}

func (e *entityDelta) createdProperties() map[string]any {
	props := make(map[string]any)
	if e == nil {
		return props
	}
	for key, p := range e.props {
		if p.created() {
			props[key] = p.after
		}
	}
	return props
}

func (e *entityDelta) changedProperties() map[string]Change[any] {
	props := make(map[string]Change[any])
	if e == nil {
		return props
	}
	for key, p := range e.props {
		if p.changed() {
			props[key] = Change[any]{Previous: p.before, Current: p.after}
		}
	}
	return props
}

func (e *entityDelta) deletedProperties() map[string]any {
	props := make(map[string]any)
	if e == nil {
		return props
	}
	for key, p := range e.props {
		if p.deleted() {
			props[key] = p.before
		}
	}
	return props
}

// labelsWhere returns the sorted labels whose delta satisfies match. Collapsed
// label deltas always flip, so checking one side is enough.
func (e *entityDelta) labelsWhere(match func(labelDelta) bool) []string {
	if e == nil {
		return []string{}
	}
	labels := make([]string, 0, len(e.labels))
	for label, l := range e.labels {
		if match(l) {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels
}
