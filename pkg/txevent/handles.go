package txevent

import (
	"fmt"
	"log"
	"sort"

	"github.com/orneryd/nornicext/pkg/storage"
)

// PropertyContainer is the part of the handle contract shared by nodes and
// relationships.
type PropertyContainer interface {
	// Epoch is the side of the transaction this handle shows.
	Epoch() Epoch

	Property(key string) (any, bool)
	PropertyOr(key string, def any) any
	HasProperty(key string) bool
	// PropertyKeys returns the keys in sorted order.
	PropertyKeys() []string
	// Properties returns a copy of all properties.
	Properties() map[string]any

	// Writes go to the live element, whatever the handle's epoch. They fail
	// with ErrEntityDeleted for elements deleted by the transaction.
	SetProperty(key string, value any) error
	RemoveProperty(key string) (any, error)
	Delete() error
}

// Node is an epoch-tagged node handle.
type Node interface {
	PropertyContainer

	ID() storage.NodeID
	Labels() []string
	HasLabel(label string) bool

	// Relationships lists the relationships the node has in the handle's epoch,
	// optionally restricted to a direction and a set of types. Returned
	// handles carry the same epoch.
	Relationships(dir storage.Direction, types ...string) ([]Relationship, error)
	HasRelationship(dir storage.Direction, types ...string) (bool, error)
	Degree(dir storage.Direction, types ...string) (int, error)

	AddLabel(label string) error
	RemoveLabel(label string) error
	CreateRelationshipTo(other Node, relType string, props map[string]any) (Relationship, error)
}

// Relationship is an epoch-tagged relationship handle. Type and endpoints are
// captured when the handle is produced and never re-read by identity.
type Relationship interface {
	PropertyContainer

	ID() storage.EdgeID
	Type() string
	StartNodeID() storage.NodeID
	EndNodeID() storage.NodeID

	StartNode() Node
	EndNode() Node
	// OtherNode returns the endpoint opposite to id.
	OtherNode(id storage.NodeID) (Node, error)
}

// sourceKind tells whether a handle reads the live graph or a reconstruction
// from the delta.
type sourceKind uint8

const (
	sourceLive sourceKind = iota
	sourceReconstructed
)

// projector wraps identities into epoch-projected handles. It holds no state
// besides the graph and the delta of one transaction.
type projector struct {
	graph Graph
	delta *Delta
}

// node wraps id. Deleted nodes only have a previous side and created nodes
// only a current one, whatever epoch is requested.
func (p *projector) node(id storage.NodeID, epoch Epoch) Node {
	switch {
	case p.delta.nodeDeleted(id):
		return &nodeHandle{p: p, id: id, epoch: Previous, src: sourceReconstructed}
	case p.delta.nodeCreated(id):
		return &nodeHandle{p: p, id: id, epoch: Current, src: sourceLive}
	}
	return &nodeHandle{p: p, id: id, epoch: epoch, src: sourceLive}
}

func (p *projector) relationship(rec storage.EdgeRecord, epoch Epoch) Relationship {
	switch {
	case p.delta.edgeDeleted(rec.ID):
		return &relHandle{p: p, rec: rec, epoch: Previous, src: sourceReconstructed}
	case p.delta.edgeCreated(rec.ID):
		return &relHandle{p: p, rec: rec, epoch: Current, src: sourceLive}
	}
	return &relHandle{p: p, rec: rec, epoch: epoch, src: sourceLive}
}

// incident lists the relationships touching id in the given epoch.
//
// The live adjacency already reflects the transaction, so it is reconciled
// with the delta: Current drops deleted relationships and Previous drops
// created ones, then Previous adds back the deleted relationships and Current
// the created ones still present. Self loops are listed once.
func (p *projector) incident(id storage.NodeID, epoch Epoch, liveAdjacency bool) ([]storage.EdgeRecord, error) {
	seen := make(map[storage.EdgeID]struct{})
	var recs []storage.EdgeRecord
	add := func(rec storage.EdgeRecord) {
		if _, dup := seen[rec.ID]; !dup {
			seen[rec.ID] = struct{}{}
			recs = append(recs, rec)
		}
	}

	if liveAdjacency {
		out, err := p.graph.GetOutgoingEdges(id)
		if err != nil {
			return nil, fmt.Errorf("outgoing relationships of %s: %w", id, err)
		}
		in, err := p.graph.GetIncomingEdges(id)
		if err != nil {
			return nil, fmt.Errorf("incoming relationships of %s: %w", id, err)
		}
		for _, edge := range append(out, in...) {
			if epoch == Current && p.delta.edgeDeleted(edge.ID) {
				continue
			}
			if epoch == Previous && p.delta.edgeCreated(edge.ID) {
				continue
			}
			add(recordOf(edge))
		}
	}

	if epoch == Previous {
		for _, rec := range p.delta.deletedEdgesByNode[id] {
			add(rec)
		}
	} else {
		for _, rec := range p.delta.createdEdgesByNode[id] {
			if _, err := p.graph.GetEdge(rec.ID); err == nil {
				add(rec)
			}
		}
	}
	return recs, nil
}

func recordOf(edge *storage.Edge) storage.EdgeRecord {
	return storage.EdgeRecord{ID: edge.ID, StartNode: edge.StartNode, EndNode: edge.EndNode, Type: edge.Type}
}

// selectRelationships applies direction and type filters, seen from node.
func selectRelationships(node storage.NodeID, recs []storage.EdgeRecord, dir storage.Direction, types []string) []storage.EdgeRecord {
	selected := recs[:0:0]
	for _, rec := range recs {
		if !dir.Matches(node, rec.StartNode, rec.EndNode) {
			continue
		}
		if len(types) > 0 && !containsString(types, rec.Type) {
			continue
		}
		selected = append(selected, rec)
	}
	return selected
}

func containsString(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

func sortedKeys(props map[string]any) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ============================================================================
// Node handle
// ============================================================================

type nodeHandle struct {
	p     *projector
	id    storage.NodeID
	epoch Epoch
	src   sourceKind
}

func (n *nodeHandle) ID() storage.NodeID { return n.id }
func (n *nodeHandle) Epoch() Epoch       { return n.epoch }

// live reads the node from the graph; failures are logged and reported as nil.
func (n *nodeHandle) live() *storage.Node {
	node, err := n.p.graph.GetNode(n.id)
	if err != nil {
		log.Printf("[txevent] reading node %s: %v", n.id, err)
		return nil
	}
	return node
}

func (n *nodeHandle) Properties() map[string]any {
	if n.src == sourceReconstructed {
		return n.p.delta.nodes[n.id].previousProperties()
	}
	node := n.live()
	if node == nil {
		return map[string]any{}
	}
	if n.epoch == Previous {
		return n.p.delta.nodes[n.id].overlayPrevious(node.Properties)
	}
	return node.Properties
}

func (n *nodeHandle) Property(key string) (any, bool) {
	v, ok := n.Properties()[key]
	return v, ok
}

func (n *nodeHandle) PropertyOr(key string, def any) any {
	if v, ok := n.Property(key); ok {
		return v
	}
	return def
}

func (n *nodeHandle) HasProperty(key string) bool {
	_, ok := n.Property(key)
	return ok
}

func (n *nodeHandle) PropertyKeys() []string {
	return sortedKeys(n.Properties())
}

func (n *nodeHandle) Labels() []string {
	if n.src == sourceReconstructed {
		return n.p.delta.nodes[n.id].previousLabels()
	}
	node := n.live()
	if node == nil {
		return nil
	}
	if n.epoch == Previous {
		return n.p.delta.nodes[n.id].overlayPreviousLabels(node.Labels)
	}
	return node.Labels
}

func (n *nodeHandle) HasLabel(label string) bool {
	return containsString(n.Labels(), label)
}

func (n *nodeHandle) Relationships(dir storage.Direction, types ...string) ([]Relationship, error) {
	recs, err := n.p.incident(n.id, n.epoch, n.src == sourceLive)
	if err != nil {
		return nil, err
	}
	recs = selectRelationships(n.id, recs, dir, types)
	rels := make([]Relationship, len(recs))
	for i, rec := range recs {
		rels[i] = n.p.relationship(rec, n.epoch)
	}
	return rels, nil
}

func (n *nodeHandle) HasRelationship(dir storage.Direction, types ...string) (bool, error) {
	degree, err := n.Degree(dir, types...)
	return degree > 0, err
}

func (n *nodeHandle) Degree(dir storage.Direction, types ...string) (int, error) {
	rels, err := n.Relationships(dir, types...)
	return len(rels), err
}

func (n *nodeHandle) checkCanBeMutated() error {
	if n.p.delta.nodeDeleted(n.id) {
		return fmt.Errorf("node %s: %w", n.id, ErrEntityDeleted)
	}
	return nil
}

func (n *nodeHandle) SetProperty(key string, value any) error {
	if err := n.checkCanBeMutated(); err != nil {
		return err
	}
	return n.p.graph.SetNodeProperty(n.id, key, value)
}

func (n *nodeHandle) RemoveProperty(key string) (any, error) {
	if err := n.checkCanBeMutated(); err != nil {
		return nil, err
	}
	return n.p.graph.RemoveNodeProperty(n.id, key)
}

func (n *nodeHandle) AddLabel(label string) error {
	if err := n.checkCanBeMutated(); err != nil {
		return err
	}
	return n.p.graph.AddLabel(n.id, label)
}

func (n *nodeHandle) RemoveLabel(label string) error {
	if err := n.checkCanBeMutated(); err != nil {
		return err
	}
	return n.p.graph.RemoveLabel(n.id, label)
}

func (n *nodeHandle) CreateRelationshipTo(other Node, relType string, props map[string]any) (Relationship, error) {
	if err := n.checkCanBeMutated(); err != nil {
		return nil, err
	}
	if other == nil {
		return nil, fmt.Errorf("relationship from %s: %w", n.id, storage.ErrInvalidData)
	}
	if n.p.delta.nodeDeleted(other.ID()) {
		return nil, fmt.Errorf("node %s: %w", other.ID(), ErrEntityDeleted)
	}

	rec := storage.EdgeRecord{StartNode: n.id, EndNode: other.ID(), Type: relType}
	id, err := n.p.graph.CreateEdge(&storage.Edge{
		StartNode:  rec.StartNode,
		EndNode:    rec.EndNode,
		Type:       rec.Type,
		Properties: props,
	})
	if err != nil {
		return nil, err
	}
	rec.ID = id
	return n.p.relationship(rec, Current), nil
}

func (n *nodeHandle) Delete() error {
	if err := n.checkCanBeMutated(); err != nil {
		return err
	}
	return n.p.graph.DeleteNode(n.id)
}

func (n *nodeHandle) String() string { return nodeToString(n) }

// ============================================================================
// Relationship handle
// ============================================================================

type relHandle struct {
	p     *projector
	rec   storage.EdgeRecord
	epoch Epoch
	src   sourceKind
}

func (r *relHandle) ID() storage.EdgeID          { return r.rec.ID }
func (r *relHandle) Epoch() Epoch                { return r.epoch }
func (r *relHandle) Type() string                { return r.rec.Type }
func (r *relHandle) StartNodeID() storage.NodeID { return r.rec.StartNode }
func (r *relHandle) EndNodeID() storage.NodeID   { return r.rec.EndNode }

func (r *relHandle) StartNode() Node { return r.p.node(r.rec.StartNode, r.epoch) }
func (r *relHandle) EndNode() Node   { return r.p.node(r.rec.EndNode, r.epoch) }

func (r *relHandle) OtherNode(id storage.NodeID) (Node, error) {
	switch id {
	case r.rec.StartNode:
		return r.EndNode(), nil
	case r.rec.EndNode:
		return r.StartNode(), nil
	}
	return nil, fmt.Errorf("node %s is not an endpoint of relationship %s: %w", id, r.rec.ID, storage.ErrInvalidData)
}

func (r *relHandle) Properties() map[string]any {
	if r.src == sourceReconstructed {
		return r.p.delta.edges[r.rec.ID].previousProperties()
	}
	edge, err := r.p.graph.GetEdge(r.rec.ID)
	if err != nil {
		log.Printf("[txevent] reading relationship %s: %v", r.rec.ID, err)
		return map[string]any{}
	}
	if r.epoch == Previous {
		return r.p.delta.edges[r.rec.ID].overlayPrevious(edge.Properties)
	}
	return edge.Properties
}

func (r *relHandle) Property(key string) (any, bool) {
	v, ok := r.Properties()[key]
	return v, ok
}

func (r *relHandle) PropertyOr(key string, def any) any {
	if v, ok := r.Property(key); ok {
		return v
	}
	return def
}

func (r *relHandle) HasProperty(key string) bool {
	_, ok := r.Property(key)
	return ok
}

func (r *relHandle) PropertyKeys() []string {
	return sortedKeys(r.Properties())
}

func (r *relHandle) checkCanBeMutated() error {
	if r.p.delta.edgeDeleted(r.rec.ID) {
		return fmt.Errorf("relationship %s: %w", r.rec.ID, ErrEntityDeleted)
	}
	return nil
}

func (r *relHandle) SetProperty(key string, value any) error {
	if err := r.checkCanBeMutated(); err != nil {
		return err
	}
	return r.p.graph.SetEdgeProperty(r.rec.ID, key, value)
}

func (r *relHandle) RemoveProperty(key string) (any, error) {
	if err := r.checkCanBeMutated(); err != nil {
		return nil, err
	}
	return r.p.graph.RemoveEdgeProperty(r.rec.ID, key)
}

func (r *relHandle) Delete() error {
	if err := r.checkCanBeMutated(); err != nil {
		return err
	}
	return r.p.graph.DeleteEdge(r.rec.ID)
}

func (r *relHandle) String() string { return relationshipToString(r) }
