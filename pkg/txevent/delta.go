package txevent

import (
	"sort"

	"github.com/orneryd/nornicext/pkg/storage"
	"github.com/orneryd/nornicext/pkg/util"
)

// propertyDelta is the net effect of a transaction on one property.
type propertyDelta struct {
	before    any
	hadBefore bool
	after     any
	hasAfter  bool
}

func (p propertyDelta) created() bool { return !p.hadBefore && p.hasAfter }
func (p propertyDelta) deleted() bool { return p.hadBefore && !p.hasAfter }
func (p propertyDelta) changed() bool {
	return p.hadBefore && p.hasAfter && !util.ArrayFriendlyEquals(p.before, p.after)
}
func (p propertyDelta) noop() bool { return !p.created() && !p.deleted() && !p.changed() }

// labelDelta tracks whether a label was present before and after.
type labelDelta struct {
	before, after bool
}

// entityDelta is the collapsed delta of one node or relationship.
type entityDelta struct {
	props  map[string]propertyDelta
	labels map[string]labelDelta
}

func newEntityDelta() *entityDelta {
	return &entityDelta{
		props:  make(map[string]propertyDelta),
		labels: make(map[string]labelDelta),
	}
}

func (e *entityDelta) empty() bool {
	return e == nil || (len(e.props) == 0 && len(e.labels) == 0)
}

func (e *entityDelta) apply(ev event) {
	switch ev.kind {
	case eventAssign:
		p, seen := e.props[ev.key]
		if !seen {
			p.before, p.hadBefore = ev.previous, ev.hasPrevious
		}
		p.after, p.hasAfter = ev.value, true
		e.props[ev.key] = p
	case eventRemove:
		p, seen := e.props[ev.key]
		if !seen {
			p.before, p.hadBefore = ev.previous, true
		}
		p.after, p.hasAfter = nil, false
		e.props[ev.key] = p
	case eventAddLabel:
		l, seen := e.labels[ev.key]
		if !seen {
			l.before = false
		}
		l.after = true
		e.labels[ev.key] = l
	case eventRemoveLabel:
		l, seen := e.labels[ev.key]
		if !seen {
			l.before = true
		}
		l.after = false
		e.labels[ev.key] = l
	}
}

// collapse drops no-op properties and labels.
func (e *entityDelta) collapse() {
	for key, p := range e.props {
		if p.noop() {
			delete(e.props, key)
		}
	}
	for label, l := range e.labels {
		if l.before == l.after {
			delete(e.labels, label)
		}
	}
}

type eventKind uint8

const (
	eventAssign eventKind = iota
	eventRemove
	eventAddLabel
	eventRemoveLabel
)

type event struct {
	seq         uint64
	kind        eventKind
	key         string
	previous    any
	hasPrevious bool
	value       any
}

// Delta is the normalized record of everything that changed in one
// transaction. Build it with IndexDelta; it is immutable afterwards.
type Delta struct {
	createdNodes []storage.NodeID
	deletedNodes []storage.NodeID
	createdEdges []storage.EdgeRecord
	deletedEdges []storage.EdgeRecord
	changedNodes []storage.NodeID
	changedEdges []storage.EdgeID

	createdNodeSet map[storage.NodeID]struct{}
	deletedNodeSet map[storage.NodeID]struct{}
	createdEdgeSet map[storage.EdgeID]storage.EdgeRecord
	deletedEdgeSet map[storage.EdgeID]storage.EdgeRecord

	// Edges incident to a node, keyed by both endpoints.
	createdEdgesByNode map[storage.NodeID][]storage.EdgeRecord
	deletedEdgesByNode map[storage.NodeID][]storage.EdgeRecord

	nodes map[storage.NodeID]*entityDelta
	edges map[storage.EdgeID]*entityDelta
}

// IndexDelta normalizes raw transaction events in a single pass.
//
// Events are replayed per element in Seq order: repeated assignments collapse
// to (first previous value, last value), a property assigned then removed is a
// removal of its original value, and a property or label that ends where it
// started is dropped. IndexDelta never fails; a nil input yields an empty
// Delta.
func IndexDelta(raw *storage.TransactionData) *Delta {
	d := &Delta{
		createdNodeSet:     make(map[storage.NodeID]struct{}),
		deletedNodeSet:     make(map[storage.NodeID]struct{}),
		createdEdgeSet:     make(map[storage.EdgeID]storage.EdgeRecord),
		deletedEdgeSet:     make(map[storage.EdgeID]storage.EdgeRecord),
		createdEdgesByNode: make(map[storage.NodeID][]storage.EdgeRecord),
		deletedEdgesByNode: make(map[storage.NodeID][]storage.EdgeRecord),
		nodes:              make(map[storage.NodeID]*entityDelta),
		edges:              make(map[storage.EdgeID]*entityDelta),
	}
	if raw == nil {
		return d
	}

	for _, id := range raw.CreatedNodes {
		if _, dup := d.createdNodeSet[id]; !dup {
			d.createdNodeSet[id] = struct{}{}
			d.createdNodes = append(d.createdNodes, id)
		}
	}
	for _, id := range raw.DeletedNodes {
		if _, dup := d.deletedNodeSet[id]; !dup {
			d.deletedNodeSet[id] = struct{}{}
			d.deletedNodes = append(d.deletedNodes, id)
		}
	}
	for _, rec := range raw.CreatedEdges {
		if _, dup := d.createdEdgeSet[rec.ID]; !dup {
			d.createdEdgeSet[rec.ID] = rec
			d.createdEdges = append(d.createdEdges, rec)
			indexIncident(d.createdEdgesByNode, rec)
		}
	}
	for _, rec := range raw.DeletedEdges {
		if _, dup := d.deletedEdgeSet[rec.ID]; !dup {
			d.deletedEdgeSet[rec.ID] = rec
			d.deletedEdges = append(d.deletedEdges, rec)
			indexIncident(d.deletedEdgesByNode, rec)
		}
	}

	nodeEvents := propertyEvents(raw.AssignedNodeProperties, raw.RemovedNodeProperties)
	for _, l := range raw.AssignedLabels {
		nodeEvents = append(nodeEvents, keyedEvent[storage.NodeID]{l.Node, event{seq: l.Seq, kind: eventAddLabel, key: l.Label}})
	}
	for _, l := range raw.RemovedLabels {
		nodeEvents = append(nodeEvents, keyedEvent[storage.NodeID]{l.Node, event{seq: l.Seq, kind: eventRemoveLabel, key: l.Label}})
	}
	d.changedNodes = replay(nodeEvents, d.nodes, func(id storage.NodeID) bool {
		_, created := d.createdNodeSet[id]
		_, deleted := d.deletedNodeSet[id]
		return created || deleted
	})

	edgeEvents := propertyEvents(raw.AssignedEdgeProperties, raw.RemovedEdgeProperties)
	d.changedEdges = replay(edgeEvents, d.edges, func(id storage.EdgeID) bool {
		_, created := d.createdEdgeSet[id]
		_, deleted := d.deletedEdgeSet[id]
		return created || deleted
	})

	return d
}

func indexIncident(index map[storage.NodeID][]storage.EdgeRecord, rec storage.EdgeRecord) {
	index[rec.StartNode] = append(index[rec.StartNode], rec)
	if rec.EndNode != rec.StartNode {
		index[rec.EndNode] = append(index[rec.EndNode], rec)
	}
}

type keyedEvent[K storage.EntityID] struct {
	id K
	event
}

func propertyEvents[K storage.EntityID](assigned, removed []storage.PropertyEntry[K]) []keyedEvent[K] {
	events := make([]keyedEvent[K], 0, len(assigned)+len(removed))
	for _, e := range assigned {
		events = append(events, keyedEvent[K]{e.Entity, event{
			seq: e.Seq, kind: eventAssign, key: e.Key,
			previous: e.Previous, hasPrevious: e.HasPrevious, value: e.Value,
		}})
	}
	for _, e := range removed {
		events = append(events, keyedEvent[K]{e.Entity, event{
			seq: e.Seq, kind: eventRemove, key: e.Key, previous: e.Previous, hasPrevious: true,
		}})
	}
	return events
}

// replay applies events in Seq order and returns the identities that are
// changed (non-empty delta, neither created nor deleted) in order of their
// first event.
func replay[K storage.EntityID](events []keyedEvent[K], into map[K]*entityDelta, createdOrDeleted func(K) bool) []K {
	sort.SliceStable(events, func(i, j int) bool { return events[i].seq < events[j].seq })

	var order []K
	for _, ev := range events {
		e, ok := into[ev.id]
		if !ok {
			e = newEntityDelta()
			into[ev.id] = e
			order = append(order, ev.id)
		}
		e.apply(ev.event)
	}

	var changed []K
	for _, id := range order {
		e := into[id]
		e.collapse()
		if !e.empty() && !createdOrDeleted(id) {
			changed = append(changed, id)
		}
	}
	return changed
}

// MutationsOccurred reports whether the delta holds any created, deleted or
// net-changed element.
func (d *Delta) MutationsOccurred() bool {
	return len(d.createdNodes) > 0 || len(d.deletedNodes) > 0 ||
		len(d.createdEdges) > 0 || len(d.deletedEdges) > 0 ||
		len(d.changedNodes) > 0 || len(d.changedEdges) > 0
}

func (d *Delta) nodeCreated(id storage.NodeID) bool {
	_, ok := d.createdNodeSet[id]
	return ok
}

func (d *Delta) nodeDeleted(id storage.NodeID) bool {
	_, ok := d.deletedNodeSet[id]
	return ok
}

func (d *Delta) nodeChanged(id storage.NodeID) bool {
	return !d.nodeCreated(id) && !d.nodeDeleted(id) && !d.nodes[id].empty()
}

func (d *Delta) edgeCreated(id storage.EdgeID) bool {
	_, ok := d.createdEdgeSet[id]
	return ok
}

func (d *Delta) edgeDeleted(id storage.EdgeID) bool {
	_, ok := d.deletedEdgeSet[id]
	return ok
}

func (d *Delta) edgeChanged(id storage.EdgeID) bool {
	return !d.edgeCreated(id) && !d.edgeDeleted(id) && !d.edges[id].empty()
}

// changedNodeDelta returns the delta of a changed node, or nil.
func (d *Delta) changedNodeDelta(id storage.NodeID) *entityDelta {
	if !d.nodeChanged(id) {
		return nil
	}
	return d.nodes[id]
}

func (d *Delta) changedEdgeDelta(id storage.EdgeID) *entityDelta {
	if !d.edgeChanged(id) {
		return nil
	}
	return d.edges[id]
}

// previousProperties rebuilds the pre-transaction property map of an element
// that no longer exists: every key whose net delta had a value before.
func (e *entityDelta) previousProperties() map[string]any {
	props := make(map[string]any)
	if e == nil {
		return props
	}
	for key, p := range e.props {
		if p.hadBefore {
			props[key] = p.before
		}
	}
	return props
}

// previousLabels rebuilds the pre-transaction labels of a deleted node.
func (e *entityDelta) previousLabels() []string {
	if e == nil {
		return nil
	}
	var labels []string
	for label, l := range e.labels {
		if l.before {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels
}

// overlayPrevious projects live (post-transaction) properties back to their
// pre-transaction state.
func (e *entityDelta) overlayPrevious(live map[string]any) map[string]any {
	props := make(map[string]any, len(live))
	for k, v := range live {
		props[k] = v
	}
	if e == nil {
		return props
	}
	for key, p := range e.props {
		if p.hadBefore {
			props[key] = p.before
		} else {
			delete(props, key)
		}
	}
	return props
}

// overlayPreviousLabels projects live labels back to their pre-transaction
// state.
func (e *entityDelta) overlayPreviousLabels(live []string) []string {
	if e == nil || len(e.labels) == 0 {
		return append([]string(nil), live...)
	}
	labels := make([]string, 0, len(live))
	present := make(map[string]struct{}, len(live))
	for _, label := range live {
		if l, ok := e.labels[label]; ok && !l.before {
			continue
		}
		labels = append(labels, label)
		present[label] = struct{}{}
	}
	var restored []string
	for label, l := range e.labels {
		if _, ok := present[label]; !ok && l.before {
			restored = append(restored, label)
		}
	}
	sort.Strings(restored)
	return append(labels, restored...)
}
