package storage

// EntityID is the identity of a property container: a node or an edge.
type EntityID interface {
	~string
}

// PropertyEntry is one raw property event recorded by a Transaction.
//
// For an assignment, Previous/HasPrevious describe the value the property had
// immediately before this write and Value the value written. For a removal,
// Previous is the value that was removed and Value is nil.
//
// Seq orders events across all lists of a TransactionData.
type PropertyEntry[K EntityID] struct {
	Seq         uint64
	Entity      K
	Key         string
	Previous    any
	HasPrevious bool
	Value       any
}

// LabelEntry is one raw label event.
type LabelEntry struct {
	Seq   uint64
	Node  NodeID
	Label string
}

// EdgeRecord identifies a created or deleted edge together with its immutable
// shape.
type EdgeRecord struct {
	ID        EdgeID
	StartNode NodeID
	EndNode   NodeID
	Type      string
}

// TransactionData is the raw, uncollapsed record of everything a transaction
// did. The same property may appear several times; consumers normalize it.
//
// Elements created and then deleted within the same transaction are not
// reported at all.
type TransactionData struct {
	CreatedNodes []NodeID
	DeletedNodes []NodeID
	CreatedEdges []EdgeRecord
	DeletedEdges []EdgeRecord

	AssignedNodeProperties []PropertyEntry[NodeID]
	RemovedNodeProperties  []PropertyEntry[NodeID]
	AssignedEdgeProperties []PropertyEntry[EdgeID]
	RemovedEdgeProperties  []PropertyEntry[EdgeID]

	AssignedLabels []LabelEntry
	RemovedLabels  []LabelEntry
}

// IsEmpty reports whether no event at all was recorded.
func (d *TransactionData) IsEmpty() bool {
	return d == nil || (len(d.CreatedNodes) == 0 && len(d.DeletedNodes) == 0 &&
		len(d.CreatedEdges) == 0 && len(d.DeletedEdges) == 0 &&
		len(d.AssignedNodeProperties) == 0 && len(d.RemovedNodeProperties) == 0 &&
		len(d.AssignedEdgeProperties) == 0 && len(d.RemovedEdgeProperties) == 0 &&
		len(d.AssignedLabels) == 0 && len(d.RemovedLabels) == 0)
}

// Clone returns a copy whose slices can be modified independently.
func (d *TransactionData) Clone() *TransactionData {
	if d == nil {
		return &TransactionData{}
	}
	return &TransactionData{
		CreatedNodes:           append([]NodeID(nil), d.CreatedNodes...),
		DeletedNodes:           append([]NodeID(nil), d.DeletedNodes...),
		CreatedEdges:           append([]EdgeRecord(nil), d.CreatedEdges...),
		DeletedEdges:           append([]EdgeRecord(nil), d.DeletedEdges...),
		AssignedNodeProperties: append([]PropertyEntry[NodeID](nil), d.AssignedNodeProperties...),
		RemovedNodeProperties:  append([]PropertyEntry[NodeID](nil), d.RemovedNodeProperties...),
		AssignedEdgeProperties: append([]PropertyEntry[EdgeID](nil), d.AssignedEdgeProperties...),
		RemovedEdgeProperties:  append([]PropertyEntry[EdgeID](nil), d.RemovedEdgeProperties...),
		AssignedLabels:         append([]LabelEntry(nil), d.AssignedLabels...),
		RemovedLabels:          append([]LabelEntry(nil), d.RemovedLabels...),
	}
}

// recorder accumulates raw events for a Transaction.
type recorder struct {
	seq  uint64
	data TransactionData

	createdNodes map[NodeID]struct{}
	createdEdges map[EdgeID]struct{}
}

func newRecorder() *recorder {
	return &recorder{
		createdNodes: make(map[NodeID]struct{}),
		createdEdges: make(map[EdgeID]struct{}),
	}
}

func (r *recorder) next() uint64 {
	r.seq++
	return r.seq
}

func (r *recorder) nodeCreated(id NodeID) {
	r.createdNodes[id] = struct{}{}
	r.data.CreatedNodes = append(r.data.CreatedNodes, id)
}

func (r *recorder) edgeCreated(rec EdgeRecord) {
	r.createdEdges[rec.ID] = struct{}{}
	r.data.CreatedEdges = append(r.data.CreatedEdges, rec)
}

// nodeDeleted records a node deletion. A node created by the same transaction
// is forgotten entirely instead.
func (r *recorder) nodeDeleted(id NodeID) {
	if _, created := r.createdNodes[id]; created {
		delete(r.createdNodes, id)
		r.data.CreatedNodes = without(r.data.CreatedNodes, func(n NodeID) bool { return n == id })
		r.data.AssignedNodeProperties = without(r.data.AssignedNodeProperties, func(e PropertyEntry[NodeID]) bool { return e.Entity == id })
		r.data.RemovedNodeProperties = without(r.data.RemovedNodeProperties, func(e PropertyEntry[NodeID]) bool { return e.Entity == id })
		r.data.AssignedLabels = without(r.data.AssignedLabels, func(e LabelEntry) bool { return e.Node == id })
		r.data.RemovedLabels = without(r.data.RemovedLabels, func(e LabelEntry) bool { return e.Node == id })
		return
	}
	r.data.DeletedNodes = append(r.data.DeletedNodes, id)
}

func (r *recorder) edgeDeleted(rec EdgeRecord) {
	if _, created := r.createdEdges[rec.ID]; created {
		delete(r.createdEdges, rec.ID)
		r.data.CreatedEdges = without(r.data.CreatedEdges, func(e EdgeRecord) bool { return e.ID == rec.ID })
		r.data.AssignedEdgeProperties = without(r.data.AssignedEdgeProperties, func(e PropertyEntry[EdgeID]) bool { return e.Entity == rec.ID })
		r.data.RemovedEdgeProperties = without(r.data.RemovedEdgeProperties, func(e PropertyEntry[EdgeID]) bool { return e.Entity == rec.ID })
		return
	}
	r.data.DeletedEdges = append(r.data.DeletedEdges, rec)
}

func (r *recorder) nodePropertyAssigned(id NodeID, key string, previous any, hadPrevious bool, value any) {
	r.data.AssignedNodeProperties = append(r.data.AssignedNodeProperties, PropertyEntry[NodeID]{
		Seq: r.next(), Entity: id, Key: key, Previous: previous, HasPrevious: hadPrevious, Value: value,
	})
}

func (r *recorder) nodePropertyRemoved(id NodeID, key string, previous any) {
	r.data.RemovedNodeProperties = append(r.data.RemovedNodeProperties, PropertyEntry[NodeID]{
		Seq: r.next(), Entity: id, Key: key, Previous: previous, HasPrevious: true,
	})
}

func (r *recorder) edgePropertyAssigned(id EdgeID, key string, previous any, hadPrevious bool, value any) {
	r.data.AssignedEdgeProperties = append(r.data.AssignedEdgeProperties, PropertyEntry[EdgeID]{
		Seq: r.next(), Entity: id, Key: key, Previous: previous, HasPrevious: hadPrevious, Value: value,
	})
}

func (r *recorder) edgePropertyRemoved(id EdgeID, key string, previous any) {
	r.data.RemovedEdgeProperties = append(r.data.RemovedEdgeProperties, PropertyEntry[EdgeID]{
		Seq: r.next(), Entity: id, Key: key, Previous: previous, HasPrevious: true,
	})
}

func (r *recorder) labelAssigned(id NodeID, label string) {
	r.data.AssignedLabels = append(r.data.AssignedLabels, LabelEntry{Seq: r.next(), Node: id, Label: label})
}

func (r *recorder) labelRemoved(id NodeID, label string) {
	r.data.RemovedLabels = append(r.data.RemovedLabels, LabelEntry{Seq: r.next(), Node: id, Label: label})
}

func without[T any](items []T, drop func(T) bool) []T {
	kept := items[:0]
	for _, item := range items {
		if !drop(item) {
			kept = append(kept, item)
		}
	}
	return kept
}
