package storage

import (
	"sync"
)

// MemoryEngine is a thread-safe in-memory implementation of Engine.
// It backs unit tests and script replays; nothing is persisted.
//
// Adjacency lists keep insertion order so traversals are deterministic, which
// keeps mutation logs and test expectations stable.
type MemoryEngine struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	// Indexes for efficient lookups
	nodesByLabel  map[string]map[NodeID]struct{}
	outgoingEdges map[NodeID][]EdgeID
	incomingEdges map[NodeID][]EdgeID

	closed bool
}

// NewMemoryEngine creates a new in-memory storage engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:         make(map[NodeID]*Node),
		edges:         make(map[EdgeID]*Edge),
		nodesByLabel:  make(map[string]map[NodeID]struct{}),
		outgoingEdges: make(map[NodeID][]EdgeID),
		incomingEdges: make(map[NodeID][]EdgeID),
	}
}

// CreateNode creates a new node.
func (m *MemoryEngine) CreateNode(node *Node) error {
	if err := validateNode(node); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.nodes[node.ID]; exists {
		return ErrAlreadyExists
	}

	m.putNode(node)
	return nil
}

// GetNode retrieves a node by ID.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	node, exists := m.nodes[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyNode(node), nil
}

// UpdateNode replaces labels and properties of an existing node.
func (m *MemoryEngine) UpdateNode(node *Node) error {
	if err := validateNode(node); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	existing, exists := m.nodes[node.ID]
	if !exists {
		return ErrNotFound
	}

	m.unindexLabels(existing)
	m.putNode(node)
	return nil
}

// DeleteNode removes a node together with every edge touching it.
func (m *MemoryEngine) DeleteNode(id NodeID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	node, exists := m.nodes[id]
	if !exists {
		return ErrNotFound
	}

	for _, edgeID := range append(append([]EdgeID(nil), m.outgoingEdges[id]...), m.incomingEdges[id]...) {
		if edge := m.edges[edgeID]; edge != nil {
			m.unlinkEdge(edge)
		}
	}
	delete(m.outgoingEdges, id)
	delete(m.incomingEdges, id)

	m.unindexLabels(node)
	delete(m.nodes, id)
	return nil
}

// CreateEdge creates a new edge. Both endpoints must exist.
func (m *MemoryEngine) CreateEdge(edge *Edge) error {
	if err := validateEdge(edge); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.edges[edge.ID]; exists {
		return ErrAlreadyExists
	}
	if _, exists := m.nodes[edge.StartNode]; !exists {
		return ErrNotFound
	}
	if _, exists := m.nodes[edge.EndNode]; !exists {
		return ErrNotFound
	}

	m.linkEdge(copyEdge(edge))
	return nil
}

// GetEdge retrieves an edge by ID.
func (m *MemoryEngine) GetEdge(id EdgeID) (*Edge, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	edge, exists := m.edges[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyEdge(edge), nil
}

// UpdateEdge replaces the properties of an existing edge. Type and endpoints
// are immutable; attempts to change them return ErrInvalidData.
func (m *MemoryEngine) UpdateEdge(edge *Edge) error {
	if err := validateEdge(edge); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	existing, exists := m.edges[edge.ID]
	if !exists {
		return ErrNotFound
	}
	if !sameShape(existing, edge) {
		return ErrInvalidData
	}

	m.edges[edge.ID] = copyEdge(edge)
	return nil
}

// DeleteEdge removes an edge.
func (m *MemoryEngine) DeleteEdge(id EdgeID) error {
	if id == "" {
		return ErrInvalidID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	edge, exists := m.edges[id]
	if !exists {
		return ErrNotFound
	}
	m.unlinkEdge(edge)
	return nil
}

// GetNodesByLabel returns all nodes with the given label.
func (m *MemoryEngine) GetNodesByLabel(label string) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	ids := m.nodesByLabel[label]
	nodes := make([]*Node, 0, len(ids))
	for id := range ids {
		if node := m.nodes[id]; node != nil {
			nodes = append(nodes, copyNode(node))
		}
	}
	return nodes, nil
}

// GetAllNodes returns all nodes in the storage.
func (m *MemoryEngine) GetAllNodes() []*Node {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return []*Node{}
	}

	nodes := make([]*Node, 0, len(m.nodes))
	for _, node := range m.nodes {
		nodes = append(nodes, copyNode(node))
	}
	return nodes
}

// GetEdgeBetween returns the first edge from source to target with the given
// type ("" matches any type), or nil.
func (m *MemoryEngine) GetEdgeBetween(source, target NodeID, edgeType string) *Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil
	}

	for _, id := range m.outgoingEdges[source] {
		edge := m.edges[id]
		if edge != nil && edge.EndNode == target && (edgeType == "" || edge.Type == edgeType) {
			return copyEdge(edge)
		}
	}
	return nil
}

// GetOutgoingEdges returns all edges starting from the given node.
func (m *MemoryEngine) GetOutgoingEdges(nodeID NodeID) ([]*Edge, error) {
	return m.adjacent(nodeID, m.outgoingEdges)
}

// GetIncomingEdges returns all edges ending at the given node.
func (m *MemoryEngine) GetIncomingEdges(nodeID NodeID) ([]*Edge, error) {
	return m.adjacent(nodeID, m.incomingEdges)
}

func (m *MemoryEngine) adjacent(nodeID NodeID, index map[NodeID][]EdgeID) ([]*Edge, error) {
	if nodeID == "" {
		return nil, ErrInvalidID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}

	ids := index[nodeID]
	edges := make([]*Edge, 0, len(ids))
	for _, id := range ids {
		if edge := m.edges[id]; edge != nil {
			edges = append(edges, copyEdge(edge))
		}
	}
	return edges, nil
}

// BulkCreateNodes creates multiple nodes; nothing is stored if any node is invalid.
func (m *MemoryEngine) BulkCreateNodes(nodes []*Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	seen := make(map[NodeID]struct{}, len(nodes))
	for _, node := range nodes {
		if err := validateNode(node); err != nil {
			return err
		}
		if _, exists := m.nodes[node.ID]; exists {
			return ErrAlreadyExists
		}
		if _, dup := seen[node.ID]; dup {
			return ErrAlreadyExists
		}
		seen[node.ID] = struct{}{}
	}

	for _, node := range nodes {
		m.putNode(node)
	}
	return nil
}

// BulkCreateEdges creates multiple edges; nothing is stored if any edge is invalid.
func (m *MemoryEngine) BulkCreateEdges(edges []*Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}

	for _, edge := range edges {
		if err := validateEdge(edge); err != nil {
			return err
		}
		if _, exists := m.edges[edge.ID]; exists {
			return ErrAlreadyExists
		}
		if _, exists := m.nodes[edge.StartNode]; !exists {
			return ErrNotFound
		}
		if _, exists := m.nodes[edge.EndNode]; !exists {
			return ErrNotFound
		}
	}

	for _, edge := range edges {
		m.linkEdge(copyEdge(edge))
	}
	return nil
}

// Close closes the storage engine and drops all data.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.nodes = nil
	m.edges = nil
	m.nodesByLabel = nil
	m.outgoingEdges = nil
	m.incomingEdges = nil
	return nil
}

// NodeCount returns the number of nodes.
func (m *MemoryEngine) NodeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.nodes)), nil
}

// EdgeCount returns the number of edges.
func (m *MemoryEngine) EdgeCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.edges)), nil
}

// putNode stores a copy of node and indexes its labels. Caller holds m.mu.
func (m *MemoryEngine) putNode(node *Node) {
	stored := copyNode(node)
	m.nodes[node.ID] = stored
	for _, label := range stored.Labels {
		if m.nodesByLabel[label] == nil {
			m.nodesByLabel[label] = make(map[NodeID]struct{})
		}
		m.nodesByLabel[label][stored.ID] = struct{}{}
	}
}

func (m *MemoryEngine) unindexLabels(node *Node) {
	for _, label := range node.Labels {
		if ids := m.nodesByLabel[label]; ids != nil {
			delete(ids, node.ID)
			if len(ids) == 0 {
				delete(m.nodesByLabel, label)
			}
		}
	}
}

func (m *MemoryEngine) linkEdge(edge *Edge) {
	m.edges[edge.ID] = edge
	m.outgoingEdges[edge.StartNode] = append(m.outgoingEdges[edge.StartNode], edge.ID)
	m.incomingEdges[edge.EndNode] = append(m.incomingEdges[edge.EndNode], edge.ID)
}

func (m *MemoryEngine) unlinkEdge(edge *Edge) {
	m.outgoingEdges[edge.StartNode] = removeEdgeID(m.outgoingEdges[edge.StartNode], edge.ID)
	m.incomingEdges[edge.EndNode] = removeEdgeID(m.incomingEdges[edge.EndNode], edge.ID)
	delete(m.edges, edge.ID)
}

func removeEdgeID(ids []EdgeID, id EdgeID) []EdgeID {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func validateNode(node *Node) error {
	if node == nil {
		return ErrInvalidData
	}
	if node.ID == "" {
		return ErrInvalidID
	}
	return nil
}

func validateEdge(edge *Edge) error {
	if edge == nil {
		return ErrInvalidData
	}
	if edge.ID == "" || edge.StartNode == "" || edge.EndNode == "" {
		return ErrInvalidID
	}
	if edge.Type == "" {
		return ErrInvalidData
	}
	return nil
}

func sameShape(a, b *Edge) bool {
	return a.StartNode == b.StartNode && a.EndNode == b.EndNode && a.Type == b.Type
}

// Verify MemoryEngine implements Engine interface
var _ Engine = (*MemoryEngine)(nil)
