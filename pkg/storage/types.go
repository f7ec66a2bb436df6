// Package storage provides the host graph engine that NornicExt modules run on.
//
// The package offers two Engine implementations:
//   - MemoryEngine: maps plus label/adjacency indexes, used by tests and replays
//   - BadgerEngine: persistent storage on BadgerDB
//
// Writes that modules should observe go through a Transaction obtained from a
// TransactionManager. A Transaction applies every write to the engine
// immediately (so the live graph already reflects the transaction when the
// pre-commit handlers run), keeps an undo log for rollback and records the raw
// events described in events.go.
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	manager := storage.NewTransactionManager(engine)
//
//	tx := manager.Begin()
//	id, _ := tx.CreateNode(&storage.Node{Labels: []string{"Person"}})
//	_ = tx.SetNodeProperty(id, "name", "Alice")
//	if err := tx.Commit(); err != nil {
//		log.Fatal(err)
//	}
package storage

import "errors"

// Common errors returned by storage operations.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidData       = errors.New("invalid data")
	ErrAlreadyExists     = errors.New("already exists")
	ErrStorageClosed     = errors.New("storage closed")
	ErrTransactionClosed = errors.New("transaction closed")
)

// NodeID uniquely identifies a node.
type NodeID string

// EdgeID uniquely identifies an edge (relationship).
type EdgeID string

// Node is a labelled property container.
type Node struct {
	ID         NodeID         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// HasLabel reports whether the node carries the given label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Edge is a typed, directed relationship between two nodes. Type and endpoints
// never change over the lifetime of an edge.
type Edge struct {
	ID         EdgeID         `json:"id"`
	StartNode  NodeID         `json:"startNode"`
	EndNode    NodeID         `json:"endNode"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// Direction selects relationships relative to a node.
type Direction int

const (
	// DirectionBoth matches relationships in either direction.
	DirectionBoth Direction = iota
	// DirectionOutgoing matches relationships starting at the node.
	DirectionOutgoing
	// DirectionIncoming matches relationships ending at the node.
	DirectionIncoming
)

func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "OUTGOING"
	case DirectionIncoming:
		return "INCOMING"
	default:
		return "BOTH"
	}
}

// Matches reports whether an edge from start to end matches the direction when
// seen from node.
func (d Direction) Matches(node, start, end NodeID) bool {
	switch d {
	case DirectionOutgoing:
		return start == node
	case DirectionIncoming:
		return end == node
	default:
		return start == node || end == node
	}
}

// Engine is the storage contract shared by MemoryEngine and BadgerEngine.
//
// All returned nodes and edges are copies; mutating them does not affect the
// stored data until passed back to an Update method.
type Engine interface {
	CreateNode(node *Node) error
	GetNode(id NodeID) (*Node, error)
	UpdateNode(node *Node) error
	DeleteNode(id NodeID) error

	CreateEdge(edge *Edge) error
	GetEdge(id EdgeID) (*Edge, error)
	UpdateEdge(edge *Edge) error
	DeleteEdge(id EdgeID) error

	GetNodesByLabel(label string) ([]*Node, error)
	GetAllNodes() []*Node
	GetOutgoingEdges(nodeID NodeID) ([]*Edge, error)
	GetIncomingEdges(nodeID NodeID) ([]*Edge, error)
	GetEdgeBetween(source, target NodeID, edgeType string) *Edge

	BulkCreateNodes(nodes []*Node) error
	BulkCreateEdges(edges []*Edge) error

	NodeCount() (int64, error)
	EdgeCount() (int64, error)
	Close() error
}

// copyNode creates a deep copy of a node.
func copyNode(n *Node) *Node {
	if n == nil {
		return nil
	}

	copied := &Node{
		ID:         n.ID,
		Labels:     make([]string, len(n.Labels)),
		Properties: make(map[string]any, len(n.Properties)),
	}
	copy(copied.Labels, n.Labels)
	for k, v := range n.Properties {
		copied.Properties[k] = v
	}
	return copied
}

// copyEdge creates a deep copy of an edge.
func copyEdge(e *Edge) *Edge {
	if e == nil {
		return nil
	}

	copied := &Edge{
		ID:         e.ID,
		StartNode:  e.StartNode,
		EndNode:    e.EndNode,
		Type:       e.Type,
		Properties: make(map[string]any, len(e.Properties)),
	}
	for k, v := range e.Properties {
		copied.Properties[k] = v
	}
	return copied
}
