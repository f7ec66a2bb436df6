// Package txevent turns the raw event record of a transaction into a
// queryable change set.
//
// A View answers "what changed" for one transaction that is about to commit.
// It is built from the live graph (which already reflects the transaction) and
// the raw storage.TransactionData recorded by the host. Every element is
// exposed through a handle tagged with an Epoch:
//
//   - Previous handles show the element as it was before the transaction.
//   - Current handles show it as it will be after the commit.
//
// Handles are computed on demand by overlaying the live element with the
// transaction's Delta; no copy of the previous graph is ever made. Traversing
// from a handle yields handles of the same epoch, so walking the "previous"
// graph from a deleted node reaches the relationships it had before it was
// deleted, even though the live graph no longer contains them.
//
// A FilteredView wraps any View and hides elements and properties rejected by
// a set of inclusion policies.
//
// Example:
//
//	func (m *Module) BeforeCommit(tx *storage.Transaction, data *storage.TransactionData) error {
//		view := txevent.NewView(tx, data)
//		for _, change := range view.AllChangedNodes() {
//			before, _ := change.Previous.Property("name")
//			after, _ := change.Current.Property("name")
//			log.Printf("renamed %v -> %v", before, after)
//		}
//		return nil
//	}
//
// Views and handles are not safe for concurrent use and become invalid when the
// transaction commits or rolls back.
package txevent

import (
	"errors"

	"github.com/orneryd/nornicext/pkg/storage"
)

var (
	// ErrNotInTransaction is returned when an identity has no delta of the
	// requested kind in this transaction.
	ErrNotInTransaction = errors.New("not part of this transaction")

	// ErrEntityDeleted is returned when writing to an element deleted by the
	// transaction.
	ErrEntityDeleted = errors.New("entity already deleted in this transaction")
)

// Epoch selects which side of the transaction boundary a handle shows.
type Epoch uint8

const (
	// Previous is the state immediately before the transaction.
	Previous Epoch = iota
	// Current is the state immediately after the transaction.
	Current
)

func (e Epoch) String() string {
	if e == Previous {
		return "PREVIOUS"
	}
	return "CURRENT"
}

// Change pairs the two sides of an element that existed before and after the
// transaction.
type Change[T any] struct {
	Previous T
	Current  T
}

// Graph is the live, writable graph a View reads through. *storage.Transaction
// implements it.
type Graph interface {
	GetNode(id storage.NodeID) (*storage.Node, error)
	GetEdge(id storage.EdgeID) (*storage.Edge, error)
	GetOutgoingEdges(id storage.NodeID) ([]*storage.Edge, error)
	GetIncomingEdges(id storage.NodeID) ([]*storage.Edge, error)

	SetNodeProperty(id storage.NodeID, key string, value any) error
	RemoveNodeProperty(id storage.NodeID, key string) (any, error)
	AddLabel(id storage.NodeID, label string) error
	RemoveLabel(id storage.NodeID, label string) error
	DeleteNode(id storage.NodeID) error

	CreateEdge(edge *storage.Edge) (storage.EdgeID, error)
	SetEdgeProperty(id storage.EdgeID, key string, value any) error
	RemoveEdgeProperty(id storage.EdgeID, key string) (any, error)
	DeleteEdge(id storage.EdgeID) error
}

var _ Graph = (*storage.Transaction)(nil)
