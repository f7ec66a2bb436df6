package storage

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TxStatus is the lifecycle state of a Transaction.
type TxStatus string

const (
	TxStatusActive     TxStatus = "active"
	TxStatusCommitting TxStatus = "committing"
	TxStatusCommitted  TxStatus = "committed"
	TxStatusRolledBack TxStatus = "rolled_back"
)

// TransactionHandler observes transactions of a TransactionManager.
//
// BeforeCommit runs while the transaction is still open: the engine already
// reflects every write, and the handler may read and write through tx. A
// non-nil error aborts the commit and rolls the transaction back.
type TransactionHandler interface {
	BeforeCommit(tx *Transaction, data *TransactionData) error
	AfterCommit(tx *Transaction)
	AfterRollback(tx *Transaction)
}

// TransactionManager hands out write transactions against one Engine and runs
// the registered handlers around their commit.
//
// Write transactions are serialized: Begin blocks until the previous
// transaction committed or rolled back. Do not begin a second transaction on
// the goroutine that holds one open.
type TransactionManager struct {
	engine Engine

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers []TransactionHandler
}

// NewTransactionManager creates a manager for engine.
func NewTransactionManager(engine Engine) *TransactionManager {
	return &TransactionManager{engine: engine}
}

// Engine returns the underlying engine.
func (m *TransactionManager) Engine() Engine {
	return m.engine
}

// RegisterHandler adds a handler. Handlers run in registration order.
func (m *TransactionManager) RegisterHandler(h TransactionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Begin starts a new write transaction.
func (m *TransactionManager) Begin() *Transaction {
	m.writeMu.Lock()

	m.mu.RLock()
	handlers := append([]TransactionHandler(nil), m.handlers...)
	m.mu.RUnlock()

	return &Transaction{
		ID:        uuid.New().String(),
		Status:    TxStatusActive,
		StartTime: time.Now(),
		manager:   m,
		engine:    m.engine,
		handlers:  handlers,
		rec:       newRecorder(),
	}
}

// Run executes fn in a new transaction, committing when fn returns nil and
// rolling back otherwise.
func (m *TransactionManager) Run(fn func(tx *Transaction) error) error {
	tx := m.Begin()
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[storage] rollback of %s failed: %v", tx.ID, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Transaction applies writes directly to the engine, keeping an undo log and a
// raw event record. Uncommitted writes are visible to readers of the engine;
// isolation is provided only by the manager's single-writer lock.
type Transaction struct {
	ID        string
	Status    TxStatus
	StartTime time.Time

	manager  *TransactionManager
	engine   Engine
	handlers []TransactionHandler
	rec      *recorder
	undo     []func() error
}

// OperationCount returns the number of writes applied so far.
func (t *Transaction) OperationCount() int {
	return len(t.undo)
}

// Data returns a copy of the raw events recorded so far.
func (t *Transaction) Data() *TransactionData {
	return t.rec.data.Clone()
}

func (t *Transaction) open() error {
	if t.Status != TxStatusActive && t.Status != TxStatusCommitting {
		return ErrTransactionClosed
	}
	return nil
}

// GetNode reads a node from the live graph.
func (t *Transaction) GetNode(id NodeID) (*Node, error) {
	if err := t.open(); err != nil {
		return nil, err
	}
	return t.engine.GetNode(id)
}

// GetEdge reads an edge from the live graph.
func (t *Transaction) GetEdge(id EdgeID) (*Edge, error) {
	if err := t.open(); err != nil {
		return nil, err
	}
	return t.engine.GetEdge(id)
}

// GetOutgoingEdges lists edges starting at id in the live graph.
func (t *Transaction) GetOutgoingEdges(id NodeID) ([]*Edge, error) {
	if err := t.open(); err != nil {
		return nil, err
	}
	return t.engine.GetOutgoingEdges(id)
}

// GetEdgeBetween finds an edge from start to end of relType ("" matches any
// type) in the live graph.
func (t *Transaction) GetEdgeBetween(start, end NodeID, relType string) (*Edge, error) {
	if err := t.open(); err != nil {
		return nil, err
	}
	if edge := t.engine.GetEdgeBetween(start, end, relType); edge != nil {
		return edge, nil
	}
	return nil, ErrNotFound
}

// GetIncomingEdges lists edges ending at id in the live graph.
func (t *Transaction) GetIncomingEdges(id NodeID) ([]*Edge, error) {
	if err := t.open(); err != nil {
		return nil, err
	}
	return t.engine.GetIncomingEdges(id)
}

// CreateNode creates a node. An empty ID is replaced by a random UUID.
func (t *Transaction) CreateNode(node *Node) (NodeID, error) {
	if err := t.open(); err != nil {
		return "", err
	}
	if node == nil {
		return "", ErrInvalidData
	}

	stored := copyNode(node)
	if stored.ID == "" {
		stored.ID = NodeID(uuid.New().String())
	}
	for key, value := range stored.Properties {
		if key == "" || value == nil {
			return "", fmt.Errorf("property %q: %w", key, ErrInvalidData)
		}
	}
	if err := t.engine.CreateNode(stored); err != nil {
		return "", err
	}

	id := stored.ID
	t.undo = append(t.undo, func() error { return t.engine.DeleteNode(id) })
	t.rec.nodeCreated(id)
	for _, label := range stored.Labels {
		t.rec.labelAssigned(id, label)
	}
	for _, key := range sortedKeys(stored.Properties) {
		t.rec.nodePropertyAssigned(id, key, nil, false, stored.Properties[key])
	}
	return id, nil
}

// SetNodeProperty assigns a property. Values must not be nil.
func (t *Transaction) SetNodeProperty(id NodeID, key string, value any) error {
	if err := t.open(); err != nil {
		return err
	}
	if key == "" || value == nil {
		return fmt.Errorf("property %q: %w", key, ErrInvalidData)
	}

	node, err := t.engine.GetNode(id)
	if err != nil {
		return err
	}
	previous, had := node.Properties[key]
	node.Properties[key] = value
	if err := t.engine.UpdateNode(node); err != nil {
		return err
	}

	t.undo = append(t.undo, func() error {
		return t.restoreNodeProperty(id, key, previous, had)
	})
	t.rec.nodePropertyAssigned(id, key, previous, had, value)
	return nil
}

// RemoveNodeProperty removes a property and returns its previous value
// (nil when absent, in which case nothing is recorded).
func (t *Transaction) RemoveNodeProperty(id NodeID, key string) (any, error) {
	if err := t.open(); err != nil {
		return nil, err
	}

	node, err := t.engine.GetNode(id)
	if err != nil {
		return nil, err
	}
	previous, had := node.Properties[key]
	if !had {
		return nil, nil
	}
	delete(node.Properties, key)
	if err := t.engine.UpdateNode(node); err != nil {
		return nil, err
	}

	t.undo = append(t.undo, func() error {
		return t.restoreNodeProperty(id, key, previous, true)
	})
	t.rec.nodePropertyRemoved(id, key, previous)
	return previous, nil
}

func (t *Transaction) restoreNodeProperty(id NodeID, key string, value any, present bool) error {
	node, err := t.engine.GetNode(id)
	if err != nil {
		return err
	}
	if present {
		node.Properties[key] = value
	} else {
		delete(node.Properties, key)
	}
	return t.engine.UpdateNode(node)
}

// AddLabel adds a label; adding a label the node already has is a no-op.
func (t *Transaction) AddLabel(id NodeID, label string) error {
	if err := t.open(); err != nil {
		return err
	}
	if label == "" {
		return ErrInvalidData
	}

	node, err := t.engine.GetNode(id)
	if err != nil {
		return err
	}
	if node.HasLabel(label) {
		return nil
	}
	node.Labels = append(node.Labels, label)
	if err := t.engine.UpdateNode(node); err != nil {
		return err
	}

	t.undo = append(t.undo, func() error { return t.setLabel(id, label, false) })
	t.rec.labelAssigned(id, label)
	return nil
}

// RemoveLabel removes a label; removing a missing label is a no-op.
func (t *Transaction) RemoveLabel(id NodeID, label string) error {
	if err := t.open(); err != nil {
		return err
	}

	node, err := t.engine.GetNode(id)
	if err != nil {
		return err
	}
	if !node.HasLabel(label) {
		return nil
	}
	node.Labels = without(node.Labels, func(l string) bool { return l == label })
	if err := t.engine.UpdateNode(node); err != nil {
		return err
	}

	t.undo = append(t.undo, func() error { return t.setLabel(id, label, true) })
	t.rec.labelRemoved(id, label)
	return nil
}

func (t *Transaction) setLabel(id NodeID, label string, present bool) error {
	node, err := t.engine.GetNode(id)
	if err != nil {
		return err
	}
	node.Labels = without(node.Labels, func(l string) bool { return l == label })
	if present {
		node.Labels = append(node.Labels, label)
	}
	return t.engine.UpdateNode(node)
}

// CreateEdge creates a relationship. An empty ID is replaced by a random UUID.
func (t *Transaction) CreateEdge(edge *Edge) (EdgeID, error) {
	if err := t.open(); err != nil {
		return "", err
	}
	if edge == nil {
		return "", ErrInvalidData
	}

	stored := copyEdge(edge)
	if stored.ID == "" {
		stored.ID = EdgeID(uuid.New().String())
	}
	for key, value := range stored.Properties {
		if key == "" || value == nil {
			return "", fmt.Errorf("property %q: %w", key, ErrInvalidData)
		}
	}
	if err := t.engine.CreateEdge(stored); err != nil {
		return "", err
	}

	id := stored.ID
	t.undo = append(t.undo, func() error { return t.engine.DeleteEdge(id) })
	t.rec.edgeCreated(recordOf(stored))
	for _, key := range sortedKeys(stored.Properties) {
		t.rec.edgePropertyAssigned(id, key, nil, false, stored.Properties[key])
	}
	return id, nil
}

// SetEdgeProperty assigns a relationship property. Values must not be nil.
func (t *Transaction) SetEdgeProperty(id EdgeID, key string, value any) error {
	if err := t.open(); err != nil {
		return err
	}
	if key == "" || value == nil {
		return fmt.Errorf("property %q: %w", key, ErrInvalidData)
	}

	edge, err := t.engine.GetEdge(id)
	if err != nil {
		return err
	}
	previous, had := edge.Properties[key]
	edge.Properties[key] = value
	if err := t.engine.UpdateEdge(edge); err != nil {
		return err
	}

	t.undo = append(t.undo, func() error {
		return t.restoreEdgeProperty(id, key, previous, had)
	})
	t.rec.edgePropertyAssigned(id, key, previous, had, value)
	return nil
}

// RemoveEdgeProperty removes a relationship property and returns its previous
// value (nil when absent).
func (t *Transaction) RemoveEdgeProperty(id EdgeID, key string) (any, error) {
	if err := t.open(); err != nil {
		return nil, err
	}

	edge, err := t.engine.GetEdge(id)
	if err != nil {
		return nil, err
	}
	previous, had := edge.Properties[key]
	if !had {
		return nil, nil
	}
	delete(edge.Properties, key)
	if err := t.engine.UpdateEdge(edge); err != nil {
		return nil, err
	}

	t.undo = append(t.undo, func() error {
		return t.restoreEdgeProperty(id, key, previous, true)
	})
	t.rec.edgePropertyRemoved(id, key, previous)
	return previous, nil
}

func (t *Transaction) restoreEdgeProperty(id EdgeID, key string, value any, present bool) error {
	edge, err := t.engine.GetEdge(id)
	if err != nil {
		return err
	}
	if present {
		edge.Properties[key] = value
	} else {
		delete(edge.Properties, key)
	}
	return t.engine.UpdateEdge(edge)
}

// DeleteEdge deletes a relationship, recording the removal of each of its
// properties.
func (t *Transaction) DeleteEdge(id EdgeID) error {
	if err := t.open(); err != nil {
		return err
	}

	edge, err := t.engine.GetEdge(id)
	if err != nil {
		return err
	}
	if err := t.engine.DeleteEdge(id); err != nil {
		return err
	}

	t.undo = append(t.undo, func() error { return t.engine.CreateEdge(edge) })
	for _, key := range sortedKeys(edge.Properties) {
		t.rec.edgePropertyRemoved(id, key, edge.Properties[key])
	}
	t.rec.edgeDeleted(recordOf(edge))
	return nil
}

// DeleteNode deletes a node after deleting every relationship touching it.
func (t *Transaction) DeleteNode(id NodeID) error {
	if err := t.open(); err != nil {
		return err
	}

	node, err := t.engine.GetNode(id)
	if err != nil {
		return err
	}

	out, err := t.engine.GetOutgoingEdges(id)
	if err != nil {
		return err
	}
	in, err := t.engine.GetIncomingEdges(id)
	if err != nil {
		return err
	}
	detached := make(map[EdgeID]struct{}, len(out)+len(in))
	for _, edge := range append(out, in...) {
		if _, done := detached[edge.ID]; done {
			continue
		}
		detached[edge.ID] = struct{}{}
		if err := t.DeleteEdge(edge.ID); err != nil {
			return fmt.Errorf("detaching %s from %s: %w", edge.ID, id, err)
		}
	}

	if err := t.engine.DeleteNode(id); err != nil {
		return err
	}

	t.undo = append(t.undo, func() error { return t.engine.CreateNode(node) })
	for _, label := range node.Labels {
		t.rec.labelRemoved(id, label)
	}
	for _, key := range sortedKeys(node.Properties) {
		t.rec.nodePropertyRemoved(id, key, node.Properties[key])
	}
	t.rec.nodeDeleted(id)
	return nil
}

// Commit runs the BeforeCommit handlers and finalizes the transaction. When a
// handler fails, every write (including writes made by handlers) is undone,
// AfterRollback runs for the handlers already invoked and the handler's error
// is returned.
func (t *Transaction) Commit() error {
	if t.Status != TxStatusActive {
		return ErrTransactionClosed
	}
	t.Status = TxStatusCommitting

	data := t.rec.data.Clone()
	for i, h := range t.handlers {
		if err := h.BeforeCommit(t, data); err != nil {
			t.undoAll()
			t.Status = TxStatusRolledBack
			t.manager.writeMu.Unlock()
			for _, invoked := range t.handlers[:i+1] {
				invoked.AfterRollback(t)
			}
			return err
		}
	}

	t.Status = TxStatusCommitted
	t.manager.writeMu.Unlock()
	for _, h := range t.handlers {
		h.AfterCommit(t)
	}
	return nil
}

// Rollback undoes every write of the transaction.
func (t *Transaction) Rollback() error {
	if t.Status != TxStatusActive {
		return ErrTransactionClosed
	}

	err := t.undoAll()
	t.Status = TxStatusRolledBack
	t.manager.writeMu.Unlock()
	return err
}

func (t *Transaction) undoAll() error {
	var first error
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](); err != nil {
			log.Printf("[storage] tx %s: undo step %d failed: %v", t.ID, i, err)
			if first == nil {
				first = err
			}
		}
	}
	t.undo = nil
	return first
}

func recordOf(edge *Edge) EdgeRecord {
	return EdgeRecord{ID: edge.ID, StartNode: edge.StartNode, EndNode: edge.EndNode, Type: edge.Type}
}

func sortedKeys(props map[string]any) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
