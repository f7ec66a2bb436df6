package storage

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization
const (
	prefixNode          = byte(0x01) // nodes:nodeID -> Node
	prefixEdge          = byte(0x02) // edges:edgeID -> Edge
	prefixLabelIndex    = byte(0x03) // label:labelName:nodeID -> []byte{}
	prefixOutgoingIndex = byte(0x04) // outgoing:nodeID:edgeID -> []byte{}
	prefixIncomingIndex = byte(0x05) // incoming:nodeID:edgeID -> []byte{}
)

func init() {
	// Property values travel through gob inside map[string]any.
	gob.Register([]any{})
	gob.Register([]string{})
	gob.Register([]int{})
	gob.Register([]int64{})
	gob.Register([]float64{})
	gob.Register([]bool{})
	gob.Register(map[string]any{})
}

// BadgerEngine provides persistent storage using BadgerDB.
//
// Key Structure:
//   - Nodes: 0x01 + nodeID -> gob(Node)
//   - Edges: 0x02 + edgeID -> gob(Edge)
//   - Label Index: 0x03 + label + 0x00 + nodeID -> empty
//   - Outgoing Index: 0x04 + nodeID + 0x00 + edgeID -> empty
//   - Incoming Index: 0x05 + nodeID + 0x00 + edgeID -> empty
//
// Adjacency scans return edges in key order, not insertion order.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("/path/to/data")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
type BadgerEngine struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool

	nodeCount atomic.Int64
	edgeCount atomic.Int64
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger for BadgerDB internal logging. Nil silences BadgerDB.
	Logger badger.Logger
}

// NewBadgerEngine creates a persistent engine in dataDir with default settings.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom configuration.
//
// Example:
//
//	engine, err := storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
//		DataDir:    "./data/graph",
//		SyncWrites: true,
//	})
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	if opts.DataDir == "" && !opts.InMemory {
		return nil, fmt.Errorf("badger: data directory required: %w", ErrInvalidData)
	}

	dir := opts.DataDir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(opts.Logger)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	engine := &BadgerEngine{db: db}
	if err := engine.initializeCounts(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize counts: %w", err)
	}
	return engine, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, []byte(id)...)
}

func edgeKey(id EdgeID) []byte {
	return append([]byte{prefixEdge}, []byte(id)...)
}

// indexKey builds prefix + name + 0x00 + id.
func indexKey(prefix byte, name, id string) []byte {
	key := make([]byte, 0, 2+len(name)+len(id))
	key = append(key, prefix)
	key = append(key, name...)
	key = append(key, 0x00)
	key = append(key, id...)
	return key
}

func labelIndexKey(label string, nodeID NodeID) []byte {
	return indexKey(prefixLabelIndex, label, string(nodeID))
}

func outgoingIndexKey(nodeID NodeID, edgeID EdgeID) []byte {
	return indexKey(prefixOutgoingIndex, string(nodeID), string(edgeID))
}

func incomingIndexKey(nodeID NodeID, edgeID EdgeID) []byte {
	return indexKey(prefixIncomingIndex, string(nodeID), string(edgeID))
}

// idFromIndexKey extracts the trailing id of an index key.
func idFromIndexKey(key []byte) string {
	if i := bytes.IndexByte(key[1:], 0x00); i >= 0 {
		return string(key[i+2:])
	}
	return ""
}

// ============================================================================
// Serialization helpers
// ============================================================================

// encodeNode serializes a Node using gob (preserves Go types like int64).
func encodeNode(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeNode(data []byte) (*Node, error) {
	var node Node
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&node); err != nil {
		return nil, err
	}
	if node.Properties == nil {
		node.Properties = make(map[string]any)
	}
	return &node, nil
}

func encodeEdge(e *Edge) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEdge(data []byte) (*Edge, error) {
	var edge Edge
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&edge); err != nil {
		return nil, err
	}
	if edge.Properties == nil {
		edge.Properties = make(map[string]any)
	}
	return &edge, nil
}

func (b *BadgerEngine) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

func getNodeInTxn(txn *badger.Txn, id NodeID) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var node *Node
	err = item.Value(func(val []byte) error {
		var decodeErr error
		node, decodeErr = decodeNode(val)
		return decodeErr
	})
	return node, err
}

func getEdgeInTxn(txn *badger.Txn, id EdgeID) (*Edge, error) {
	item, err := txn.Get(edgeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var edge *Edge
	err = item.Value(func(val []byte) error {
		var decodeErr error
		edge, decodeErr = decodeEdge(val)
		return decodeErr
	})
	return edge, err
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scanIDs collects the trailing ids of every index key under prefix.
func scanIDs(txn *badger.Txn, prefix []byte) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		ids = append(ids, idFromIndexKey(it.Item().KeyCopy(nil)))
	}
	return ids
}

// ============================================================================
// Node Operations
// ============================================================================

// CreateNode creates a new node in persistent storage.
func (b *BadgerEngine) CreateNode(node *Node) error {
	if err := validateNode(node); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		found, err := exists(txn, nodeKey(node.ID))
		if err != nil {
			return err
		}
		if found {
			return ErrAlreadyExists
		}
		return putNodeInTxn(txn, node)
	})
	if err == nil {
		b.nodeCount.Add(1)
	}
	return err
}

func putNodeInTxn(txn *badger.Txn, node *Node) error {
	data, err := encodeNode(node)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}
	if err := txn.Set(nodeKey(node.ID), data); err != nil {
		return err
	}
	for _, label := range node.Labels {
		if err := txn.Set(labelIndexKey(label, node.ID), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

// GetNode retrieves a node by ID.
func (b *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var node *Node
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		node, err = getNodeInTxn(txn, id)
		return err
	})
	return node, err
}

// UpdateNode replaces labels and properties of an existing node.
func (b *BadgerEngine) UpdateNode(node *Node) error {
	if err := validateNode(node); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		existing, err := getNodeInTxn(txn, node.ID)
		if err != nil {
			return err
		}
		for _, label := range existing.Labels {
			if err := txn.Delete(labelIndexKey(label, node.ID)); err != nil {
				return err
			}
		}
		return putNodeInTxn(txn, node)
	})
}

// DeleteNode removes a node and all its edges.
func (b *BadgerEngine) DeleteNode(id NodeID) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	var edgesDeleted int64
	err := b.db.Update(func(txn *badger.Txn) error {
		node, err := getNodeInTxn(txn, id)
		if err != nil {
			return err
		}
		for _, label := range node.Labels {
			if err := txn.Delete(labelIndexKey(label, id)); err != nil {
				return err
			}
		}

		edgeIDs := scanIDs(txn, indexKey(prefixOutgoingIndex, string(id), ""))
		edgeIDs = append(edgeIDs, scanIDs(txn, indexKey(prefixIncomingIndex, string(id), ""))...)
		for _, edgeID := range edgeIDs {
			err := deleteEdgeInTxn(txn, EdgeID(edgeID))
			if err == nil {
				edgesDeleted++
			} else if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		return txn.Delete(nodeKey(id))
	})
	if err == nil {
		b.nodeCount.Add(-1)
		b.edgeCount.Add(-edgesDeleted)
	}
	return err
}

// ============================================================================
// Edge Operations
// ============================================================================

// CreateEdge creates a new edge between two existing nodes.
func (b *BadgerEngine) CreateEdge(edge *Edge) error {
	if err := validateEdge(edge); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return createEdgeInTxn(txn, edge)
	})
	if err == nil {
		b.edgeCount.Add(1)
	}
	return err
}

func createEdgeInTxn(txn *badger.Txn, edge *Edge) error {
	found, err := exists(txn, edgeKey(edge.ID))
	if err != nil {
		return err
	}
	if found {
		return ErrAlreadyExists
	}
	for _, endpoint := range []NodeID{edge.StartNode, edge.EndNode} {
		found, err := exists(txn, nodeKey(endpoint))
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
	}

	data, err := encodeEdge(edge)
	if err != nil {
		return fmt.Errorf("failed to encode edge: %w", err)
	}
	if err := txn.Set(edgeKey(edge.ID), data); err != nil {
		return err
	}
	if err := txn.Set(outgoingIndexKey(edge.StartNode, edge.ID), []byte{}); err != nil {
		return err
	}
	return txn.Set(incomingIndexKey(edge.EndNode, edge.ID), []byte{})
}

// GetEdge retrieves an edge by ID.
func (b *BadgerEngine) GetEdge(id EdgeID) (*Edge, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var edge *Edge
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		edge, err = getEdgeInTxn(txn, id)
		return err
	})
	return edge, err
}

// UpdateEdge replaces the properties of an existing edge. Type and endpoints
// are immutable.
func (b *BadgerEngine) UpdateEdge(edge *Edge) error {
	if err := validateEdge(edge); err != nil {
		return err
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.db.Update(func(txn *badger.Txn) error {
		existing, err := getEdgeInTxn(txn, edge.ID)
		if err != nil {
			return err
		}
		if !sameShape(existing, edge) {
			return ErrInvalidData
		}
		data, err := encodeEdge(edge)
		if err != nil {
			return fmt.Errorf("failed to encode edge: %w", err)
		}
		return txn.Set(edgeKey(edge.ID), data)
	})
}

// DeleteEdge removes an edge and its adjacency entries.
func (b *BadgerEngine) DeleteEdge(id EdgeID) error {
	if id == "" {
		return ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return deleteEdgeInTxn(txn, id)
	})
	if err == nil {
		b.edgeCount.Add(-1)
	}
	return err
}

func deleteEdgeInTxn(txn *badger.Txn, id EdgeID) error {
	edge, err := getEdgeInTxn(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(outgoingIndexKey(edge.StartNode, id)); err != nil {
		return err
	}
	if err := txn.Delete(incomingIndexKey(edge.EndNode, id)); err != nil {
		return err
	}
	return txn.Delete(edgeKey(id))
}

// ============================================================================
// Queries
// ============================================================================

// GetNodesByLabel returns all nodes with the given label.
func (b *BadgerEngine) GetNodesByLabel(label string) ([]*Node, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var nodes []*Node
	err := b.db.View(func(txn *badger.Txn) error {
		for _, id := range scanIDs(txn, indexKey(prefixLabelIndex, label, "")) {
			node, err := getNodeInTxn(txn, NodeID(id))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
		}
		return nil
	})
	return nodes, err
}

// GetAllNodes returns all nodes; decoding failures yield an empty result.
func (b *BadgerEngine) GetAllNodes() []*Node {
	if b.checkOpen() != nil {
		return []*Node{}
	}

	nodes := []*Node{}
	_ = b.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixNode}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				node, err := decodeNode(val)
				if err != nil {
					return err
				}
				nodes = append(nodes, node)
				return nil
			})
			if err != nil {
				nodes = []*Node{}
				return err
			}
		}
		return nil
	})
	return nodes
}

// GetOutgoingEdges returns all edges starting from the given node.
func (b *BadgerEngine) GetOutgoingEdges(nodeID NodeID) ([]*Edge, error) {
	return b.adjacent(prefixOutgoingIndex, nodeID)
}

// GetIncomingEdges returns all edges ending at the given node.
func (b *BadgerEngine) GetIncomingEdges(nodeID NodeID) ([]*Edge, error) {
	return b.adjacent(prefixIncomingIndex, nodeID)
}

func (b *BadgerEngine) adjacent(prefix byte, nodeID NodeID) ([]*Edge, error) {
	if nodeID == "" {
		return nil, ErrInvalidID
	}
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	edges := []*Edge{}
	err := b.db.View(func(txn *badger.Txn) error {
		for _, id := range scanIDs(txn, indexKey(prefix, string(nodeID), "")) {
			edge, err := getEdgeInTxn(txn, EdgeID(id))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			edges = append(edges, edge)
		}
		return nil
	})
	return edges, err
}

// GetEdgeBetween returns an edge from source to target with the given type
// ("" matches any type), or nil.
func (b *BadgerEngine) GetEdgeBetween(source, target NodeID, edgeType string) *Edge {
	if source == "" || target == "" {
		return nil
	}
	out, err := b.GetOutgoingEdges(source)
	if err != nil {
		return nil
	}
	for _, edge := range out {
		if edge.EndNode == target && (edgeType == "" || edge.Type == edgeType) {
			return edge
		}
	}
	return nil
}

// BulkCreateNodes creates multiple nodes in a single Badger transaction.
func (b *BadgerEngine) BulkCreateNodes(nodes []*Node) error {
	for _, node := range nodes {
		if err := validateNode(node); err != nil {
			return err
		}
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, node := range nodes {
			found, err := exists(txn, nodeKey(node.ID))
			if err != nil {
				return err
			}
			if found {
				return ErrAlreadyExists
			}
			if err := putNodeInTxn(txn, node); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		b.nodeCount.Add(int64(len(nodes)))
	}
	return err
}

// BulkCreateEdges creates multiple edges in a single Badger transaction.
func (b *BadgerEngine) BulkCreateEdges(edges []*Edge) error {
	for _, edge := range edges {
		if err := validateEdge(edge); err != nil {
			return err
		}
	}
	if err := b.checkOpen(); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, edge := range edges {
			if err := createEdgeInTxn(txn, edge); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		b.edgeCount.Add(int64(len(edges)))
	}
	return err
}

// initializeCounts scans the node and edge key ranges once at startup.
func (b *BadgerEngine) initializeCounts() error {
	return b.db.View(func(txn *badger.Txn) error {
		count := func(prefix byte) int64 {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte{prefix}
			it := txn.NewIterator(opts)
			defer it.Close()

			var n int64
			for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
				n++
			}
			return n
		}
		b.nodeCount.Store(count(prefixNode))
		b.edgeCount.Store(count(prefixEdge))
		return nil
	})
}

// NodeCount returns the number of nodes.
func (b *BadgerEngine) NodeCount() (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	return b.nodeCount.Load(), nil
}

// EdgeCount returns the number of edges.
func (b *BadgerEngine) EdgeCount() (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	return b.edgeCount.Load(), nil
}

// Close closes the underlying BadgerDB.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

// Verify BadgerEngine implements Engine interface
var _ Engine = (*BadgerEngine)(nil)
