package replay

import (
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/orneryd/nornicext/pkg/storage"
)

// Outcome is how a scripted transaction ended.
type Outcome string

const (
	OutcomeCommitted  Outcome = "committed"
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeRejected means a commit handler refused the transaction.
	OutcomeRejected Outcome = "rejected"
)

// Result reports one scripted transaction.
type Result struct {
	Name    string
	Outcome Outcome
	Err     error
}

type ref struct {
	node storage.NodeID
	edge storage.EdgeID
}

// Runner executes scripts and remembers the refs of committed elements
// across scripts.
type Runner struct {
	manager *storage.TransactionManager
	refs    map[string]ref
}

// NewRunner creates a runner writing through manager.
func NewRunner(manager *storage.TransactionManager) *Runner {
	return &Runner{manager: manager, refs: make(map[string]ref)}
}

// NodeID resolves a node ref.
func (r *Runner) NodeID(name string) storage.NodeID {
	if v, ok := r.refs[name]; ok && v.node != "" {
		return v.node
	}
	return storage.NodeID(name)
}

// Run loads the seed of s, then executes every transaction of s in order. A
// transaction refused by a commit handler is reported in its Result and does
// not stop the script; an operation that fails rolls its transaction back and
// aborts the run.
func (r *Runner) Run(s *Script) ([]Result, error) {
	if s.Seed != nil {
		if err := r.Seed(s.Seed); err != nil {
			return nil, err
		}
	}

	results := make([]Result, 0, len(s.Transactions))
	for i, st := range s.Transactions {
		name := st.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}

		res, err := r.runTransaction(name, st)
		if err != nil {
			return results, fmt.Errorf("transaction %s: %w", name, err)
		}
		log.Printf("[replay] transaction %s %s", name, res.Outcome)
		results = append(results, res)
	}
	return results, nil
}

// Seed bulk loads seed into the engine, bypassing transactions and their
// handlers. Either all nodes are stored or none, likewise relationships.
func (r *Runner) Seed(seed *Seed) error {
	engine := r.manager.Engine()
	named := make(map[string]ref)

	nodes := make([]*storage.Node, len(seed.Nodes))
	for i, sn := range seed.Nodes {
		id := storage.NodeID(sn.Ref)
		if id == "" {
			id = storage.NodeID(uuid.New().String())
		} else {
			named[sn.Ref] = ref{node: id}
		}
		nodes[i] = &storage.Node{ID: id, Labels: sn.Labels, Properties: sn.Properties}
	}
	if err := engine.BulkCreateNodes(nodes); err != nil {
		return fmt.Errorf("seeding nodes: %w", err)
	}

	lookup := func(name string) storage.NodeID {
		if v, ok := named[name]; ok {
			return v.node
		}
		return r.NodeID(name)
	}
	edges := make([]*storage.Edge, len(seed.Relationships))
	for i, sr := range seed.Relationships {
		id := storage.EdgeID(sr.Ref)
		if id == "" {
			id = storage.EdgeID(uuid.New().String())
		} else {
			named[sr.Ref] = ref{edge: id}
		}
		edges[i] = &storage.Edge{
			ID:         id,
			StartNode:  lookup(sr.From),
			EndNode:    lookup(sr.To),
			Type:       sr.Type,
			Properties: sr.Properties,
		}
	}
	if err := engine.BulkCreateEdges(edges); err != nil {
		return fmt.Errorf("seeding relationships: %w", err)
	}

	for k, v := range named {
		r.refs[k] = v
	}
	log.Printf("[replay] seeded %d nodes, %d relationships", len(nodes), len(edges))
	return nil
}

func (r *Runner) runTransaction(name string, st Transaction) (Result, error) {
	tx := r.manager.Begin()
	pending := make(map[string]ref)

	for i, op := range st.Ops {
		if op.Op == OpRollback {
			if err := tx.Rollback(); err != nil {
				return Result{}, err
			}
			return Result{Name: name, Outcome: OutcomeRolledBack}, nil
		}
		if err := r.apply(tx, op, pending); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("[replay] rollback of %s failed: %v", name, rbErr)
			}
			return Result{}, fmt.Errorf("op %d (%s): %w", i+1, op.Op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if errors.Is(err, storage.ErrTransactionClosed) {
			return Result{}, err
		}
		return Result{Name: name, Outcome: OutcomeRejected, Err: err}, nil
	}
	for k, v := range pending {
		r.refs[k] = v
	}
	return Result{Name: name, Outcome: OutcomeCommitted}, nil
}

func (r *Runner) apply(tx *storage.Transaction, op Op, pending map[string]ref) error {
	resolve := func(name string) ref {
		if v, ok := pending[name]; ok {
			return v
		}
		if v, ok := r.refs[name]; ok {
			return v
		}
		return ref{node: storage.NodeID(name), edge: storage.EdgeID(name)}
	}

	switch op.Op {
	case OpCreateNode:
		id, err := tx.CreateNode(&storage.Node{Labels: op.Labels, Properties: op.Properties})
		if err != nil {
			return err
		}
		if op.Ref != "" {
			pending[op.Ref] = ref{node: id}
		}

	case OpCreateRelationship:
		id, err := tx.CreateEdge(&storage.Edge{
			StartNode:  resolve(op.From).node,
			EndNode:    resolve(op.To).node,
			Type:       op.Type,
			Properties: op.Properties,
		})
		if err != nil {
			return err
		}
		if op.Ref != "" {
			pending[op.Ref] = ref{edge: id}
		}

	case OpSetProperty:
		v := resolve(op.Ref)
		if isNode(tx, v) {
			return tx.SetNodeProperty(v.node, op.Key, op.Value)
		}
		return tx.SetEdgeProperty(v.edge, op.Key, op.Value)

	case OpRemoveProperty:
		var err error
		if v := resolve(op.Ref); isNode(tx, v) {
			_, err = tx.RemoveNodeProperty(v.node, op.Key)
		} else {
			_, err = tx.RemoveEdgeProperty(v.edge, op.Key)
		}
		return err

	case OpAddLabel:
		return tx.AddLabel(resolve(op.Ref).node, op.Label)

	case OpRemoveLabel:
		return tx.RemoveLabel(resolve(op.Ref).node, op.Label)

	case OpDeleteNode:
		return tx.DeleteNode(resolve(op.Ref).node)

	case OpDeleteRelationship:
		if op.Ref != "" {
			return tx.DeleteEdge(resolve(op.Ref).edge)
		}
		edge, err := tx.GetEdgeBetween(resolve(op.From).node, resolve(op.To).node, op.Type)
		if err != nil {
			return fmt.Errorf("relationship %s-[%s]->%s: %w", op.From, op.Type, op.To, err)
		}
		return tx.DeleteEdge(edge.ID)

	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidScript, op.Op)
	}
	return nil
}

// isNode reports whether v names an existing node. Refs of created
// relationships never do.
func isNode(tx *storage.Transaction, v ref) bool {
	if v.node == "" {
		return false
	}
	_, err := tx.GetNode(v.node)
	return err == nil
}
