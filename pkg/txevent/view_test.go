package txevent

import (
	"math"
	"testing"

	"github.com/orneryd/nornicext/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestGraph commits the graph most tests start from:
//
//	(1:Person {name: Michal, age: 30})-[r1:FRIEND_OF {since: 2007}]->(3:Person {name: Daniela, age: 20})
//	(1)-[r2:LIVES_IN {since: 2010}]->(4:Place {name: Prague})
//	(2:Person {name: Marketa})-[r3:FRIEND_OF {since: 2011, tags: [school]}]->(1)
func newTestGraph(t *testing.T) *storage.TransactionManager {
	t.Helper()
	manager := storage.NewTransactionManager(storage.NewMemoryEngine())
	err := manager.Run(func(tx *storage.Transaction) error {
		nodes := []*storage.Node{
			{ID: "1", Labels: []string{"Person"}, Properties: map[string]any{"name": "Michal", "age": 30}},
			{ID: "2", Labels: []string{"Person"}, Properties: map[string]any{"name": "Marketa"}},
			{ID: "3", Labels: []string{"Person"}, Properties: map[string]any{"name": "Daniela", "age": 20}},
			{ID: "4", Labels: []string{"Place"}, Properties: map[string]any{"name": "Prague"}},
		}
		for _, n := range nodes {
			if _, err := tx.CreateNode(n); err != nil {
				return err
			}
		}
		edges := []*storage.Edge{
			{ID: "r1", StartNode: "1", EndNode: "3", Type: "FRIEND_OF", Properties: map[string]any{"since": 2007}},
			{ID: "r2", StartNode: "1", EndNode: "4", Type: "LIVES_IN", Properties: map[string]any{"since": 2010}},
			{ID: "r3", StartNode: "2", EndNode: "1", Type: "FRIEND_OF", Properties: map[string]any{"since": 2011, "tags": []string{"school"}}},
		}
		for _, e := range edges {
			if _, err := tx.CreateEdge(e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	return manager
}

// viewAfter runs mutate in a new transaction and returns a view of it. The
// transaction is rolled back when the test ends.
func viewAfter(t *testing.T, manager *storage.TransactionManager, mutate func(tx *storage.Transaction)) (*LazyView, *storage.Transaction) {
	t.Helper()
	tx := manager.Begin()
	t.Cleanup(func() { _ = tx.Rollback() })
	mutate(tx)
	return NewView(tx, tx.Data()), tx
}

func nodeIDs(nodes []Node) []storage.NodeID {
	ids := make([]storage.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	return ids
}

func relationshipIDs(rels []Relationship) []storage.EdgeID {
	ids := make([]storage.EdgeID, len(rels))
	for i, r := range rels {
		ids[i] = r.ID()
	}
	return ids
}

func relationshipTypes(rels []Relationship) []string {
	types := make([]string, len(rels))
	for i, r := range rels {
		types[i] = r.Type()
	}
	return types
}

func TestView_NoMutations(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(*storage.Transaction) {})

	assert.False(t, view.MutationsOccurred())
	assert.Empty(t, view.AllCreatedNodes())
	assert.Empty(t, view.AllDeletedNodes())
	assert.Empty(t, view.AllChangedNodes())
	assert.Empty(t, view.AllCreatedRelationships())
	assert.Empty(t, view.AllDeletedRelationships())
	assert.Empty(t, view.AllChangedRelationships())
	assert.Empty(t, view.MutationsToStrings())
}

func TestView_RestoredValuesAreNotMutations(t *testing.T) {
	manager := newTestGraph(t)

	t.Run("scalar set back", func(t *testing.T) {
		view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
			require.NoError(t, tx.SetNodeProperty("1", "name", "Y"))
			require.NoError(t, tx.SetNodeProperty("1", "name", "Michal"))
		})
		assert.False(t, view.MutationsOccurred())
		assert.False(t, view.HasNodeBeenChanged("1"))
		assert.Empty(t, view.ChangedNodeProperties("1"))
		assert.Empty(t, view.AllChangedNodes())
	})

	t.Run("array compared element-wise", func(t *testing.T) {
		view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
			require.NoError(t, tx.SetEdgeProperty("r3", "tags", []any{"school"}))
		})
		assert.False(t, view.MutationsOccurred())
		assert.False(t, view.HasRelationshipBeenChanged("r3"))
	})

	t.Run("nan set over nan", func(t *testing.T) {
		fresh := newTestGraph(t)
		require.NoError(t, fresh.Run(func(tx *storage.Transaction) error {
			return tx.SetNodeProperty("4", "score", math.NaN())
		}))
		view, _ := viewAfter(t, fresh, func(tx *storage.Transaction) {
			require.NoError(t, tx.SetNodeProperty("4", "score", math.NaN()))
		})
		assert.False(t, view.MutationsOccurred())
		assert.False(t, view.HasNodeBeenChanged("4"))
	})

	t.Run("removed and restored", func(t *testing.T) {
		view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
			_, err := tx.RemoveNodeProperty("3", "age")
			require.NoError(t, err)
			require.NoError(t, tx.SetNodeProperty("3", "age", 20))
		})
		assert.False(t, view.MutationsOccurred())
	})

	t.Run("label added and removed", func(t *testing.T) {
		view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
			require.NoError(t, tx.AddLabel("2", "Female"))
			require.NoError(t, tx.RemoveLabel("2", "Female"))
		})
		assert.False(t, view.MutationsOccurred())
		assert.False(t, view.HasLabelBeenAssigned("2", "Female"))
	})
}

func TestView_CreatedNodeAndRelationship(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
		_, err := tx.CreateNode(&storage.Node{ID: "5", Labels: []string{"Person"}, Properties: map[string]any{"name": "Jakub"}})
		require.NoError(t, err)
		_, err = tx.CreateEdge(&storage.Edge{ID: "r4", StartNode: "5", EndNode: "1", Type: "R1"})
		require.NoError(t, err)
	})

	require.Len(t, view.AllCreatedNodes(), 1)
	require.Len(t, view.AllCreatedRelationships(), 1)
	assert.True(t, view.MutationsOccurred())
	assert.True(t, view.HasNodeBeenCreated("5"))
	assert.True(t, view.HasRelationshipBeenCreated("r4"))
	assert.False(t, view.HasNodeBeenChanged("1"))

	rel := view.AllCreatedRelationships()[0]
	assert.Equal(t, Current, rel.Epoch())
	assert.Equal(t, "R1", rel.Type())

	start := rel.StartNode()
	assert.Equal(t, storage.NodeID("5"), start.ID())
	assert.Equal(t, Current, start.Epoch())
	assert.Equal(t, "Jakub", start.PropertyOr("name", ""))

	end := rel.EndNode()
	assert.Equal(t, storage.NodeID("1"), end.ID())
	assert.Equal(t, Current, end.Epoch())
	incoming, err := end.Degree(storage.DirectionIncoming)
	require.NoError(t, err)
	assert.Equal(t, 2, incoming)

	t.Run("created node has no label or property deltas", func(t *testing.T) {
		assert.Empty(t, view.AssignedLabels("5"))
		assert.False(t, view.HasLabelBeenAssigned("5", "Person"))
		assert.Empty(t, view.CreatedNodeProperties("5"))
		assert.False(t, view.HasNodePropertyBeenCreated("5", "name"))
	})

	t.Run("per-node created relationships", func(t *testing.T) {
		assert.Equal(t, []storage.EdgeID{"r4"}, relationshipIDs(view.CreatedRelationships("1", storage.DirectionIncoming)))
		assert.Empty(t, view.CreatedRelationships("1", storage.DirectionOutgoing))
		assert.Empty(t, view.CreatedRelationships("1", storage.DirectionBoth, "KNOWS"))
	})

	t.Run("lookups", func(t *testing.T) {
		n, err := view.CreatedNode("5")
		require.NoError(t, err)
		assert.Equal(t, []string{"Person"}, n.Labels())

		_, err = view.CreatedNode("1")
		assert.ErrorIs(t, err, ErrNotInTransaction)
		_, err = view.DeletedNode("5")
		assert.ErrorIs(t, err, ErrNotInTransaction)
		_, err = view.ChangedNode("5")
		assert.ErrorIs(t, err, ErrNotInTransaction)
	})
}

func TestView_ChangedNode(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
		require.NoError(t, tx.SetNodeProperty("1", "name", "Michal Bachman"))
		_, err := tx.RemoveNodeProperty("1", "age")
		require.NoError(t, err)
		require.NoError(t, tx.SetNodeProperty("1", "city", "Prague"))
		require.NoError(t, tx.AddLabel("1", "Male"))
		require.NoError(t, tx.SetNodeProperty("3", "age", 21))
	})

	assert.True(t, view.MutationsOccurred())
	changed := view.AllChangedNodes()
	require.Len(t, changed, 2)
	assert.Equal(t, storage.NodeID("1"), changed[0].Current.ID())
	assert.Equal(t, storage.NodeID("3"), changed[1].Current.ID())

	change, err := view.ChangedNode("1")
	require.NoError(t, err)
	prev, cur := change.Previous, change.Current
	assert.Equal(t, Previous, prev.Epoch())
	assert.Equal(t, Current, cur.Epoch())

	t.Run("previous shows pre-transaction state", func(t *testing.T) {
		assert.Equal(t, map[string]any{"name": "Michal", "age": 30}, prev.Properties())
		assert.Equal(t, []string{"age", "name"}, prev.PropertyKeys())
		assert.False(t, prev.HasProperty("city"))
		assert.Equal(t, "none", prev.PropertyOr("city", "none"))
		assert.Equal(t, []string{"Person"}, prev.Labels())
		assert.False(t, prev.HasLabel("Male"))
	})

	t.Run("current shows post-transaction state", func(t *testing.T) {
		assert.Equal(t, map[string]any{"name": "Michal Bachman", "city": "Prague"}, cur.Properties())
		assert.False(t, cur.HasProperty("age"))
		assert.ElementsMatch(t, []string{"Person", "Male"}, cur.Labels())
		assert.True(t, cur.HasLabel("Male"))
	})

	t.Run("property deltas", func(t *testing.T) {
		assert.Equal(t, map[string]any{"city": "Prague"}, view.CreatedNodeProperties("1"))
		assert.Equal(t, map[string]Change[any]{"name": {Previous: "Michal", Current: "Michal Bachman"}}, view.ChangedNodeProperties("1"))
		assert.Equal(t, map[string]any{"age": 30}, view.DeletedNodeProperties("1"))

		assert.True(t, view.HasNodePropertyBeenCreated("1", "city"))
		assert.True(t, view.HasNodePropertyBeenChanged("1", "name"))
		assert.True(t, view.HasNodePropertyBeenDeleted("1", "age"))
		assert.False(t, view.HasNodePropertyBeenChanged("1", "city"))
		assert.False(t, view.HasNodePropertyBeenCreated("1", "name"))
	})

	t.Run("label deltas", func(t *testing.T) {
		assert.True(t, view.HasLabelBeenAssigned("1", "Male"))
		assert.False(t, view.HasLabelBeenRemoved("1", "Person"))
		assert.Equal(t, []string{"Male"}, view.AssignedLabels("1"))
		assert.Empty(t, view.RemovedLabels("1"))
	})

	t.Run("unrelated properties agree on both sides", func(t *testing.T) {
		daniela, err := view.ChangedNode("3")
		require.NoError(t, err)
		assert.Equal(t, "Daniela", daniela.Previous.PropertyOr("name", nil))
		assert.Equal(t, "Daniela", daniela.Current.PropertyOr("name", nil))
		assert.Equal(t, 20, daniela.Previous.PropertyOr("age", nil))
		assert.Equal(t, 21, daniela.Current.PropertyOr("age", nil))
	})

	t.Run("unchanged node", func(t *testing.T) {
		_, err := view.ChangedNode("2")
		assert.ErrorIs(t, err, ErrNotInTransaction)
		assert.Empty(t, view.CreatedNodeProperties("2"))
		assert.Empty(t, view.ChangedNodeProperties("2"))
		assert.Empty(t, view.DeletedNodeProperties("2"))
	})
}

func TestView_AssignThenRemoveReportsOriginalValue(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
		require.NoError(t, tx.SetNodeProperty("1", "age", 31))
		require.NoError(t, tx.SetNodeProperty("1", "age", 32))
		_, err := tx.RemoveNodeProperty("1", "age")
		require.NoError(t, err)
	})

	assert.Equal(t, map[string]any{"age": 30}, view.DeletedNodeProperties("1"))
	assert.Empty(t, view.ChangedNodeProperties("1"))

	change, err := view.ChangedNode("1")
	require.NoError(t, err)
	assert.Equal(t, 30, change.Previous.PropertyOr("age", nil))
}

func TestView_RemovedLabel(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
		require.NoError(t, tx.RemoveLabel("3", "Person"))
		require.NoError(t, tx.AddLabel("3", "Female"))
	})

	change, err := view.ChangedNode("3")
	require.NoError(t, err)
	assert.Equal(t, []string{"Person"}, change.Previous.Labels())
	assert.Equal(t, []string{"Female"}, change.Current.Labels())
	assert.Equal(t, []string{"Person"}, view.RemovedLabels("3"))
	assert.True(t, view.HasLabelBeenRemoved("3", "Person"))
}

func TestView_DeletedNodeTraversal(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
		require.NoError(t, tx.DeleteNode("4"))
	})

	assert.Equal(t, []storage.NodeID{"4"}, nodeIDs(view.AllDeletedNodes()))
	assert.Equal(t, []storage.EdgeID{"r2"}, relationshipIDs(view.AllDeletedRelationships()))
	assert.True(t, view.HasNodeBeenDeleted("4"))
	assert.True(t, view.HasRelationshipBeenDeleted("r2"))
	assert.False(t, view.HasNodeBeenChanged("1"))

	prague, err := view.DeletedNode("4")
	require.NoError(t, err)
	assert.Equal(t, Previous, prague.Epoch())
	assert.Equal(t, []string{"Place"}, prague.Labels())
	assert.Equal(t, map[string]any{"name": "Prague"}, prague.Properties())

	rels, err := prague.Relationships(storage.DirectionBoth)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	livesIn := rels[0]
	assert.Equal(t, storage.EdgeID("r2"), livesIn.ID())
	assert.Equal(t, "LIVES_IN", livesIn.Type())
	assert.Equal(t, Previous, livesIn.Epoch())
	assert.Equal(t, 2010, livesIn.PropertyOr("since", nil))

	michal, err := livesIn.OtherNode("4")
	require.NoError(t, err)
	assert.Equal(t, storage.NodeID("1"), michal.ID())
	assert.Equal(t, Previous, michal.Epoch())
	assert.Equal(t, "Michal", michal.PropertyOr("name", nil))

	t.Run("previous neighbours still see the deleted relationship", func(t *testing.T) {
		out, err := michal.Relationships(storage.DirectionOutgoing)
		require.NoError(t, err)
		assert.ElementsMatch(t, []storage.EdgeID{"r1", "r2"}, relationshipIDs(out))

		degree, err := michal.Degree(storage.DirectionBoth)
		require.NoError(t, err)
		assert.Equal(t, 3, degree)

		has, err := michal.HasRelationship(storage.DirectionOutgoing, "LIVES_IN")
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("per-node deleted relationships", func(t *testing.T) {
		assert.Equal(t, []storage.EdgeID{"r2"}, relationshipIDs(view.DeletedRelationships("1", storage.DirectionOutgoing)))
		assert.Equal(t, []storage.EdgeID{"r2"}, relationshipIDs(view.DeletedRelationships("4", storage.DirectionIncoming, "LIVES_IN")))
		assert.Empty(t, view.DeletedRelationships("4", storage.DirectionOutgoing))
		assert.Empty(t, view.DeletedRelationships("1", storage.DirectionBoth, "FRIEND_OF"))
	})

	t.Run("deleted elements reject writes", func(t *testing.T) {
		assert.ErrorIs(t, prague.SetProperty("name", "Praha"), ErrEntityDeleted)
		_, err := prague.RemoveProperty("name")
		assert.ErrorIs(t, err, ErrEntityDeleted)
		assert.ErrorIs(t, prague.AddLabel("City"), ErrEntityDeleted)
		assert.ErrorIs(t, prague.RemoveLabel("Place"), ErrEntityDeleted)
		assert.ErrorIs(t, prague.Delete(), ErrEntityDeleted)
		_, err = prague.CreateRelationshipTo(michal, "NEAR", nil)
		assert.ErrorIs(t, err, ErrEntityDeleted)
		_, err = michal.CreateRelationshipTo(prague, "NEAR", nil)
		assert.ErrorIs(t, err, ErrEntityDeleted)

		assert.ErrorIs(t, livesIn.SetProperty("since", 2020), ErrEntityDeleted)
		assert.ErrorIs(t, livesIn.Delete(), ErrEntityDeleted)
	})
}

func TestView_DeletedRelationshipOnly(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
		require.NoError(t, tx.DeleteEdge("r1"))
	})

	require.Len(t, view.AllDeletedRelationships(), 1)
	friendOf := view.AllDeletedRelationships()[0]
	assert.Equal(t, Previous, friendOf.Epoch())
	assert.Equal(t, map[string]any{"since": 2007}, friendOf.Properties())
	assert.Equal(t, storage.NodeID("1"), friendOf.StartNodeID())
	assert.Equal(t, storage.NodeID("3"), friendOf.EndNodeID())

	assert.True(t, view.HasRelationshipBeenDeleted("r1"))
	assert.False(t, view.HasRelationshipBeenChanged("r1"))
	assert.False(t, view.HasNodeBeenChanged("1"))
	assert.False(t, view.HasNodeBeenChanged("3"))
	assert.Empty(t, view.AllChangedNodes())

	_, err := view.DeletedRelationship("r1")
	require.NoError(t, err)
	_, err = view.DeletedRelationship("r2")
	assert.ErrorIs(t, err, ErrNotInTransaction)

	assert.Equal(t, []string{
		"Deleted relationship (:Person {age: 30, name: Michal})-[:FRIEND_OF {since: 2007}]->(:Person {age: 20, name: Daniela})",
	}, view.MutationsToStrings())
}

func TestView_ChangedRelationship(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
		require.NoError(t, tx.SetEdgeProperty("r3", "since", 2012))
		require.NoError(t, tx.SetEdgeProperty("r3", "strength", 0.5))
		_, err := tx.RemoveEdgeProperty("r3", "tags")
		require.NoError(t, err)
	})

	require.Len(t, view.AllChangedRelationships(), 1)
	change, err := view.ChangedRelationship("r3")
	require.NoError(t, err)
	assert.Equal(t, "FRIEND_OF", change.Previous.Type())
	assert.Equal(t, "FRIEND_OF", change.Current.Type())
	assert.Equal(t, 2011, change.Previous.PropertyOr("since", nil))
	assert.Equal(t, 2012, change.Current.PropertyOr("since", nil))
	assert.Equal(t, []string{"since", "tags"}, change.Previous.PropertyKeys())
	assert.Equal(t, []string{"since", "strength"}, change.Current.PropertyKeys())

	assert.Equal(t, map[string]any{"strength": 0.5}, view.CreatedRelationshipProperties("r3"))
	assert.Equal(t, map[string]Change[any]{"since": {Previous: 2011, Current: 2012}}, view.ChangedRelationshipProperties("r3"))
	assert.Equal(t, map[string]any{"tags": []string{"school"}}, view.DeletedRelationshipProperties("r3"))
	assert.True(t, view.HasRelationshipPropertyBeenCreated("r3", "strength"))
	assert.True(t, view.HasRelationshipPropertyBeenChanged("r3", "since"))
	assert.True(t, view.HasRelationshipPropertyBeenDeleted("r3", "tags"))
	assert.False(t, view.HasRelationshipPropertyBeenDeleted("r1", "since"))

	start := change.Previous.StartNode()
	assert.Equal(t, Previous, start.Epoch())
	assert.Equal(t, "Marketa", start.PropertyOr("name", nil))

	_, err = view.ChangedRelationship("r1")
	assert.ErrorIs(t, err, ErrNotInTransaction)

	assert.Equal(t, []string{
		"Changed relationship (:Person {name: Marketa})-[:FRIEND_OF {since: 2011, tags: [school]}]->(:Person {age: 30, name: Michal})" +
			" to (:Person {name: Marketa})-[:FRIEND_OF {since: 2012, strength: 0.5}]->(:Person {age: 30, name: Michal})",
	}, view.MutationsToStrings())
}

func TestView_EpochTraversalOfChangedNode(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
		require.NoError(t, tx.SetNodeProperty("1", "name", "Michal B"))
		_, err := tx.CreateEdge(&storage.Edge{ID: "r4", StartNode: "1", EndNode: "2", Type: "KNOWS"})
		require.NoError(t, err)
		require.NoError(t, tx.DeleteEdge("r1"))
	})

	change, err := view.ChangedNode("1")
	require.NoError(t, err)

	prevOut, err := change.Previous.Relationships(storage.DirectionOutgoing)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"LIVES_IN", "FRIEND_OF"}, relationshipTypes(prevOut))
	for _, r := range prevOut {
		assert.Equal(t, Previous, r.Epoch())
	}

	curOut, err := change.Current.Relationships(storage.DirectionOutgoing)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"LIVES_IN", "KNOWS"}, relationshipTypes(curOut))
	for _, r := range curOut {
		assert.Equal(t, Current, r.Epoch())
	}

	prevFriends, err := change.Previous.Degree(storage.DirectionOutgoing, "FRIEND_OF")
	require.NoError(t, err)
	assert.Equal(t, 1, prevFriends)
	curFriends, err := change.Current.Degree(storage.DirectionOutgoing, "FRIEND_OF")
	require.NoError(t, err)
	assert.Equal(t, 0, curFriends)

	knowsBefore, err := change.Previous.HasRelationship(storage.DirectionBoth, "KNOWS")
	require.NoError(t, err)
	assert.False(t, knowsBefore)
	knowsAfter, err := change.Current.HasRelationship(storage.DirectionBoth, "KNOWS")
	require.NoError(t, err)
	assert.True(t, knowsAfter)

	t.Run("traversal keeps the epoch", func(t *testing.T) {
		for _, r := range prevOut {
			if r.Type() != "FRIEND_OF" {
				continue
			}
			back := r.StartNode()
			assert.Equal(t, Previous, back.Epoch())
			assert.Equal(t, "Michal", back.PropertyOr("name", nil))
			assert.Equal(t, "Daniela", r.EndNode().PropertyOr("name", nil))
		}
		for _, r := range curOut {
			assert.Equal(t, "Michal B", r.StartNode().PropertyOr("name", nil))
		}
	})

	t.Run("other node validates endpoints", func(t *testing.T) {
		_, err := prevOut[0].OtherNode("2")
		assert.ErrorIs(t, err, storage.ErrInvalidData)
	})
}

func TestView_WritesThroughHandles(t *testing.T) {
	manager := newTestGraph(t)
	view, tx := viewAfter(t, manager, func(tx *storage.Transaction) {
		_, err := tx.CreateNode(&storage.Node{ID: "5", Labels: []string{"Person"}, Properties: map[string]any{"name": "Jakub"}})
		require.NoError(t, err)
	})

	jakub, err := view.CreatedNode("5")
	require.NoError(t, err)
	require.NoError(t, jakub.SetProperty("score", 1))
	require.NoError(t, jakub.AddLabel("Child"))
	loop, err := jakub.CreateRelationshipTo(jakub, "SELF", map[string]any{"weight": 2})
	require.NoError(t, err)
	assert.Equal(t, Current, loop.Epoch())
	assert.Equal(t, "SELF", loop.Type())

	for _, dir := range []storage.Direction{storage.DirectionBoth, storage.DirectionOutgoing, storage.DirectionIncoming} {
		degree, err := jakub.Degree(dir)
		require.NoError(t, err)
		assert.Equal(t, 1, degree, dir.String())
	}

	// A fresh view sees writes made through the previous one.
	next := NewView(tx, tx.Data())
	require.Len(t, next.AllCreatedRelationships(), 1)
	assert.Equal(t, 2, next.AllCreatedRelationships()[0].PropertyOr("weight", nil))
	created, err := next.CreatedNode("5")
	require.NoError(t, err)
	assert.Equal(t, 1, created.PropertyOr("score", nil))
	assert.True(t, created.HasLabel("Child"))

	removed, err := created.RemoveProperty("score")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, created.HasProperty("score"))
}

func TestView_MutationsToStrings(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
		_, err := tx.CreateNode(&storage.Node{ID: "5", Labels: []string{"Person"}, Properties: map[string]any{"name": "Jakub"}})
		require.NoError(t, err)
		_, err = tx.CreateEdge(&storage.Edge{ID: "r4", StartNode: "5", EndNode: "2", Type: "KNOWS"})
		require.NoError(t, err)
		require.NoError(t, tx.SetNodeProperty("3", "age", 21))
		require.NoError(t, tx.AddLabel("3", "Female"))
		require.NoError(t, tx.DeleteEdge("r1"))
	})

	assert.Equal(t, []string{
		"Changed node (:Person {age: 20, name: Daniela}) to (:Female:Person {age: 21, name: Daniela})",
		"Created node (:Person {name: Jakub})",
		"Created relationship (:Person {name: Jakub})-[:KNOWS]->(:Person {name: Marketa})",
		"Deleted relationship (:Person {age: 30, name: Michal})-[:FRIEND_OF {since: 2007}]->(:Person {age: 20, name: Daniela})",
	}, view.MutationsToStrings())
}

func TestNodeToString(t *testing.T) {
	manager := newTestGraph(t)
	view, _ := viewAfter(t, manager, func(tx *storage.Transaction) {
		_, err := tx.CreateNode(&storage.Node{ID: "bare"})
		require.NoError(t, err)
		_, err = tx.CreateNode(&storage.Node{ID: "unlabelled", Properties: map[string]any{"k": "v"}})
		require.NoError(t, err)
		_, err = tx.CreateNode(&storage.Node{ID: "labelled", Labels: []string{"B", "A"}})
		require.NoError(t, err)
	})

	render := func(id storage.NodeID) string {
		n, err := view.CreatedNode(id)
		require.NoError(t, err)
		return nodeToString(n)
	}
	assert.Equal(t, "()", render("bare"))
	assert.Equal(t, "({k: v})", render("unlabelled"))
	assert.Equal(t, "(:A:B)", render("labelled"))
}
