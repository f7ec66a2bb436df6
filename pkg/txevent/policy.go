package txevent

// NodeInclusionPolicy decides whether a node is visible.
type NodeInclusionPolicy interface {
	IncludeNode(n Node) bool
}

// NodePropertyInclusionPolicy decides whether a property of a node is visible.
type NodePropertyInclusionPolicy interface {
	IncludeNodeProperty(key string, n Node) bool
}

// RelationshipInclusionPolicy decides whether a relationship is visible.
type RelationshipInclusionPolicy interface {
	IncludeRelationship(r Relationship) bool
}

// RelationshipPropertyInclusionPolicy decides whether a property of a
// relationship is visible.
type RelationshipPropertyInclusionPolicy interface {
	IncludeRelationshipProperty(key string, r Relationship) bool
}

// NodeFunc adapts a function to NodeInclusionPolicy.
type NodeFunc func(n Node) bool

func (f NodeFunc) IncludeNode(n Node) bool { return f(n) }

// NodePropertyFunc adapts a function to NodePropertyInclusionPolicy.
type NodePropertyFunc func(key string, n Node) bool

func (f NodePropertyFunc) IncludeNodeProperty(key string, n Node) bool { return f(key, n) }

// RelationshipFunc adapts a function to RelationshipInclusionPolicy.
type RelationshipFunc func(r Relationship) bool

func (f RelationshipFunc) IncludeRelationship(r Relationship) bool { return f(r) }

// RelationshipPropertyFunc adapts a function to
// RelationshipPropertyInclusionPolicy.
type RelationshipPropertyFunc func(key string, r Relationship) bool

func (f RelationshipPropertyFunc) IncludeRelationshipProperty(key string, r Relationship) bool {
	return f(key, r)
}

// InclusionPolicies is the policy set of a FilteredView. A nil policy includes
// everything. Policies always receive unfiltered handles.
type InclusionPolicies struct {
	Nodes                  NodeInclusionPolicy
	NodeProperties         NodePropertyInclusionPolicy
	Relationships          RelationshipInclusionPolicy
	RelationshipProperties RelationshipPropertyInclusionPolicy
}

func (p InclusionPolicies) includeNode(n Node) bool {
	return p.Nodes == nil || p.Nodes.IncludeNode(n)
}

func (p InclusionPolicies) includeNodeProperty(key string, n Node) bool {
	return p.NodeProperties == nil || p.NodeProperties.IncludeNodeProperty(key, n)
}

func (p InclusionPolicies) includeRelationship(r Relationship) bool {
	return p.Relationships == nil || p.Relationships.IncludeRelationship(r)
}

func (p InclusionPolicies) includeRelationshipProperty(key string, r Relationship) bool {
	return p.RelationshipProperties == nil || p.RelationshipProperties.IncludeRelationshipProperty(key, r)
}
