// Package policy provides ready-made inclusion policies for txevent views.
//
// Policies are plain predicates; they never fail. Node and relationship
// policies compose with And, Or and Not helpers:
//
//	people := policy.AndNodes(policy.BusinessNodes(), policy.NodesWithLabels("Person"))
//	view := txevent.NewFilteredView(inner, txevent.InclusionPolicies{Nodes: people})
//
// Elements and properties whose name starts with InternalPrefix belong to
// modules and are hidden by the Business policies.
package policy

import (
	"sort"
	"strings"

	"github.com/orneryd/nornicext/pkg/config"
	"github.com/orneryd/nornicext/pkg/txevent"
	"github.com/orneryd/nornicext/pkg/util"
)

// InternalPrefix marks labels, relationship types and property keys owned by
// modules.
const InternalPrefix = "_ext_"

// IsInternal reports whether name is reserved for modules.
func IsInternal(name string) bool {
	return strings.HasPrefix(name, InternalPrefix)
}

// All includes everything. It is the zero value of txevent.InclusionPolicies.
func All() txevent.InclusionPolicies {
	return txevent.InclusionPolicies{}
}

// None includes nothing.
func None() txevent.InclusionPolicies {
	return txevent.InclusionPolicies{
		Nodes:                  txevent.NodeFunc(func(txevent.Node) bool { return false }),
		NodeProperties:         txevent.NodePropertyFunc(func(string, txevent.Node) bool { return false }),
		Relationships:          txevent.RelationshipFunc(func(txevent.Relationship) bool { return false }),
		RelationshipProperties: txevent.RelationshipPropertyFunc(func(string, txevent.Relationship) bool { return false }),
	}
}

// Business hides every internal element and property.
func Business() txevent.InclusionPolicies {
	return txevent.InclusionPolicies{
		Nodes:                  BusinessNodes(),
		NodeProperties:         BusinessNodeProperties(),
		Relationships:          BusinessRelationships(),
		RelationshipProperties: BusinessRelationshipProperties(),
	}
}

// BusinessNodes includes nodes without internal labels.
func BusinessNodes() txevent.NodeFunc {
	return func(n txevent.Node) bool {
		for _, label := range n.Labels() {
			if IsInternal(label) {
				return false
			}
		}
		return true
	}
}

// BusinessRelationships includes relationships whose type is not internal.
func BusinessRelationships() txevent.RelationshipFunc {
	return func(r txevent.Relationship) bool { return !IsInternal(r.Type()) }
}

// BusinessNodeProperties includes non-internal node property keys.
func BusinessNodeProperties() txevent.NodePropertyFunc {
	return func(key string, _ txevent.Node) bool { return !IsInternal(key) }
}

// BusinessRelationshipProperties includes non-internal relationship property
// keys.
func BusinessRelationshipProperties() txevent.RelationshipPropertyFunc {
	return func(key string, _ txevent.Relationship) bool { return !IsInternal(key) }
}

// ============================================================================
// Nodes
// ============================================================================

// NodesWithLabels includes nodes carrying at least one of labels.
func NodesWithLabels(labels ...string) txevent.NodeFunc {
	set := toSet(labels)
	return func(n txevent.Node) bool {
		for _, label := range n.Labels() {
			if _, ok := set[label]; ok {
				return true
			}
		}
		return false
	}
}

// NodesWithoutLabels includes nodes carrying none of labels.
func NodesWithoutLabels(labels ...string) txevent.NodeFunc {
	return NotNode(NodesWithLabels(labels...))
}

// NodesWhere includes nodes whose property key exists and satisfies match.
func NodesWhere(key string, match func(value any) bool) txevent.NodeFunc {
	return func(n txevent.Node) bool {
		v, ok := n.Property(key)
		return ok && match(v)
	}
}

// NodesWithProperty includes nodes whose property key equals value. Lists
// compare element-wise.
func NodesWithProperty(key string, value any) txevent.NodeFunc {
	return NodesWhere(key, func(v any) bool { return util.ArrayFriendlyEquals(v, value) })
}

// NodesWithPropertyIn includes nodes whose property key equals one of values.
// Lists compare element-wise.
func NodesWithPropertyIn(key string, values ...any) txevent.NodeFunc {
	set := newValueSet(values)
	return NodesWhere(key, set.contains)
}

// AndNodes includes nodes included by every policy.
func AndNodes(policies ...txevent.NodeInclusionPolicy) txevent.NodeFunc {
	return func(n txevent.Node) bool {
		for _, p := range policies {
			if !p.IncludeNode(n) {
				return false
			}
		}
		return true
	}
}

// OrNodes includes nodes included by any policy.
func OrNodes(policies ...txevent.NodeInclusionPolicy) txevent.NodeFunc {
	return func(n txevent.Node) bool {
		for _, p := range policies {
			if p.IncludeNode(n) {
				return true
			}
		}
		return false
	}
}

// NotNode inverts p.
func NotNode(p txevent.NodeInclusionPolicy) txevent.NodeFunc {
	return func(n txevent.Node) bool { return !p.IncludeNode(n) }
}

// ============================================================================
// Relationships
// ============================================================================

// RelationshipsOfTypes includes relationships of any of types.
func RelationshipsOfTypes(types ...string) txevent.RelationshipFunc {
	set := toSet(types)
	return func(r txevent.Relationship) bool {
		_, ok := set[r.Type()]
		return ok
	}
}

// RelationshipsNotOfTypes includes relationships of none of types.
func RelationshipsNotOfTypes(types ...string) txevent.RelationshipFunc {
	return NotRelationship(RelationshipsOfTypes(types...))
}

// RelationshipsBetween includes relationships whose endpoints are both
// included by nodes.
func RelationshipsBetween(nodes txevent.NodeInclusionPolicy) txevent.RelationshipFunc {
	return func(r txevent.Relationship) bool {
		return nodes.IncludeNode(r.StartNode()) && nodes.IncludeNode(r.EndNode())
	}
}

// AndRelationships includes relationships included by every policy.
func AndRelationships(policies ...txevent.RelationshipInclusionPolicy) txevent.RelationshipFunc {
	return func(r txevent.Relationship) bool {
		for _, p := range policies {
			if !p.IncludeRelationship(r) {
				return false
			}
		}
		return true
	}
}

// OrRelationships includes relationships included by any policy.
func OrRelationships(policies ...txevent.RelationshipInclusionPolicy) txevent.RelationshipFunc {
	return func(r txevent.Relationship) bool {
		for _, p := range policies {
			if p.IncludeRelationship(r) {
				return true
			}
		}
		return false
	}
}

// NotRelationship inverts p.
func NotRelationship(p txevent.RelationshipInclusionPolicy) txevent.RelationshipFunc {
	return func(r txevent.Relationship) bool { return !p.IncludeRelationship(r) }
}

// ============================================================================
// Properties
// ============================================================================

// NodeKeys includes only the listed node property keys.
func NodeKeys(keys ...string) txevent.NodePropertyFunc {
	match := keyMatcher(keys, true)
	return func(key string, _ txevent.Node) bool { return match(key) }
}

// ExcludeNodeKeys hides the listed node property keys.
func ExcludeNodeKeys(keys ...string) txevent.NodePropertyFunc {
	match := keyMatcher(keys, false)
	return func(key string, _ txevent.Node) bool { return match(key) }
}

// RelationshipKeys includes only the listed relationship property keys.
func RelationshipKeys(keys ...string) txevent.RelationshipPropertyFunc {
	match := keyMatcher(keys, true)
	return func(key string, _ txevent.Relationship) bool { return match(key) }
}

// ExcludeRelationshipKeys hides the listed relationship property keys.
func ExcludeRelationshipKeys(keys ...string) txevent.RelationshipPropertyFunc {
	match := keyMatcher(keys, false)
	return func(key string, _ txevent.Relationship) bool { return match(key) }
}

func keyMatcher(keys []string, whitelist bool) func(string) bool {
	set := toSet(keys)
	return func(key string) bool {
		_, listed := set[key]
		return listed == whitelist
	}
}

func sortedKeys(m map[string][]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// valueSet buckets property values by ArrayFriendlyHash.
type valueSet map[uint64][]any

func newValueSet(values []any) valueSet {
	set := make(valueSet, len(values))
	for _, v := range values {
		h := util.ArrayFriendlyHash(v)
		set[h] = append(set[h], v)
	}
	return set
}

func (s valueSet) contains(v any) bool {
	for _, candidate := range s[util.ArrayFriendlyHash(v)] {
		if util.ArrayFriendlyEquals(candidate, v) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// ============================================================================
// Configuration
// ============================================================================

// FromConfig builds the policies declared by cfg. Criteria combine with AND;
// a policy with no criteria is left nil and includes everything.
func FromConfig(cfg config.PolicyConfig) txevent.InclusionPolicies {
	var nodes []txevent.NodeInclusionPolicy
	var nodeKeys []txevent.NodePropertyFunc
	var rels []txevent.RelationshipInclusionPolicy
	var relKeys []txevent.RelationshipPropertyFunc

	if !cfg.IncludeInternal {
		nodes = append(nodes, BusinessNodes())
		nodeKeys = append(nodeKeys, BusinessNodeProperties())
		rels = append(rels, BusinessRelationships())
		relKeys = append(relKeys, BusinessRelationshipProperties())
	}
	if len(cfg.NodeLabels) > 0 {
		nodes = append(nodes, NodesWithLabels(cfg.NodeLabels...))
	}
	if len(cfg.ExcludeNodeLabels) > 0 {
		nodes = append(nodes, NodesWithoutLabels(cfg.ExcludeNodeLabels...))
	}
	for _, key := range sortedKeys(cfg.NodeProperties) {
		nodes = append(nodes, NodesWithPropertyIn(key, cfg.NodeProperties[key]...))
	}
	if len(cfg.RelationshipTypes) > 0 {
		rels = append(rels, RelationshipsOfTypes(cfg.RelationshipTypes...))
	}
	if len(cfg.ExcludeRelationshipTypes) > 0 {
		rels = append(rels, RelationshipsNotOfTypes(cfg.ExcludeRelationshipTypes...))
	}
	if len(cfg.NodePropertyKeys) > 0 {
		nodeKeys = append(nodeKeys, NodeKeys(cfg.NodePropertyKeys...))
	}
	if len(cfg.ExcludeNodePropertyKeys) > 0 {
		nodeKeys = append(nodeKeys, ExcludeNodeKeys(cfg.ExcludeNodePropertyKeys...))
	}
	if len(cfg.RelationshipPropertyKeys) > 0 {
		relKeys = append(relKeys, RelationshipKeys(cfg.RelationshipPropertyKeys...))
	}
	if len(cfg.ExcludeRelationshipPropertyKeys) > 0 {
		relKeys = append(relKeys, ExcludeRelationshipKeys(cfg.ExcludeRelationshipPropertyKeys...))
	}

	var p txevent.InclusionPolicies
	if len(nodes) > 0 {
		p.Nodes = AndNodes(nodes...)
	}
	if len(rels) > 0 {
		p.Relationships = AndRelationships(rels...)
	}
	if len(nodeKeys) > 0 {
		p.NodeProperties = txevent.NodePropertyFunc(func(key string, n txevent.Node) bool {
			for _, f := range nodeKeys {
				if !f(key, n) {
					return false
				}
			}
			return true
		})
	}
	if len(relKeys) > 0 {
		p.RelationshipProperties = txevent.RelationshipPropertyFunc(func(key string, r txevent.Relationship) bool {
			for _, f := range relKeys {
				if !f(key, r) {
					return false
				}
			}
			return true
		})
	}
	return p
}
