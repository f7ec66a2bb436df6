package txevent

import (
	"sort"
	"strings"

	"github.com/orneryd/nornicext/pkg/util"
)

// nodeToString renders a node as "(:A:B {k: v})". Labels and keys are sorted;
// an empty property map is omitted.
func nodeToString(n Node) string {
	labels := append([]string(nil), n.Labels()...)
	sort.Strings(labels)

	var b strings.Builder
	b.WriteByte('(')
	for _, label := range labels {
		b.WriteByte(':')
		b.WriteString(label)
	}
	if props := n.Properties(); len(props) > 0 {
		if len(labels) > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("{" + util.PropertiesToString(props) + "}")
	}
	b.WriteByte(')')
	return b.String()
}

// relationshipToString renders "(start)-[:TYPE {k: v}]->(end)" with both
// endpoints shown in the relationship's epoch.
func relationshipToString(r Relationship) string {
	var b strings.Builder
	b.WriteString(nodeToString(r.StartNode()))
	b.WriteString("-[:")
	b.WriteString(r.Type())
	if props := r.Properties(); len(props) > 0 {
		b.WriteString(" {" + util.PropertiesToString(props) + "}")
	}
	b.WriteString("]->")
	b.WriteString(nodeToString(r.EndNode()))
	return b.String()
}

// renderMutations lists one line per mutation visible through v.
func renderMutations(v View) []string {
	seen := make(map[string]struct{})
	add := func(s string) { seen[s] = struct{}{} }

	for _, n := range v.AllCreatedNodes() {
		add("Created node " + nodeToString(n))
	}
	for _, n := range v.AllDeletedNodes() {
		add("Deleted node " + nodeToString(n))
	}
	for _, c := range v.AllChangedNodes() {
		add("Changed node " + nodeToString(c.Previous) + " to " + nodeToString(c.Current))
	}
	for _, r := range v.AllCreatedRelationships() {
		add("Created relationship " + relationshipToString(r))
	}
	for _, r := range v.AllDeletedRelationships() {
		add("Deleted relationship " + relationshipToString(r))
	}
	for _, c := range v.AllChangedRelationships() {
		add("Changed relationship " + relationshipToString(c.Previous) + " to " + relationshipToString(c.Current))
	}

	lines := make([]string, 0, len(seen))
	for s := range seen {
		lines = append(lines, s)
	}
	sort.Strings(lines)
	return lines
}

// mutationsOccurred reports whether any enumeration of v is non-empty.
func mutationsOccurred(v View) bool {
	return len(v.AllCreatedNodes()) > 0 || len(v.AllDeletedNodes()) > 0 ||
		len(v.AllChangedNodes()) > 0 || len(v.AllCreatedRelationships()) > 0 ||
		len(v.AllDeletedRelationships()) > 0 || len(v.AllChangedRelationships()) > 0
}
