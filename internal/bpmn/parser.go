// Package bpmn parses BPMN process definition documents into a typed
// node/edge graph used by the workflow engine.
package bpmn

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// NodeKind classifies a graph node
type NodeKind string

const (
	KindStart   NodeKind = "start"
	KindEnd     NodeKind = "end"
	KindTask    NodeKind = "task"
	KindGateway NodeKind = "gateway"
)

// NodeMeta carries optional assignment metadata declared on a task node.
// It is nil when the definition carries no extension properties.
type NodeMeta struct {
	OrgLevels      []int
	CandidateRoles []string
	SkipIfEmpty    bool
}

// Node is one element of the parsed process graph
type Node struct {
	ID   string
	Name string
	Kind NodeKind
	// Key is the derived task key; empty for non-task nodes.
	Key  string
	Meta *NodeMeta
}

// Graph is the parsed process graph: nodes plus directed flows kept in
// declaration order.
type Graph struct {
	ProcessID   string
	ProcessName string
	nodes       map[string]*Node
	order       []string
	succ        map[string][]string
	pred        map[string][]string
}

// Node returns the node with the given id, or nil
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Nodes returns all nodes in declaration order
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// StartNode returns the first declared start node, or nil
func (g *Graph) StartNode() *Node {
	for _, id := range g.order {
		if n := g.nodes[id]; n.Kind == KindStart {
			return n
		}
	}
	return nil
}

// TaskNodeByKey returns the task node with the given derived key, or nil
func (g *Graph) TaskNodeByKey(key string) *Node {
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Kind == KindTask && n.Key == key {
			return n
		}
	}
	return nil
}

// Successors returns the ordered successor ids of a node
func (g *Graph) Successors(id string) []string {
	return g.succ[id]
}

// Predecessors returns the ids of nodes with a flow into the given node
func (g *Graph) Predecessors(id string) []string {
	return g.pred[id]
}

// Adjacency returns a copy of the full adjacency map
func (g *Graph) Adjacency() map[string][]string {
	out := make(map[string][]string, len(g.succ))
	for id, next := range g.succ {
		out[id] = append([]string(nil), next...)
	}
	return out
}

// NextTaskNode walks forward from the given node and returns the first
// (or last, for the reject path) task-type successor. Gateways are passed
// through transparently: their own successors are inspected, not their
// identity. The second result is true when the walk reached an end node.
func (g *Graph) NextTaskNode(id string, last bool) (*Node, bool) {
	next := g.succ[id]
	if len(next) == 0 {
		return nil, false
	}
	pick := next[0]
	if last {
		pick = next[len(next)-1]
	}
	node := g.nodes[pick]
	if node == nil {
		return nil, false
	}
	switch node.Kind {
	case KindTask:
		return node, false
	case KindEnd:
		return nil, true
	case KindGateway:
		return g.NextTaskNode(node.ID, last)
	}
	return nil, false
}

// PriorTaskKeys returns the derived keys of all task nodes reachable by
// reverse traversal from the given node, walking through gateways. The
// traversal stops at start nodes. Used to validate return targets.
func (g *Graph) PriorTaskKeys(id string) []string {
	var keys []string
	seen := map[string]bool{}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, pid := range g.pred[cur] {
			p := g.nodes[pid]
			if p == nil {
				continue
			}
			if p.Kind == KindTask && !contains(keys, p.Key) {
				keys = append(keys, p.Key)
			}
			if p.Kind != KindStart && !seen[p.ID] {
				queue = append(queue, p.ID)
			}
		}
	}
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// keyRule maps display-name keywords to a canonical task key. All keywords
// of a rule must appear in the name; rules are evaluated in order and the
// first match wins.
type keyRule struct {
	keywords []string
	key      string
}

var keyRules = []keyRule{
	{[]string{"originator"}, "manager_identification"},
	{[]string{"account manager"}, "manager_identification"},
	{[]string{"second-tier"}, "branch_review"},
	{[]string{"first-tier", "review"}, "final_review"},
	{[]string{"first-tier"}, "first_approval"},
	{[]string{"review"}, "final_review"},
}

// DeriveKey maps a task display name to its canonical task key. Names
// matching no rule are normalized: lowercased with spaces replaced by
// underscores.
func DeriveKey(name string) string {
	lower := strings.ToLower(name)
	for _, rule := range keyRules {
		matched := true
		for _, kw := range rule.keywords {
			if !strings.Contains(lower, kw) {
				matched = false
				break
			}
		}
		if matched {
			return rule.key
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(lower), " ", "_")
}

// XML document shapes. Only the elements the engine needs are mapped;
// diagram interchange elements are ignored.
type (
	xmlDefinitions struct {
		XMLName xml.Name    `xml:"definitions"`
		Process *xmlProcess `xml:"process"`
	}

	xmlProcess struct {
		ID       string       `xml:"id,attr"`
		Name     string       `xml:"name,attr"`
		Elements []xmlElement `xml:",any"`
		Flows    []xmlFlow    `xml:"sequenceFlow"`
	}

	xmlElement struct {
		XMLName    xml.Name
		ID         string       `xml:"id,attr"`
		Name       string       `xml:"name,attr"`
		Extensions *xmlExtAnchr `xml:"extensionElements"`
	}

	xmlExtAnchr struct {
		Properties []xmlProperty `xml:"properties>property"`
	}

	xmlProperty struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value,attr"`
	}

	xmlFlow struct {
		ID        string `xml:"id,attr"`
		SourceRef string `xml:"sourceRef,attr"`
		TargetRef string `xml:"targetRef,attr"`
	}
)

var taskElements = map[string]bool{
	"userTask":         true,
	"task":             true,
	"serviceTask":      true,
	"scriptTask":       true,
	"businessRuleTask": true,
	"receiveTask":      true,
	"sendTask":         true,
	"manualTask":       true,
}

var gatewayElements = map[string]bool{
	"exclusiveGateway": true,
	"parallelGateway":  true,
}

// Parse builds a Graph from a BPMN XML document. It fails when the document
// is not well-formed or contains no process element.
func Parse(doc []byte) (*Graph, error) {
	var defs xmlDefinitions
	if err := xml.Unmarshal(doc, &defs); err != nil {
		return nil, fmt.Errorf("parse process definition: %w", err)
	}
	if defs.Process == nil {
		return nil, fmt.Errorf("parse process definition: no process element")
	}

	g := &Graph{
		ProcessID:   defs.Process.ID,
		ProcessName: defs.Process.Name,
		nodes:       map[string]*Node{},
		succ:        map[string][]string{},
		pred:        map[string][]string{},
	}

	for i := range defs.Process.Elements {
		el := &defs.Process.Elements[i]
		local := el.XMLName.Local
		var kind NodeKind
		switch {
		case local == "startEvent":
			kind = KindStart
		case local == "endEvent":
			kind = KindEnd
		case taskElements[local]:
			kind = KindTask
		case gatewayElements[local]:
			kind = KindGateway
		default:
			continue
		}
		name := el.Name
		if name == "" {
			name = el.ID
		}
		node := &Node{ID: el.ID, Name: name, Kind: kind}
		if kind == KindTask {
			node.Key = DeriveKey(name)
			node.Meta = parseMeta(el.Extensions)
		}
		g.nodes[node.ID] = node
		g.order = append(g.order, node.ID)
	}

	for _, f := range defs.Process.Flows {
		if _, ok := g.nodes[f.SourceRef]; !ok {
			continue
		}
		if _, ok := g.nodes[f.TargetRef]; !ok {
			continue
		}
		g.succ[f.SourceRef] = append(g.succ[f.SourceRef], f.TargetRef)
		g.pred[f.TargetRef] = append(g.pred[f.TargetRef], f.SourceRef)
	}

	return g, nil
}

func parseMeta(ext *xmlExtAnchr) *NodeMeta {
	if ext == nil || len(ext.Properties) == 0 {
		return nil
	}
	meta := &NodeMeta{}
	present := false
	for _, p := range ext.Properties {
		switch p.Name {
		case "orgLevels":
			var levels []int
			if err := json.Unmarshal([]byte(p.Value), &levels); err == nil && len(levels) > 0 {
				meta.OrgLevels = levels
				present = true
			}
		case "candidateGroups":
			for _, role := range strings.Split(p.Value, ",") {
				if role = strings.TrimSpace(role); role != "" {
					meta.CandidateRoles = append(meta.CandidateRoles, role)
				}
			}
			if len(meta.CandidateRoles) > 0 {
				present = true
			}
		case "skipIfEmpty":
			if strings.EqualFold(p.Value, "true") {
				meta.SkipIfEmpty = true
				present = true
			}
		}
	}
	if !present {
		return nil
	}
	return meta
}
