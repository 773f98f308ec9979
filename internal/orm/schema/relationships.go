package schema

import (
	"fmt"
	"strings"
)

// Reference is one foreign key edge from Entity.ForeignKey to Target
type Reference struct {
	Entity     *EntityMetadata
	Field      *FieldMetadata // the complex reference field
	ForeignKey *FieldMetadata // the scalar column holding the target id
	Target     string
}

// RelationshipGraph represents the reference graph between entities
type RelationshipGraph struct {
	nodes map[string]*EntityMetadata
	order []string
	edges map[string][]Reference // entity -> references it holds
}

// NewRelationshipGraph creates a relationship graph from the given metadata
func NewRelationshipGraph(metas []*EntityMetadata) *RelationshipGraph {
	graph := &RelationshipGraph{
		nodes: make(map[string]*EntityMetadata, len(metas)),
		edges: make(map[string][]Reference),
	}

	for _, m := range metas {
		graph.nodes[m.Name] = m
		graph.order = append(graph.order, m.Name)
	}

	for _, m := range metas {
		for _, ref := range m.References() {
			fk, _ := m.ForeignKeyFor(ref.Name)
			graph.edges[m.Name] = append(graph.edges[m.Name], Reference{
				Entity:     m,
				Field:      ref,
				ForeignKey: fk,
				Target:     ref.FieldType,
			})
		}
	}

	return graph
}

// GetDependencies returns the entity names the given entity references
func (g *RelationshipGraph) GetDependencies(name string) []string {
	var deps []string
	seen := make(map[string]bool)
	for _, ref := range g.edges[name] {
		if !seen[ref.Target] {
			seen[ref.Target] = true
			deps = append(deps, ref.Target)
		}
	}
	return deps
}

// MandatoryReferences returns references to target whose foreign key column is mandatory
func (g *RelationshipGraph) MandatoryReferences(target string) []Reference {
	var result []Reference
	for _, name := range g.order {
		for _, ref := range g.edges[name] {
			if ref.Target != target || ref.ForeignKey == nil {
				continue
			}
			if ref.ForeignKey.Mandatory {
				result = append(result, ref)
			}
		}
	}
	return result
}

// DetectCycles detects circular references in the graph; self references are ignored
func (g *RelationshipGraph) DetectCycles() [][]string {
	var cycles [][]string
	visited := make(map[string]bool)
	recursionStack := make(map[string]bool)

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		visited[node] = true
		recursionStack[node] = true
		path = append(path, node)

		for _, neighbor := range g.GetDependencies(node) {
			if neighbor == node {
				continue
			}
			if !visited[neighbor] {
				dfs(neighbor, path)
			} else if recursionStack[neighbor] {
				for i, n := range path {
					if n == neighbor {
						cycle := make([]string, len(path)-i)
						copy(cycle, path[i:])
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		recursionStack[node] = false
	}

	for _, node := range g.order {
		if !visited[node] {
			dfs(node, nil)
		}
	}

	return cycles
}

// TopologicalSort returns entity names in dependency order (referenced entities first)
func (g *RelationshipGraph) TopologicalSort() ([]string, error) {
	outDegree := make(map[string]int)
	reverseEdges := make(map[string][]string)
	for _, node := range g.order {
		for _, dep := range g.GetDependencies(node) {
			if dep == node {
				continue
			}
			if _, known := g.nodes[dep]; !known {
				continue
			}
			outDegree[node]++
			reverseEdges[dep] = append(reverseEdges[dep], node)
		}
	}

	queue := []string{}
	for _, node := range g.order {
		if outDegree[node] == 0 {
			queue = append(queue, node)
		}
	}

	result := []string{}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, dependent := range reverseEdges[node] {
			outDegree[dependent]--
			if outDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("circular dependency detected: %s", formatCycles(g.DetectCycles()))
	}

	return result, nil
}

func formatCycles(cycles [][]string) string {
	parts := make([]string, 0, len(cycles))
	for _, cycle := range cycles {
		parts = append(parts, strings.Join(cycle, " -> ")+" -> "+cycle[0])
	}
	return strings.Join(parts, "; ")
}
