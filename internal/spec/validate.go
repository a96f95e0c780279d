package spec

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyIssue is a problem with the task dependency graph.
type DependencyIssue struct {
	Kind    string `json:"kind"` // "unknown-dependency" or "dependency-cycle"
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}

// ValidateDependencies reports references to undeclared tasks and cycles in
// the dependency graph.
func ValidateDependencies(doc *TaskDocument) []DependencyIssue {
	var issues []DependencyIssue
	for _, t := range doc.Tasks {
		for _, dep := range t.Dependencies {
			if _, ok := doc.byID[dep]; !ok {
				issues = append(issues, DependencyIssue{
					Kind:    "unknown-dependency",
					TaskID:  t.ID,
					Message: fmt.Sprintf("%s depends on undeclared task %s", t.ID, dep),
				})
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(doc.Tasks))
	reported := make(map[string]bool)
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		state[id] = visiting
		stack = append(stack, id)
		if t, ok := doc.byID[id]; ok {
			for _, dep := range t.Dependencies {
				if _, known := doc.byID[dep]; !known {
					continue
				}
				switch state[dep] {
				case unvisited:
					visit(dep)
				case visiting:
					cycle := cycleFrom(stack, dep)
					key := canonicalCycle(cycle)
					if !reported[key] {
						reported[key] = true
						issues = append(issues, DependencyIssue{
							Kind:    "dependency-cycle",
							TaskID:  dep,
							Message: "dependency cycle: " + strings.Join(append(cycle, dep), " -> "),
						})
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	for _, t := range doc.Tasks {
		if state[t.ID] == unvisited {
			visit(t.ID)
		}
	}
	return issues
}

func cycleFrom(stack []string, start string) []string {
	for i, id := range stack {
		if id == start {
			return append([]string(nil), stack[i:]...)
		}
	}
	return []string{start}
}

func canonicalCycle(cycle []string) string {
	sorted := append([]string(nil), cycle...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
