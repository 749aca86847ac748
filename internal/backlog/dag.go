package backlog

import (
	"fmt"
	"sort"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/orcherr"
)

// CompilePhases runs Kahn's algorithm over the task DAG, grouping every
// task that becomes ready in the same topological sweep into one
// phase. Each phase lists its task ids by priority, then lexically by
// id.
func CompilePhases(tasks []*domain.Task) ([]*domain.Phase, error) {
	byID := make(map[string]*domain.Task, len(tasks))
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)

	for _, t := range tasks {
		byID[t.ID] = t
		if _, ok := inDegree[t.ID]; !ok {
			inDegree[t.ID] = 0
		}
	}
	for _, t := range tasks {
		inDegree[t.ID] += len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var phases []*domain.Phase
	remaining := len(tasks)
	frontier := readyIDs(byID, inDegree)
	phaseNum := 0

	for len(frontier) > 0 {
		sort.Strings(frontier)
		sortByPriority(frontier, byID)

		for _, id := range frontier {
			byID[id].Phase = phaseNum
		}
		phases = append(phases, &domain.Phase{Number: phaseNum, TaskIDs: frontier})
		remaining -= len(frontier)

		var next []string
		for _, id := range frontier {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		frontier = next
		phaseNum++
	}

	if remaining > 0 {
		cyclePath := findCycle(tasks)
		return nil, orcherr.Validation("backlog.compile", fmt.Errorf("%w: %v", orcherr.ErrCycleDetected, cyclePath))
	}

	if len(phases) > 0 {
		phases[0].Active = true
	}
	return phases, nil
}

func readyIDs(byID map[string]*domain.Task, inDegree map[string]int) []string {
	var out []string
	for id := range byID {
		if inDegree[id] == 0 {
			out = append(out, id)
		}
	}
	return out
}

func sortByPriority(ids []string, byID map[string]*domain.Task) {
	sort.SliceStable(ids, func(i, j int) bool {
		pi, pj := byID[ids[i]].Priority, byID[ids[j]].Priority
		if pi != pj {
			return pi.Less(pj)
		}
		return ids[i] < ids[j]
	})
}

// findCycle reports a cycle among the tasks that never reached
// in-degree zero, via DFS with a recursion-stack path trace. It is
// whichever cycle the traversal order happens to hit first, not
// necessarily the shortest one in the graph.
func findCycle(tasks []*domain.Task) []string {
	byID := make(map[string]*domain.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(tasks))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = visiting
		path = append(path, id)
		for _, dep := range byID[id].DependsOn {
			switch state[dep] {
			case visiting:
				// found the cycle: slice path from dep's first occurrence
				for i, p := range path {
					if p == dep {
						cycle = append([]string{}, path[i:]...)
						cycle = append(cycle, dep)
						return true
					}
				}
			case unvisited:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		state[id] = visited
		return false
	}

	for _, t := range tasks {
		if state[t.ID] == unvisited {
			if visit(t.ID) {
				return cycle
			}
		}
	}
	return nil
}
