package registry

import "github.com/morezero/module-registry/pkg/db"

// missingDependencies returns the dependency ids absent from the snapshot.
// candidateID is treated as present so a module may be validated against a
// graph that will contain it.
func missingDependencies(snapshot []db.ModuleRecord, candidateID string, deps []string) []string {
	present := make(map[string]bool, len(snapshot)+1)
	for i := range snapshot {
		present[snapshot[i].ModuleID] = true
	}
	present[candidateID] = true

	var missing []string
	for _, dep := range deps {
		if !present[dep] {
			missing = append(missing, dep)
		}
	}
	return missing
}

// findCycle checks whether giving candidateID the dependency edges deps,
// on top of the snapshot's existing edges, closes a cycle. The candidate's
// previous edges (if it is already registered) are replaced, not merged.
// Returns the cycle as a module id path ending where it started, or nil.
func findCycle(snapshot []db.ModuleRecord, candidateID string, deps []string) []string {
	edges := make(map[string][]string, len(snapshot)+1)
	for i := range snapshot {
		rec := &snapshot[i]
		if rec.ModuleID == candidateID {
			continue
		}
		edges[rec.ModuleID] = rec.Dependencies
	}
	edges[candidateID] = deps

	// A self-dependency is the smallest cycle.
	for _, dep := range deps {
		if dep == candidateID {
			return []string{candidateID, candidateID}
		}
	}

	// Any new cycle must pass through the candidate's fresh edges, so a
	// DFS rooted there covers every path that could have changed.
	var path []string
	onPath := make(map[string]bool)
	visited := make(map[string]bool)

	var visit func(id string) []string
	visit = func(id string) []string {
		if onPath[id] {
			// Trim the path down to the cycle itself.
			for i, p := range path {
				if p == id {
					return append(append([]string{}, path[i:]...), id)
				}
			}
			return append(append([]string{}, path...), id)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		onPath[id] = true
		path = append(path, id)
		for _, dep := range edges[id] {
			if cycle := visit(dep); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		onPath[id] = false
		return nil
	}

	return visit(candidateID)
}
