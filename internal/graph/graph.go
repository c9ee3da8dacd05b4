// Package graph provides pure traversal helpers over a dependency
// adjacency relation. The functions take a neighbor callback rather than
// a store handle so they are unit-testable against an in-memory edge set.
package graph

import "context"

// NeighborFunc returns the nodes that id points at (the tasks id depends
// on). It is called once per visited node during traversal.
type NeighborFunc func(ctx context.Context, id string) ([]string, error)

// Reachable reports whether target can be reached from start by
// following edges returned by neighbors. Breadth-first with a visited
// set, O(V+E).
func Reachable(ctx context.Context, start, target string, neighbors NeighborFunc) (bool, error) {
	if start == target {
		return true, nil
	}
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		next, err := neighbors(ctx, node)
		if err != nil {
			return false, err
		}
		for _, n := range next {
			if n == target {
				return true, nil
			}
			if !visited[n] {
				visited[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false, nil
}

// WouldCycle reports whether inserting the edge task -> dependsOn would
// close a cycle: true iff task is already reachable from dependsOn.
func WouldCycle(ctx context.Context, task, dependsOn string, neighbors NeighborFunc) (bool, error) {
	return Reachable(ctx, dependsOn, task, neighbors)
}
