// Package utils holds small helpers shared across the compiler: topological
// sorting for recipe graphs, permutation arithmetic for axis ops, and the
// polynomial fingerprint hash used by the JIT compile cache.
package utils

// TopoSort returns the nodes reachable from roots in dependency order:
// every node appears after all of its parents. Each node is visited once.
func TopoSort[T comparable](roots []T, parents func(T) []T) []T {
	var order []T
	seen := make(map[T]bool)
	var visit func(T)
	visit = func(n T) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, p := range parents(n) {
			visit(p)
		}
		order = append(order, n)
	}
	for _, r := range roots {
		visit(r)
	}
	return order
}

// InversePerm returns the inverse permutation: out[perm[i]] = i.
func InversePerm(perm []int) []int {
	out := make([]int, len(perm))
	for i, p := range perm {
		out[p] = i
	}
	return out
}

// ApplyPerm permutes xs by perm: out[i] = xs[perm[i]].
func ApplyPerm[T any](xs []T, perm []int) []T {
	out := make([]T, len(xs))
	for i, p := range perm {
		out[i] = xs[p]
	}
	return out
}

// IsPerm reports whether perm is a permutation of [0, n).
func IsPerm(perm []int, n int) bool {
	if len(perm) != n {
		return false
	}
	seen := make([]bool, n)
	for _, p := range perm {
		if p < 0 || p >= n || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}
