package config

import "slices"

// Partition splits items into consecutive groups of at most size elements,
// preserving order. size must be > 0.
func Partition[T any](items []T, size int) [][]T {
	groups := make([][]T, 0, (len(items)+size-1)/size)
	for chunk := range slices.Chunk(items, size) {
		groups = append(groups, chunk)
	}
	return groups
}
