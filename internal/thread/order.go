package thread

// OrderBatch returns items reordered so that every item comes after the
// in-page items it names as parents. Otherwise the original order is kept:
// a parent is pulled forward to just before its first child. Parent keys
// not present in the page are ignored, and cycles are broken at the point
// they are detected.
func OrderBatch[T any](items []T, key func(T) string, parents func(T) []string) []T {
	index := make(map[string]int, len(items))
	for i, it := range items {
		if k := key(it); k != "" {
			if _, dup := index[k]; !dup {
				index[k] = i
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(items))
	out := make([]T, 0, len(items))

	var visit func(i int)
	visit = func(i int) {
		if state[i] != unvisited {
			return
		}
		state[i] = visiting
		for _, p := range parents(items[i]) {
			if j, ok := index[p]; ok && j != i {
				visit(j)
			}
		}
		state[i] = done
		out = append(out, items[i])
	}

	for i := range items {
		visit(i)
	}
	return out
}
