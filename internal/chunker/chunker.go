package chunker

// Partition splits items into consecutive batches of at most size elements.
// Every item lands in exactly one batch and relative order is preserved; only
// the last batch may be short. A non-positive size yields a single batch.
func Partition[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		out := make([]T, len(items))
		copy(out, items)
		return [][]T{out}
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batch := make([]T, end-start)
		copy(batch, items[start:end])
		batches = append(batches, batch)
	}
	return batches
}
