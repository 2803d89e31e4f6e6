//go:build !linux && !darwin && !freebsd

package memory

// Without mmap the Go heap backs allocations. Large slices are at least
// cache line aligned, which is all the atomic views need.
func mapMemory(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapMemory(mem []byte) error {
	return nil
}
