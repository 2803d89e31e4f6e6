//go:build !amd64

package cacheflush

// Other architectures are treated as I/O coherent for host allocations.
func clflush(addr uintptr) {}

func mfence() {}

func supported() bool {
	return true
}
