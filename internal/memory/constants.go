// Package memory supplies the GPU-visible allocations the submission engine
// runs on: fixed-size, page aligned CPU mappings with a GPU virtual address.
package memory

const (
	KiloByte      = 1024
	MegaByte      = 1024 * KiloByte
	PageSize      = 4 * KiloByte
	PageSize64K   = 64 * KiloByte
	CacheLineSize = 64
)

// AlignUp rounds v up to a multiple of alignment, which must be a power of two.
func AlignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}

// AlignDown rounds v down to a multiple of alignment, which must be a power of two.
func AlignDown(v, alignment uint64) uint64 {
	return v &^ (alignment - 1)
}
