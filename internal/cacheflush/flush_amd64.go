package cacheflush

import "golang.org/x/sys/cpu"

// Implemented in flush_amd64.s.
func clflush(addr uintptr)
func mfence()

// CLFLUSH shipped with SSE2 and x/sys/cpu does not expose its CPUID bit
// separately.
func supported() bool {
	return cpu.X86.HasSSE2
}
