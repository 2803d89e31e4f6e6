// Package fault signals unrecoverable driver faults.
//
// A fault is raised for precondition violations after which the GPU state can
// no longer be trusted: a failed substrate allocation, a missing CPU feature or
// a workload the engine was never built to execute. Faults panic with a *Fault
// value and are never returned as ordinary errors, so callers cannot mistake
// them for a retryable condition.
package fault

import "fmt"

// Fault is the panic value carried by an unrecoverable fault.
type Fault struct {
	Reason string
}

func (f *Fault) Error() string {
	return "unrecoverable fault: " + f.Reason
}

// Raise panics with a *Fault built from the format arguments.
func Raise(format string, args ...interface{}) {
	panic(&Fault{Reason: fmt.Sprintf(format, args...)})
}

// UnrecoverableIf raises a fault when cond holds.
func UnrecoverableIf(cond bool, format string, args ...interface{}) {
	if cond {
		Raise(format, args...)
	}
}

// Recovered reports whether v, a value returned by recover, is a *Fault.
func Recovered(v interface{}) (*Fault, bool) {
	f, ok := v.(*Fault)
	return f, ok
}
