// Package kernel contains the types and helpers shared by every kernel
// subsystem.
package kernel

// Error describes a kernel error. All kernel errors must be defined as global
// variables that are pointers to the Error structure. Error paths may run
// before the heap is available or inside interrupt handlers so they must never
// allocate.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
