package vm

// Frame is one activation record: the argument, local and captured-variable
// slots visible while a function body executes. Globals live outside any
// frame, in the interpreter's own globals slice.
type Frame struct {
	Args     []Value
	Locals   []Value
	Captured []Value
}

// slot returns a pointer to the addressed slot so LD/ST/STI/STA and CLOSURE
// can share one piece of bounds-checked lookup logic.
func (f *Frame) slot(ns Namespace, idx uint32) (*Value, bool) {
	switch ns {
	case NamespaceLocal:
		if int(idx) >= len(f.Locals) {
			return nil, false
		}
		return &f.Locals[idx], true
	case NamespaceArgument:
		if int(idx) >= len(f.Args) {
			return nil, false
		}
		return &f.Args[idx], true
	case NamespaceCaptured:
		if int(idx) >= len(f.Captured) {
			return nil, false
		}
		return &f.Captured[idx], true
	default:
		return nil, false
	}
}

// callStackEntry records what CALL/CALLC push and RET/END pop: the address
// to resume at and the caller's frame to restore.
type callStackEntry struct {
	returnIP uint32
	frame    *Frame
}
