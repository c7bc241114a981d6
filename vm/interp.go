package vm

import (
	"bufio"
	"io"
	"os"

	"go.uber.org/zap"
)

const (
	maxValueStackDepth = 10000
	maxCallStackDepth  = 10000
)

// VM is one interpreter instance: an image, its evaluation stack, call
// stack, global area and live frame, plus the stdio streams builtins read
// and write through.
type VM struct {
	image *BytecodeImage
	rdr   reader

	valueStack []Value
	callStack  []callStackEntry
	globals    []Value
	frame      *Frame

	stdout *bufio.Writer
	stdin  *bufio.Reader

	logger *zap.Logger

	// errcode is set once Step returns a non-nil error (errHalted on a normal
	// halt); RunProgram reads it back out after the loop breaks.
	errcode error
}

// NewVirtualMachine builds a VM ready to execute img from its first
// instruction, with the global area zero-initialized to Empty.
func NewVirtualMachine(img *BytecodeImage, logger *zap.Logger) *VM {
	globals := make([]Value, img.GlobalSize)
	for i := range globals {
		globals[i] = EmptyValue()
	}
	return &VM{
		image:      img,
		rdr:        reader{code: img.Code},
		valueStack: make([]Value, 0, 256),
		globals:    globals,
		frame:      &Frame{},
		stdout:     bufio.NewWriter(os.Stdout),
		stdin:      bufio.NewReader(os.Stdin),
		logger:     logger,
	}
}

// Seek moves the instruction pointer to ip, letting a caller start execution
// at a public entry point other than the first byte of the code section.
func (vm *VM) Seek(ip uint32) {
	vm.rdr.ip = ip
}

func (vm *VM) push(v Value) error {
	if len(vm.valueStack) >= maxValueStackDepth {
		return ErrStackOverflow
	}
	vm.valueStack = append(vm.valueStack, v)
	return nil
}

func (vm *VM) pop() (Value, error) {
	if len(vm.valueStack) == 0 {
		return Value{}, ErrStackUnderflow
	}
	top := len(vm.valueStack) - 1
	v := vm.valueStack[top]
	vm.valueStack = vm.valueStack[:top]
	return v, nil
}

func (vm *VM) peek() (Value, error) {
	if len(vm.valueStack) == 0 {
		return Value{}, ErrStackUnderflow
	}
	return vm.valueStack[len(vm.valueStack)-1], nil
}

func (vm *VM) popInt() (int32, error) {
	v, err := vm.pop()
	if err != nil {
		return 0, err
	}
	if !v.IsInt() {
		return 0, ErrTypeError
	}
	return v.Int(), nil
}

// popNAscending pops n values off the stack in ascending-index order: dst[0] receives
// the first (shallowest / most recently pushed) pop. This is the
// CALL/CALLC argument-binding convention and SEXP's child-binding
// convention: both do `dst[i] = pop()` for i ascending from 0.
func (vm *VM) popNAscending(n int) ([]Value, error) {
	dst := make([]Value, n)
	for i := 0; i < n; i++ {
		v, err := vm.pop()
		if err != nil {
			return nil, err
		}
		dst[i] = v
	}
	return dst, nil
}

// popNDescending pops n values with dst[n-1] receiving the first pop, so
// dst[0] ends up holding the deepest (first pushed) value. This is the
// `array` builtin's element-binding convention, the one case that binds the opposite
// way from CALL/CALLC and SEXP.
func (vm *VM) popNDescending(n int) ([]Value, error) {
	dst := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := vm.pop()
		if err != nil {
			return nil, err
		}
		dst[i] = v
	}
	return dst, nil
}

func (vm *VM) loadNamespace(ns Namespace, idx uint32) (Value, error) {
	if ns == NamespaceGlobal {
		if idx >= uint32(len(vm.globals)) {
			return Value{}, ErrMalformedImage
		}
		return vm.globals[idx], nil
	}
	slot, ok := vm.frame.slot(ns, idx)
	if !ok {
		return Value{}, ErrMalformedImage
	}
	return *slot, nil
}

func (vm *VM) storeNamespace(ns Namespace, idx uint32, v Value) error {
	if ns == NamespaceGlobal {
		if idx >= uint32(len(vm.globals)) {
			return ErrMalformedImage
		}
		vm.globals[idx] = v
		return nil
	}
	slot, ok := vm.frame.slot(ns, idx)
	if !ok {
		return ErrMalformedImage
	}
	*slot = v
	return nil
}

// Step decodes and executes exactly one instruction. It returns errHalted
// when the program has run off the code section, reached STOP, or executed
// END/RET with an empty call stack.
func (vm *VM) Step() error {
	op, err := vm.rdr.readByteOp()
	if err != nil {
		if err == io.EOF {
			return errHalted
		}
		return err
	}

	switch op.group() {
	case groupBinop:
		return vm.execBinop(op)
	case groupMisc1:
		return vm.execMisc1(op)
	case groupLoad:
		idx, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		ns := Namespace(op.variant())
		if !ns.valid() {
			return ErrInvalidOpcode
		}
		v, err := vm.loadNamespace(ns, uint32(idx))
		if err != nil {
			return err
		}
		return vm.push(v)
	case groupLoadRef:
		idx, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		ns := Namespace(op.variant())
		if !ns.valid() {
			return ErrInvalidOpcode
		}
		return vm.push(NewReference(Designator{Namespace: ns, Index: uint32(idx)}))
	case groupStore:
		idx, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		ns := Namespace(op.variant())
		if !ns.valid() {
			return ErrInvalidOpcode
		}
		top, err := vm.peek()
		if err != nil {
			return err
		}
		return vm.storeNamespace(ns, uint32(idx), top)
	case groupMisc2:
		return vm.execMisc2(op)
	case groupPatt:
		return vm.execPatt(PattKind(op.variant()))
	case groupBuiltin:
		return vm.execBuiltin(Builtin(op.variant()))
	case groupStop:
		return errHalted
	default:
		return ErrInvalidOpcode
	}
}

func (vm *VM) execBinop(op Bytecode) error {
	v := op.variant()
	if v < 1 || v > 13 {
		return ErrInvalidOpcode
	}
	kind := binopKind(v - 1)

	y, err := vm.pop()
	if err != nil {
		return err
	}
	x, err := vm.pop()
	if err != nil {
		return err
	}

	if kind == binopEq {
		if !x.IsInt() && !y.IsInt() {
			return ErrTypeError
		}
		if !x.IsInt() || !y.IsInt() {
			return vm.push(NewInt(0))
		}
		return vm.push(BoolValue(x.Int() == y.Int()))
	}

	if !x.IsInt() || !y.IsInt() {
		return ErrTypeError
	}
	xi, yi := x.Int(), y.Int()

	var result int32
	switch kind {
	case binopAdd:
		result = xi + yi
	case binopSub:
		result = xi - yi
	case binopMul:
		result = xi * yi
	case binopDiv:
		if yi == 0 {
			return ErrMathError
		}
		result = xi / yi
	case binopMod:
		if yi == 0 {
			return ErrMathError
		}
		result = xi % yi
	case binopLt:
		return vm.push(BoolValue(xi < yi))
	case binopLe:
		return vm.push(BoolValue(xi <= yi))
	case binopGt:
		return vm.push(BoolValue(xi > yi))
	case binopGe:
		return vm.push(BoolValue(xi >= yi))
	case binopNe:
		return vm.push(BoolValue(xi != yi))
	case binopAnd:
		return vm.push(BoolValue(xi != 0 && yi != 0))
	case binopOr:
		return vm.push(BoolValue(xi != 0 || yi != 0))
	default:
		return ErrInvalidOpcode
	}
	return vm.push(NewInt(result))
}

func (vm *VM) execMisc1(op Bytecode) error {
	switch op {
	case opConst:
		n, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		return vm.push(NewInt(n))

	case opString:
		off, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		s, err := vm.image.StringAt(uint32(off))
		if err != nil {
			return err
		}
		return vm.push(NewString(s))

	case opSexp:
		off, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		tag, err := vm.image.StringAt(uint32(off))
		if err != nil {
			return err
		}
		n, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		if n < 0 || n > maxSexpArity {
			return ErrMalformedImage
		}
		children, err := vm.popNAscending(int(n))
		if err != nil {
			return err
		}
		return vm.push(NewSexp(tag, children))

	case opSti:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		ref, err := vm.pop()
		if err != nil {
			return err
		}
		if !ref.IsReference() {
			return ErrTypeError
		}
		d := ref.Reference()
		if err := vm.storeNamespace(d.Namespace, d.Index, v); err != nil {
			return err
		}
		return vm.push(v)

	case opSta:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		j, err := vm.pop()
		if err != nil {
			return err
		}
		switch {
		case j.IsReference():
			d := j.Reference()
			if err := vm.storeNamespace(d.Namespace, d.Index, v); err != nil {
				return err
			}
		case j.IsInt():
			container, err := vm.pop()
			if err != nil {
				return err
			}
			if err := storeIndexed(container, int(j.Int()), v); err != nil {
				return err
			}
		default:
			return ErrTypeError
		}
		return vm.push(v)

	case opJmp:
		addr, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		vm.rdr.ip = uint32(addr)
		return nil

	case opEnd, opRet:
		return vm.doReturn()

	case opDrop:
		_, err := vm.pop()
		return err

	case opDup:
		v, err := vm.peek()
		if err != nil {
			return err
		}
		return vm.push(v)

	case opSwap:
		if len(vm.valueStack) < 2 {
			return ErrStackUnderflow
		}
		top := len(vm.valueStack) - 1
		vm.valueStack[top], vm.valueStack[top-1] = vm.valueStack[top-1], vm.valueStack[top]
		return nil

	case opElem:
		return vm.execElem()

	default:
		return ErrInvalidOpcode
	}
}

// storeIndexed implements STA's container-indexed write: Array and Sexp
// accept any value, String truncates an Int to its low byte.
func storeIndexed(container Value, pos int, v Value) error {
	switch container.Kind() {
	case KindArray:
		arr := container.Array()
		if pos < 0 || pos >= len(arr.Elements) {
			return ErrMalformedImage
		}
		arr.Elements[pos] = v
	case KindSexp:
		s := container.Sexp()
		if pos < 0 || pos >= len(s.Children) {
			return ErrMalformedImage
		}
		s.Children[pos] = v
	case KindString:
		if !v.IsInt() {
			return ErrTypeError
		}
		sv := container.StringVal()
		if pos < 0 || pos >= len(sv.Bytes) {
			return ErrMalformedImage
		}
		sv.Bytes[pos] = byte(v.Int())
	default:
		return ErrTypeError
	}
	return nil
}

func (vm *VM) execElem() error {
	idx, err := vm.popInt()
	if err != nil {
		return err
	}
	container, err := vm.pop()
	if err != nil {
		return err
	}
	v, err := elemAt(container, int(idx))
	if err != nil {
		return err
	}
	return vm.push(v)
}

func elemAt(container Value, idx int) (Value, error) {
	switch container.Kind() {
	case KindArray:
		elems := container.Array().Elements
		if idx < 0 || idx >= len(elems) {
			return Value{}, ErrMalformedImage
		}
		return elems[idx], nil
	case KindSexp:
		children := container.Sexp().Children
		if idx < 0 || idx >= len(children) {
			return Value{}, ErrMalformedImage
		}
		return children[idx], nil
	case KindString:
		bs := container.StringVal().Bytes
		if idx < 0 || idx >= len(bs) {
			return Value{}, ErrMalformedImage
		}
		return NewInt(int32(bs[idx])), nil
	default:
		return Value{}, ErrTypeError
	}
}

// doReturn implements END/RET: halt if the call stack is empty, otherwise
// restore the caller's frame and resume at its return address.
func (vm *VM) doReturn() error {
	if len(vm.callStack) == 0 {
		return errHalted
	}
	top := len(vm.callStack) - 1
	entry := vm.callStack[top]
	vm.callStack = vm.callStack[:top]
	vm.frame = entry.frame
	vm.rdr.ip = entry.returnIP
	return nil
}

func (vm *VM) execMisc2(op Bytecode) error {
	switch op {
	case opCjmpZero, opCjmpNonZero:
		addr, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		v, err := vm.popInt()
		if err != nil {
			return err
		}
		zero := v == 0
		if (op == opCjmpZero && zero) || (op == opCjmpNonZero && !zero) {
			vm.rdr.ip = uint32(addr)
		}
		return nil

	case opBegin, opCbegin:
		if _, err := vm.rdr.readInt32(); err != nil { // arg count: decoded, unused
			return err
		}
		localCount, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		if localCount < 0 {
			return ErrMalformedImage
		}
		locals := make([]Value, localCount)
		for i := range locals {
			locals[i] = EmptyValue()
		}
		vm.frame.Locals = locals
		return nil

	case opClosure:
		entryIP, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		n, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		captured := make([]Value, n)
		for i := range captured {
			nsByte, err := vm.rdr.readByte()
			if err != nil {
				return err
			}
			ns := Namespace(nsByte)
			if !ns.valid() {
				return ErrInvalidOpcode
			}
			idx, err := vm.rdr.readInt32()
			if err != nil {
				return err
			}
			v, err := vm.loadNamespace(ns, uint32(idx))
			if err != nil {
				return err
			}
			captured[i] = v
		}
		return vm.push(NewClosure(uint32(entryIP), captured))

	case opCallc:
		n, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		callee, err := vm.pop()
		if err != nil {
			return err
		}
		if !callee.IsClosure() {
			return ErrTypeError
		}
		clo := callee.Closure()
		args, err := vm.popNAscending(int(n))
		if err != nil {
			return err
		}
		return vm.enterCall(clo.EntryIP, args, clo.Captured)

	case opCall:
		entryIP, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		n, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		args, err := vm.popNAscending(int(n))
		if err != nil {
			return err
		}
		return vm.enterCall(uint32(entryIP), args, nil)

	case opTag:
		if _, err := vm.rdr.readInt32(); err != nil { // STRREF, unused
			return err
		}
		if _, err := vm.rdr.readInt32(); err != nil { // arity, unused
			return err
		}
		return nil

	// (see tagMatches below for the behavior byterun.c decodes here and
	// never wires up)

	case opArray:
		n, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		v, err := vm.pop()
		if err != nil {
			return err
		}
		if !v.IsArray() || int32(len(v.Array().Elements)) != n {
			return vm.push(NewInt(0))
		}
		return vm.push(NewInt(1))

	case opFail:
		line, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		col, err := vm.rdr.readInt32()
		if err != nil {
			return err
		}
		return &PatternMatchError{Line: int(line), Col: int(col)}

	case opLine:
		_, err := vm.rdr.readInt32()
		return err

	default:
		return ErrInvalidOpcode
	}
}

// tagMatches implements the behavior byterun.c's TAG case decodes a
// (name, arity) pair for and then discards without using: peek (not pop)
// the stack top and report whether it is an Sexp whose tag equals name and
// whose arity equals arity. Step never calls this - TAG is wired as a
// decode-only no-op above, matching the reference - but the intended check
// is kept here as working code instead of only a comment.
func (vm *VM) tagMatches(name string, arity int32) (bool, error) {
	top, err := vm.peek()
	if err != nil {
		return false, err
	}
	if !top.IsSexp() {
		return false, nil
	}
	s := top.Sexp()
	return s.Tag == name && int32(len(s.Children)) == arity, nil
}

// enterCall pushes the current frame/ip onto the call stack, binds n
// ascending-order arguments and the given captures into a fresh frame, and
// jumps to entryIP.
func (vm *VM) enterCall(entryIP uint32, args, captured []Value) error {
	if len(vm.callStack) >= maxCallStackDepth {
		return ErrStackOverflow
	}
	vm.callStack = append(vm.callStack, callStackEntry{
		returnIP: vm.rdr.ip,
		frame:    vm.frame,
	})
	vm.frame = &Frame{Args: args, Captured: captured}
	vm.rdr.ip = entryIP
	return nil
}

func (vm *VM) execPatt(p PattKind) error {
	x, err := vm.pop()
	if err != nil {
		return err
	}
	if p == PattStringEq {
		y, err := vm.pop()
		if err != nil {
			return err
		}
		if !x.IsString() || !y.IsString() {
			return vm.push(NewInt(0))
		}
		return vm.push(BoolValue(x.Str() == y.Str()))
	}

	var res bool
	switch p {
	case PattString:
		res = x.IsString()
	case PattArray:
		res = x.IsArray()
	case PattSexp:
		res = x.IsSexp()
	case PattNonInt:
		res = !x.IsInt()
	case PattInt:
		res = x.IsInt()
	case PattClosure:
		res = x.IsClosure()
	default:
		return ErrInvalidOpcode
	}
	return vm.push(BoolValue(res))
}
