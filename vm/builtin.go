package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// execBuiltin dispatches one of the six CALL-builtin primitives. Only
// BuiltinArray carries its own INT32 operand (the element count); the rest
// work entirely off the evaluation stack.
func (vm *VM) execBuiltin(b Builtin) error {
	switch b {
	case BuiltinRead:
		return vm.builtinRead()
	case BuiltinWrite:
		return vm.builtinWrite()
	case BuiltinLength:
		return vm.builtinLength()
	case BuiltinString:
		return vm.builtinString()
	case BuiltinArray:
		return vm.builtinArray()
	case BuiltinElem:
		return vm.execElem()
	default:
		return ErrInvalidOpcode
	}
}

func (vm *VM) builtinRead() error {
	if _, err := vm.stdout.WriteString("> "); err != nil {
		return errors.Wrap(err, "writing prompt")
	}
	if err := vm.stdout.Flush(); err != nil {
		return errors.Wrap(err, "flushing prompt")
	}
	var n int32
	if _, err := fmt.Fscan(vm.stdin, &n); err != nil {
		return errors.Wrap(err, "reading integer from stdin")
	}
	return vm.push(NewInt(n))
}

func (vm *VM) builtinWrite() error {
	top, err := vm.pop()
	if err != nil {
		return err
	}
	if top.IsInt() {
		if _, err := fmt.Fprintf(vm.stdout, "%d\n", top.Int()); err != nil {
			return errors.Wrap(err, "writing to stdout")
		}
		if err := vm.stdout.Flush(); err != nil {
			return errors.Wrap(err, "flushing stdout")
		}
	}
	return vm.push(EmptyValue())
}

func (vm *VM) builtinLength() error {
	container, err := vm.pop()
	if err != nil {
		return err
	}
	n, ok := container.Length()
	if !ok {
		return ErrTypeError
	}
	return vm.push(NewInt(n))
}

func (vm *VM) builtinString() error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	return vm.push(NewString(Stringify(v)))
}

func (vm *VM) builtinArray() error {
	n, err := vm.rdr.readInt32()
	if err != nil {
		return err
	}
	if n < 0 {
		return ErrMalformedImage
	}
	elements, err := vm.popNDescending(int(n))
	if err != nil {
		return err
	}
	return vm.push(NewArray(elements))
}
