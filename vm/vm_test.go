package vm

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(fmt.Sprintf("%v %s", cond, format), args...)
	}
}

// newTestVM builds a VM directly from a built image, skipping
// NewVirtualMachine's os.Stdin/os.Stdout wiring so tests can capture output
// and supply input.
func newTestVM(t *testing.T, b *imageBuilder, stdin string) (*VM, *bytes.Buffer) {
	t.Helper()
	img, err := b.load()
	require.NoError(t, err)

	var out bytes.Buffer
	machine := &VM{
		image:      img,
		rdr:        reader{code: img.Code},
		valueStack: make([]Value, 0, 64),
		globals:    make([]Value, img.GlobalSize),
		frame:      &Frame{},
		stdout:     newBufWriter(&out),
		stdin:      newBufReader(strings.NewReader(stdin)),
		logger:     zap.NewNop(),
	}
	for i := range machine.globals {
		machine.globals[i] = EmptyValue()
	}
	return machine, &out
}

func runAndEnsure(t *testing.T, vm *VM, want error) {
	t.Helper()
	err := vm.RunProgram()
	if want == nil {
		assert(t, err == nil, "expected a clean halt, got: %v", err)
		return
	}
	assert(t, isFatal(err, want), "expected error wrapping %v, got: %v", want, err)
}

func TestScenarios(t *testing.T) {
	t.Run("S1 add and write", func(t *testing.T) {
		b := newImageBuilder(0)
		b.op(opConst).i32(2)
		b.op(opConst).i32(3)
		b.op(binopOpcode(binopAdd))
		b.op(builtinOpcode(BuiltinWrite))
		b.op(Bytecode(groupStop << 4))

		vm, out := newTestVM(t, b, "")
		runAndEnsure(t, vm, nil)
		require.Equal(t, "5\n", out.String())
	})

	t.Run("S2 division by zero", func(t *testing.T) {
		b := newImageBuilder(0)
		b.op(opConst).i32(10)
		b.op(opConst).i32(0)
		b.op(binopOpcode(binopDiv))
		b.op(Bytecode(groupStop << 4))

		vm, _ := newTestVM(t, b, "")
		runAndEnsure(t, vm, ErrMathError)
	})

	t.Run("S3 array build length write", func(t *testing.T) {
		b := newImageBuilder(0)
		b.op(opConst).i32(1)
		b.op(opConst).i32(2)
		b.op(opConst).i32(3)
		b.op(builtinOpcode(BuiltinArray)).i32(3)
		b.op(opDup)
		b.op(builtinOpcode(BuiltinLength))
		b.op(builtinOpcode(BuiltinWrite))
		b.op(opDrop) // drop the Empty that write leaves on the stack
		b.op(Bytecode(groupStop << 4))

		vm, out := newTestVM(t, b, "")
		runAndEnsure(t, vm, nil)
		require.Equal(t, "3\n", out.String())
	})

	t.Run("S4 cons list stringified", func(t *testing.T) {
		b := newImageBuilder(0)
		// SEXP binds its n children with the same ascending, pop-per-iteration
		// shape CALL binds its arguments with: children[0] gets the first pop,
		// i.e. whatever is on top of the stack when SEXP executes. So building
		// cons(head, tail) means pushing the tail first and the head last.
		//
		// build cons(3, 0)
		b.op(opConst).i32(0)
		b.op(opConst).i32(3)
		b.op(opSexp).strref("cons").i32(2)
		// build cons(2, <above>): the accumulator (tail) is already under the
		// new head on the stack, so no swap is needed.
		b.op(opConst).i32(2)
		b.op(opSexp).strref("cons").i32(2)
		// build cons(1, <above>)
		b.op(opConst).i32(1)
		b.op(opSexp).strref("cons").i32(2)
		b.op(builtinOpcode(BuiltinString))
		b.op(Bytecode(groupStop << 4))

		vm, _ := newTestVM(t, b, "")
		require.NoError(t, vm.RunProgram())
		top, err := vm.peek()
		require.NoError(t, err)
		require.True(t, top.IsString())
		require.Equal(t, "{1, 2, 3}", top.Str())
	})

	t.Run("S5 closure capture and call", func(t *testing.T) {
		b := newImageBuilder(1)
		// global 0 = 41
		b.op(opConst).i32(41)
		b.op(Bytecode(groupStore<<4 | byte(NamespaceGlobal))).i32(0)
		b.op(opDrop)

		// CLOSURE body: BEGIN 1 0; LD C(0); LD A(0); BINOP +; RET
		closureIP := int32(b.code.Len()) + 1 + 4 + 4 // unused: the body's address is taken as bodyIP below
		_ = closureIP

		// Lay out: JMP over_body; <body>; over_body: CONST 0; CLOSURE body_ip 1 G(0); CALLC 1; CALL write; STOP
		jmpPos := b.code.Len()
		b.op(opJmp).i32(0) // placeholder, patched below

		bodyIP := int32(b.code.Len())
		b.op(opBegin).i32(1).i32(0)
		b.op(Bytecode(groupLoad<<4 | byte(NamespaceCaptured))).i32(0)
		b.op(Bytecode(groupLoad<<4 | byte(NamespaceArgument))).i32(0)
		b.op(binopOpcode(binopAdd))
		b.op(opRet)

		afterBody := int32(b.code.Len())
		patchInt32(b.code.Bytes(), jmpPos+1, afterBody)

		// CALLC pops the closure off the top of the stack first, then the n
		// arguments beneath it - so the argument goes on the stack before the
		// closure value, not after.
		b.op(opConst).i32(0)
		b.op(opClosure).i32(bodyIP).i32(1).byt(byte(NamespaceGlobal)).i32(0)
		b.op(opCallc).i32(1)
		b.op(builtinOpcode(BuiltinWrite))
		b.op(Bytecode(groupStop << 4))

		vm, out := newTestVM(t, b, "")
		runAndEnsure(t, vm, nil)
		require.Equal(t, "41\n", out.String())
	})

	t.Run("S6 fail", func(t *testing.T) {
		b := newImageBuilder(0)
		b.op(opFail).i32(7).i32(3)

		vm, _ := newTestVM(t, b, "")
		err := vm.RunProgram()
		var pm *PatternMatchError
		assert(t, errorsAs(err, &pm), "expected a PatternMatchError, got: %v", err)
		assert(t, pm.Line == 7, "expected line 7, got %d", pm.Line)
	})
}

func TestDupEqualsLeavesOne(t *testing.T) {
	b := newImageBuilder(0)
	b.op(opConst).i32(17)
	b.op(opDup)
	b.op(binopOpcode(binopEq))
	vm, _ := newTestVM(t, b, "")
	require.NoError(t, vm.RunProgram())
	top, err := vm.peek()
	require.NoError(t, err)
	require.True(t, top.IsInt())
	require.Equal(t, int32(1), top.Int())
}

func TestReferenceRoundTrip(t *testing.T) {
	// LDA G(0); CONST 9; STI; LD G(0)
	b := newImageBuilder(1)
	b.op(Bytecode(groupLoadRef<<4 | byte(NamespaceGlobal))).i32(0)
	b.op(opConst).i32(9)
	b.op(opSti)
	b.op(opDrop) // STI leaves the value on top; drop it before re-loading
	b.op(Bytecode(groupLoad<<4 | byte(NamespaceGlobal))).i32(0)

	vm, _ := newTestVM(t, b, "")
	require.NoError(t, vm.RunProgram())
	top, err := vm.peek()
	require.NoError(t, err)
	require.Equal(t, int32(9), top.Int())
}

func TestArrayShapeCheck(t *testing.T) {
	b := newImageBuilder(0)
	b.op(opConst).i32(1)
	b.op(opConst).i32(2)
	b.op(builtinOpcode(BuiltinArray)).i32(2)
	b.op(opArray).i32(2)
	vm, _ := newTestVM(t, b, "")
	require.NoError(t, vm.RunProgram())
	top, err := vm.peek()
	require.NoError(t, err)
	require.Equal(t, int32(1), top.Int())
}

func TestStaStringByteIsAliased(t *testing.T) {
	// A String is identity-bearing: STA writing through one holder must be
	// visible through any other holder of the same String.
	b := newImageBuilder(3)
	b.op(opString).strref("abc")
	b.op(Bytecode(groupStore<<4 | byte(NamespaceGlobal))).i32(1) // G1 = "abc", leaves it on stack
	b.op(Bytecode(groupStore<<4 | byte(NamespaceGlobal))).i32(2) // G2 = same String, leaves it on stack
	b.op(opDrop)

	// STA G1[1] = 'X' (88)
	b.op(Bytecode(groupLoad<<4 | byte(NamespaceGlobal))).i32(1)
	b.op(opConst).i32(1)
	b.op(opConst).i32(88)
	b.op(opSta)
	b.op(opDrop)

	// Read back through G2, the other holder of the same String.
	b.op(Bytecode(groupLoad<<4 | byte(NamespaceGlobal))).i32(2)
	b.op(opConst).i32(1)
	b.op(opElem)

	vm, _ := newTestVM(t, b, "")
	require.NoError(t, vm.RunProgram())
	top, err := vm.peek()
	require.NoError(t, err)
	require.True(t, top.IsInt())
	require.Equal(t, int32(88), top.Int())
}

func TestStackUnderflowOnDrop(t *testing.T) {
	b := newImageBuilder(0)
	b.op(opDrop)
	vm, _ := newTestVM(t, b, "")
	err := vm.RunProgram()
	assert(t, isFatal(err, ErrStackUnderflow), "expected ErrStackUnderflow, got: %v", err)
}

func TestReadBuiltin(t *testing.T) {
	b := newImageBuilder(0)
	b.op(builtinOpcode(BuiltinRead))
	b.op(builtinOpcode(BuiltinWrite))
	vm, out := newTestVM(t, b, "123\n")
	require.NoError(t, vm.RunProgram())
	require.Equal(t, "> 123\n", out.String())
}
