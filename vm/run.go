package vm

import (
	"os"
	"runtime/debug"
	"strconv"
)

// RunProgram executes the image to completion (STOP, END/RET off an empty
// call stack, or a fatal error) and returns the terminal error, or nil on a
// normal halt.
//
// The garbage collector is disabled for the duration: the image and globals
// are allocated up front, and the tight fetch-decode-execute loop otherwise
// pays GC overhead on every container allocation. GOGC is restored to its
// prior value (or 100, its default) once the run ends.
func (vm *VM) RunProgram() error {
	key, ok := os.LookupEnv("GOGC")
	if !ok {
		key = "100"
	}
	gcPercent, err := strconv.ParseInt(key, 10, 32)
	if err != nil {
		gcPercent = 100
	}

	defer func() {
		debug.SetGCPercent(int(gcPercent))
	}()
	debug.SetGCPercent(-1)

	vm.ExecProgram()
	_ = vm.stdout.Flush()

	if vm.errcode != nil && vm.errcode != errHalted {
		return vm.errcode
	}
	return nil
}

// RunProgramDebugMode is RunProgram with an instruction trace: every opcode
// is logged, at its address, before it executes. Intended for diagnosing a
// bad image or a suspicious compiler output, not interactive stepping.
func (vm *VM) RunProgramDebugMode() error {
	key, ok := os.LookupEnv("GOGC")
	if !ok {
		key = "100"
	}
	gcPercent, err := strconv.ParseInt(key, 10, 32)
	if err != nil {
		gcPercent = 100
	}

	defer func() {
		debug.SetGCPercent(int(gcPercent))
	}()
	debug.SetGCPercent(-1)

	defer getDefaultRecoverFuncForVM(vm)()

	sugar := vm.logger.Sugar()
	for {
		ip := vm.rdr.ip
		op := peekOpcode(vm)
		sugar.Debugw("step", "ip", ip, "op", op.String(), "stack_depth", len(vm.valueStack), "call_depth", len(vm.callStack))

		vm.execNextInstruction()
		if vm.errcode != nil {
			break
		}
	}
	_ = vm.stdout.Flush()

	if vm.errcode != nil && vm.errcode != errHalted {
		return vm.errcode
	}
	return nil
}
