package vm

import "errors"

// getDefaultRecoverFuncForVM returns a deferred recovery handler that turns
// an unexpected panic (a slice index out of range the explicit bounds
// checks missed, a nil frame, etc.) into the same errcode/termination path
// a normal fatal error takes, instead of crashing the host process.
func getDefaultRecoverFuncForVM(vm *VM) func() {
	return func() {
		if r := recover(); r != nil {
			if vm.errcode == nil {
				vm.errcode = errors.New("internal error: " + formatRecovered(r))
			}
			vm.logger.Sugar().Errorw("recovered from panic during execution",
				"ip", vm.rdr.ip, "panic", r)
		}
	}
}

func formatRecovered(r interface{}) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "panic"
}

// execNextInstruction runs exactly one Step, recording a terminal error (if
// any) on vm.errcode rather than propagating it, so the run loop can keep a
// uniform shape between normal halts and fatal errors.
func (vm *VM) execNextInstruction() {
	ip := vm.rdr.ip
	op := peekOpcode(vm)
	if err := vm.Step(); err != nil {
		if err == errHalted {
			vm.errcode = errHalted
			return
		}
		vm.errcode = wrapAt(ip, op, err)
	}
}

// peekOpcode looks at the next opcode byte without consuming it, purely for
// error-message context; Step does the real, bounds-checked decode.
func peekOpcode(vm *VM) Bytecode {
	if vm.rdr.atEnd() {
		return Bytecode(0xFF)
	}
	return Bytecode(vm.rdr.code[vm.rdr.ip])
}

// ExecProgram runs until halted or a fatal error is recorded.
func (vm *VM) ExecProgram() {
	defer getDefaultRecoverFuncForVM(vm)()

	for {
		vm.execNextInstruction()
		if vm.errcode != nil {
			break
		}
	}
}
