package vm

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors for the fatal error taxonomy. None of these are
// recoverable by bytecode; every one of them terminates interpretation.
// Compare against these with errors.Is, never by formatted message text -
// call sites wrap them with errors.Wrapf to attach execution context.
var (
	errHalted              = errors.New("ran out of instructions")
	ErrFileError           = errors.New("could not read bytecode image")
	ErrMalformedImage      = errors.New("malformed bytecode image")
	ErrStackOverflow       = errors.New("stack overflow")
	ErrStackUnderflow      = errors.New("stack underflow")
	ErrInvalidOpcode       = errors.New("invalid opcode")
	ErrTypeError           = errors.New("type error")
	ErrMathError           = errors.New("math error")
	ErrPatternMatchFailure = errors.New("pattern match failure")
)

// PatternMatchError carries the source location a FAIL instruction was
// compiled from. It unwraps to ErrPatternMatchFailure so callers can still
// match on the sentinel.
type PatternMatchError struct {
	Line int
	Col  int
}

func (e *PatternMatchError) Error() string {
	return fmt.Sprintf("pattern match failed at %d:%d", e.Line, e.Col)
}

func (e *PatternMatchError) Unwrap() error {
	return ErrPatternMatchFailure
}

// wrapAt annotates a fatal error with the instruction address and opcode
// that produced it, the way a post-mortem would want to see it on stderr.
func wrapAt(ip uint32, op Bytecode, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "at ip=%d opcode=%s", ip, op)
}
