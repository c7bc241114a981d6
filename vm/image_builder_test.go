package vm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// imageBuilder assembles a BytecodeImage byte-for-byte, standing in for the
// external compiler tests would otherwise need. There is no textual
// assembly format in this system; tests build images directly.
type imageBuilder struct {
	globalSize uint32
	strBuf     bytes.Buffer
	strOffsets map[string]uint32
	code       bytes.Buffer
}

func newImageBuilder(globalSize uint32) *imageBuilder {
	return &imageBuilder{
		globalSize: globalSize,
		strOffsets: make(map[string]uint32),
	}
}

// str interns s into the string table (if not already present) and returns
// its byte offset.
func (b *imageBuilder) str(s string) uint32 {
	if off, ok := b.strOffsets[s]; ok {
		return off
	}
	off := uint32(b.strBuf.Len())
	b.strBuf.WriteString(s)
	b.strBuf.WriteByte(0)
	b.strOffsets[s] = off
	return off
}

func (b *imageBuilder) op(op Bytecode) *imageBuilder {
	b.code.WriteByte(byte(op))
	return b
}

func (b *imageBuilder) i32(n int32) *imageBuilder {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(n))
	b.code.Write(buf[:])
	return b
}

func (b *imageBuilder) byt(v byte) *imageBuilder {
	b.code.WriteByte(v)
	return b
}

// strref interns s and emits its offset as an STRREF (INT32) operand.
func (b *imageBuilder) strref(s string) *imageBuilder {
	return b.i32(int32(b.str(s)))
}

func (b *imageBuilder) build() []byte {
	var out bytes.Buffer
	var header [12]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(b.strBuf.Len()))
	binary.LittleEndian.PutUint32(header[4:8], b.globalSize)
	binary.LittleEndian.PutUint32(header[8:12], 0) // no publics in tests
	out.Write(header[:])
	out.Write(b.strBuf.Bytes())
	out.Write(b.code.Bytes())
	return out.Bytes()
}

func (b *imageBuilder) load() (*BytecodeImage, error) {
	return LoadImageFromBytes(b.build())
}

// binopOpcode builds the opcode byte for BINOP variant k (l = k+1).
func binopOpcode(k binopKind) Bytecode {
	return Bytecode(groupBinop<<4 | (byte(k) + 1))
}

// builtinOpcode builds the opcode byte for CALL-builtin b.
func builtinOpcode(b Builtin) Bytecode {
	return Bytecode(groupBuiltin<<4 | byte(b))
}

// patchInt32 overwrites the INT32 operand at byte offset pos of buf, for
// tests that need to lay down a JMP/CJMP target after the fact.
func patchInt32(buf []byte, pos int, v int32) {
	binary.LittleEndian.PutUint32(buf[pos:pos+4], uint32(v))
}

// isFatal reports whether err is want or wraps it, the same check a caller
// distinguishing the fatal error taxonomy would make with errors.Is.
func isFatal(err, want error) bool {
	return errors.Is(err, want)
}

// errorsAs is the package-local alias tests use so call sites read the same
// as the production error-handling convention (errors.Is/errors.As, never
// string matching).
func errorsAs(err error, target any) bool {
	return errors.As(err, target)
}

func newBufWriter(w io.Writer) *bufio.Writer {
	return bufio.NewWriter(w)
}

func newBufReader(r io.Reader) *bufio.Reader {
	return bufio.NewReader(r)
}
