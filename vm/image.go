package vm

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// headerWords is the fixed 3xint32 prologue every image starts with:
// string table size in bytes, global area size in slots, and public symbol
// count.
const headerWords = 3

// PublicSymbol is one entry of the publics table: a string-table offset
// naming the symbol and the code-section byte offset of its entry point.
type PublicSymbol struct {
	NameOffset uint32
	CodeOffset uint32
}

// BytecodeImage is a parsed, ready-to-run bytecode file: a string table
// addressed by byte offset, a flat code section addressed by byte offset,
// the publics table and the declared global-area size.
type BytecodeImage struct {
	GlobalSize uint32
	Publics    []PublicSymbol
	stringTab  []byte
	Code       []byte
}

// PublicByName resolves a publics-table entry by its exported name, for a
// host that wants to start execution somewhere other than code offset 0. It
// reads the string table on every call rather than building an index at load
// time, since the publics table is typically tiny and this path is only used
// once per process, at startup.
func (img *BytecodeImage) PublicByName(name string) (PublicSymbol, bool) {
	for _, p := range img.Publics {
		s, err := img.StringAt(p.NameOffset)
		if err == nil && s == name {
			return p, true
		}
	}
	return PublicSymbol{}, false
}

// LoadImage reads and parses a bytecode image from disk.
func LoadImage(path string) (*BytecodeImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrFileError, "%s: %v", path, err)
	}
	return LoadImageFromBytes(data)
}

// LoadImageFromBytes parses a bytecode image already held in memory.
func LoadImageFromBytes(data []byte) (*BytecodeImage, error) {
	const headerSize = headerWords * 4
	if len(data) < headerSize {
		return nil, errors.Wrap(ErrMalformedImage, "truncated header")
	}

	stringTabSize := binary.LittleEndian.Uint32(data[0:4])
	globalSize := binary.LittleEndian.Uint32(data[4:8])
	publicCount := binary.LittleEndian.Uint32(data[8:12])

	offset := headerSize
	publicsBytes := int(publicCount) * 8
	if offset+publicsBytes > len(data) {
		return nil, errors.Wrap(ErrMalformedImage, "truncated publics table")
	}

	publics := make([]PublicSymbol, publicCount)
	for i := range publics {
		base := offset + i*8
		publics[i] = PublicSymbol{
			NameOffset: binary.LittleEndian.Uint32(data[base : base+4]),
			CodeOffset: binary.LittleEndian.Uint32(data[base+4 : base+8]),
		}
	}
	offset += publicsBytes

	if offset+int(stringTabSize) > len(data) {
		return nil, errors.Wrap(ErrMalformedImage, "truncated string table")
	}
	stringTab := data[offset : offset+int(stringTabSize)]
	offset += int(stringTabSize)

	img := &BytecodeImage{
		GlobalSize: globalSize,
		Publics:    publics,
		stringTab:  stringTab,
		Code:       data[offset:],
	}
	return img, nil
}

// StringAt returns the NUL-terminated string starting at byte offset off in
// the string table.
func (img *BytecodeImage) StringAt(off uint32) (string, error) {
	if int(off) >= len(img.stringTab) {
		return "", errors.Wrapf(ErrMalformedImage, "string offset %d out of range", off)
	}
	end := off
	for end < uint32(len(img.stringTab)) && img.stringTab[end] != 0 {
		end++
	}
	if end >= uint32(len(img.stringTab)) {
		return "", errors.Wrapf(ErrMalformedImage, "unterminated string at offset %d", off)
	}
	return string(img.stringTab[off:end]), nil
}

// reader walks the code section, decoding opcodes and their immediate
// operands. readByteOp reports the end of the code section as io.EOF, which
// VM.Step turns into errHalted; the operand readers report a truncated
// operand as ErrMalformedImage.
type reader struct {
	code []byte
	ip   uint32
}

func (r *reader) atEnd() bool {
	return r.ip >= uint32(len(r.code))
}

func (r *reader) readByteOp() (Bytecode, error) {
	if r.ip >= uint32(len(r.code)) {
		return 0, io.EOF
	}
	b := Bytecode(r.code[r.ip])
	r.ip++
	return b, nil
}

func (r *reader) readInt32() (int32, error) {
	if r.ip+4 > uint32(len(r.code)) {
		return 0, errors.Wrap(ErrMalformedImage, "truncated int32 operand")
	}
	v := int32(binary.LittleEndian.Uint32(r.code[r.ip : r.ip+4]))
	r.ip += 4
	return v, nil
}

func (r *reader) readByte() (byte, error) {
	if r.ip >= uint32(len(r.code)) {
		return 0, errors.Wrap(ErrMalformedImage, "truncated byte operand")
	}
	b := r.code[r.ip]
	r.ip++
	return b, nil
}
