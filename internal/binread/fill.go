package binread

import (
	"encoding/binary"
	"io"
)

// ByteOrder is the byte order of every image this package reads: images are
// only ever read on the host that loaded them.
var ByteOrder = binary.NativeEndian

// FillExact reads exactly len(buf) bytes from r. It returns io.EOF if nothing
// was read and io.ErrUnexpectedEOF if the data ran out part way.
func FillExact(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

func ReadU8(r io.Reader) (uint8, error) {
	var b [1]byte
	if err := FillExact(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func ReadU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if err := FillExact(r, b[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint16(b[:]), nil
}

func ReadU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if err := FillExact(r, b[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint32(b[:]), nil
}

func ReadU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if err := FillExact(r, b[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint64(b[:]), nil
}

// ReadWord reads a 4 or 8 byte unsigned field, widened to uint64.
func ReadWord(r io.Reader, size int) (uint64, error) {
	if size == 4 {
		v, err := ReadU32(r)
		return uint64(v), err
	}
	return ReadU64(r)
}

// Fields decodes a fixed record field by field, remembering the first error so
// callers can check once at the end.
type Fields struct {
	r   io.Reader
	n   int
	err error
}

func NewFields(r io.Reader) *Fields { return &Fields{r: r} }

func (f *Fields) Bytes(dst []byte) {
	if f.err != nil {
		return
	}
	f.err = FillExact(f.r, dst)
	f.advance(len(dst))
}

func (f *Fields) U8() uint8 {
	if f.err != nil {
		return 0
	}
	var v uint8
	v, f.err = ReadU8(f.r)
	f.advance(1)
	return v
}

func (f *Fields) U16() uint16 {
	if f.err != nil {
		return 0
	}
	var v uint16
	v, f.err = ReadU16(f.r)
	f.advance(2)
	return v
}

func (f *Fields) U32() uint32 {
	if f.err != nil {
		return 0
	}
	var v uint32
	v, f.err = ReadU32(f.r)
	f.advance(4)
	return v
}

func (f *Fields) Word(size int) uint64 {
	if f.err != nil {
		return 0
	}
	var v uint64
	v, f.err = ReadWord(f.r, size)
	f.advance(size)
	return v
}

// Err returns the first error. A record that ended after its first byte reports
// io.ErrUnexpectedEOF rather than io.EOF.
func (f *Fields) Err() error {
	if f.err == io.EOF && f.n > 0 {
		return io.ErrUnexpectedEOF
	}
	return f.err
}

func (f *Fields) advance(n int) {
	if f.err == nil {
		f.n += n
	}
}

// Encoder is the write-side counterpart of Fields.
type Encoder struct {
	buf []byte
}

func (e *Encoder) Bytes(b []byte) { e.buf = append(e.buf, b...) }
func (e *Encoder) U8(v uint8)     { e.buf = append(e.buf, v) }
func (e *Encoder) U16(v uint16)   { e.buf = ByteOrder.AppendUint16(e.buf, v) }
func (e *Encoder) U32(v uint32)   { e.buf = ByteOrder.AppendUint32(e.buf, v) }

func (e *Encoder) Word(v uint64, size int) {
	if size == 4 {
		e.U32(uint32(v))
		return
	}
	e.buf = ByteOrder.AppendUint64(e.buf, v)
}

func (e *Encoder) Out() []byte { return e.buf }
