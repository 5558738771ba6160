// Package binread provides bounds-checked, memory-mapped views over byte ranges
// of binary files plus exact-width scalar reads on top of them.
package binread

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Section is a read-only view of [offset, offset+length) of a file. Mappings
// must start at a multiple of the mapping granularity, so the mapping may start
// earlier than offset; align is the number of leading bytes to skip.
//
// Section is not safe for concurrent use.
type Section struct {
	data   []byte
	align  int
	length int
	cur    int
	unmap  func() error
}

// NewSection maps length bytes of f starting at offset.
func NewSection(f *os.File, offset, length int64) (*Section, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: invalid range offset=%d length=%d", ErrMapping, offset, length)
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrMapping, f.Name(), err)
	}
	// offset+length may overflow
	if length > fi.Size() || offset > fi.Size()-length {
		return nil, fmt.Errorf("%w: range at %#x of length %#x exceeds size %#x of %s", ErrMapping, offset, length, fi.Size(), f.Name())
	}

	align := offset % granularity()
	s := &Section{align: int(align), length: int(length)}
	if length == 0 {
		// nothing to map
		return s, nil
	}

	data, unmap, err := mapFile(f, offset-align, int(length+align))
	if err != nil {
		return nil, fmt.Errorf("%w: %s at %#x: %v", ErrMapping, f.Name(), offset, err)
	}
	s.data = data
	s.unmap = unmap
	return s, nil
}

// Len returns the logical length of the section.
func (s *Section) Len() int { return s.length }

// Pos returns the cursor position.
func (s *Section) Pos() int { return s.cur }

// Read copies bytes from the cursor. It returns io.EOF once the cursor is at
// the logical end.
func (s *Section) Read(p []byte) (int, error) {
	if s.cur >= s.length {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	n := copy(p, s.data[s.align+s.cur:s.align+s.length])
	s.cur += n
	return n, nil
}

// SeekAt moves the cursor to pos, clamped to the logical length, and returns
// the new position.
func (s *Section) SeekAt(pos int) int {
	switch {
	case pos < 0:
		s.cur = 0
	case pos > s.length:
		s.cur = s.length
	default:
		s.cur = pos
	}
	return s.cur
}

// BytesAt returns the mapped bytes from pos to the logical end without copying.
// The slice is only valid until Close.
func (s *Section) BytesAt(pos int) ([]byte, error) {
	if pos < 0 || pos >= s.length {
		return nil, io.ErrUnexpectedEOF
	}
	return s.data[s.align+pos : s.align+s.length : s.align+s.length], nil
}

// CStringAt returns the NUL-terminated byte string starting at pos, without the
// terminator. A string that runs off the end of the section is an error.
func (s *Section) CStringAt(pos int) ([]byte, error) {
	b, err := s.BytesAt(pos)
	if err != nil {
		return nil, err
	}
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return b[:i], nil
}

// Close releases the mapping. It is safe to call more than once.
func (s *Section) Close() error {
	if s == nil || s.data == nil {
		return nil
	}
	s.data = nil
	s.length = 0
	s.cur = 0
	return s.unmap()
}
