package common

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrIrregularData reports a non-canonical varuint or an oversized length.
var ErrIrregularData = errors.New("irregular data")

// ZeroCopySink appends little-endian fixed width values and varuint
// prefixed byte strings to a growing buffer.
type ZeroCopySink struct {
	buf []byte
}

// NewZeroCopySink wraps b (may be nil) for appending.
func NewZeroCopySink(b []byte) *ZeroCopySink {
	return &ZeroCopySink{buf: b[:0:cap(b)]}
}

func (s *ZeroCopySink) Bytes() []byte { return s.buf }
func (s *ZeroCopySink) Size() int     { return len(s.buf) }

func (s *ZeroCopySink) WriteBytes(b []byte) { s.buf = append(s.buf, b...) }
func (s *ZeroCopySink) WriteUint8(b byte)   { s.buf = append(s.buf, b) }

func (s *ZeroCopySink) WriteBool(v bool) {
	if v {
		s.WriteUint8(1)
	} else {
		s.WriteUint8(0)
	}
}

func (s *ZeroCopySink) WriteUint16(v uint16) { s.buf = binary.LittleEndian.AppendUint16(s.buf, v) }
func (s *ZeroCopySink) WriteUint32(v uint32) { s.buf = binary.LittleEndian.AppendUint32(s.buf, v) }
func (s *ZeroCopySink) WriteUint64(v uint64) { s.buf = binary.LittleEndian.AppendUint64(s.buf, v) }

// WriteVarUint writes the compact length encoding: one byte below 0xFD,
// otherwise a marker byte followed by a u16, u32 or u64.
func (s *ZeroCopySink) WriteVarUint(v uint64) {
	switch {
	case v < 0xFD:
		s.WriteUint8(byte(v))
	case v <= 0xFFFF:
		s.WriteUint8(0xFD)
		s.WriteUint16(uint16(v))
	case v <= 0xFFFFFFFF:
		s.WriteUint8(0xFE)
		s.WriteUint32(uint32(v))
	default:
		s.WriteUint8(0xFF)
		s.WriteUint64(v)
	}
}

func (s *ZeroCopySink) WriteVarBytes(b []byte) {
	s.WriteVarUint(uint64(len(b)))
	s.WriteBytes(b)
}

func (s *ZeroCopySink) WriteString(v string) {
	s.WriteVarUint(uint64(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *ZeroCopySink) WriteAddress(a Address) { s.WriteBytes(a[:]) }
func (s *ZeroCopySink) WriteHash(h H256)       { s.WriteBytes(h[:]) }

// ZeroCopySource reads values written by ZeroCopySink. Returned byte
// slices alias the source buffer.
type ZeroCopySource struct {
	s   []byte
	off int
}

func NewZeroCopySource(b []byte) *ZeroCopySource {
	return &ZeroCopySource{s: b}
}

func (s *ZeroCopySource) Len() int  { return len(s.s) - s.off }
func (s *ZeroCopySource) Pos() int  { return s.off }
func (s *ZeroCopySource) Size() int { return len(s.s) }

// NextBytes returns the next n bytes.
func (s *ZeroCopySource) NextBytes(n uint64) ([]byte, error) {
	if uint64(s.Len()) < n {
		return nil, io.ErrUnexpectedEOF
	}
	b := s.s[s.off : s.off+int(n)]
	s.off += int(n)
	return b, nil
}

func (s *ZeroCopySource) NextByte() (byte, error) {
	b, err := s.NextBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *ZeroCopySource) NextBool() (bool, error) {
	b, err := s.NextByte()
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, ErrIrregularData
}

func (s *ZeroCopySource) NextUint16() (uint16, error) {
	b, err := s.NextBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *ZeroCopySource) NextUint32() (uint32, error) {
	b, err := s.NextBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *ZeroCopySource) NextUint64() (uint64, error) {
	b, err := s.NextBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// NextVarUint reads the compact length encoding and rejects non-minimal forms.
func (s *ZeroCopySource) NextVarUint() (uint64, error) {
	fb, err := s.NextByte()
	if err != nil {
		return 0, err
	}
	switch fb {
	case 0xFD:
		v, err := s.NextUint16()
		if err != nil {
			return 0, err
		}
		if v < 0xFD {
			return 0, ErrIrregularData
		}
		return uint64(v), nil
	case 0xFE:
		v, err := s.NextUint32()
		if err != nil {
			return 0, err
		}
		if v <= 0xFFFF {
			return 0, ErrIrregularData
		}
		return uint64(v), nil
	case 0xFF:
		v, err := s.NextUint64()
		if err != nil {
			return 0, err
		}
		if v <= 0xFFFFFFFF {
			return 0, ErrIrregularData
		}
		return v, nil
	}
	return uint64(fb), nil
}

func (s *ZeroCopySource) NextVarBytes() ([]byte, error) {
	n, err := s.NextVarUint()
	if err != nil {
		return nil, err
	}
	return s.NextBytes(n)
}

func (s *ZeroCopySource) NextString() (string, error) {
	b, err := s.NextVarBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *ZeroCopySource) NextAddress() (Address, error) {
	var a Address
	b, err := s.NextBytes(AddrLen)
	if err != nil {
		return a, err
	}
	copy(a[:], b)
	return a, nil
}

func (s *ZeroCopySource) NextHash() (H256, error) {
	var h H256
	b, err := s.NextBytes(HashLen)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}
