package common

import (
	"fmt"
	"sync"
)

// Memory is the view of guest linear memory the host needs.
// wazero's api.Memory satisfies it.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// Slice is a borrowed {ptr, len} view into guest memory. It is only
// valid for the duration of the host call that received it.
type Slice struct {
	Ptr uint32
	Len uint32
}

// View returns the bytes aliased in guest memory without copying.
func (s Slice) View(m Memory) ([]byte, error) {
	if uint64(s.Ptr)+uint64(s.Len) > 1<<32 {
		return nil, fmt.Errorf("slice [%d,+%d) overflows address space", s.Ptr, s.Len)
	}
	b, ok := m.Read(s.Ptr, s.Len)
	if !ok {
		return nil, fmt.Errorf("slice [%d,+%d) out of guest memory", s.Ptr, s.Len)
	}
	return b, nil
}

// Load copies the viewed bytes out of guest memory.
func (s Slice) Load(m Memory) ([]byte, error) {
	b, err := s.View(m)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Store writes data at s.Ptr. data must fit in s.Len.
func (s Slice) Store(m Memory, data []byte) error {
	if uint32(len(data)) > s.Len {
		return fmt.Errorf("store of %d bytes exceeds slice length %d", len(data), s.Len)
	}
	if !m.Write(s.Ptr, data) {
		return fmt.Errorf("slice [%d,+%d) out of guest memory", s.Ptr, len(data))
	}
	return nil
}

var bufferPool = sync.Pool{
	New: func() any { return &Buffer{} },
}

// Buffer is an owned byte buffer handed across the host boundary.
// The receiver must call Release exactly once when done.
type Buffer struct {
	b        []byte
	released bool
}

// NewBuffer returns a pooled Buffer holding a copy of data.
func NewBuffer(data []byte) *Buffer {
	buf := bufferPool.Get().(*Buffer)
	buf.b = append(buf.b[:0], data...)
	buf.released = false
	return buf
}

// Bytes returns the contents. Nil after Release.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.released {
		return nil
	}
	return b.b
}

func (b *Buffer) Len() int {
	if b == nil || b.released {
		return 0
	}
	return len(b.b)
}

// Release returns the buffer to the pool. Calling it twice is a no-op.
func (b *Buffer) Release() {
	if b == nil || b.released {
		return
	}
	b.released = true
	if cap(b.b) > 64<<10 {
		b.b = nil
	}
	bufferPool.Put(b)
}
