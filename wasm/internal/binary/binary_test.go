package binary

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReaderReadByte(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewReader(data)

	for i, want := range data {
		if r.Position() != i {
			t.Errorf("position before read %d: got %d, want %d", i, r.Position(), i)
		}
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("ReadByte %d: %v", i, err)
		}
		if b != want {
			t.Errorf("ReadByte %d: got 0x%02x, want 0x%02x", i, b, want)
		}
	}

	_, err := r.ReadByte()
	if !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestReaderReadBytes(t *testing.T) {
	r := NewReaderAt([]byte{0x01, 0x02, 0x03, 0x04, 0x05}, 1)

	got, err := r.ReadBytes(3)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(got, []byte{0x02, 0x03, 0x04}) {
		t.Errorf("ReadBytes: got %v", got)
	}
	if r.Len() != 1 {
		t.Errorf("Len: got %d, want 1", r.Len())
	}
	if _, err := r.ReadBytes(10); err == nil {
		t.Error("expected error for reading past end")
	}
}

func TestUnsignedRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 624485, 1<<32 - 1, 1<<64 - 1} {
		w := NewWriter()
		w.WriteU64(v)
		got, err := NewReader(w.Bytes()).ReadU64()
		if err != nil {
			t.Fatalf("ReadU64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("ReadU64: got %d, want %d", got, v)
		}
	}
}

func TestSignedRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, -64, 64, -65, 1 << 40, -(1 << 40), -1 << 63} {
		w := NewWriter()
		w.WriteS64(v)
		got, err := NewReader(w.Bytes()).ReadS64()
		if err != nil {
			t.Fatalf("ReadS64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("ReadS64: got %d, want %d", got, v)
		}
	}
}

func TestReadU32Overflow(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too many bytes", []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}},
		{"high bits set", []byte{0xff, 0xff, 0xff, 0xff, 0x1f}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(tt.data).ReadU32()
			if !errors.Is(err, ErrOverflow) {
				t.Errorf("expected overflow, got %v", err)
			}
		})
	}
}

func TestReadName(t *testing.T) {
	w := NewWriter()
	w.WriteName("invoke")
	name, err := NewReader(w.Bytes()).ReadName()
	if err != nil {
		t.Fatal(err)
	}
	if name != "invoke" {
		t.Errorf("got %q", name)
	}

	if _, err := NewReader([]byte{0x02, 0xff, 0xfe}).ReadName(); err == nil {
		t.Error("expected UTF-8 error")
	}
}
