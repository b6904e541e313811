package security

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWipe(t *testing.T) {
	data := []byte("seed material that should be wiped")

	Wipe(data)

	for i, b := range data {
		if b != 0 {
			t.Errorf("byte %d was not wiped: got %d, want 0", i, b)
		}
	}
}

func TestWipeSubslice(t *testing.T) {
	buf := bytes.Repeat([]byte{0xAA}, 4096)

	Wipe(buf[1000:3000])

	assert.True(t, IsZero(buf[1000:3000]))
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 1000), buf[:1000], "bytes before the window are untouched")
	assert.Equal(t, bytes.Repeat([]byte{0xAA}, 1096), buf[3000:], "bytes after the window are untouched")

	for _, n := range []int{1, 7, 8, 9, 31, 33} {
		odd := bytes.Repeat([]byte{0x55}, n+2)
		Wipe(odd[1 : n+1])
		assert.True(t, IsZero(odd[1:n+1]), "len %d", n)
		assert.Equal(t, byte(0x55), odd[0], "len %d", n)
		assert.Equal(t, byte(0x55), odd[n+1], "len %d", n)
	}
}

func TestWipeEmpty(t *testing.T) {
	// Should not panic on empty slice
	Wipe(nil)
	Wipe([]byte{})
	WipeAll(nil, []byte{}, nil)
}

func TestWipeAll(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{4, 5}

	WipeAll(a, b)

	if !IsZero(a) || !IsZero(b) {
		t.Errorf("WipeAll left data behind: %v %v", a, b)
	}
}

func TestIsZero(t *testing.T) {
	tests := []struct {
		data []byte
		want bool
	}{
		{nil, true},
		{[]byte{}, true},
		{[]byte{0, 0, 0}, true},
		{[]byte{0, 1, 0}, false},
		{[]byte{0x80}, false},
	}

	for _, tt := range tests {
		if got := IsZero(tt.data); got != tt.want {
			t.Errorf("IsZero(%v) = %v, want %v", tt.data, got, tt.want)
		}
	}
}

func TestConstantTimeCompare(t *testing.T) {
	tests := []struct {
		a, b  []byte
		equal bool
	}{
		{[]byte("hello"), []byte("hello"), true},
		{[]byte("hello"), []byte("world"), false},
		{[]byte("hello"), []byte("hell"), false},
		{[]byte{}, []byte{}, true},
		{nil, nil, true},
		{[]byte("a"), nil, false},
	}

	for _, tt := range tests {
		got := ConstantTimeCompare(tt.a, tt.b)
		if got != tt.equal {
			t.Errorf("ConstantTimeCompare(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.equal)
		}
	}
}

func TestLockedBufferLifecycle(t *testing.T) {
	buf := NewLockedBuffer(48)
	data := buf.Bytes()
	if len(data) != 48 {
		t.Fatalf("expected 48 bytes, got %d", len(data))
	}
	if !IsZero(data) {
		t.Fatal("new buffer is not zeroed")
	}

	for i := range data {
		data[i] = byte(i + 1)
	}

	buf.Wipe()
	if !IsZero(data) {
		t.Error("Wipe left data behind")
	}
	if len(buf.Bytes()) != 48 {
		t.Error("Wipe must keep the buffer allocated")
	}

	data[0] = 0xAA
	buf.Destroy()
	if data[0] != 0 {
		t.Error("Destroy did not wipe the data")
	}
	if buf.Bytes() != nil {
		t.Error("Bytes should return nil after Destroy")
	}
	if buf.Locked() {
		t.Error("destroyed buffer reports locked")
	}

	// Second destroy is a no-op
	buf.Destroy()
}

func TestLockedBufferZeroSize(t *testing.T) {
	buf := NewLockedBuffer(0)
	if buf.Locked() {
		t.Error("empty buffer should not be locked")
	}
	buf.Destroy()
}
