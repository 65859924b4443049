package audio

import (
	"bytes"
	"testing"
)

func TestFrameBufferSlicesInOrder(t *testing.T) {
	b := NewFrameBuffer(4)
	b.Append([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	f1, ok := b.TakeFrame()
	if !ok {
		t.Fatalf("TakeFrame() ok = false, want true")
	}
	if !bytes.Equal(f1, []byte{1, 2, 3, 4}) {
		t.Fatalf("frame 1 = %v, want [1 2 3 4]", f1)
	}
	f2, ok := b.TakeFrame()
	if !ok {
		t.Fatalf("TakeFrame() ok = false, want true")
	}
	if !bytes.Equal(f2, []byte{5, 6, 7, 8}) {
		t.Fatalf("frame 2 = %v, want [5 6 7 8]", f2)
	}
	if _, ok := b.TakeFrame(); ok {
		t.Fatalf("TakeFrame() ok = true with only 2 bytes buffered, want false")
	}
	if b.Buffered() != 2 {
		t.Fatalf("Buffered() = %d, want 2", b.Buffered())
	}
}

func TestFrameBufferRemainderSurvivesAppend(t *testing.T) {
	b := NewFrameBuffer(4)
	b.Append([]byte{9, 8})
	if _, ok := b.TakeFrame(); ok {
		t.Fatalf("TakeFrame() ok = true with partial frame, want false")
	}
	b.Append([]byte{7, 6, 5})
	f, ok := b.TakeFrame()
	if !ok {
		t.Fatalf("TakeFrame() ok = false after completing frame, want true")
	}
	if !bytes.Equal(f, []byte{9, 8, 7, 6}) {
		t.Fatalf("frame = %v, want [9 8 7 6]", f)
	}
	if b.Buffered() != 1 {
		t.Fatalf("Buffered() = %d, want 1", b.Buffered())
	}
}

func TestFrameBufferClear(t *testing.T) {
	b := NewFrameBuffer(4)
	b.Append([]byte{1, 2, 3, 4, 5})
	b.Clear()
	if b.Buffered() != 0 {
		t.Fatalf("Buffered() after Clear = %d, want 0", b.Buffered())
	}
	if _, ok := b.TakeFrame(); ok {
		t.Fatalf("TakeFrame() ok = true after Clear, want false")
	}
}

func TestFrameBufferFrameOwnership(t *testing.T) {
	b := NewFrameBuffer(2)
	b.Append([]byte{1, 2, 3, 4})
	f, _ := b.TakeFrame()
	f[0] = 99
	next, _ := b.TakeFrame()
	if !bytes.Equal(next, []byte{3, 4}) {
		t.Fatalf("second frame = %v after mutating first, want [3 4]", next)
	}
}
