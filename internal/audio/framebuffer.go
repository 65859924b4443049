package audio

// FrameBuffer accumulates inbound audio bytes and slices them into
// fixed-size classification frames. Bytes keep arrival order; a partial
// frame at the tail is retained until more data arrives. Not safe for
// concurrent use: the session driver is its only caller.
type FrameBuffer struct {
	frameSize int
	buf       []byte
}

// NewFrameBuffer creates a buffer producing frames of frameSize bytes.
// frameSize is fixed for the buffer's lifetime.
func NewFrameBuffer(frameSize int) *FrameBuffer {
	if frameSize <= 0 {
		panic("audio: frame size must be positive")
	}
	return &FrameBuffer{frameSize: frameSize}
}

// Append adds inbound bytes at the tail.
func (b *FrameBuffer) Append(p []byte) {
	b.buf = append(b.buf, p...)
}

// TakeFrame removes and returns the oldest complete frame, or ok=false when
// fewer than frameSize bytes are buffered. The returned slice is owned by
// the caller.
func (b *FrameBuffer) TakeFrame() ([]byte, bool) {
	if len(b.buf) < b.frameSize {
		return nil, false
	}
	frame := make([]byte, b.frameSize)
	copy(frame, b.buf[:b.frameSize])
	b.buf = b.buf[:copy(b.buf, b.buf[b.frameSize:])]
	return frame, true
}

// Clear drops all buffered bytes, including any partial frame.
func (b *FrameBuffer) Clear() {
	b.buf = b.buf[:0]
}

// Buffered reports how many bytes are currently held.
func (b *FrameBuffer) Buffered() int {
	return len(b.buf)
}

// FrameSize reports the fixed frame size in bytes.
func (b *FrameBuffer) FrameSize() int {
	return b.frameSize
}
