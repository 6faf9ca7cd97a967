// Package waterfall keeps the bounded history of spectrum frames drawn as
// the scrolling waterfall image.
package waterfall

import "github.com/norasector/spectra/pkg/spectra/frame"

// Buffer is a fixed capacity ring of frames. Index 0 of a snapshot is the
// most recently pushed frame. Pushing into a full buffer evicts the oldest.
//
// Buffer is not safe for concurrent use; the acquisition loop owns it.
type Buffer struct {
	frames []frame.Frame
	head   int // slot the next push writes
	size   int
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		frames: make([]frame.Frame, capacity),
	}
}

// Push inserts f as the newest entry.
func (b *Buffer) Push(f frame.Frame) {
	b.frames[b.head] = f
	b.head = (b.head + 1) % len(b.frames)
	if b.size < len(b.frames) {
		b.size++
	}
}

// Snapshot returns the frames newest first. The returned slice is owned by
// the caller; later pushes do not affect it.
func (b *Buffer) Snapshot() []frame.Frame {
	ret := make([]frame.Frame, b.size)
	for i := 0; i < b.size; i++ {
		ret[i] = b.At(i)
	}
	return ret
}

// At returns the entry i pushes ago, 0 being the newest. It returns nil when
// i is out of range.
func (b *Buffer) At(i int) frame.Frame {
	if i < 0 || i >= b.size {
		return nil
	}
	idx := b.head - 1 - i
	if idx < 0 {
		idx += len(b.frames)
	}
	return b.frames[idx]
}

// Len is the number of frames held, at most the capacity.
func (b *Buffer) Len() int {
	return b.size
}
