package waterfall

import (
	"testing"

	"github.com/norasector/spectra/pkg/spectra/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagged(n int) frame.Frame {
	return frame.Frame{float32(n)}
}

func TestPushOrder(t *testing.T) {
	b := NewBuffer(4)
	assert.Empty(t, b.Snapshot())
	assert.Nil(t, b.At(0))

	for i := 1; i <= 3; i++ {
		b.Push(tagged(i))
		require.Equal(t, tagged(i), b.Snapshot()[0])
	}
	assert.Equal(t, []frame.Frame{tagged(3), tagged(2), tagged(1)}, b.Snapshot())
	assert.Equal(t, 3, b.Len())
}

func TestLengthNeverExceedsCapacity(t *testing.T) {
	for _, capacity := range []int{1, 2, 7, 100} {
		b := NewBuffer(capacity)
		for i := 0; i < capacity*3+1; i++ {
			b.Push(tagged(i))
			snap := b.Snapshot()
			require.LessOrEqual(t, len(snap), capacity)
			require.Equal(t, tagged(i), snap[0])
		}
	}
}

func TestEvictsOldestWhenFull(t *testing.T) {
	const h = 100
	b := NewBuffer(h)
	for i := 0; i <= h; i++ {
		b.Push(tagged(i))
	}

	snap := b.Snapshot()
	require.Len(t, snap, h)
	assert.Equal(t, tagged(h), snap[0])
	assert.Equal(t, tagged(1), snap[h-1])
	for _, f := range snap {
		assert.NotEqual(t, tagged(0), f)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	b := NewBuffer(2)
	b.Push(tagged(1))
	b.Push(tagged(2))

	snap := b.Snapshot()
	b.Push(tagged(3))

	assert.Equal(t, []frame.Frame{tagged(2), tagged(1)}, snap)
	assert.Equal(t, []frame.Frame{tagged(3), tagged(2)}, b.Snapshot())
}
