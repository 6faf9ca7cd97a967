package spectrum

import (
	"math"
	"testing"

	"github.com/norasector/spectra/pkg/spectra/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tone(n, bin int, amplitude float64) []complex64 {
	ret := make([]complex64, n)
	for i := range ret {
		phase := 2 * math.Pi * float64(bin) * float64(i) / float64(n)
		ret[i] = complex64(complex(amplitude*math.Cos(phase), amplitude*math.Sin(phase)))
	}
	return ret
}

func TestEstimateTonePosition(t *testing.T) {
	tests := []struct {
		name string
		bin  int
	}{
		{"positive", 64},
		{"negative", -100},
		{"dc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEstimator(1024)
			out := e.Estimate(nil, tone(1024, tt.bin, 1))
			require.Len(t, out, 1024)

			idx, level := frame.Frame(out).Peak()
			assert.Equal(t, 512+tt.bin, idx)
			assert.InDelta(t, 0, level, 0.1)
		})
	}
}

func TestEstimateSilenceIsFloor(t *testing.T) {
	e := NewEstimator(256)
	out := e.Estimate(nil, make([]complex64, 256))
	for _, v := range out {
		assert.InDelta(t, -200, v, 0.01)
	}
}

func TestEstimateReusesDst(t *testing.T) {
	e := NewEstimator(128)
	dst := make([]float32, 128)
	out := e.Estimate(dst, tone(64, 3, 0.5))
	assert.Equal(t, &dst[0], &out[0])
}

func TestFromCU8(t *testing.T) {
	got := FromCU8([]byte{255, 0, 127, 128, 1})
	require.Len(t, got, 2)
	assert.InDelta(t, 1, real(got[0]), 1e-6)
	assert.InDelta(t, -1, imag(got[0]), 1e-6)
	assert.InDelta(t, 0, real(got[1]), 0.01)
}
