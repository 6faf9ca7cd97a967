package mixer

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddToIsContinuous(t *testing.T) {
	o := NewOscillator(1000, 100)
	first := make([]complex64, 7)
	second := make([]complex64, 7)
	o.AddTo(first, 1)
	o.AddTo(second, 1)

	whole := make([]complex64, 14)
	NewOscillator(1000, 100).AddTo(whole, 1)

	for i := range first {
		assert.InDelta(t, real(whole[i]), real(first[i]), 1e-6)
		assert.InDelta(t, imag(whole[i+7]), imag(second[i]), 1e-6)
	}
}

func TestAddToAmplitudeAndStep(t *testing.T) {
	o := NewOscillator(1000, 250)
	buf := make([]complex64, 4)
	buf[0] = 1
	o.AddTo(buf, 2)

	assert.InDelta(t, 3, real(buf[0]), 1e-6)
	for i := 1; i < len(buf); i++ {
		assert.InDelta(t, 2, cmplx.Abs(complex128(buf[i])), 1e-5)
	}
	// quarter turn per sample
	assert.InDelta(t, math.Pi/2, cmplx.Phase(complex128(buf[1])), 1e-5)
}

func TestRetuneKeepsPhase(t *testing.T) {
	o := NewOscillator(1000, 250)
	o.AddTo(make([]complex64, 1), 1)
	o.Retune(1000, 0)

	buf := make([]complex64, 3)
	o.AddTo(buf, 1)
	for _, v := range buf {
		assert.InDelta(t, math.Pi/2, cmplx.Phase(complex128(v)), 1e-5)
	}
}
