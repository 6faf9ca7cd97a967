// Package spectrum turns blocks of IQ samples into power spectrum frames.
package spectrum

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// powerFloor keeps log10 finite for empty bins.
const powerFloor = 1e-20

// Estimator computes Blackman windowed, FFT shifted power spectra of a fixed
// size. The first output bin is the most negative frequency. Output is in dB
// relative to a full scale tone.
//
// An Estimator reuses its buffers and is not safe for concurrent use.
type Estimator struct {
	size   int
	fft    *fourier.CmplxFFT
	win    []float64
	norm   float64
	in     []complex128
	coeffs []complex128
}

func NewEstimator(size int) *Estimator {
	win := window.Blackman(size)

	var sum float64
	for _, w := range win {
		sum += w
	}

	return &Estimator{
		size:   size,
		fft:    fourier.NewCmplxFFT(size),
		win:    win,
		norm:   sum * sum,
		in:     make([]complex128, size),
		coeffs: make([]complex128, size),
	}
}

func (e *Estimator) Size() int {
	return e.size
}

// Estimate writes the spectrum of the last Size() samples into dst, growing
// it when too short, and returns it. Fewer samples are zero padded.
func (e *Estimator) Estimate(dst []float32, samples []complex64) []float32 {
	if len(dst) < e.size {
		dst = make([]float32, e.size)
	}
	dst = dst[:e.size]

	if len(samples) > e.size {
		samples = samples[len(samples)-e.size:]
	}
	for i := range e.in {
		if i < len(samples) {
			e.in[i] = complex128(samples[i]) * complex(e.win[i], 0)
		} else {
			e.in[i] = 0
		}
	}

	e.coeffs = e.fft.Coefficients(e.coeffs, e.in)

	for i := 0; i < e.size; i++ {
		c := e.coeffs[e.fft.ShiftIdx(i)]
		mag := cmplx.Abs(c)
		dst[i] = float32(10 * math.Log10(mag*mag/e.norm+powerFloor))
	}

	return dst
}

// FromCU8 converts interleaved unsigned 8 bit IQ, as produced by RTL-SDR
// tuners, into complex samples in [-1, 1].
func FromCU8(buf []byte) []complex64 {
	ret := make([]complex64, len(buf)/2)
	for i := range ret {
		re := (float32(buf[2*i]) - 127.5) / 127.5
		im := (float32(buf[2*i+1]) - 127.5) / 127.5
		ret[i] = complex(re, im)
	}
	return ret
}
