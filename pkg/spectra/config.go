package spectra

import (
	"time"
)

const (
	DefaultFFTSize        = 1024
	DefaultHistory        = 100
	DefaultUpdateInterval = 50 * time.Millisecond
)

type Options struct {
	// FFTSize is the number of bins fetched per tick.
	FFTSize int
	// History is the number of frames kept for the waterfall.
	History int
	// UpdateInterval is the tick period.
	UpdateInterval time.Duration
	// FetchTimeout bounds each FetchFrame call. Zero leaves it to the device.
	FetchTimeout time.Duration
}
