package mixer

import (
	"math"
)

const (
	tau float64 = math.Pi * 2
)

// Oscillator is a complex exponential at an offset from baseband. Phase is
// carried across calls so consecutive blocks join without a step.
type Oscillator struct {
	phase          float64
	phaseIncrement float64
}

func NewOscillator(sampleRate uint32, offsetHz float64) *Oscillator {
	ret := &Oscillator{}
	ret.Retune(sampleRate, offsetHz)
	return ret
}

// Retune changes the frequency and keeps the current phase.
func (o *Oscillator) Retune(sampleRate uint32, offsetHz float64) {
	o.phaseIncrement = offsetHz * tau / float64(sampleRate)
}

func (o *Oscillator) incrementPhase() {
	o.phase += o.phaseIncrement
	if o.phase > tau {
		o.phase -= tau
	} else if o.phase < -tau {
		o.phase += tau
	}
}

// AddTo adds the oscillator at the given amplitude into buf.
func (o *Oscillator) AddTo(buf []complex64, amplitude float64) {
	for i := 0; i < len(buf); i++ {
		sin, cos := math.Sincos(o.phase)
		buf[i] += complex(float32(amplitude*cos), float32(amplitude*sin))
		o.incrementPhase()
	}
}
