// Package sim is a software spectrum analyzer with the tuning limits of a
// bladeRF x40. It synthesizes tones and noise for the current tuning.
package sim

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/mjibson/go-dsp/window"
	"github.com/norasector/spectra/pkg/dsp/mixer"
	"github.com/norasector/spectra/pkg/dsp/spectrum"
	"github.com/norasector/spectra/pkg/spectra/device"
	"github.com/racerxdl/segdsp/dsp"
)

const (
	filterTaps = 63
	// Gain at which tone and noise levels are quoted.
	referenceGain = 30
)

var Limits = device.Limits{
	MinFrequency:  47000000,
	MaxFrequency:  6000000000,
	MinSampleRate: 520834,
	MaxSampleRate: 61440000,
	MinBandwidth:  200000,
	MaxBandwidth:  56000000,
	MinGain:       -15,
	MaxGain:       60,
}

// Tone is a carrier present on the simulated air.
type Tone struct {
	Frequency uint64
	LevelDB   float64
}

type Options struct {
	CenterFreq uint64
	SampleRate uint32
	Bandwidth  uint32
	Gain       int32

	Tones        []Tone
	NoiseFloorDB float64
	// FailureRate is the probability that a FetchFrame call fails.
	FailureRate float64
	Seed        int64
}

type Device struct {
	mu sync.Mutex

	freq uint64
	rate uint32
	bw   uint32
	gain int32

	opts      Options
	rng       *rand.Rand
	tones     []*mixer.Oscillator
	filter    *dsp.FirFilter
	estimator *spectrum.Estimator
	closed    bool
}

func NewDevice(opts Options) (*Device, error) {
	d := &Device{
		opts:  opts,
		rng:   rand.New(rand.NewSource(opts.Seed)),
		tones: make([]*mixer.Oscillator, len(opts.Tones)),
	}

	for _, check := range []error{
		Limits.CheckFrequency(opts.CenterFreq),
		Limits.CheckSampleRate(opts.SampleRate),
		Limits.CheckBandwidth(opts.Bandwidth),
		Limits.CheckGain(opts.Gain),
	} {
		if check != nil {
			return nil, device.UnavailableError("sim", check)
		}
	}

	for i := range d.tones {
		d.tones[i] = mixer.NewOscillator(opts.SampleRate, 0)
	}

	d.freq = opts.CenterFreq
	d.rate = opts.SampleRate
	d.bw = opts.Bandwidth
	d.gain = opts.Gain
	d.rebuildFilter()

	return d, nil
}

func (d *Device) Frequency() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, device.IOError("get frequency", nil)
	}
	return d.freq, nil
}

func (d *Device) SampleRate() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, device.IOError("get sample rate", nil)
	}
	return d.rate, nil
}

func (d *Device) Bandwidth() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, device.IOError("get bandwidth", nil)
	}
	return d.bw, nil
}

func (d *Device) Gain() (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, device.IOError("get gain", nil)
	}
	return d.gain, nil
}

func (d *Device) SetFrequency(hz uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.IOError("set frequency", nil)
	}
	if err := Limits.CheckFrequency(hz); err != nil {
		return err
	}
	d.freq = hz
	return nil
}

func (d *Device) SetSampleRate(hz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.IOError("set sample rate", nil)
	}
	if err := Limits.CheckSampleRate(hz); err != nil {
		return err
	}
	d.rate = hz
	d.rebuildFilter()
	return nil
}

func (d *Device) SetBandwidth(hz uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.IOError("set bandwidth", nil)
	}
	if err := Limits.CheckBandwidth(hz); err != nil {
		return err
	}
	d.bw = hz
	d.rebuildFilter()
	return nil
}

func (d *Device) SetGain(db int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return device.IOError("set gain", nil)
	}
	if err := Limits.CheckGain(db); err != nil {
		return err
	}
	d.gain = db
	return nil
}

// rebuildFilter designs the low-pass that stands in for the analog baseband
// filter. No filter is used when the bandwidth covers the whole sample rate.
func (d *Device) rebuildFilter() {
	if d.bw >= d.rate {
		d.filter = nil
		return
	}
	cutoff := float64(d.bw) / 2 / float64(d.rate)
	d.filter = dsp.MakeFirFilter(makeLowPass(filterTaps, cutoff))
}

func makeLowPass(ntaps int, cutoff float64) []float32 {
	taps := make([]float32, ntaps)
	w := window.Hamming(ntaps)

	M := (ntaps - 1) / 2
	fwT0 := 2 * math.Pi * cutoff

	var sum float64
	for i := -M; i <= M; i++ {
		var v float64
		if i == 0 {
			v = fwT0 / math.Pi
		} else {
			fi := float64(i)
			v = math.Sin(fi*fwT0) / (fi * math.Pi)
		}
		v *= w[i+M]
		taps[i+M] = float32(v)
		sum += v
	}

	for i := range taps {
		taps[i] = float32(float64(taps[i]) / sum)
	}
	return taps
}

func (d *Device) FetchFrame(ctx context.Context, size int) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, device.IOError("fetch frame", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, device.IOError("fetch frame", err)
	}
	if d.opts.FailureRate > 0 && d.rng.Float64() < d.opts.FailureRate {
		return nil, device.IOError("fetch frame", nil)
	}

	if d.estimator == nil || d.estimator.Size() != size {
		d.estimator = spectrum.NewEstimator(size)
	}

	samples := d.synthesize(size + filterTaps)
	if d.filter != nil {
		filtered := make([]complex64, len(samples))
		n := d.filter.WorkBuffer(samples, filtered)
		samples = filtered[:n]
	}

	return d.estimator.Estimate(nil, samples), nil
}

func (d *Device) synthesize(n int) []complex64 {
	scale := math.Pow(10, float64(d.gain-referenceGain)/20)
	// Noise is scaled so the per-bin floor of the estimate lands near
	// NoiseFloorDB.
	noiseAmp := scale * math.Pow(10, d.opts.NoiseFloorDB/20) * math.Sqrt(float64(n)/2)
	ret := make([]complex64, n)

	for i := range ret {
		ret[i] = complex64(complex(d.rng.NormFloat64()*noiseAmp, d.rng.NormFloat64()*noiseAmp))
	}

	half := float64(d.rate) / 2
	for t, tone := range d.opts.Tones {
		offset := float64(tone.Frequency) - float64(d.freq)
		if math.Abs(offset) >= half {
			continue
		}
		d.tones[t].Retune(d.rate, offset)
		d.tones[t].AddTo(ret, scale*math.Pow(10, tone.LevelDB/20))
	}

	return ret
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
