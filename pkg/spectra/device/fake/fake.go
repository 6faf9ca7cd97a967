// Package fake provides a scripted Device for tests.
package fake

import (
	"context"
	"sync"

	"github.com/norasector/spectra/pkg/spectra/device"
)

// Device is an in-memory device. Frames are produced by FrameFunc (a constant
// frame of -100 dB by default) and failures are injected per operation.
type Device struct {
	mu sync.Mutex

	freq uint64
	rate uint32
	bw   uint32
	gain int32

	Limits device.Limits

	// FrameFunc builds the frame for the n-th fetch, counting from 1.
	FrameFunc func(n int, size int) []float32

	failFetch map[int]error
	failSet   map[string]error
	failGet   map[string]error

	Fetches int
	Sets    map[string]int
	Closes  int
}

func New(freq uint64, rate, bw uint32, gain int32) *Device {
	return &Device{
		freq: freq,
		rate: rate,
		bw:   bw,
		gain: gain,
		Limits: device.Limits{
			MaxFrequency:  ^uint64(0),
			MaxSampleRate: ^uint32(0),
			MaxBandwidth:  ^uint32(0),
			MinGain:       -1 << 31,
			MaxGain:       1<<31 - 1,
		},
		failFetch: make(map[int]error),
		failSet:   make(map[string]error),
		failGet:   make(map[string]error),
		Sets:      make(map[string]int),
	}
}

// FailFetch makes the n-th FetchFrame call (counting from 1) fail with err,
// or with a generic device i/o error when err is nil.
func (d *Device) FailFetch(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		err = device.IOError("fetch frame", nil)
	}
	d.failFetch[n] = err
}

// FailSet makes every set of the named parameter ("frequency", "sample_rate",
// "bandwidth", "gain") fail with err.
func (d *Device) FailSet(param string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failSet[param] = err
}

// FailGet makes every read of the named parameter fail with err.
func (d *Device) FailGet(param string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failGet[param] = err
}

func (d *Device) Frequency() (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freq, d.failGet["frequency"]
}

func (d *Device) SampleRate() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate, d.failGet["sample_rate"]
}

func (d *Device) Bandwidth() (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bw, d.failGet["bandwidth"]
}

func (d *Device) Gain() (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain, d.failGet["gain"]
}

func (d *Device) set(param string, check func() error, apply func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Sets[param]++
	if err := d.failSet[param]; err != nil {
		return err
	}
	if err := check(); err != nil {
		return err
	}
	apply()
	return nil
}

func (d *Device) SetFrequency(hz uint64) error {
	return d.set("frequency", func() error { return d.Limits.CheckFrequency(hz) }, func() { d.freq = hz })
}

func (d *Device) SetSampleRate(hz uint32) error {
	return d.set("sample_rate", func() error { return d.Limits.CheckSampleRate(hz) }, func() { d.rate = hz })
}

func (d *Device) SetBandwidth(hz uint32) error {
	return d.set("bandwidth", func() error { return d.Limits.CheckBandwidth(hz) }, func() { d.bw = hz })
}

func (d *Device) SetGain(db int32) error {
	return d.set("gain", func() error { return d.Limits.CheckGain(db) }, func() { d.gain = db })
}

func (d *Device) FetchFrame(ctx context.Context, size int) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Fetches++
	if err := ctx.Err(); err != nil {
		return nil, device.IOError("fetch frame", err)
	}
	if err, ok := d.failFetch[d.Fetches]; ok {
		return nil, err
	}
	if d.FrameFunc != nil {
		return d.FrameFunc(d.Fetches, size), nil
	}
	ret := make([]float32, size)
	for i := range ret {
		ret[i] = -100
	}
	return ret, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closes++
	return nil
}

// CloseCount returns how many times Close was called.
func (d *Device) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Closes
}

// FetchCount returns how many times FetchFrame was called.
func (d *Device) FetchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Fetches
}

// SetCount returns how many times the named parameter was written.
func (d *Device) SetCount(param string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Sets[param]
}
