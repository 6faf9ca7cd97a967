package rtlsdr

import (
	"context"
	"fmt"
	"sync"

	gsdr "github.com/jpoirier/gortlsdr"
	"github.com/norasector/spectra/pkg/dsp/spectrum"
	"github.com/norasector/spectra/pkg/spectra/device"
)

// R820T tuner limits. Gain is in dB; the driver takes tenths.
var Limits = device.Limits{
	MinFrequency:  24000000,
	MaxFrequency:  1766000000,
	MinSampleRate: 225001,
	MaxSampleRate: 3200000,
	MinBandwidth:  290000,
	MaxBandwidth:  8000000,
	MinGain:       0,
	MaxGain:       50,
}

// The driver wants reads in multiples of 512 bytes.
const readAlign = 512

// RTLSDRDevice reads synchronously, one block per frame.
type RTLSDRDevice struct {
	deviceIdx int
	device    *gsdr.Context

	mu         sync.Mutex
	centerFreq uint64
	sampleRate uint32
	bandwidth  uint32
	gain       int32

	buf       []byte
	estimator *spectrum.Estimator
	closeOnce sync.Once
}

func NewRTLSDRDevice(deviceIdx int, centerFreq uint64, sampleRate, bandwidth uint32, gain int32) (*RTLSDRDevice, error) {
	dev, err := gsdr.Open(deviceIdx)
	if err != nil {
		return nil, device.UnavailableError(fmt.Sprintf("rtlsdr %d", deviceIdx), err)
	}
	r := &RTLSDRDevice{deviceIdx: deviceIdx, device: dev}

	for _, set := range []func() error{
		func() error { return r.SetFrequency(centerFreq) },
		func() error { return r.SetSampleRate(sampleRate) },
		func() error { return r.SetBandwidth(bandwidth) },
		func() error { return dev.SetTunerGainMode(true) },
		func() error { return r.SetGain(gain) },
		dev.ResetBuffer,
	} {
		if err := set(); err != nil {
			r.Close()
			return nil, device.UnavailableError(fmt.Sprintf("rtlsdr %d", deviceIdx), err)
		}
	}

	return r, nil
}

func (r *RTLSDRDevice) Frequency() (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.centerFreq, nil
}

func (r *RTLSDRDevice) SampleRate() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sampleRate, nil
}

func (r *RTLSDRDevice) Bandwidth() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bandwidth, nil
}

func (r *RTLSDRDevice) Gain() (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gain, nil
}

func (r *RTLSDRDevice) SetFrequency(hz uint64) error {
	if err := Limits.CheckFrequency(hz); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.device.SetCenterFreq(int(hz)); err != nil {
		return device.IOError("set frequency", err)
	}
	r.centerFreq = hz
	return nil
}

func (r *RTLSDRDevice) SetSampleRate(hz uint32) error {
	if err := Limits.CheckSampleRate(hz); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.device.SetSampleRate(int(hz)); err != nil {
		return device.IOError("set sample rate", err)
	}
	r.sampleRate = hz
	return nil
}

func (r *RTLSDRDevice) SetBandwidth(hz uint32) error {
	if err := Limits.CheckBandwidth(hz); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.device.SetTunerBw(int(hz)); err != nil {
		return device.IOError("set bandwidth", err)
	}
	r.bandwidth = hz
	return nil
}

func (r *RTLSDRDevice) SetGain(db int32) error {
	if err := Limits.CheckGain(db); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.device.SetTunerGain(int(db) * 10); err != nil {
		return device.IOError("set gain", err)
	}
	r.gain = db
	return nil
}

// FetchFrame blocks for one read of size samples. The driver call cannot be
// interrupted; ctx is checked before the read.
func (r *RTLSDRDevice) FetchFrame(ctx context.Context, size int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, device.IOError("fetch frame", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	want := size * 2
	if rem := want % readAlign; rem != 0 {
		want += readAlign - rem
	}
	if len(r.buf) != want {
		r.buf = make([]byte, want)
	}

	n, err := r.device.ReadSync(r.buf, want)
	if err != nil {
		return nil, device.IOError("fetch frame", err)
	}
	if n < size*2 {
		return nil, device.IOError("fetch frame", fmt.Errorf("short read: %d bytes", n))
	}

	if r.estimator == nil || r.estimator.Size() != size {
		r.estimator = spectrum.NewEstimator(size)
	}
	return r.estimator.Estimate(nil, spectrum.FromCU8(r.buf[:n])), nil
}

func (r *RTLSDRDevice) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.device.Close()
	})
	return err
}
