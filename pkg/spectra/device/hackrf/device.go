package hackrf

import (
	"context"
	"sync"

	"github.com/norasector/spectra/pkg/dsp/spectrum"
	"github.com/norasector/spectra/pkg/spectra/device"
	"github.com/norasector/turbine-common/types"
	"github.com/samuel/go-hackrf/hackrf"
)

// HackRF One tuning limits. The LNA gain moves in 8 dB steps; requested
// values are rounded down by the firmware.
var Limits = device.Limits{
	MinFrequency:  1000000,
	MaxFrequency:  6000000000,
	MinSampleRate: 2000000,
	MaxSampleRate: 20000000,
	MinBandwidth:  1750000,
	MaxBandwidth:  28000000,
	MinGain:       0,
	MaxGain:       40,
}

// HackRFDevice streams IQ in the background and keeps the most recent block.
// FetchFrame turns the newest block into a spectrum.
type HackRFDevice struct {
	device *hackrf.Device

	mu         sync.Mutex
	centerFreq uint64
	sampleRate uint32
	bandwidth  uint32
	gain       int32

	latest    []complex64
	fresh     chan struct{}
	estimator *spectrum.Estimator
	closeOnce sync.Once
}

func NewHackRFDevice(centerFreq uint64, sampleRate, bandwidth uint32, gain int32) (*HackRFDevice, error) {
	if err := hackrf.Init(); err != nil {
		return nil, device.UnavailableError("hackrf", err)
	}

	dev, err := hackrf.Open()
	if err != nil {
		hackrf.Exit()
		return nil, device.UnavailableError("hackrf", err)
	}

	h := &HackRFDevice{
		device: dev,
		fresh:  make(chan struct{}, 1),
	}

	for _, set := range []func() error{
		func() error { return h.SetFrequency(centerFreq) },
		func() error { return h.SetSampleRate(sampleRate) },
		func() error { return h.SetBandwidth(bandwidth) },
		func() error { return h.SetGain(gain) },
		func() error { return dev.SetAmpEnable(false) },
		func() error { return dev.StartRX(h.callback) },
	} {
		if err := set(); err != nil {
			h.Close()
			return nil, device.UnavailableError("hackrf", err)
		}
	}

	return h, nil
}

func (h *HackRFDevice) callback(buf []byte) error {
	seg := types.SegmentCS8Raw{
		SampleRate: int(h.currentRate()),
		Data:       make([]byte, len(buf)),
		Frequency:  int(h.currentFreq()),
	}
	copy(seg.Data, buf)

	complexSegment := seg.ToComplex64()

	h.mu.Lock()
	h.latest = complexSegment.Data
	h.mu.Unlock()

	select {
	case h.fresh <- struct{}{}:
	default:
	}
	return nil
}

func (h *HackRFDevice) currentFreq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.centerFreq
}

func (h *HackRFDevice) currentRate() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sampleRate
}

func (h *HackRFDevice) Frequency() (uint64, error) {
	return h.currentFreq(), nil
}

func (h *HackRFDevice) SampleRate() (uint32, error) {
	return h.currentRate(), nil
}

func (h *HackRFDevice) Bandwidth() (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bandwidth, nil
}

func (h *HackRFDevice) Gain() (int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gain, nil
}

func (h *HackRFDevice) SetFrequency(hz uint64) error {
	if err := Limits.CheckFrequency(hz); err != nil {
		return err
	}
	if err := h.device.SetFreq(hz); err != nil {
		return device.IOError("set frequency", err)
	}
	h.mu.Lock()
	h.centerFreq = hz
	h.latest = nil
	h.mu.Unlock()
	return nil
}

func (h *HackRFDevice) SetSampleRate(hz uint32) error {
	if err := Limits.CheckSampleRate(hz); err != nil {
		return err
	}
	if err := h.device.SetSampleRateManual(int(hz)*2, 2); err != nil {
		return device.IOError("set sample rate", err)
	}
	h.mu.Lock()
	h.sampleRate = hz
	h.latest = nil
	h.mu.Unlock()
	return nil
}

func (h *HackRFDevice) SetBandwidth(hz uint32) error {
	if err := Limits.CheckBandwidth(hz); err != nil {
		return err
	}
	if err := h.device.SetBasebandFilterBandwidth(int(hz)); err != nil {
		return device.IOError("set bandwidth", err)
	}
	h.mu.Lock()
	h.bandwidth = hz
	h.mu.Unlock()
	return nil
}

func (h *HackRFDevice) SetGain(db int32) error {
	if err := Limits.CheckGain(db); err != nil {
		return err
	}
	if err := h.device.SetLNAGain(int(db)); err != nil {
		return device.IOError("set gain", err)
	}
	h.mu.Lock()
	h.gain = db
	h.mu.Unlock()
	return nil
}

// FetchFrame waits for a block captured after the last retune, bounded by ctx.
func (h *HackRFDevice) FetchFrame(ctx context.Context, size int) ([]float32, error) {
	for {
		h.mu.Lock()
		samples := h.latest
		h.mu.Unlock()

		if len(samples) >= size {
			if h.estimator == nil || h.estimator.Size() != size {
				h.estimator = spectrum.NewEstimator(size)
			}
			return h.estimator.Estimate(nil, samples), nil
		}

		select {
		case <-ctx.Done():
			return nil, device.IOError("fetch frame", ctx.Err())
		case <-h.fresh:
		}
	}
}

func (h *HackRFDevice) Close() error {
	var err error
	h.closeOnce.Do(func() {
		if stopErr := h.device.StopRX(); stopErr != nil {
			err = stopErr
		}
		if closeErr := h.device.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		hackrf.Exit()
	})
	return err
}
