package file

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/norasector/spectra/pkg/dsp/spectrum"
	"github.com/norasector/spectra/pkg/spectra/device"
	"github.com/norasector/turbine-common/types"
)

// FileDevice plays back a HackRF style capture (interleaved signed 8 bit IQ)
// and rewinds at the end. The recording cannot be retuned: tuning values are
// only remembered so the axis matches what the capture was made with.
type FileDevice struct {
	mu         sync.Mutex
	readFile   *os.File
	buf        []byte
	centerFreq uint64
	sampleRate uint32
	bandwidth  uint32
	gain       int32
	estimator  *spectrum.Estimator
	closeOnce  sync.Once
}

func NewFileDevice(file string, centerFreq uint64, sampleRate, bandwidth uint32, gain int32) (*FileDevice, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, device.UnavailableError("file "+file, err)
	}

	return &FileDevice{
		readFile:   f,
		centerFreq: centerFreq,
		sampleRate: sampleRate,
		bandwidth:  bandwidth,
		gain:       gain,
	}, nil
}

func (f *FileDevice) Frequency() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.centerFreq, nil
}

func (f *FileDevice) SampleRate() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sampleRate, nil
}

func (f *FileDevice) Bandwidth() (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bandwidth, nil
}

func (f *FileDevice) Gain() (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gain, nil
}

func (f *FileDevice) SetFrequency(hz uint64) error {
	f.mu.Lock()
	f.centerFreq = hz
	f.mu.Unlock()
	return nil
}

func (f *FileDevice) SetSampleRate(hz uint32) error {
	if hz == 0 {
		return device.InvalidParamError("set sample rate", hz)
	}
	f.mu.Lock()
	f.sampleRate = hz
	f.mu.Unlock()
	return nil
}

func (f *FileDevice) SetBandwidth(hz uint32) error {
	f.mu.Lock()
	f.bandwidth = hz
	f.mu.Unlock()
	return nil
}

func (f *FileDevice) SetGain(db int32) error {
	f.mu.Lock()
	f.gain = db
	f.mu.Unlock()
	return nil
}

func (f *FileDevice) FetchFrame(ctx context.Context, size int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, device.IOError("fetch frame", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.buf) != size*2 {
		f.buf = make([]byte, size*2)
	}

	if err := f.readFull(f.buf); err != nil {
		return nil, device.IOError("fetch frame", err)
	}

	seg := types.SegmentCS8Raw{
		SampleRate: int(f.sampleRate),
		Data:       make([]byte, len(f.buf)),
		Frequency:  int(f.centerFreq),
	}
	copy(seg.Data, f.buf)

	if f.estimator == nil || f.estimator.Size() != size {
		f.estimator = spectrum.NewEstimator(size)
	}
	return f.estimator.Estimate(nil, seg.ToComplex64().Data), nil
}

// readFull fills buf, wrapping to the start of the file once.
func (f *FileDevice) readFull(buf []byte) error {
	n, err := io.ReadFull(f.readFile, buf)
	if err == nil {
		return nil
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	if _, err := f.readFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = io.ReadFull(f.readFile, buf[n:])
	return err
}

func (f *FileDevice) Close() error {
	var err error
	f.closeOnce.Do(func() {
		err = f.readFile.Close()
	})
	return err
}
