package device

import (
	"context"
	"errors"
	"fmt"
)

// Device is a spectrum analyzer front end. Implementations own their range
// limits: a setter given a value the hardware cannot take fails with
// ErrInvalidParam. Every call is synchronous and bounded; FetchFrame gives up
// when ctx is done.
type Device interface {
	Frequency() (uint64, error)
	SampleRate() (uint32, error)
	Bandwidth() (uint32, error)
	Gain() (int32, error)

	SetFrequency(hz uint64) error
	SetSampleRate(hz uint32) error
	SetBandwidth(hz uint32) error
	SetGain(db int32) error

	// FetchFrame returns size power values in dB, lowest frequency first.
	FetchFrame(ctx context.Context, size int) ([]float32, error)

	Close() error
}

var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrDeviceIO          = errors.New("device i/o error")
	ErrInvalidParam      = errors.New("invalid parameter")
)

// OpError records the device operation that failed.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IOError wraps cause as an ErrDeviceIO for op.
func IOError(op string, cause error) error {
	if cause == nil {
		return &OpError{Op: op, Err: ErrDeviceIO}
	}
	return &OpError{Op: op, Err: fmt.Errorf("%w: %v", ErrDeviceIO, cause)}
}

// InvalidParamError reports that the device refused value for op.
func InvalidParamError(op string, value interface{}) error {
	return &OpError{Op: op, Err: fmt.Errorf("%w: %v out of range", ErrInvalidParam, value)}
}

// UnavailableError wraps a failed open.
func UnavailableError(name string, cause error) error {
	return &OpError{Op: "open " + name, Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, cause)}
}

// Limits describes the accepted tuning ranges of a device, inclusive.
type Limits struct {
	MinFrequency, MaxFrequency   uint64
	MinSampleRate, MaxSampleRate uint32
	MinBandwidth, MaxBandwidth   uint32
	MinGain, MaxGain             int32
}

func (l Limits) CheckFrequency(hz uint64) error {
	if hz < l.MinFrequency || hz > l.MaxFrequency {
		return InvalidParamError("set frequency", hz)
	}
	return nil
}

func (l Limits) CheckSampleRate(hz uint32) error {
	if hz < l.MinSampleRate || hz > l.MaxSampleRate {
		return InvalidParamError("set sample rate", hz)
	}
	return nil
}

func (l Limits) CheckBandwidth(hz uint32) error {
	if hz < l.MinBandwidth || hz > l.MaxBandwidth {
		return InvalidParamError("set bandwidth", hz)
	}
	return nil
}

func (l Limits) CheckGain(db int32) error {
	if db < l.MinGain || db > l.MaxGain {
		return InvalidParamError("set gain", db)
	}
	return nil
}
