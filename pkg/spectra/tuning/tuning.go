// Package tuning caches the device tuning parameters on the control side and
// applies user edits to the device one field at a time.
package tuning

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/norasector/spectra/pkg/spectra/device"
)

// ErrMalformedInput is returned for a field whose text is not an integer
// representable by the parameter. No device call is made for such a field.
var ErrMalformedInput = errors.New("malformed input")

type Param int

const (
	Frequency Param = iota
	SampleRate
	Bandwidth
	Gain
)

func (p Param) String() string {
	switch p {
	case Frequency:
		return "frequency"
	case SampleRate:
		return "sample_rate"
	case Bandwidth:
		return "bandwidth"
	case Gain:
		return "gain"
	default:
		return fmt.Sprintf("param(%d)", int(p))
	}
}

// ParseParam is the inverse of Param.String.
func ParseParam(s string) (Param, bool) {
	for _, p := range []Param{Frequency, SampleRate, Bandwidth, Gain} {
		if p.String() == s {
			return p, true
		}
	}
	return 0, false
}

// Settings is a snapshot of the device tuning.
type Settings struct {
	CenterFrequency uint64 `json:"center_frequency_hz"`
	SampleRate      uint32 `json:"sample_rate_hz"`
	Bandwidth       uint32 `json:"bandwidth_hz"`
	Gain            int32  `json:"gain_db"`
}

// Change is one user edit: the raw text typed for a parameter.
type Change struct {
	Param Param
	Text  string
}

// Set builds the Change that writes text to p.
func Set(p Param, text string) Change {
	return Change{Param: p, Text: text}
}

// FieldResult is the outcome of one Change. Err is nil on success and
// otherwise matches ErrMalformedInput, device.ErrInvalidParam or
// device.ErrDeviceIO under errors.Is.
type FieldResult struct {
	Param Param
	Text  string
	Err   error
}

// AppliedResult holds one FieldResult per Change, in the order given.
type AppliedResult struct {
	Fields []FieldResult
	// Tuning is the cached state right after the changes.
	Tuning Settings
}

// OK reports whether every field was applied.
func (r AppliedResult) OK() bool {
	for _, f := range r.Fields {
		if f.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the fields that were not applied.
func (r AppliedResult) Failed() []FieldResult {
	var ret []FieldResult
	for _, f := range r.Fields {
		if f.Err != nil {
			ret = append(ret, f)
		}
	}
	return ret
}

// Field returns the last result for p.
func (r AppliedResult) Field(p Param) (FieldResult, bool) {
	for i := len(r.Fields) - 1; i >= 0; i-- {
		if r.Fields[i].Param == p {
			return r.Fields[i], true
		}
	}
	return FieldResult{}, false
}

// State mirrors the last tuning values successfully read from or written to
// the device. The cache only moves after the device accepted a value.
//
// State is not safe for concurrent use; the acquisition loop serializes
// access to it.
type State struct {
	dev     device.Device
	current Settings
}

// New reads the current tuning from dev.
func New(dev device.Device) (*State, error) {
	var s Settings
	var err error

	if s.CenterFrequency, err = dev.Frequency(); err != nil {
		return nil, fmt.Errorf("reading frequency: %w", err)
	}
	if s.SampleRate, err = dev.SampleRate(); err != nil {
		return nil, fmt.Errorf("reading sample rate: %w", err)
	}
	if s.Bandwidth, err = dev.Bandwidth(); err != nil {
		return nil, fmt.Errorf("reading bandwidth: %w", err)
	}
	if s.Gain, err = dev.Gain(); err != nil {
		return nil, fmt.Errorf("reading gain: %w", err)
	}

	return &State{dev: dev, current: s}, nil
}

// Current returns the cached settings without touching the device.
func (s *State) Current() Settings {
	return s.current
}

// Apply writes each change to the device in order. Fields are independent: a
// failure is recorded and the remaining changes are still attempted.
func (s *State) Apply(changes ...Change) AppliedResult {
	res := AppliedResult{Fields: make([]FieldResult, 0, len(changes))}
	for _, c := range changes {
		res.Fields = append(res.Fields, FieldResult{
			Param: c.Param,
			Text:  c.Text,
			Err:   s.apply(c),
		})
	}
	res.Tuning = s.current
	return res
}

func (s *State) apply(c Change) error {
	text := strings.TrimSpace(c.Text)

	switch c.Param {
	case Frequency:
		v, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return malformed(c, err)
		}
		if err := s.dev.SetFrequency(v); err != nil {
			return err
		}
		s.current.CenterFrequency = v

	case SampleRate:
		v, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return malformed(c, err)
		}
		if err := s.dev.SetSampleRate(uint32(v)); err != nil {
			return err
		}
		s.current.SampleRate = uint32(v)

	case Bandwidth:
		v, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return malformed(c, err)
		}
		if err := s.dev.SetBandwidth(uint32(v)); err != nil {
			return err
		}
		s.current.Bandwidth = uint32(v)

	case Gain:
		v, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return malformed(c, err)
		}
		if err := s.dev.SetGain(int32(v)); err != nil {
			return err
		}
		s.current.Gain = int32(v)

	default:
		return fmt.Errorf("%w: unknown parameter %s", ErrMalformedInput, c.Param)
	}

	return nil
}

func malformed(c Change, err error) error {
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		err = numErr.Err
	}
	return fmt.Errorf("%w: %s %q: %v", ErrMalformedInput, c.Param, c.Text, err)
}
