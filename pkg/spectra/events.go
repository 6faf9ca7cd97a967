package spectra

import (
	"time"

	"github.com/norasector/spectra/pkg/spectra/frame"
	"github.com/norasector/spectra/pkg/spectra/tuning"
)

// Event is delivered to every Output. It is one of *Emission,
// *FrameFetchFailed or *SettingsApplied.
type Event interface {
	event()
}

// Emission is the result of one successful tick. Frame and Axis were derived
// from the same tuning snapshot, Tuning. Waterfall is newest first and
// Waterfall[0] is Frame.
type Emission struct {
	Sequence  uint64
	Time      time.Time
	Frame     frame.Frame
	Axis      frame.Axis
	Waterfall []frame.Frame
	Tuning    tuning.Settings
}

// FrameFetchFailed reports a tick whose fetch failed. Nothing was pushed and
// the last emitted axis still stands.
type FrameFetchFailed struct {
	Time time.Time
	Err  error
	// Consecutive counts failed ticks since the last successful one.
	Consecutive int
}

// SettingsApplied reports the outcome of an Apply call.
type SettingsApplied struct {
	Time   time.Time
	Result tuning.AppliedResult
	// Tuning is the cached state after the apply.
	Tuning tuning.Settings
}

func (*Emission) event()         {}
func (*FrameFetchFailed) event() {}
func (*SettingsApplied) event()  {}
