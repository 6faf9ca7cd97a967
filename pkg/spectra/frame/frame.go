// Package frame holds the values exchanged between the acquisition loop and
// its consumers: power spectrum frames and the frequency axis they map onto.
package frame

import "math"

// Frame is one power spectrum snapshot in dB, lowest frequency first.
// A Frame is never modified after it leaves the device.
type Frame []float32

// Peak returns the index and level of the strongest bin. It returns -1 for an
// empty frame.
func (f Frame) Peak() (int, float32) {
	idx := -1
	max := float32(math.Inf(-1))
	for i, v := range f {
		if v > max {
			idx = i
			max = v
		}
	}
	return idx, max
}

// Axis is the frequency span a frame covers.
type Axis struct {
	StartHz float64 `json:"start_hz"`
	EndHz   float64 `json:"end_hz"`
	Bins    int     `json:"bins"`
}

// NewAxis derives the axis for a device tuned to centerFreq with the given
// sample rate. The span is centerFreq +/- sampleRate/2.
func NewAxis(centerFreq uint64, sampleRate uint32, bins int) Axis {
	half := float64(sampleRate) / 2
	return Axis{
		StartHz: float64(centerFreq) - half,
		EndHz:   float64(centerFreq) + half,
		Bins:    bins,
	}
}

// Span is EndHz - StartHz.
func (a Axis) Span() float64 {
	return a.EndHz - a.StartHz
}

// FrequencyAt returns the frequency of bin i. Bins are spaced evenly with the
// first bin at StartHz and the last at EndHz.
func (a Axis) FrequencyAt(i int) float64 {
	if a.Bins <= 1 {
		return a.StartHz
	}
	return a.StartHz + a.Span()*float64(i)/float64(a.Bins-1)
}

// Frequencies returns FrequencyAt for every bin.
func (a Axis) Frequencies() []float64 {
	ret := make([]float64, a.Bins)
	for i := range ret {
		ret[i] = a.FrequencyAt(i)
	}
	return ret
}
