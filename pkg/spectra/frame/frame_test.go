package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAxis(t *testing.T) {
	tests := []struct {
		name       string
		center     uint64
		rate       uint32
		start, end float64
	}{
		{"100MHz", 100000000, 2000000, 99000000, 101000000},
		{"200MHz", 200000000, 2000000, 199000000, 201000000},
		{"odd rate", 915000000, 1000001, 914499999.5, 915500000.5},
		{"915MHz default", 915000000, 10000000, 910000000, 920000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAxis(tt.center, tt.rate, 1024)
			assert.Equal(t, tt.start, a.StartHz)
			assert.Equal(t, tt.end, a.EndHz)
			assert.Equal(t, 1024, a.Bins)
		})
	}
}

func TestAxisFrequencyAt(t *testing.T) {
	a := NewAxis(100000000, 2000000, 5)

	assert.Equal(t, []float64{99000000, 99500000, 100000000, 100500000, 101000000}, a.Frequencies())

	single := NewAxis(100000000, 2000000, 1)
	assert.Equal(t, single.StartHz, single.FrequencyAt(0))
}

func TestFramePeak(t *testing.T) {
	idx, v := Frame{-90, -20, -30, -20}.Peak()
	assert.Equal(t, 1, idx)
	assert.Equal(t, float32(-20), v)

	idx, _ = Frame{}.Peak()
	assert.Equal(t, -1, idx)
}
