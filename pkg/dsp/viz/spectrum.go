package viz

import (
	"fmt"
	"image/color"
	"sync"

	"github.com/norasector/spectra/pkg/spectra"
	"github.com/norasector/spectra/pkg/spectra/frame"
	"github.com/norasector/spectra/pkg/util"
	"gonum.org/v1/plot/plotter"
)

var (
	traceColor   = color.RGBA{R: 0x40, G: 0xc0, B: 0xff, A: 0xff}
	maxHoldColor = color.RGBA{R: 0xff, G: 0xa0, B: 0x20, A: 0xff}
	peakColor    = color.RGBA{R: 0xff, G: 0x30, B: 0x30, A: 0xff}
)

// SpectrumPlotter draws the latest frame against its axis, with a max hold
// trace that restarts whenever the axis changes.
type SpectrumPlotter struct {
	mu          sync.Mutex
	name        string
	frame       frame.Frame
	axis        frame.Axis
	maxHold     []float32
	minDB       float64
	maxDB       float64
	plotOptions []PlotOptions
}

func NewSpectrumPlotter(name string, minDB, maxDB float64) *SpectrumPlotter {
	return &SpectrumPlotter{
		name:  name,
		minDB: minDB,
		maxDB: maxDB,
	}
}

func (sp *SpectrumPlotter) Name() string {
	return sp.name
}

func (sp *SpectrumPlotter) AddPlotOption(opt PlotOptions) {
	sp.plotOptions = append(sp.plotOptions, opt)
}

func (sp *SpectrumPlotter) Update(em *spectra.Emission) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if em.Axis != sp.axis || len(sp.maxHold) != len(em.Frame) {
		sp.maxHold = make([]float32, len(em.Frame))
		copy(sp.maxHold, em.Frame)
	} else {
		for i, v := range em.Frame {
			if v > sp.maxHold[i] {
				sp.maxHold[i] = v
			}
		}
	}
	sp.frame = em.Frame
	sp.axis = em.Axis
}

// MaxHold returns a copy of the max hold trace.
func (sp *SpectrumPlotter) MaxHold() []float32 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return append([]float32(nil), sp.maxHold...)
}

func (sp *SpectrumPlotter) trace(values []float32) plotter.XYs {
	ret := make(plotter.XYs, len(values))
	for i, v := range values {
		ret[i] = plotter.XY{
			X: util.HzToMHz(sp.axis.FrequencyAt(i)),
			Y: clampDB(float64(v), sp.minDB, sp.maxDB),
		}
	}
	return ret
}

func (sp *SpectrumPlotter) GetImage() (*ImageContainer, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if len(sp.frame) == 0 {
		return nil, nil
	}

	p := plotWithDefaults()
	p.Y.Label.Text = "Power (dB)"
	p.X.Label.Text = "Frequency (MHz)"
	p.X.Min = util.HzToMHz(sp.axis.StartHz)
	p.X.Max = util.HzToMHz(sp.axis.EndHz)
	p.Y.Min = sp.minDB
	p.Y.Max = sp.maxDB

	bin, level := sp.frame.Peak()
	peakFreq := sp.axis.FrequencyAt(bin)
	p.Title.Text = fmt.Sprintf("%s  Peak: %s %.1f dB", sp.name, util.MHzToString(uint64(peakFreq)), level)

	for _, opt := range sp.plotOptions {
		opt(p)
	}

	p.Add(plotter.NewGrid())

	hold, err := plotter.NewLine(sp.trace(sp.maxHold))
	if err != nil {
		return nil, err
	}
	hold.LineStyle.Color = maxHoldColor

	live, err := plotter.NewLine(sp.trace(sp.frame))
	if err != nil {
		return nil, err
	}
	live.LineStyle.Color = traceColor

	peak, err := plotter.NewScatter(plotter.XYs{{
		X: util.HzToMHz(peakFreq),
		Y: clampDB(float64(level), sp.minDB, sp.maxDB),
	}})
	if err != nil {
		return nil, err
	}
	peak.GlyphStyle.Color = peakColor

	p.Add(hold, live, peak)
	p.Legend.Add("max hold", hold)
	p.Legend.Add("live", live)
	p.Legend.Top = true

	return renderPNG(sp.name, p)
}
