package viz

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/norasector/spectra/pkg/spectra"
	"github.com/norasector/spectra/pkg/spectra/frame"
	"github.com/norasector/spectra/pkg/util"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
)

const paletteSize = 256

// WaterfallPlotter draws the frame history as a heat map, newest row on top.
// Colours are fixed to the [minDB, maxDB] levels.
type WaterfallPlotter struct {
	mu          sync.Mutex
	name        string
	rows        []frame.Frame
	axis        frame.Axis
	colors      []color.Color
	minDB       float64
	maxDB       float64
	plotOptions []PlotOptions
}

func NewWaterfallPlotter(name string, minDB, maxDB float64) *WaterfallPlotter {
	return &WaterfallPlotter{
		name:   name,
		colors: palette.Heat(paletteSize, 1).Colors(),
		minDB:  minDB,
		maxDB:  maxDB,
	}
}

func (wp *WaterfallPlotter) Name() string {
	return wp.name
}

func (wp *WaterfallPlotter) AddPlotOption(opt PlotOptions) {
	wp.plotOptions = append(wp.plotOptions, opt)
}

func (wp *WaterfallPlotter) Update(em *spectra.Emission) {
	wp.mu.Lock()
	wp.rows = em.Waterfall
	wp.axis = em.Axis
	wp.mu.Unlock()
}

// colorIndex maps a level in dB to a palette index.
func (wp *WaterfallPlotter) colorIndex(v float32) int {
	scaled := (clampDB(float64(v), wp.minDB, wp.maxDB) - wp.minDB) / (wp.maxDB - wp.minDB)
	idx := int(scaled * float64(len(wp.colors)-1))
	if idx < 0 {
		return 0
	}
	if idx >= len(wp.colors) {
		return len(wp.colors) - 1
	}
	return idx
}

func (wp *WaterfallPlotter) heatmap() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, len(wp.rows[0]), len(wp.rows)))
	for y, row := range wp.rows {
		for x, v := range row {
			img.Set(x, y, wp.colors[wp.colorIndex(v)])
		}
	}
	return img
}

func (wp *WaterfallPlotter) GetImage() (*ImageContainer, error) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if len(wp.rows) == 0 || len(wp.rows[0]) == 0 {
		return nil, nil
	}

	p := plotWithDefaults()
	p.Title.Text = fmt.Sprintf("%s  %s", wp.name, util.MHzToString(uint64((wp.axis.StartHz+wp.axis.EndHz)/2)))
	p.X.Label.Text = "Frequency (MHz)"
	p.Y.Label.Text = "Frames"

	for _, opt := range wp.plotOptions {
		opt(p)
	}

	p.Add(plotter.NewImage(wp.heatmap(),
		util.HzToMHz(wp.axis.StartHz), 0,
		util.HzToMHz(wp.axis.EndHz), float64(len(wp.rows))))

	return renderPNG(wp.name, p)
}
