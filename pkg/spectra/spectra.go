package spectra

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/spectra/pkg/spectra/device"
	"github.com/norasector/spectra/pkg/spectra/frame"
	"github.com/norasector/spectra/pkg/spectra/tuning"
	"github.com/norasector/spectra/pkg/spectra/waterfall"
	"github.com/norasector/spectra/pkg/util"
	"golang.org/x/sync/errgroup"
)

type State int32

const (
	Idle State = iota
	Ticking
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ticking:
		return "ticking"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrStopped        = errors.New("analyzer stopped")
	ErrAlreadyStarted = errors.New("analyzer already started")
)

// Log every failed fetch of a streak up to this many, then every n-th.
const fetchFailureLogEvery = 100

type command func()

// Analyzer is the acquisition loop. One goroutine owns the device, the tuning
// cache and the waterfall: it runs ticks and, between ticks, the apply and
// read requests queued by other goroutines.
type Analyzer struct {
	device    device.Device
	opts      Options
	tuning    *tuning.State
	waterfall *waterfall.Buffer
	outputs   []Output
	writeAPI  api.WriteAPI
	logger    zerolog.Logger
	ticks     <-chan time.Time

	state     int32
	idleMu    sync.Mutex
	commands  chan command
	stopped   chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
	closeErr  error

	sequence      uint64
	fetchFailures int
}

type AnalyzerOption func(a *Analyzer) error

func WithInfluxDB(writeAPI api.WriteAPI) AnalyzerOption {
	return func(a *Analyzer) error {
		a.writeAPI = writeAPI
		return nil
	}
}

func WithLogger(logger zerolog.Logger) AnalyzerOption {
	return func(a *Analyzer) error {
		a.logger = logger
		return nil
	}
}

func WithOutputs(outputs ...Output) AnalyzerOption {
	return func(a *Analyzer) error {
		for _, o := range outputs {
			if o == nil {
				return errors.New("nil output")
			}
		}
		a.outputs = append(a.outputs, outputs...)
		return nil
	}
}

// WithTicker replaces the internal ticker with ticks.
func WithTicker(ticks <-chan time.Time) AnalyzerOption {
	return func(a *Analyzer) error {
		a.ticks = ticks
		return nil
	}
}

// NewAnalyzer reads the current tuning from dev. The analyzer takes ownership
// of dev and closes it when stopped.
func NewAnalyzer(dev device.Device, options Options, opts ...AnalyzerOption) (*Analyzer, error) {
	a := &Analyzer{
		device:   dev,
		opts:     options,
		writeAPI: &util.MockWriteAPI{}, // overwritten with option
		logger:   log.Logger,
		commands: make(chan command),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	if a.opts.FFTSize <= 0 || a.opts.History <= 0 {
		return nil, fmt.Errorf("must specify fft size and history")
	}
	if a.ticks == nil && a.opts.UpdateInterval <= 0 {
		return nil, fmt.Errorf("must specify update interval")
	}

	ts, err := tuning.New(dev)
	if err != nil {
		return nil, err
	}
	a.tuning = ts
	a.waterfall = waterfall.NewBuffer(a.opts.History)

	return a, nil
}

func (a *Analyzer) State() State {
	return State(atomic.LoadInt32(&a.state))
}

// Start runs the loop and every output until Stop is called or ctx ends. The
// device is closed before Start returns.
func (a *Analyzer) Start(ctx context.Context) error {
	a.idleMu.Lock()
	if !atomic.CompareAndSwapInt32(&a.state, int32(Idle), int32(Ticking)) {
		state := a.State()
		a.idleMu.Unlock()
		if state == Stopped {
			return ErrStopped
		}
		return ErrAlreadyStarted
	}
	a.idleMu.Unlock()

	s := a.tuning.Current()
	a.logger.Info().
		Str("center_freq", util.MHzToString(s.CenterFrequency)).
		Str("sample_rate", util.MHzToString(uint64(s.SampleRate))).
		Int("fft_size", a.opts.FFTSize).
		Int("history", a.opts.History).
		Msg("Starting")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	for _, output := range a.outputs {
		thisOutput := output
		eg.Go(func() error {
			return thisOutput.Start(ctx)
		})
	}

	eg.Go(func() error {
		defer cancel()
		return a.run(ctx)
	})

	err := eg.Wait()
	if a.closeErr != nil {
		return a.closeErr
	}
	if errors.Is(err, context.Canceled) && a.stopRequested() {
		return nil
	}
	return err
}

// Stop ends the loop. It may be called from any goroutine, including from
// within a tick, and more than once. No tick starts after Stop returns. When
// the loop never started the device is closed here.
func (a *Analyzer) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		a.idleMu.Lock()
		prev := State(atomic.SwapInt32(&a.state, int32(Stopped)))
		a.idleMu.Unlock()

		close(a.stopped)
		if prev == Idle {
			close(a.done)
			err = a.closeDevice()
		}
	})
	return err
}

func (a *Analyzer) stopRequested() bool {
	select {
	case <-a.stopped:
		return true
	default:
		return false
	}
}

func (a *Analyzer) closeDevice() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.device.Close()
		if a.closeErr != nil {
			a.logger.Error().Err(a.closeErr).Msg("closing device")
		}
	})
	return a.closeErr
}

func (a *Analyzer) run(ctx context.Context) error {
	defer func() {
		atomic.StoreInt32(&a.state, int32(Stopped))
		a.closeDevice()
		close(a.done)
		a.logger.Info().Uint64("frames", a.sequence).Msg("acquisition stopped")
	}()

	ticks := a.ticks
	if ticks == nil {
		ticker := time.NewTicker(a.opts.UpdateInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopped:
			return nil
		case cmd := <-a.commands:
			cmd()
		case <-ticks:
			if a.stopRequested() {
				return nil
			}
			a.tick(ctx)
		}
	}
}

// tick fetches one frame. The tuning snapshot is taken before the fetch so
// the frame and the axis it is drawn against always agree.
func (a *Analyzer) tick(ctx context.Context) {
	start := time.Now()
	settings := a.tuning.Current()

	fetchCtx := ctx
	if a.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, a.opts.FetchTimeout)
		defer cancel()
	}

	data, err := a.device.FetchFrame(fetchCtx, a.opts.FFTSize)
	if err == nil && len(data) != a.opts.FFTSize {
		err = device.IOError("fetch frame", fmt.Errorf("got %d bins, want %d", len(data), a.opts.FFTSize))
	}

	metrics := map[string]interface{}{
		"fetch_ok": err == nil,
	}
	tags := map[string]string{
		"center_freq": util.MHzToString(settings.CenterFrequency),
	}
	defer func() {
		metrics["duration"] = time.Since(start).Microseconds()
		a.writeAPI.WritePoint(influxdb2.NewPoint("spectra.tick", tags, metrics, start))
	}()

	if err != nil {
		a.fetchFailures++
		if a.fetchFailures == 1 || a.fetchFailures%fetchFailureLogEvery == 0 {
			a.logger.Warn().Err(err).Int("consecutive", a.fetchFailures).Msg("failed to fetch frame")
		}
		metrics["skipped_outputs"] = a.emit(&FrameFetchFailed{
			Time:        start,
			Err:         err,
			Consecutive: a.fetchFailures,
		})
		return
	}

	if a.fetchFailures > 0 {
		a.logger.Info().Int("failed_ticks", a.fetchFailures).Msg("frame fetch recovered")
		a.fetchFailures = 0
	}

	f := frame.Frame(data)
	a.waterfall.Push(f)

	axis := frame.NewAxis(settings.CenterFrequency, settings.SampleRate, a.opts.FFTSize)
	a.sequence++

	_, peak := f.Peak()
	metrics["peak_db"] = float64(peak)
	metrics["skipped_outputs"] = a.emit(&Emission{
		Sequence:  a.sequence,
		Time:      start,
		Frame:     f,
		Axis:      axis,
		Waterfall: a.waterfall.Snapshot(),
		Tuning:    settings,
	})
}

// emit offers ev to every output without blocking and returns how many were
// full.
func (a *Analyzer) emit(ev Event) int {
	skipped := 0
	for _, output := range a.outputs {
		select {
		case output.Receive() <- ev:
		default:
			skipped++
		}
	}
	return skipped
}

// do runs fn on the loop goroutine between ticks, or directly when the loop
// has not started. It must not be called from the loop goroutine itself.
func (a *Analyzer) do(ctx context.Context, fn func()) error {
	a.idleMu.Lock()
	switch a.State() {
	case Idle:
		fn()
		a.idleMu.Unlock()
		return nil
	case Stopped:
		a.idleMu.Unlock()
		return ErrStopped
	}
	a.idleMu.Unlock()

	ran := make(chan struct{})
	select {
	case a.commands <- func() { fn(); close(ran) }:
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-ran:
		return nil
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply writes the changes to the device and updates the tuning cache for
// every field the device accepted. The next tick uses the new values.
func (a *Analyzer) Apply(ctx context.Context, changes ...tuning.Change) (tuning.AppliedResult, error) {
	var res tuning.AppliedResult
	err := a.do(ctx, func() {
		res = a.apply(changes)
	})
	return res, err
}

func (a *Analyzer) apply(changes []tuning.Change) tuning.AppliedResult {
	start := time.Now()
	var res tuning.AppliedResult
	fields := map[string]interface{}{
		"duration": util.TimeOperationMicroseconds(func() {
			res = a.tuning.Apply(changes...)
		}),
	}
	current := res.Tuning

	for _, f := range res.Fields {
		fields[f.Param.String()+"_ok"] = f.Err == nil
		if f.Err != nil {
			a.logger.Warn().Str("field", f.Param.String()).Str("value", f.Text).Err(f.Err).Msg("failed to apply setting")
			continue
		}
		a.logger.Info().Str("field", f.Param.String()).Str("value", f.Text).Msg("setting applied")
	}
	a.writeAPI.WritePoint(influxdb2.NewPoint("spectra.apply",
		map[string]string{
			"center_freq": util.MHzToString(current.CenterFrequency),
		}, fields, start))

	a.emit(&SettingsApplied{
		Time:   start,
		Result: res,
		Tuning: current,
	})

	return res
}

// Tuning returns the cached tuning as the next tick will see it.
func (a *Analyzer) Tuning(ctx context.Context) (tuning.Settings, error) {
	var s tuning.Settings
	err := a.do(ctx, func() {
		s = a.tuning.Current()
	})
	return s, err
}
