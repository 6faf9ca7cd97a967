package spectra

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/norasector/spectra/pkg/spectra/device"
	"github.com/norasector/spectra/pkg/spectra/device/fake"
	"github.com/norasector/spectra/pkg/spectra/frame"
	"github.com/norasector/spectra/pkg/spectra/tuning"
	"github.com/norasector/spectra/pkg/util"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	ch chan Event
}

func newRecorder(size int) *recorder {
	return &recorder{ch: make(chan Event, size)}
}

func (r *recorder) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (r *recorder) Receive() chan<- Event {
	return r.ch
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return nil
	}
}

func (r *recorder) emission(t *testing.T) *Emission {
	t.Helper()
	ev := r.next(t)
	em, ok := ev.(*Emission)
	require.True(t, ok, "expected emission, got %T", ev)
	return em
}

// assertNoEvent checks that nothing else, in particular no emission with a
// new axis, was sent.
func assertNoEvent(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected event %T", ev)
	default:
	}
}

// numbered frames carry the fetch number in every bin
func numbered(n, size int) []float32 {
	ret := make([]float32, size)
	for i := range ret {
		ret[i] = float32(n)
	}
	return ret
}

func testOptions() Options {
	return Options{
		FFTSize:        16,
		History:        DefaultHistory,
		UpdateInterval: DefaultUpdateInterval,
	}
}

func newTestAnalyzer(t *testing.T, dev *fake.Device, opts ...AnalyzerOption) (*Analyzer, *recorder) {
	t.Helper()
	rec := newRecorder(256)
	opts = append([]AnalyzerOption{WithLogger(zerolog.Nop()), WithOutputs(rec)}, opts...)
	a, err := NewAnalyzer(dev, testOptions(), opts...)
	require.NoError(t, err)
	return a, rec
}

func TestNewAnalyzer(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", Options{FFTSize: DefaultFFTSize, History: DefaultHistory, UpdateInterval: DefaultUpdateInterval}, false},
		{"zero fft size", Options{History: 1, UpdateInterval: time.Millisecond}, true},
		{"zero history", Options{FFTSize: 1, UpdateInterval: time.Millisecond}, true},
		{"zero interval", Options{FFTSize: 1, History: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAnalyzer(fake.New(100e6, 2e6, 2e6, 10), tt.opts, WithLogger(zerolog.Nop()))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, Idle, a.State())
		})
	}
}

func TestNewAnalyzerReadError(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	dev.FailGet("sample_rate", device.IOError("get sample rate", nil))

	_, err := NewAnalyzer(dev, testOptions())
	assert.ErrorIs(t, err, device.ErrDeviceIO)
}

func TestNilOutput(t *testing.T) {
	_, err := NewAnalyzer(fake.New(100e6, 2e6, 2e6, 10), testOptions(), WithOutputs(nil))
	assert.Error(t, err)
}

func TestEndToEnd(t *testing.T) {
	dev := fake.New(100000000, 2000000, 2000000, 10)
	dev.FrameFunc = numbered
	a, rec := newTestAnalyzer(t, dev)
	ctx := context.Background()

	a.tick(ctx)
	f1 := rec.emission(t)
	assert.Equal(t, frame.Axis{StartHz: 99000000, EndHz: 101000000, Bins: 16}, f1.Axis)

	res, err := a.Apply(ctx, tuning.Set(tuning.Frequency, "200000000"))
	require.NoError(t, err)
	require.True(t, res.OK())
	applied, ok := rec.next(t).(*SettingsApplied)
	require.True(t, ok)
	assert.Equal(t, uint64(200000000), applied.Tuning.CenterFrequency)

	a.tick(ctx)
	f2 := rec.emission(t)
	assert.Equal(t, frame.Axis{StartHz: 199000000, EndHz: 201000000, Bins: 16}, f2.Axis)

	require.Len(t, f2.Waterfall, 2)
	assert.Equal(t, f2.Frame, f2.Waterfall[0])
	assert.Equal(t, f1.Frame, f2.Waterfall[1])
	assert.Equal(t, float32(2), f2.Waterfall[0][0])
	assert.Equal(t, float32(1), f2.Waterfall[1][0])
	assert.Equal(t, uint64(2), f2.Sequence)
}

func TestAxisAfterApplyWithGainInterleaved(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	a, rec := newTestAnalyzer(t, dev)
	ctx := context.Background()

	res, err := a.Apply(ctx,
		tuning.Set(tuning.Frequency, "433920000"),
		tuning.Set(tuning.SampleRate, "10000000"),
	)
	require.NoError(t, err)
	require.True(t, res.OK())

	res, err = a.Apply(ctx, tuning.Set(tuning.Gain, "40"))
	require.NoError(t, err)
	require.True(t, res.OK())

	a.tick(ctx)
	rec.next(t)
	rec.next(t)
	em := rec.emission(t)
	assert.Equal(t, float64(433920000-5000000), em.Axis.StartHz)
	assert.Equal(t, float64(433920000+5000000), em.Axis.EndHz)
	assert.Equal(t, int32(40), em.Tuning.Gain)
}

func TestFailedFetch(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	dev.FrameFunc = numbered
	dev.FailFetch(2, nil)
	writeAPI := &util.MockWriteAPI{Keep: true}
	a, rec := newTestAnalyzer(t, dev, WithInfluxDB(writeAPI))
	ctx := context.Background()

	a.tick(ctx)
	first := rec.emission(t)
	assert.Equal(t, frame.NewAxis(100e6, 2e6, 16), first.Axis)

	_, err := a.Apply(ctx, tuning.Set(tuning.Frequency, "300000000"))
	require.NoError(t, err)
	rec.next(t)

	// tick 2 fails
	a.tick(ctx)
	failed, ok := rec.next(t).(*FrameFetchFailed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, device.ErrDeviceIO)
	assert.Equal(t, 1, failed.Consecutive)
	assert.Equal(t, 1, a.waterfall.Len())
	assertNoEvent(t, rec)

	// tick 3 uses the tuning current at tick 3
	a.tick(ctx)
	third := rec.emission(t)
	assert.Equal(t, frame.NewAxis(300000000, 2e6, 16), third.Axis)
	assert.Equal(t, float32(3), third.Frame[0])
	assert.Equal(t, 2, a.waterfall.Len())
	assert.Equal(t, []frame.Frame{third.Frame, first.Frame}, third.Waterfall)
	assert.Equal(t, 0, a.fetchFailures)

	ticks := writeAPI.Points("spectra.tick")
	require.Len(t, ticks, 3)
	assert.Len(t, writeAPI.Points("spectra.apply"), 1)
}

func TestShortFrameIsFetchFailure(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	dev.FrameFunc = func(n, size int) []float32 {
		return make([]float32, size-1)
	}
	a, rec := newTestAnalyzer(t, dev)

	a.tick(context.Background())
	failed, ok := rec.next(t).(*FrameFetchFailed)
	require.True(t, ok)
	assert.ErrorIs(t, failed.Err, device.ErrDeviceIO)
	assert.Equal(t, 0, a.waterfall.Len())
	assertNoEvent(t, rec)
}

func TestApplyIndependentFields(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	a, _ := newTestAnalyzer(t, dev)
	ctx := context.Background()

	res, err := a.Apply(ctx,
		tuning.Set(tuning.Frequency, "123"),
		tuning.Set(tuning.Gain, "abc"),
	)
	require.NoError(t, err)

	freq, ok := res.Field(tuning.Frequency)
	require.True(t, ok)
	assert.NoError(t, freq.Err)

	gain, ok := res.Field(tuning.Gain)
	require.True(t, ok)
	assert.ErrorIs(t, gain.Err, tuning.ErrMalformedInput)

	current, err := a.Tuning(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(123), current.CenterFrequency)
	assert.Equal(t, int32(10), current.Gain)
	assert.Equal(t, 0, dev.SetCount("gain"))

	again, err := a.Tuning(ctx)
	require.NoError(t, err)
	assert.Equal(t, current, again)
}

func TestWaterfallCap(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	dev.FrameFunc = numbered
	a, rec := newTestAnalyzer(t, dev)
	ctx := context.Background()

	var last *Emission
	for i := 0; i < DefaultHistory+1; i++ {
		a.tick(ctx)
		last = rec.emission(t)
	}

	require.Len(t, last.Waterfall, DefaultHistory)
	assert.Equal(t, float32(DefaultHistory+1), last.Waterfall[0][0])
	assert.Equal(t, float32(2), last.Waterfall[DefaultHistory-1][0])
}

func TestSkippedOutputs(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	full := newRecorder(0)
	writeAPI := &util.MockWriteAPI{Keep: true}
	a, err := NewAnalyzer(dev, testOptions(),
		WithLogger(zerolog.Nop()),
		WithOutputs(full),
		WithInfluxDB(writeAPI),
	)
	require.NoError(t, err)

	a.tick(context.Background())

	points := writeAPI.Points("spectra.tick")
	require.Len(t, points, 1)
	var skipped interface{}
	for _, f := range points[0].FieldList() {
		if f.Key == "skipped_outputs" {
			skipped = f.Value
		}
	}
	assert.EqualValues(t, 1, skipped)
	assert.Equal(t, 1, a.waterfall.Len())
}

func TestStopIdleClosesOnce(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	a, _ := newTestAnalyzer(t, dev)

	require.NoError(t, a.Stop())
	require.NoError(t, a.Stop())
	assert.Equal(t, Stopped, a.State())
	assert.Equal(t, 1, dev.CloseCount())

	assert.ErrorIs(t, a.Start(context.Background()), ErrStopped)
	_, err := a.Apply(context.Background(), tuning.Set(tuning.Gain, "1"))
	assert.ErrorIs(t, err, ErrStopped)
	_, err = a.Tuning(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStartStop(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	ticks := make(chan time.Time)
	a, rec := newTestAnalyzer(t, dev, WithTicker(ticks))

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Start(context.Background())
	}()

	ticks <- time.Now()
	rec.emission(t)
	assert.Equal(t, Ticking, a.State())
	assert.ErrorIs(t, a.Start(context.Background()), ErrAlreadyStarted)

	res, err := a.Apply(context.Background(), tuning.Set(tuning.Frequency, "250000000"))
	require.NoError(t, err)
	assert.True(t, res.OK())
	rec.next(t)

	ticks <- time.Now()
	em := rec.emission(t)
	assert.Equal(t, frame.NewAxis(250000000, 2e6, 16), em.Axis)

	require.NoError(t, a.Stop())
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("analyzer did not stop")
	}

	assert.Equal(t, Stopped, a.State())
	assert.Equal(t, 1, dev.CloseCount())
	assert.Equal(t, 2, dev.FetchCount())

	_, err = a.Apply(context.Background(), tuning.Set(tuning.Gain, "1"))
	assert.ErrorIs(t, err, ErrStopped)
}

// stopper stops the analyzer from the loop goroutine on its first emission.
type stopper struct {
	a    *Analyzer
	once sync.Once
	ch   chan Event
}

func (s *stopper) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stopper) Receive() chan<- Event {
	s.once.Do(func() {
		s.a.Stop()
	})
	return s.ch
}

func TestStopFromWithinTick(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	ticks := make(chan time.Time, 4)
	s := &stopper{ch: make(chan Event, 4)}
	a, err := NewAnalyzer(dev, testOptions(),
		WithLogger(zerolog.Nop()),
		WithOutputs(s),
		WithTicker(ticks),
	)
	require.NoError(t, err)
	s.a = a

	for i := 0; i < 4; i++ {
		ticks <- time.Now()
	}
	require.NoError(t, a.Start(context.Background()))

	assert.Equal(t, Stopped, a.State())
	assert.Equal(t, 1, dev.FetchCount())
	assert.Equal(t, 1, dev.CloseCount())
}

func TestContextCancel(t *testing.T) {
	dev := fake.New(100e6, 2e6, 2e6, 10)
	a, _ := newTestAnalyzer(t, dev, WithTicker(make(chan time.Time)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Start(ctx)
	}()

	_, err := a.Tuning(context.Background())
	require.NoError(t, err)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("analyzer did not stop")
	}
	assert.Equal(t, Stopped, a.State())
	assert.Equal(t, 1, dev.CloseCount())
}

func TestFetchFailureWarningsAreRateLimited(t *testing.T) {
	buf := &bytes.Buffer{}
	dev := fake.New(100e6, 2e6, 2e6, 10)
	for i := 1; i <= 2*fetchFailureLogEvery; i++ {
		dev.FailFetch(i, nil)
	}
	a, err := NewAnalyzer(dev, testOptions(), WithLogger(zerolog.New(buf)))
	require.NoError(t, err)

	for i := 0; i < 2*fetchFailureLogEvery; i++ {
		a.tick(context.Background())
	}

	var consecutive []float64
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		m := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		if m["message"] == "failed to fetch frame" {
			consecutive = append(consecutive, m["consecutive"].(float64))
		}
	}
	assert.Equal(t, []float64{1, fetchFailureLogEvery, 2 * fetchFailureLogEvery}, consecutive)
}
