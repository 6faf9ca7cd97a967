package output

import (
	"context"

	"github.com/norasector/spectra/pkg/spectra"
	"github.com/norasector/spectra/pkg/util"
	"github.com/rs/zerolog"
)

const eventBufferLength int = 8

// LogOutput writes analyzer events to a logger. The tuning after each apply is
// logged at info; emissions and fetch failures only at debug, since the
// analyzer already warns about failed fetches and per-field outcomes.
type LogOutput struct {
	logger   zerolog.Logger
	recvChan chan spectra.Event
}

func NewLogOutput(logger zerolog.Logger) *LogOutput {
	return &LogOutput{
		logger:   logger,
		recvChan: make(chan spectra.Event, eventBufferLength),
	}
}

func (l *LogOutput) Receive() chan<- spectra.Event {
	return l.recvChan
}

func (l *LogOutput) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-l.recvChan:
			l.handle(ev)
		}
	}
}

func (l *LogOutput) handle(ev spectra.Event) {
	switch e := ev.(type) {
	case *spectra.Emission:
		if l.logger.GetLevel() > zerolog.DebugLevel {
			return
		}
		bin, level := e.Frame.Peak()
		if bin < 0 {
			return
		}
		l.logger.Debug().
			Uint64("seq", e.Sequence).
			Str("peak_freq", util.MHzToString(uint64(e.Axis.FrequencyAt(bin)))).
			Float32("peak_db", level).
			Int("waterfall", len(e.Waterfall)).
			Msg("frame")

	case *spectra.FrameFetchFailed:
		l.logger.Debug().Err(e.Err).Int("consecutive", e.Consecutive).Msg("frame fetch failed")

	case *spectra.SettingsApplied:
		l.logger.Info().
			Int("failed_fields", len(e.Result.Failed())).
			Str("center_freq", util.MHzToString(e.Tuning.CenterFrequency)).
			Str("sample_rate", util.MHzToString(uint64(e.Tuning.SampleRate))).
			Str("bandwidth", util.MHzToString(uint64(e.Tuning.Bandwidth))).
			Int32("gain", e.Tuning.Gain).
			Msg("tuning")
	}
}
