package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/norasector/spectra/pkg/dsp/viz"
	"github.com/norasector/spectra/pkg/spectra"
	"github.com/norasector/spectra/pkg/spectra/config"
	"github.com/norasector/spectra/pkg/spectra/device"
	"github.com/norasector/spectra/pkg/spectra/device/file"
	"github.com/norasector/spectra/pkg/spectra/device/hackrf"
	"github.com/norasector/spectra/pkg/spectra/device/rtlsdr"
	"github.com/norasector/spectra/pkg/spectra/device/sim"
	"github.com/norasector/spectra/pkg/spectra/output"
	"github.com/norasector/spectra/pkg/util"
	"golang.org/x/sync/errgroup"
)

func openDevice(opts config.Config) (device.Device, error) {
	switch opts.Device {
	case config.DeviceHackRF:
		return hackrf.NewHackRFDevice(opts.CenterFreq, opts.SampleRate, opts.Bandwidth, opts.Gain)
	case config.DeviceRTLSDR:
		return rtlsdr.NewRTLSDRDevice(opts.RTLSDRDeviceIndex, opts.CenterFreq, opts.SampleRate, opts.Bandwidth, opts.Gain)
	case config.DeviceFile:
		// Captures are expected as HackRF CS8 dumps.
		return file.NewFileDevice(opts.PlaybackLocation, opts.CenterFreq, opts.SampleRate, opts.Bandwidth, opts.Gain)
	default:
		tones := make([]sim.Tone, 0, len(opts.Sim.Tones))
		for _, t := range opts.Sim.Tones {
			tones = append(tones, sim.Tone{Frequency: t.Frequency, LevelDB: t.LevelDB})
		}
		seed := opts.Sim.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return sim.NewDevice(sim.Options{
			CenterFreq:   opts.CenterFreq,
			SampleRate:   opts.SampleRate,
			Bandwidth:    opts.Bandwidth,
			Gain:         opts.Gain,
			Tones:        tones,
			NoiseFloorDB: opts.Sim.NoiseFloorDB,
			FailureRate:  opts.Sim.FailureRate,
			Seed:         seed,
		})
	}
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "spectra.yaml", "YAML config file")

	flag.Parse()
	if configFile == nil {
		flag.Usage()
		os.Exit(1)
	}

	opts, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error loading config")
	}

	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", opts.LogLevel).Msg("invalid log level")
	}
	log.Logger = log.Logger.Level(level)

	log.Info().Str("device", opts.Device).Msg("initializing device...")
	dev, err := openDevice(opts)
	if err != nil {
		log.Fatal().Str("device", opts.Device).Err(err).Msg("failed to initialize device")
	}

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if opts.InfluxDB.Host != "" {
		client := influxdb2.NewClient(opts.InfluxDB.Host, opts.InfluxDB.Token)
		defer client.Close()
		writeAPI = client.WriteAPI(opts.InfluxDB.Organization, opts.InfluxDB.Bucket)
	}

	vizServer := viz.NewServer(opts.VizServer.Port,
		time.Duration(opts.VizServer.UpdateIntervalMS)*time.Millisecond,
		viz.WithLevels(opts.VizServer.MinDB, opts.VizServer.MaxDB),
		viz.WithServerLogger(log.Logger))

	analyzer, err := spectra.NewAnalyzer(dev,
		spectra.Options{
			FFTSize:        opts.FFTSize,
			History:        opts.WaterfallHistory,
			UpdateInterval: opts.UpdateInterval,
			FetchTimeout:   opts.FetchTimeout,
		},
		spectra.WithInfluxDB(writeAPI),
		spectra.WithOutputs(vizServer, output.NewLogOutput(log.Logger)),
		spectra.WithLogger(log.Logger))
	if err != nil {
		dev.Close()
		log.Fatal().Err(err).Msg("failed to create analyzer")
	}
	vizServer.SetController(analyzer)

	eg, ctx := errgroup.WithContext(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {

		select {
		case <-sigChan:
		case <-ctx.Done():
		}

		return analyzer.Stop()
	})

	eg.Go(func() error {
		return analyzer.Start(ctx)
	})

	if err := eg.Wait(); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("exited program")
	}
}
