package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DeviceSim    = "sim"
	DeviceHackRF = "hackrf"
	DeviceRTLSDR = "rtlsdr"
	DeviceFile   = "file"
)

type Config struct {
	Device            string        `yaml:"device"`
	CenterFreq        uint64        `yaml:"center_freq"`
	SampleRate        uint32        `yaml:"sample_rate"`
	Bandwidth         uint32        `yaml:"bandwidth"`
	Gain              int32         `yaml:"gain"`
	FFTSize           int           `yaml:"fft_size"`
	WaterfallHistory  int           `yaml:"waterfall_history"`
	UpdateInterval    time.Duration `yaml:"update_interval"`
	FetchTimeout      time.Duration `yaml:"fetch_timeout"`
	LogLevel          string        `yaml:"log_level"`
	PlaybackLocation  string        `yaml:"playback_location"`
	RTLSDRDeviceIndex int           `yaml:"rtlsdr_device_index"`
	Sim               Sim           `yaml:"sim"`
	VizServer         struct {
		Port             int     `yaml:"port"`
		UpdateIntervalMS int     `yaml:"update_interval_ms"`
		MinDB            float64 `yaml:"min_db"`
		MaxDB            float64 `yaml:"max_db"`
	} `yaml:"viz_server"`
	InfluxDB struct {
		Host         string `yaml:"host"`
		Token        string `yaml:"token"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

type Sim struct {
	Tones        []Tone  `yaml:"tones"`
	NoiseFloorDB float64 `yaml:"noise_floor_db"`
	FailureRate  float64 `yaml:"failure_rate"`
	Seed         int64   `yaml:"seed"`
}

type Tone struct {
	Frequency uint64  `yaml:"freq"`
	LevelDB   float64 `yaml:"level_db"`
}

// Default is the configuration used for every key a file leaves out.
func Default() Config {
	c := Config{
		Device:           DeviceSim,
		CenterFreq:       915000000,
		SampleRate:       10000000,
		Bandwidth:        10000000,
		Gain:             30,
		FFTSize:          1024,
		WaterfallHistory: 100,
		UpdateInterval:   50 * time.Millisecond,
		FetchTimeout:     time.Second,
		LogLevel:         "info",
		Sim: Sim{
			Tones: []Tone{
				{Frequency: 915000000, LevelDB: -20},
				{Frequency: 912500000, LevelDB: -45},
			},
			NoiseFloorDB: -70,
		},
	}
	c.VizServer.Port = 8080
	c.VizServer.UpdateIntervalMS = 200
	c.VizServer.MinDB = -80
	c.VizServer.MaxDB = 10
	return c
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (Config, error) {
	c := Default()

	contents, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("error unmarshaling yaml file: %w", err)
	}

	if c.PlaybackLocation != "" {
		c.Device = DeviceFile
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	switch c.Device {
	case DeviceSim, DeviceHackRF, DeviceRTLSDR:
	case DeviceFile:
		if c.PlaybackLocation == "" {
			return fmt.Errorf("device %q requires playback_location", c.Device)
		}
	default:
		return fmt.Errorf("unknown device %q", c.Device)
	}

	if c.SampleRate == 0 {
		return fmt.Errorf("sample_rate must be positive")
	}
	if c.FFTSize <= 0 {
		return fmt.Errorf("fft_size must be positive")
	}
	if c.WaterfallHistory <= 0 {
		return fmt.Errorf("waterfall_history must be positive")
	}
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("update_interval must be positive")
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch_timeout must not be negative")
	}
	if c.VizServer.MinDB >= c.VizServer.MaxDB {
		return fmt.Errorf("viz_server.min_db must be below max_db")
	}
	if c.Sim.FailureRate < 0 || c.Sim.FailureRate > 1 {
		return fmt.Errorf("sim.failure_rate must be within [0, 1]")
	}
	return nil
}
