package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~whereswaldon/spikescope/ingest"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	sourceSimulator = "sim"
	sourceStdin     = "-"
)

// Config holds the viewer's command line settings.
type Config struct {
	Channels   int
	SampleRate float64
	Retention  int
	Sites      []int
	// Source is "sim", "-" for stdin, a ws:// or wss:// URL, or a CSV path.
	Source     string
	ReplayRate float64
	Seed       int64
	// Window is the initially visible span of time.
	Window time.Duration
	// Amplitude is the initial half-height of each channel's value range.
	Amplitude float64
	Stacked bool
	Grid    bool

	MetricsAddr   string
	Snapshot      string
	SnapshotDelay time.Duration
	SnapshotSize  image.Point
}

func parseSites(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	sites := make([]int, 0, len(fields))
	for _, f := range fields {
		site, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("%w: bad site %q: %v", ErrInvalidConfig, f, err)
		}
		sites = append(sites, site)
	}
	return sites, nil
}

func parseSize(s string) (image.Point, error) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return image.Point{}, fmt.Errorf("%w: size %q is not WIDTHxHEIGHT", ErrInvalidConfig, s)
	}
	x, errX := strconv.Atoi(w)
	y, errY := strconv.Atoi(h)
	if errX != nil || errY != nil {
		return image.Point{}, fmt.Errorf("%w: size %q is not WIDTHxHEIGHT", ErrInvalidConfig, s)
	}
	return image.Pt(x, y), nil
}

// parseConfig reads flags from args.
func parseConfig(args []string) (Config, error) {
	var (
		cfg   Config
		sites string
		size  string
	)
	fs := flag.NewFlagSet("spikescope", flag.ContinueOnError)
	fs.IntVar(&cfg.Channels, "channels", 8, "number of channels to display")
	fs.Float64Var(&cfg.SampleRate, "rate", 30_000, "per-channel sample rate in Hz")
	fs.IntVar(&cfg.Retention, "retention", 0, "samples kept per channel (0 keeps ten seconds)")
	fs.StringVar(&sites, "sites", "", "comma-separated electrode site for each channel")
	fs.StringVar(&cfg.Source, "source", sourceSimulator, "\"sim\", \"-\" for CSV on stdin, a CSV file, or a ws:// URL")
	fs.Float64Var(&cfg.ReplayRate, "replay-rate", 0, "CSV rows per second when replaying (0 uses -rate)")
	fs.Int64Var(&cfg.Seed, "seed", 1, "simulator seed")
	fs.DurationVar(&cfg.Window, "window", time.Second, "visible time span")
	fs.Float64Var(&cfg.Amplitude, "amplitude", 200, "initial visible amplitude above and below zero")
	fs.BoolVar(&cfg.Stacked, "stacked", true, "give each channel its own band")
	fs.BoolVar(&cfg.Grid, "grid", true, "draw the grid")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&cfg.Snapshot, "snapshot", "", "render offscreen to this PNG file and exit")
	fs.DurationVar(&cfg.SnapshotDelay, "snapshot-delay", time.Second, "how long to ingest before taking a snapshot")
	fs.StringVar(&size, "snapshot-size", "1280x720", "snapshot size in pixels")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	var err error
	if cfg.Sites, err = parseSites(sites); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotSize, err = parseSize(size); err != nil {
		return Config{}, err
	}
	if cfg.ReplayRate == 0 {
		cfg.ReplayRate = cfg.SampleRate
	}
	return cfg, cfg.Validate()
}

func (c Config) ingestConfig() ingest.Config {
	return ingest.Config{
		Channels:   c.Channels,
		SampleRate: c.SampleRate,
		Retention:  c.Retention,
		Sites:      c.Sites,
	}
}

func (c Config) Validate() error {
	if err := c.ingestConfig().Validate(); err != nil {
		return err
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive", ErrInvalidConfig)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, c.Window)
	}
	if c.Amplitude <= 0 {
		return fmt.Errorf("%w: amplitude must be positive, got %f", ErrInvalidConfig, c.Amplitude)
	}
	if c.ReplayRate < 0 {
		return fmt.Errorf("%w: replay rate must not be negative", ErrInvalidConfig)
	}
	if c.Source == "" {
		return fmt.Errorf("%w: no source given", ErrInvalidConfig)
	}
	if c.Snapshot != "" && (c.SnapshotSize.X < 1 || c.SnapshotSize.Y < 1) {
		return fmt.Errorf("%w: snapshot size %v is empty", ErrInvalidConfig, c.SnapshotSize)
	}
	return nil
}

// windowSamples converts the visible time span into samples.
func (c Config) windowSamples() int {
	return max(2, int(c.Window.Seconds()*c.SampleRate))
}
