// Package ingest stores continuously arriving multi-channel sample batches in
// bounded per-channel rings and tracks the health of the stream feeding them.
package ingest

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

const (
	// MaxChannels is the largest number of channels an Ingestor will track.
	MaxChannels = 64
	// SiteCount is the number of electrode sites on the recording array that
	// channels may be mapped onto.
	SiteCount = 4096
	// DefaultRetention is the per-channel history used when a Config does not
	// specify one and has no sample rate to derive it from.
	DefaultRetention = 1 << 16
	// retentionSeconds is how much history is kept when derived from the
	// sample rate.
	retentionSeconds = 10
)

var ErrInvalidConfig = errors.New("invalid ingest configuration")

// Config describes the stream an Ingestor will receive.
type Config struct {
	// Channels is the number of channels allocated up front.
	Channels int
	// SampleRate is the nominal per-channel rate in samples per second.
	SampleRate float64
	// Retention is the number of samples kept per channel. Zero derives it
	// from SampleRate.
	Retention int
	// Sites optionally maps channel i onto electrode site Sites[i].
	Sites []int
}

// Validate reports whether the configuration can be used to build an
// Ingestor.
func (c Config) Validate() error {
	if c.Channels < 1 || c.Channels > MaxChannels {
		return fmt.Errorf("%w: channels must be in [1, %d], got %d", ErrInvalidConfig, MaxChannels, c.Channels)
	}
	if c.SampleRate < 0 || math.IsNaN(c.SampleRate) || math.IsInf(c.SampleRate, 0) {
		return fmt.Errorf("%w: sample rate must be a non-negative number, got %f", ErrInvalidConfig, c.SampleRate)
	}
	if c.Retention < 0 {
		return fmt.Errorf("%w: retention must not be negative, got %d", ErrInvalidConfig, c.Retention)
	}
	if len(c.Sites) == 0 {
		return nil
	}
	if len(c.Sites) != c.Channels {
		return fmt.Errorf("%w: site map has %d entries for %d channels", ErrInvalidConfig, len(c.Sites), c.Channels)
	}
	seen := make(map[int]int, len(c.Sites))
	for ch, site := range c.Sites {
		if site < 0 || site >= SiteCount {
			return fmt.Errorf("%w: channel %d mapped to site %d outside [0, %d)", ErrInvalidConfig, ch, site, SiteCount)
		}
		if prev, dup := seen[site]; dup {
			return fmt.Errorf("%w: channels %d and %d both mapped to site %d", ErrInvalidConfig, prev, ch, site)
		}
		seen[site] = ch
	}
	return nil
}

func (c Config) retention() int {
	if c.Retention > 0 {
		return c.Retention
	}
	if c.SampleRate > 0 {
		return int(math.Ceil(c.SampleRate * retentionSeconds))
	}
	return DefaultRetention
}

// Stats is a point-in-time view of the stream's health.
type Stats struct {
	Connected      bool
	BufferFill     float64
	DataRate       float64
	PacketCount    uint64
	DroppedPackets uint64
	ActiveChannels int
}

// Ingestor accepts sample batches from any goroutine and serves copies of the
// most recent history to readers.
type Ingestor struct {
	cfg       Config
	retention int
	rings     []*ring
	active    []atomic.Bool
	connected atomic.Bool
	packets   atomic.Uint64
	dropped   atomic.Uint64
	rate      rateWindow
	now       func() time.Time
}

// New builds an Ingestor with every channel allocated up front.
func New(cfg Config) (*Ingestor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	in := &Ingestor{
		cfg:       cfg,
		retention: cfg.retention(),
		rings:     make([]*ring, cfg.Channels),
		active:    make([]atomic.Bool, cfg.Channels),
		now:       time.Now,
	}
	for i := range in.rings {
		in.rings[i] = newRing(in.retention)
	}
	return in, nil
}

// Channels returns the number of allocated channels.
func (in *Ingestor) Channels() int {
	return len(in.rings)
}

// SampleRate returns the nominal per-channel sample rate.
func (in *Ingestor) SampleRate() float64 {
	return in.cfg.SampleRate
}

// Retention returns the number of samples retained per channel.
func (in *Ingestor) Retention() int {
	return in.retention
}

// Site returns the electrode site for a channel. If no site map was
// configured or the channel is out of range, ok is false.
func (in *Ingestor) Site(channel int) (site int, ok bool) {
	if len(in.cfg.Sites) == 0 || channel < 0 || channel >= len(in.cfg.Sites) {
		return 0, false
	}
	return in.cfg.Sites[channel], true
}

func validBatch(samples []float64) bool {
	if len(samples) == 0 {
		return false
	}
	for _, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Push appends a batch to a channel's history. Batches for unknown channels,
// empty batches, and batches containing NaN or infinite values are counted as
// dropped and otherwise ignored. The caller keeps ownership of samples.
func (in *Ingestor) Push(channel int, samples []float64) (accepted bool) {
	if channel < 0 || channel >= len(in.rings) || !validBatch(samples) {
		in.dropped.Add(1)
		return false
	}
	in.rings[channel].write(samples)
	in.active[channel].Store(true)
	in.packets.Add(1)
	in.rate.add(in.now(), len(samples))
	return true
}

// Drop records a batch that was lost before it could be pushed, such as an
// undecodable frame from the wire.
func (in *Ingestor) Drop() {
	in.dropped.Add(1)
}

// Latest returns a fresh copy of up to count of the channel's most recent
// samples, oldest first. Out of range channels yield nil.
func (in *Ingestor) Latest(channel, count int) []float64 {
	if channel < 0 || channel >= len(in.rings) || count <= 0 {
		return nil
	}
	return in.rings[channel].appendLatest(make([]float64, 0, min(count, in.retention)), count)
}

// AppendLatest is like Latest but appends into dst, allowing callers to reuse
// one slice across frames.
func (in *Ingestor) AppendLatest(dst []float64, channel, count int) []float64 {
	if channel < 0 || channel >= len(in.rings) || count <= 0 {
		return dst
	}
	return in.rings[channel].appendLatest(dst, count)
}

// Total returns the number of samples ever accepted on a channel, which is
// also the absolute index of the next sample to arrive.
func (in *Ingestor) Total(channel int) uint64 {
	if channel < 0 || channel >= len(in.rings) {
		return 0
	}
	return in.rings[channel].written()
}

// Retained returns the number of samples currently held for a channel.
func (in *Ingestor) Retained(channel int) int {
	if channel < 0 || channel >= len(in.rings) {
		return 0
	}
	return in.rings[channel].retained()
}

// Active reports whether a channel has ever received a non-empty batch.
func (in *Ingestor) Active(channel int) bool {
	if channel < 0 || channel >= len(in.active) {
		return false
	}
	return in.active[channel].Load()
}

// SetConnected records the link state reported by the stream source.
func (in *Ingestor) SetConnected(connected bool) {
	in.connected.Store(connected)
}

func (in *Ingestor) Connected() bool {
	return in.connected.Load()
}

func (in *Ingestor) PacketCount() uint64 {
	return in.packets.Load()
}

func (in *Ingestor) DroppedPackets() uint64 {
	return in.dropped.Load()
}

// DataRate returns samples per second, summed across channels, over the last
// second.
func (in *Ingestor) DataRate() float64 {
	return in.rate.perSecond(in.now())
}

// BufferFill returns the fraction of retention capacity occupied across the
// active channels, or zero when no channel is active.
func (in *Ingestor) BufferFill() float64 {
	fill, _ := in.bufferFill()
	return fill
}

func (in *Ingestor) bufferFill() (fill float64, active int) {
	var held int
	for i, r := range in.rings {
		if !in.active[i].Load() {
			continue
		}
		active++
		held += r.retained()
	}
	if active == 0 {
		return 0, 0
	}
	return float64(held) / float64(active*in.retention), active
}

// Stats gathers every health metric at once.
func (in *Ingestor) Stats() Stats {
	fill, active := in.bufferFill()
	return Stats{
		Connected:      in.Connected(),
		BufferFill:     fill,
		DataRate:       in.DataRate(),
		PacketCount:    in.PacketCount(),
		DroppedPackets: in.DroppedPackets(),
		ActiveChannels: active,
	}
}
