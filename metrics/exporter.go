// Package metrics exposes stream health and rendering cost to Prometheus and
// to the viewer's status line.
package metrics

import (
	"strconv"
	"time"

	"git.sr.ht/~whereswaldon/spikescope/ingest"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spikescope"

// Collector reads ingest health on every scrape. Frame durations are
// observed as they happen.
type Collector struct {
	in *ingest.Ingestor

	connected *prometheus.Desc
	fill      *prometheus.Desc
	rate      *prometheus.Desc
	packets   *prometheus.Desc
	dropped   *prometheus.Desc
	active    *prometheus.Desc
	retained  *prometheus.Desc

	frames prometheus.Histogram
}

func NewCollector(in *ingest.Ingestor) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "ingest", name), help, labels, nil)
	}
	return &Collector{
		in:        in,
		connected: desc("connected", "Whether the stream source reports a live link (0 or 1)."),
		fill:      desc("buffer_fill_ratio", "Fraction of retention capacity in use across active channels."),
		rate:      desc("samples_per_second", "Samples accepted per second over the last second, all channels."),
		packets:   desc("packets_total", "Batches accepted."),
		dropped:   desc("dropped_packets_total", "Batches rejected or lost in decoding."),
		active:    desc("active_channels", "Channels that have received data."),
		retained:  desc("retained_samples", "Samples currently held per channel.", "channel"),
		frames: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "frame_seconds",
			Help:      "Time spent rendering one frame.",
			Buckets:   []float64{.0005, .001, .002, .004, .008, .016, .033, .066, .1, .25},
		}),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connected
	ch <- c.fill
	ch <- c.rate
	ch <- c.packets
	ch <- c.dropped
	ch <- c.active
	ch <- c.retained
	c.frames.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.in.Stats()
	var connected float64
	if st.Connected {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)
	ch <- prometheus.MustNewConstMetric(c.fill, prometheus.GaugeValue, st.BufferFill)
	ch <- prometheus.MustNewConstMetric(c.rate, prometheus.GaugeValue, st.DataRate)
	ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(st.PacketCount))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.DroppedPackets))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(st.ActiveChannels))
	for i := 0; i < c.in.Channels(); i++ {
		if !c.in.Active(i) {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.retained, prometheus.GaugeValue, float64(c.in.Retained(i)), strconv.Itoa(i))
	}
	c.frames.Collect(ch)
}

// ObserveFrame records one frame's render duration.
func (c *Collector) ObserveFrame(d time.Duration) {
	c.frames.Observe(d.Seconds())
}

// Register adds the collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	return reg.Register(c)
}

var _ prometheus.Collector = (*Collector)(nil)
