// Package source feeds sample batches into an ingest sink from a simulator,
// a CSV recording, or a websocket stream.
package source

import (
	"context"
	"errors"
)

// Sink receives batches. *ingest.Ingestor satisfies it.
type Sink interface {
	Push(channel int, samples []float64) (accepted bool)
	SetConnected(connected bool)
	// Drop records a batch that could not be decoded.
	Drop()
}

// Source produces batches until its input ends or ctx is cancelled. Run
// returns nil in both of those cases.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

var ErrBadFrame = errors.New("malformed frame")

// Frame is the JSON wire format shared by the websocket source and hub. A
// frame carries either one channel's batch or one batch per channel.
type Frame struct {
	Channel  *int        `json:"channel,omitempty"`
	Samples  []float64   `json:"samples,omitempty"`
	Channels [][]float64 `json:"channels,omitempty"`
}

// ChannelFrame builds a single-channel frame.
func ChannelFrame(channel int, samples []float64) Frame {
	return Frame{Channel: &channel, Samples: samples}
}

// BlockFrame builds a frame holding one batch per channel.
func BlockFrame(block [][]float64) Frame {
	return Frame{Channels: block}
}

// Validate reports whether f names exactly one of its two shapes.
func (f Frame) Validate() error {
	switch {
	case f.Channel != nil && f.Channels != nil:
		return errors.Join(ErrBadFrame, errors.New("frame has both channel and channels"))
	case f.Channel != nil && len(f.Samples) == 0:
		return errors.Join(ErrBadFrame, errors.New("channel frame has no samples"))
	case f.Channel == nil && f.Channels == nil:
		return errors.Join(ErrBadFrame, errors.New("frame has neither channel nor channels"))
	}
	return nil
}

// Apply pushes the frame's batches into sink. Channels without samples in a
// block frame are skipped. Invalid frames count as one drop.
func (f Frame) Apply(sink Sink) {
	if f.Validate() != nil {
		sink.Drop()
		return
	}
	if f.Channel != nil {
		sink.Push(*f.Channel, f.Samples)
		return
	}
	for ch, samples := range f.Channels {
		if len(samples) == 0 {
			continue
		}
		sink.Push(ch, samples)
	}
}

// Subscribe is sent by websocket clients after connecting. An empty channel
// list subscribes to every channel.
type Subscribe struct {
	Type     string `json:"type"`
	Client   string `json:"client"`
	Channels []int  `json:"channels,omitempty"`
}

const subscribeType = "subscribe"
