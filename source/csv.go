package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultBatchRows is how many CSV rows are gathered into one batch per
// channel.
const DefaultBatchRows = 64

// CSV replays a recording of rows shaped like "sample, ch0, ch1, ...". The
// first row holds headings. When reading a regular file, CSV keeps following
// it as it grows.
type CSV struct {
	r    io.Reader
	tail string
	// BatchRows bounds the rows gathered before batches are pushed.
	BatchRows int
	// Rate paces replay in rows per second. Zero replays as fast as possible.
	Rate float64
}

// NewCSV reads rows from r. Regular files are tailed; any other reader ends
// the source at EOF.
func NewCSV(r io.Reader) *CSV {
	c := &CSV{r: r, BatchRows: DefaultBatchRows}
	if f, ok := r.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode().IsRegular() {
			c.tail = f.Name()
		}
	}
	return c
}

// OpenCSV opens and tails the recording at path.
func OpenCSV(path string) (*CSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed opening recording: %w", err)
	}
	return NewCSV(f), nil
}

// Close closes the underlying reader if it is closable.
func (c *CSV) Close() error {
	if rc, ok := c.r.(io.Closer); ok {
		return rc.Close()
	}
	return nil
}

type batcher struct {
	rows  int
	batch [][]float64
}

func (b *batcher) add(channel int, v float64) {
	for len(b.batch) <= channel {
		b.batch = append(b.batch, nil)
	}
	b.batch[channel] = append(b.batch[channel], v)
}

func (b *batcher) flush(sink Sink) {
	for ch, samples := range b.batch {
		if len(samples) == 0 {
			continue
		}
		sink.Push(ch, samples)
		b.batch[ch] = samples[:0]
	}
	b.rows = 0
}

func waitForWrite(ctx context.Context, watcher *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("file watcher closed")
			}
			if ev.Has(fsnotify.Write) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("file watcher closed")
			}
			return fmt.Errorf("failed watching recording: %w", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run parses rows until the input ends or ctx is cancelled. Cells that fail to
// parse are logged and skipped.
func (c *CSV) Run(ctx context.Context, sink Sink) error {
	var watcher *fsnotify.Watcher
	if c.tail != "" {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed creating file watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(c.tail); err != nil {
			return fmt.Errorf("failed watching %q: %w", c.tail, err)
		}
	}
	csvReader := csv.NewReader(newLineReader(c.r))
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	csvReader.ReuseRecord = true

	limit := c.BatchRows
	if limit < 1 {
		limit = DefaultBatchRows
	}
	var pace time.Duration
	if c.Rate > 0 {
		pace = time.Duration(float64(limit) / c.Rate * float64(time.Second))
	}

	sink.SetConnected(true)
	defer sink.SetConnected(false)

	headings := -1
	var b batcher
	for {
		if ctx.Err() != nil {
			return nil
		}
		rec, err := csvReader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("failed reading recording: %w", err)
			}
			b.flush(sink)
			if watcher == nil {
				return nil
			}
			if err := waitForWrite(ctx, watcher); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}
		if headings < 0 {
			headings = len(rec) - 1
			if headings < 1 {
				return fmt.Errorf("recording header has no channel columns: %q", rec)
			}
			continue
		}
		for i := 1; i < len(rec); i++ {
			cell := strings.TrimSpace(rec[i])
			if len(cell) < 1 {
				// Skip null cells.
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				log.Printf("failed parsing sample %q in column %d: %v", cell, i, err)
				continue
			}
			b.add(i-1, v)
		}
		b.rows++
		if b.rows >= limit {
			b.flush(sink)
			if pace > 0 {
				if err := sleepCtx(ctx, pace); err != nil {
					return nil
				}
			}
		}
	}
}

// CSVWriter records sample blocks in the format CSV reads.
type CSVWriter struct {
	w        *csv.Writer
	channels int
	next     uint64
	wroteHdr bool
	record   []string
}

func NewCSVWriter(w io.Writer, channels int) *CSVWriter {
	return &CSVWriter{
		w:        csv.NewWriter(w),
		channels: channels,
		record:   make([]string, channels+1),
	}
}

// WriteBlock writes one row per sample position. Channels with fewer samples
// than the longest batch leave their cells empty.
func (c *CSVWriter) WriteBlock(block [][]float64) error {
	if !c.wroteHdr {
		c.record[0] = "sample"
		for ch := 0; ch < c.channels; ch++ {
			c.record[ch+1] = "ch" + strconv.Itoa(ch)
		}
		if err := c.w.Write(c.record); err != nil {
			return fmt.Errorf("failed writing header: %w", err)
		}
		c.wroteHdr = true
	}
	var rows int
	for _, samples := range block {
		rows = max(rows, len(samples))
	}
	for i := 0; i < rows; i++ {
		c.record[0] = strconv.FormatUint(c.next, 10)
		for ch := 0; ch < c.channels; ch++ {
			c.record[ch+1] = ""
			if ch < len(block) && i < len(block[ch]) {
				c.record[ch+1] = strconv.FormatFloat(block[ch][i], 'f', -1, 64)
			}
		}
		if err := c.w.Write(c.record); err != nil {
			return fmt.Errorf("failed writing row: %w", err)
		}
		c.next++
	}
	return nil
}

// Flush writes any buffered rows.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}
