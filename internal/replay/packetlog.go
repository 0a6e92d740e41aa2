// Package replay records DSU packets to a text log and plays them back with
// their original timing.
//
// Log format, one entry per line:
//
//	# comment          ignored, as are blank lines
//	START              resets the time origin
//	<t_ns>,<hex>       packet bytes, t_ns nanoseconds since the last START
package replay

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const startMarker = "START"

// minLoopGap bounds the packet rate when a looped log wraps around.
const minLoopGap = 10 * time.Millisecond

// Record is one log entry. A nil Packet marks a START line.
type Record struct {
	At     time.Duration
	Packet []byte
}

func (r Record) IsStart() bool { return r.Packet == nil }

// ReadLog parses a whole log.
func ReadLog(r io.Reader) ([]Record, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var recs []Record
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		switch {
		case line == "", strings.HasPrefix(line, "#"):
			continue
		case line == startMarker:
			recs = append(recs, Record{})
			continue
		}

		ts, payload, ok := strings.Cut(line, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: missing comma", n)
		}
		ns, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
		if err != nil || ns < 0 {
			return nil, fmt.Errorf("line %d: invalid timestamp %q", n, strings.TrimSpace(ts))
		}
		b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(payload), " ", ""))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("line %d: empty packet", n)
		}
		recs = append(recs, Record{At: time.Duration(ns), Packet: b})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func LoadLog(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLog(f)
}

// Writer appends packets to a log. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

// CreateWriter truncates path and writes the opening START marker.
func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 64*1024)
	if _, err := w.WriteString(startMarker + "\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: w, start: time.Now()}, nil
}

func (w *Writer) WritePacket(now time.Time, pkt []byte) error {
	if len(pkt) == 0 {
		return errors.New("replay: empty packet")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("replay: writer is closed")
	}
	d := max(now.Sub(w.start), 0)
	_, err := fmt.Fprintf(w.w, "%d,%s\n", d.Nanoseconds(), hex.EncodeToString(pkt))
	return err
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.w.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// Play calls fn for every packet in recs, waiting between packets for their
// recorded spacing divided by speed. START markers reset the origin. With
// loop set it starts over until ctx is done or fn fails, waiting the last
// recorded gap (at least minLoopGap) before each new pass.
func Play(ctx context.Context, recs []Record, speed float64, loop bool, fn func(pkt []byte) error) error {
	if speed <= 0 {
		return fmt.Errorf("replay: speed must be > 0")
	}
	if fn == nil {
		return errors.New("replay: callback is nil")
	}
	if !hasPacket(recs) {
		return errors.New("replay: no packets")
	}

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	wait := func(d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}
		timer.Reset(d)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	var wrap time.Duration
	for pass := 0; ; pass++ {
		var origin, last, gap time.Duration
		first := true
		if pass > 0 {
			if err := wait(wrap); err != nil {
				return err
			}
		}
		for _, r := range recs {
			if r.IsStart() {
				origin, first = r.At, true
				continue
			}
			at := max(r.At-origin, 0)
			var d time.Duration
			if !first {
				if step := at - last; step > 0 {
					gap = step
					d = time.Duration(float64(step) / speed)
				}
			}
			if err := wait(d); err != nil {
				return err
			}
			if err := fn(r.Packet); err != nil {
				return err
			}
			last, first = at, false
		}
		if !loop {
			return nil
		}
		// The next pass starts one recorded gap after the last packet.
		wrap = max(time.Duration(float64(gap)/speed), minLoopGap)
	}
}

func hasPacket(recs []Record) bool {
	for _, r := range recs {
		if !r.IsStart() {
			return true
		}
	}
	return false
}
