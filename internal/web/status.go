package web

import (
	"sync/atomic"
	"time"

	"dsumotion/internal/dsu"
	"dsumotion/internal/motion"
)

// DSUStatus is implemented by *dsu.Server.
type DSUStatus interface {
	Status() dsu.Status
}

// Status aggregates what the status page shows: the DSU server view plus
// counters for the motion feed.
type Status struct {
	start      time.Time
	dsu        DSUStatus
	source     atomic.Value // string
	samples    atomic.Uint64
	lastSample atomic.Int64 // unix nanos
}

func NewStatus(d DSUStatus) *Status {
	s := &Status{start: time.Now(), dsu: d}
	s.source.Store("")
	return s
}

func (s *Status) SetSource(kind string) {
	s.source.Store(kind)
}

// MarkSample records one sample delivered to the DSU server.
func (s *Status) MarkSample(now time.Time) {
	s.samples.Add(1)
	s.lastSample.Store(now.UnixNano())
}

// Sink wraps next so every delivered sample is counted.
func (s *Status) Sink(next motion.Sink) motion.Sink {
	return countingSink{status: s, next: next}
}

type countingSink struct {
	status *Status
	next   motion.Sink
}

func (c countingSink) UpdateSensorData(accel, gyro [3]float32) {
	c.next.UpdateSensorData(accel, gyro)
	c.status.MarkSample(time.Now())
}

type StatusSnapshot struct {
	Service       string     `json:"service"`
	NowUTC        string     `json:"now_utc"`
	UptimeSec     int64      `json:"uptime_sec"`
	Source        string     `json:"source"`
	SamplesTotal  uint64     `json:"samples_total"`
	LastSampleUTC string     `json:"last_sample_utc,omitempty"`
	DSU           dsu.Status `json:"dsu"`
}

func (s *Status) Snapshot(now time.Time) StatusSnapshot {
	snap := StatusSnapshot{
		Service:      serviceName,
		NowUTC:       now.UTC().Format(time.RFC3339Nano),
		UptimeSec:    int64(now.Sub(s.start).Seconds()),
		Source:       s.source.Load().(string),
		SamplesTotal: s.samples.Load(),
	}
	if ns := s.lastSample.Load(); ns != 0 {
		snap.LastSampleUTC = time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
	}
	if s.dsu != nil {
		snap.DSU = s.dsu.Status()
	}
	return snap
}
