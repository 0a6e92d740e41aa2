package motion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// errLogEvery throttles repeated source errors in the log.
const errLogEvery = 10 * time.Second

// FeedStats summarizes a finished Feed run.
type FeedStats struct {
	Samples uint64
	Errors  uint64
}

// Feed polls src every interval and pushes each converted reading into sink
// until ctx is done. Read errors are logged (throttled) and skipped; they
// never end the feed.
func Feed(ctx context.Context, src Source, sink Sink, interval time.Duration, log *zap.Logger) (FeedStats, error) {
	var st FeedStats
	if src == nil || sink == nil {
		return st, fmt.Errorf("motion: source and sink are required")
	}
	if interval <= 0 {
		return st, fmt.Errorf("motion: interval must be > 0")
	}
	if log == nil {
		log = zap.NewNop()
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	var lastErrLog time.Time
	for {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-t.C:
		}

		r, err := src.Read()
		if err != nil {
			st.Errors++
			if now := time.Now(); now.Sub(lastErrLog) >= errLogEvery {
				log.Warn("motion source read failed", zap.Error(err), zap.Uint64("errors", st.Errors))
				lastErrLog = now
			}
			continue
		}
		accel, gyro := ToDSU(r)
		sink.UpdateSensorData(accel, gyro)
		st.Samples++
	}
}
