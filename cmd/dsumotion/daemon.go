package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"dsumotion/internal/config"
	"dsumotion/internal/dsu"
	"dsumotion/internal/imu"
	"dsumotion/internal/led"
	"dsumotion/internal/motion"
	"dsumotion/internal/replay"
	"dsumotion/internal/sim"
	"dsumotion/internal/web"
)

// daemon holds everything started for one run of the process.
type daemon struct {
	cfg config.Config
	log *zap.Logger

	reg    *prometheus.Registry
	server *dsu.Server
	status *web.Status
	source motion.Source
	imuSvc *imu.Service
	led    *led.Indicator

	// Set instead of source when replaying a packet log.
	replayRecs []replay.Record
	recorder   *replay.Writer
}

func newDaemon(cfg config.Config, log *zap.Logger) (*daemon, error) {
	r := &daemon{cfg: cfg, log: log, reg: prometheus.NewRegistry()}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Optional: session LED. Keep running without it if the GPIO is unavailable.
	if cfg.LED.Enable {
		ind, err := led.Open(cfg.LED.Pin, log.Named("led"))
		if err != nil {
			log.Warn("led init failed", zap.Int("pin", cfg.LED.Pin), zap.Error(err))
		} else {
			r.led = ind
		}
	}

	opts := []dsu.Option{
		dsu.WithLogger(log.Named("dsu")),
		dsu.WithMetrics(dsu.NewMetrics(r.reg)),
	}
	if r.led != nil {
		opts = append(opts, dsu.WithSessionHook(r.led.Set))
	}
	if path := cfg.Record.Path; path != "" {
		w, err := replay.CreateWriter(path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("record: %w", err)
		}
		r.recorder = w
		opts = append(opts, dsu.WithRecorder(w))
		log.Info("recording motion packets", zap.String("path", path))
	}
	r.server = dsu.New(dsu.Config{
		Port:          *cfg.DSU.Port,
		PollInterval:  cfg.DSU.PollInterval,
		ClientTimeout: cfg.DSU.ClientTimeout,
	}, opts...)
	r.status = web.NewStatus(r.server)

	if cfg.Source.Kind == config.SourceReplay {
		recs, err := replay.LoadLog(cfg.Replay.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("replay: %w", err)
		}
		r.replayRecs = recs
		r.status.SetSource(config.SourceReplay)
		return r, nil
	}

	src, kind, err := r.newSource()
	if err != nil {
		r.Close()
		return nil, err
	}
	r.source = src
	r.status.SetSource(kind)
	return r, nil
}

func (r *daemon) newSource() (motion.Source, string, error) {
	switch r.cfg.Source.Kind {
	case config.SourceIMU:
		c := r.cfg.IMU
		svc := imu.New(imu.Config{
			I2CBus:       *c.I2CBus,
			Addr:         c.Addr,
			RateHz:       r.cfg.Source.RateHz,
			GyroRangeDPS: c.GyroRangeDPS,
			AccelRangeG:  c.AccelRangeG,
			ZeroDrift:    *c.ZeroDrift,
			MountMatrix:  c.MountMatrix.Rows(),
		}, r.log.Named("imu"))
		if err := svc.Open(); err != nil {
			return nil, "", err
		}
		r.imuSvc = svc
		return svc, config.SourceIMU, nil
	default:
		if path := r.cfg.Sim.Script; path != "" {
			script, err := sim.LoadScript(path)
			if err != nil {
				return nil, "", fmt.Errorf("sim script: %w", err)
			}
			p, err := sim.NewPlayer(script)
			if err != nil {
				return nil, "", fmt.Errorf("sim script %s: %w", path, err)
			}
			r.log.Info("sim script loaded", zap.String("path", path), zap.Duration("duration", p.Duration()))
			return p, "sim-script", nil
		}
		return &sim.Wobble{Period: r.cfg.Sim.Period, AmplitudeDeg: r.cfg.Sim.AmplitudeDeg}, config.SourceSim, nil
	}
}

// Close releases hardware. The DSU server is stopped by run.
func (r *daemon) Close() {
	if r.imuSvc != nil {
		if err := r.imuSvc.Close(); err != nil {
			r.log.Warn("imu close failed", zap.Error(err))
		}
		r.imuSvc = nil
	}
	if r.led != nil {
		_ = r.led.Close()
		r.led = nil
	}
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			r.log.Warn("record close failed", zap.Error(err))
		}
		r.recorder = nil
	}
}

// feed pushes motion into sink until ctx is done.
func (r *daemon) feed(ctx context.Context, sink motion.Sink) error {
	log := r.log.Named("feed")
	if r.replayRecs != nil {
		var bad int
		err := replay.Play(ctx, r.replayRecs, r.cfg.Replay.Speed, r.cfg.Replay.Loop, func(pkt []byte) error {
			d, err := dsu.DecodeControllerData(pkt)
			if err != nil {
				bad++
				return nil
			}
			sink.UpdateSensorData(d.Accel, d.Gyro)
			return nil
		})
		log.Info("replay finished", zap.Int("skipped", bad))
		return err
	}

	interval := time.Second / time.Duration(r.cfg.Source.RateHz)
	st, err := motion.Feed(ctx, r.source, sink, interval, log)
	log.Info("motion feed stopped", zap.Uint64("samples", st.Samples), zap.Uint64("errors", st.Errors))
	return err
}

// run wires config into a daemon and blocks until ctx is done or a
// component fails. started, if set, receives the daemon once the DSU
// server is bound.
func run(ctx context.Context, cfg config.Config, log *zap.Logger, logs *web.LogBuffer, started func(*daemon)) error {
	r, err := newDaemon(cfg, log)
	if err != nil {
		return err
	}
	defer r.Close()

	if r.imuSvc != nil && *cfg.IMU.ZeroDrift > 0 {
		log.Info("hold the device still for gyro calibration", zap.Duration("duration", *cfg.IMU.ZeroDrift))
		if err := r.imuSvc.Calibrate(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("gyro calibration failed, continuing uncalibrated", zap.Error(err))
		}
	}

	if err := r.server.Start(); err != nil {
		return err
	}
	defer r.server.Stop()
	if started != nil {
		started(r)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	go func() {
		err := r.feed(ctx, r.status.Sink(r.server))
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		errCh <- err
	}()

	if cfg.Web.Listen != "" {
		var cal web.Calibrator
		if r.imuSvc != nil {
			cal = r.imuSvc
		}
		h := web.Handler(r.status, r.reg, logs, cal)
		log.Info("web server listening", zap.String("addr", cfg.Web.Listen))
		go func() {
			err := web.Serve(ctx, cfg.Web.Listen, h)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			if err != nil {
				err = fmt.Errorf("web: %w", err)
			}
			errCh <- err
		}()
	}

	watch := time.NewTicker(cfg.DSU.PollInterval)
	defer watch.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-watch.C:
			if !r.server.IsRunning() {
				return errors.New("dsu server stopped unexpectedly")
			}
		}
	}
}
