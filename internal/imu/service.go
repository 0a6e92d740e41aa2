// Package imu reads a locally attached ICM-20948 and presents it as a
// motion source.
package imu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"dsumotion/internal/i2c"
	"dsumotion/internal/motion"
	"dsumotion/internal/sensors/icm20948"
)

type Config struct {
	I2CBus       int
	Addr         uint16
	RateHz       int
	GyroRangeDPS int
	AccelRangeG  int

	// ZeroDrift is how long the device must sit still at startup while the
	// gyro bias is estimated. Zero disables calibration.
	ZeroDrift time.Duration

	// MountMatrix rotates sensor-frame vectors into the device frame:
	// out[i] = sum_j MountMatrix[i][j] * in[j]. The zero matrix means identity.
	MountMatrix [3][3]float64
}

type sampler interface {
	Read() (icm20948.Sample, error)
}

// Service is safe for concurrent use; Read may race with Calibrate.
type Service struct {
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	closer io.Closer
	dev    sampler
	bias   [3]float64
}

func New(cfg Config, log *zap.Logger) *Service {
	if cfg.Addr == 0 {
		cfg.Addr = icm20948.DefaultAddress()
	}
	if cfg.MountMatrix == ([3][3]float64{}) {
		cfg.MountMatrix = Identity()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{cfg: cfg, log: log}
}

// Identity is the mount matrix for a sensor aligned with the device.
func Identity() [3][3]float64 {
	return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Open probes and configures the sensor.
func (s *Service) Open() error {
	bus, err := i2c.Open(s.cfg.I2CBus)
	if err != nil {
		return fmt.Errorf("imu: %w", err)
	}
	dev, err := bus.Dev(s.cfg.Addr)
	if err != nil {
		_ = bus.Close()
		return fmt.Errorf("imu: %w", err)
	}
	icm, err := icm20948.New(dev, icm20948.Config{
		RateHz:       s.cfg.RateHz,
		GyroRangeDPS: s.cfg.GyroRangeDPS,
		AccelRangeG:  s.cfg.AccelRangeG,
	})
	if err != nil {
		_ = bus.Close()
		return fmt.Errorf("imu init: %w", err)
	}
	s.attach(icm, bus)
	s.log.Info("imu detected", zap.Int("bus", s.cfg.I2CBus), zap.Uint16("addr", s.cfg.Addr))
	return nil
}

func (s *Service) attach(dev sampler, closer io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dev = dev
	s.closer = closer
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dev = nil
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// Read returns one bias-corrected sample in the device frame.
func (s *Service) Read() (motion.Reading, error) {
	s.mu.Lock()
	dev, bias := s.dev, s.bias
	s.mu.Unlock()
	if dev == nil {
		return motion.Reading{}, errors.New("imu: not open")
	}

	sm, err := dev.Read()
	if err != nil {
		return motion.Reading{}, err
	}
	var gyro [3]float64
	for i := range gyro {
		gyro[i] = sm.Gyro[i] - bias[i]
	}
	return motion.Reading{
		Time:  sm.Time,
		Accel: rotate(s.cfg.MountMatrix, sm.Accel),
		Gyro:  rotate(s.cfg.MountMatrix, gyro),
	}, nil
}

// Bias returns the current gyro bias in the sensor frame (rad/s).
func (s *Service) Bias() [3]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bias
}

// ErrCalibrationDisabled is returned by Calibrate when ZeroDrift is zero.
var ErrCalibrationDisabled = errors.New("imu: zero_drift disabled")

// Calibrate averages raw gyro output over cfg.ZeroDrift and stores it as the
// bias. The device must be stationary. Failed reads are skipped; at least one
// good sample is required.
func (s *Service) Calibrate(ctx context.Context) error {
	if s.cfg.ZeroDrift <= 0 {
		return ErrCalibrationDisabled
	}
	s.mu.Lock()
	dev := s.dev
	s.mu.Unlock()
	if dev == nil {
		return errors.New("imu: not open")
	}

	interval := time.Second / time.Duration(max(s.cfg.RateHz, 50))
	t := time.NewTicker(interval)
	defer t.Stop()
	deadline := time.NewTimer(s.cfg.ZeroDrift)
	defer deadline.Stop()

	var sum, accel [3]float64
	var n int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if n == 0 {
				return errors.New("imu: zero drift: no samples")
			}
			var bias [3]float64
			for i := range bias {
				bias[i] = sum[i] / float64(n)
			}
			s.mu.Lock()
			s.bias = bias
			s.mu.Unlock()
			s.log.Info("gyro bias calibrated",
				zap.Int("samples", n),
				zap.Float64s("bias_dps", []float64{bias[0] * 180 / math.Pi, bias[1] * 180 / math.Pi, bias[2] * 180 / math.Pi}),
				zap.Int("up_axis", dominantAxis(accel)),
			)
			return nil
		case <-t.C:
			sm, err := dev.Read()
			if err != nil {
				continue
			}
			for i := range sum {
				sum[i] += sm.Gyro[i]
			}
			accel = sm.Accel
			n++
		}
	}
}

// dominantAxis returns the signed 1-based sensor axis most aligned with v.
func dominantAxis(v [3]float64) int {
	best := 0
	for i := 1; i < 3; i++ {
		if math.Abs(v[i]) > math.Abs(v[best]) {
			best = i
		}
	}
	if v[best] < 0 {
		return -(best + 1)
	}
	return best + 1
}

func rotate(m [3][3]float64, v [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		out[i] = m[i][0]*v[0] + m[i][1]*v[1] + m[i][2]*v[2]
	}
	return out
}
