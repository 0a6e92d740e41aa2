package imu

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"dsumotion/internal/sensors/icm20948"
)

type fakeSampler struct {
	mu     sync.Mutex
	sample icm20948.Sample
	err    error
	reads  int
}

func (f *fakeSampler) Read() (icm20948.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.sample, f.err
}

type fakeCloser struct{ closed int }

func (c *fakeCloser) Close() error {
	c.closed++
	return nil
}

func near(a, b [3]float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestRead_NotOpen(t *testing.T) {
	s := New(Config{}, nil)
	if _, err := s.Read(); err == nil {
		t.Fatalf("expected error before Open")
	}
}

func TestRead_AppliesMountMatrix(t *testing.T) {
	// Sensor mounted rotated 90 degrees about z: device x = sensor y, device y = -sensor x.
	s := New(Config{MountMatrix: [3][3]float64{{0, 1, 0}, {-1, 0, 0}, {0, 0, 1}}}, nil)
	f := &fakeSampler{sample: icm20948.Sample{Accel: [3]float64{1, 2, 3}, Gyro: [3]float64{0.1, 0.2, 0.3}}}
	s.attach(f, nil)

	r, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if want := [3]float64{2, -1, 3}; !near(r.Accel, want) {
		t.Fatalf("accel=%v want %v", r.Accel, want)
	}
	if want := [3]float64{0.2, -0.1, 0.3}; !near(r.Gyro, want) {
		t.Fatalf("gyro=%v want %v", r.Gyro, want)
	}
}

func TestNew_ZeroMountMatrixIsIdentity(t *testing.T) {
	s := New(Config{}, nil)
	if s.cfg.MountMatrix != Identity() {
		t.Fatalf("mount=%v want identity", s.cfg.MountMatrix)
	}
	if s.cfg.I2CBus != 0 || s.cfg.Addr != icm20948.DefaultAddress() {
		t.Fatalf("bus=%d addr=0x%X", s.cfg.I2CBus, s.cfg.Addr)
	}
}

func TestCalibrate_SubtractsBias(t *testing.T) {
	s := New(Config{RateHz: 200, ZeroDrift: 50 * time.Millisecond}, nil)
	f := &fakeSampler{sample: icm20948.Sample{Accel: [3]float64{0, 0, 9.8}, Gyro: [3]float64{0.01, -0.02, 0.03}}}
	s.attach(f, nil)

	if err := s.Calibrate(context.Background()); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if want := [3]float64{0.01, -0.02, 0.03}; !near(s.Bias(), want) {
		t.Fatalf("bias=%v want %v", s.Bias(), want)
	}

	r, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !near(r.Gyro, [3]float64{}) {
		t.Fatalf("gyro=%v want zero", r.Gyro)
	}
	if !near(r.Accel, [3]float64{0, 0, 9.8}) {
		t.Fatalf("accel=%v", r.Accel)
	}
}

func TestCalibrate_NoSamples(t *testing.T) {
	s := New(Config{ZeroDrift: 30 * time.Millisecond}, nil)
	s.attach(&fakeSampler{err: errors.New("bus error")}, nil)
	if err := s.Calibrate(context.Background()); err == nil {
		t.Fatalf("expected error when every read fails")
	}
	if s.Bias() != ([3]float64{}) {
		t.Fatalf("bias=%v want zero", s.Bias())
	}
}

func TestCalibrate_Canceled(t *testing.T) {
	s := New(Config{ZeroDrift: time.Hour}, nil)
	s.attach(&fakeSampler{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Calibrate(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestCalibrate_DisabledIsError(t *testing.T) {
	s := New(Config{}, nil)
	s.attach(&fakeSampler{sample: icm20948.Sample{Gyro: [3]float64{0.5, 0.5, 0.5}}}, nil)
	if err := s.Calibrate(context.Background()); !errors.Is(err, ErrCalibrationDisabled) {
		t.Fatalf("err=%v want ErrCalibrationDisabled", err)
	}
	if s.Bias() != ([3]float64{}) {
		t.Fatalf("bias=%v want zero", s.Bias())
	}
}

func TestClose_ReleasesBus(t *testing.T) {
	s := New(Config{}, nil)
	c := &fakeCloser{}
	s.attach(&fakeSampler{}, c)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if c.closed != 1 {
		t.Fatalf("closed=%d want 1", c.closed)
	}
	if _, err := s.Read(); err == nil {
		t.Fatalf("expected error after Close")
	}
}

func TestDominantAxis(t *testing.T) {
	cases := []struct {
		v    [3]float64
		want int
	}{
		{[3]float64{0, 0, 9.8}, 3},
		{[3]float64{-9.8, 0.5, 0.1}, -1},
		{[3]float64{0.2, -9.7, 1}, -2},
	}
	for _, tc := range cases {
		if got := dominantAxis(tc.v); got != tc.want {
			t.Fatalf("dominantAxis(%v)=%d want %d", tc.v, got, tc.want)
		}
	}
}
