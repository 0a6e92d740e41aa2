package icm20948

import (
	"fmt"
	"math"
	"time"

	"dsumotion/internal/i2c"
)

var sleep = time.Sleep

// Minimal ICM-20948 driver: probe, configure ranges and sample rate, and
// burst-read accel+gyro in SI units.

const (
	addrDefault = 0x68

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regPwrMgmt1   = 0x06
	bitReset      = 0x80
	regIntEnable  = 0x38
	regAccelXoutH = 0x2D // contiguous accel+gyro block

	// Bank 2.
	bank2           = 2
	regGyroSmplrt   = 0x00
	regGyroConfig   = 0x01
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	// Internal sample clock for the rate dividers.
	baseRateHz = 1125

	standardGravity = 9.80665
)

var (
	gyroRanges  = map[int]byte{250: 0, 500: 1, 1000: 2, 2000: 3}
	accelRanges = map[int]byte{2: 0, 4: 1, 8: 2, 16: 3}
)

type Config struct {
	// RateHz is the output data rate; clamped to 5..1125. Default 100.
	RateHz int
	// GyroRangeDPS is one of 250, 500, 1000, 2000. Default 2000.
	GyroRangeDPS int
	// AccelRangeG is one of 2, 4, 8, 16. Default 4.
	AccelRangeG int
}

type Sample struct {
	Time time.Time
	// Accel in m/s².
	Accel [3]float64
	// Gyro in rad/s.
	Gyro [3]float64
}

type Device struct {
	dev regIO
	cfg Config

	curBank byte
	// LSB scales for the configured full-scale ranges, already in SI units.
	scaleAccel float64
	scaleGyro  float64
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	return newWithIO(dev, cfg)
}

func newWithIO(dev regIO, cfg Config) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	if cfg.RateHz <= 0 {
		cfg.RateHz = 100
	}
	if cfg.RateHz < 5 {
		cfg.RateHz = 5
	}
	if cfg.RateHz > baseRateHz {
		cfg.RateHz = baseRateHz
	}
	if cfg.GyroRangeDPS == 0 {
		cfg.GyroRangeDPS = 2000
	}
	if cfg.AccelRangeG == 0 {
		cfg.AccelRangeG = 4
	}
	if _, ok := gyroRanges[cfg.GyroRangeDPS]; !ok {
		return nil, fmt.Errorf("icm20948: unsupported gyro range %d dps", cfg.GyroRangeDPS)
	}
	if _, ok := accelRanges[cfg.AccelRangeG]; !ok {
		return nil, fmt.Errorf("icm20948: unsupported accel range %d g", cfg.AccelRangeG)
	}

	d := &Device{dev: dev, cfg: cfg, curBank: 0xFF}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) init() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	_ = d.dev.WriteReg(regIntEnable, 0x00)

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset puts the bank select back to 0.
	d.curBank = 0

	// Wake, auto-select best clock (PLL when available).
	if err := d.dev.WriteReg(regPwrMgmt1, 0x01); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	if err := d.setBank(bank2); err != nil {
		return err
	}

	// ODR = 1125 / (1 + div).
	div := byte(baseRateHz/d.cfg.RateHz - 1)
	_ = d.dev.WriteReg(regGyroSmplrt, div)
	_ = d.dev.WriteReg(regAccelSmplrt2, div)

	// FS_SEL lives in bits [2:1] of both config registers.
	if err := d.dev.WriteReg(regGyroConfig, gyroRanges[d.cfg.GyroRangeDPS]<<1); err != nil {
		return fmt.Errorf("icm20948: gyro config failed: %w", err)
	}
	if err := d.dev.WriteReg(regAccelConfig, accelRanges[d.cfg.AccelRangeG]<<1); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}

	if err := d.setBank(0); err != nil {
		return err
	}

	d.scaleAccel = float64(d.cfg.AccelRangeG) / 32768.0 * standardGravity
	d.scaleGyro = float64(d.cfg.GyroRangeDPS) / 32768.0 * math.Pi / 180.0
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// Read burst-reads one accel+gyro sample.
func (d *Device) Read() (Sample, error) {
	if d == nil {
		return Sample{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return Sample{}, err
	}

	var buf [12]byte
	if err := d.dev.ReadReg(regAccelXoutH, buf[:]); err != nil {
		return Sample{}, fmt.Errorf("icm20948: read sensors failed: %w", err)
	}

	s := Sample{Time: time.Now()}
	for i := 0; i < 3; i++ {
		s.Accel[i] = float64(be16(buf[2*i:])) * d.scaleAccel
		s.Gyro[i] = float64(be16(buf[6+2*i:])) * d.scaleGyro
	}
	return s, nil
}

func be16(b []byte) int16 { return int16(uint16(b[0])<<8 | uint16(b[1])) }
