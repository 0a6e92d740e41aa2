package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DSU    DSUConfig    `yaml:"dsu"`
	Source SourceConfig `yaml:"source"`
	IMU    IMUConfig    `yaml:"imu"`
	Sim    SimConfig    `yaml:"sim"`
	Replay ReplayConfig `yaml:"replay"`
	Record RecordConfig `yaml:"record"`
	LED    LEDConfig    `yaml:"led"`
	Web    WebConfig    `yaml:"web"`
	Log    LogConfig    `yaml:"log"`
}

type DSUConfig struct {
	// Port 0 binds an ephemeral port (tests only; clients expect 26760).
	Port          *int          `yaml:"port"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ClientTimeout time.Duration `yaml:"client_timeout"`
}

const (
	SourceSim    = "sim"
	SourceIMU    = "imu"
	SourceReplay = "replay"
)

type SourceConfig struct {
	Kind   string `yaml:"kind"`
	RateHz int    `yaml:"rate_hz"`
}

type IMUConfig struct {
	I2CBus       *int           `yaml:"i2c_bus"`
	Addr         uint16         `yaml:"addr"`
	GyroRangeDPS int            `yaml:"gyro_range_dps"`
	AccelRangeG  int            `yaml:"accel_range_g"`
	ZeroDrift    *time.Duration `yaml:"zero_drift"`
	MountMatrix  MountMatrix    `yaml:"mount_matrix"`
}

// MountMatrix rows give each device axis in sensor coordinates.
type MountMatrix struct {
	X []float64 `yaml:"x"`
	Y []float64 `yaml:"y"`
	Z []float64 `yaml:"z"`
}

// Rows returns the matrix, or the identity when no row is set.
func (m MountMatrix) Rows() [3][3]float64 {
	if m.X == nil && m.Y == nil && m.Z == nil {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	var out [3][3]float64
	for i, row := range [][]float64{m.X, m.Y, m.Z} {
		copy(out[i][:], row)
	}
	return out
}

type SimConfig struct {
	Period       time.Duration `yaml:"period"`
	AmplitudeDeg float64       `yaml:"amplitude_deg"`
	// Script, when set, replays a keyframe file instead of the wobble.
	Script string `yaml:"script"`
}

// ReplayConfig feeds motion from a packet log written via record.path.
type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type RecordConfig struct {
	// Path, when set, receives every controller data packet sent.
	Path string `yaml:"path"`
}

type LEDConfig struct {
	Enable bool `yaml:"enable"`
	Pin    int  `yaml:"pin"`
}

type WebConfig struct {
	// Listen is the HTTP address; empty disables the status server.
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ZapLevel parses Level; Load has already validated it.
func (l LogConfig) ZapLevel() zapcore.Level {
	lvl, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Default returns the configuration used for an empty file.
func Default() Config {
	var cfg Config
	_ = applyDefaults(&cfg)
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := applyDefaults(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) error {
	if cfg.DSU.Port == nil {
		p := 26760
		cfg.DSU.Port = &p
	}
	if p := *cfg.DSU.Port; p < 0 || p > 65535 {
		return fmt.Errorf("dsu.port must be in 0..65535")
	}
	if cfg.DSU.PollInterval < 0 {
		return fmt.Errorf("dsu.poll_interval must be > 0")
	}
	if cfg.DSU.PollInterval == 0 {
		cfg.DSU.PollInterval = 1 * time.Second
	}
	if cfg.DSU.ClientTimeout < 0 {
		return fmt.Errorf("dsu.client_timeout must be > 0")
	}
	if cfg.DSU.ClientTimeout == 0 {
		cfg.DSU.ClientTimeout = 5 * time.Second
	}

	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = SourceSim
	}
	switch cfg.Source.Kind {
	case SourceSim, SourceIMU:
	case SourceReplay:
		if strings.TrimSpace(cfg.Replay.Path) == "" {
			return fmt.Errorf("replay.path is required when source.kind is replay")
		}
	default:
		return fmt.Errorf("source.kind must be one of: sim, imu, replay")
	}
	if cfg.Source.RateHz < 0 {
		return fmt.Errorf("source.rate_hz must be > 0")
	}
	if cfg.Source.RateHz == 0 {
		cfg.Source.RateHz = 60
	}

	if cfg.IMU.I2CBus == nil {
		b := 1
		cfg.IMU.I2CBus = &b
	}
	if *cfg.IMU.I2CBus < 0 {
		return fmt.Errorf("imu.i2c_bus must be >= 0")
	}
	if cfg.IMU.Addr == 0 {
		cfg.IMU.Addr = 0x68
	}
	if cfg.IMU.ZeroDrift == nil {
		d := 2 * time.Second
		cfg.IMU.ZeroDrift = &d
	}
	if *cfg.IMU.ZeroDrift < 0 {
		return fmt.Errorf("imu.zero_drift must be >= 0")
	}
	m := cfg.IMU.MountMatrix
	if m.X != nil || m.Y != nil || m.Z != nil {
		for _, r := range []struct {
			name string
			row  []float64
		}{{"x", m.X}, {"y", m.Y}, {"z", m.Z}} {
			if len(r.row) != 3 {
				return fmt.Errorf("imu.mount_matrix.%s must have 3 elements", r.name)
			}
		}
	}

	if cfg.Sim.Period < 0 {
		return fmt.Errorf("sim.period must be > 0")
	}
	if cfg.Sim.Period == 0 {
		cfg.Sim.Period = 4 * time.Second
	}
	if cfg.Sim.AmplitudeDeg == 0 {
		cfg.Sim.AmplitudeDeg = 30
	}

	if cfg.Replay.Speed < 0 {
		return fmt.Errorf("replay.speed must be > 0")
	}
	if cfg.Replay.Speed == 0 {
		cfg.Replay.Speed = 1
	}
	cfg.Record.Path = strings.TrimSpace(cfg.Record.Path)

	if cfg.LED.Pin == 0 {
		cfg.LED.Pin = 17
	}
	if cfg.LED.Enable && cfg.LED.Pin < 0 {
		return fmt.Errorf("led.pin must be > 0")
	}

	cfg.Web.Listen = strings.TrimSpace(cfg.Web.Listen)

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	return nil
}
