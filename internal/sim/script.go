package sim

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dsumotion/internal/motion"
)

// Script is a keyframed motion description, so a recorded gesture can be
// replayed to a DSU client deterministically.
//
// YAML schema (v1):
//
//	version: 1
//	loop: true
//	keyframes:
//	  - t: 0s
//	    roll_deg: 0
//	    pitch_deg: 0
//	    yaw_deg: 0
//	  - t: 500ms
//	    roll_deg: 45
//
// Keyframes must be sorted by t. Attitude is interpolated linearly between
// keyframes and the gyro reports the constant rate of each segment.
type Script struct {
	Version   int        `yaml:"version"`
	Loop      bool       `yaml:"loop"`
	Keyframes []Keyframe `yaml:"keyframes"`
}

type Keyframe struct {
	T        time.Duration `yaml:"t"`
	RollDeg  float64       `yaml:"roll_deg"`
	PitchDeg float64       `yaml:"pitch_deg"`
	YawDeg   float64       `yaml:"yaw_deg"`
}

// LoadScript reads and parses a YAML motion script from path.
func LoadScript(path string) (Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Script{}, err
	}
	return ParseScriptYAML(b)
}

func ParseScriptYAML(b []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Script{}, err
	}
	return s, nil
}

// Player is a validated Script bound to a start time. It implements
// motion.Source.
type Player struct {
	script   Script
	duration time.Duration
	start    time.Time
	now      func() time.Time
}

func NewPlayer(script Script) (*Player, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported script version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
	}
	dur := script.Keyframes[len(script.Keyframes)-1].T
	return &Player{script: script, duration: dur, start: time.Now(), now: time.Now}, nil
}

func (p *Player) Duration() time.Duration { return p.duration }

// Read implements motion.Source.
func (p *Player) Read() (motion.Reading, error) {
	now := p.now()
	return p.At(now.Sub(p.start), now), nil
}

// At samples the script at elapsed. With Loop set, elapsed wraps around the
// script duration; otherwise the last keyframe holds with zero rate.
func (p *Player) At(elapsed time.Duration, now time.Time) motion.Reading {
	if elapsed < 0 {
		elapsed = 0
	}
	if p.duration > 0 {
		if p.script.Loop {
			elapsed %= p.duration
		} else if elapsed > p.duration {
			elapsed = p.duration
		}
	}

	kfs := p.script.Keyframes
	if !p.script.Loop && elapsed >= p.duration {
		k := kfs[len(kfs)-1]
		return orientationReading(now, k.RollDeg*degToRad, k.PitchDeg*degToRad, k.YawDeg*degToRad, [3]float64{})
	}
	if len(kfs) == 1 || elapsed <= kfs[0].T {
		k := kfs[0]
		return orientationReading(now, k.RollDeg*degToRad, k.PitchDeg*degToRad, k.YawDeg*degToRad, [3]float64{})
	}

	for i := 1; i < len(kfs); i++ {
		a, b := kfs[i-1], kfs[i]
		if elapsed > b.T {
			continue
		}
		span := b.T - a.T
		if span <= 0 {
			continue
		}
		f := float64(elapsed-a.T) / float64(span)
		roll := lerp(a.RollDeg, b.RollDeg, f) * degToRad
		pitch := lerp(a.PitchDeg, b.PitchDeg, f) * degToRad
		yaw := lerp(a.YawDeg, b.YawDeg, f) * degToRad
		secs := span.Seconds()
		rates := [3]float64{
			(b.RollDeg - a.RollDeg) / secs * degToRad,
			(b.PitchDeg - a.PitchDeg) / secs * degToRad,
			(b.YawDeg - a.YawDeg) / secs * degToRad,
		}
		return orientationReading(now, roll, pitch, yaw, rates)
	}

	k := kfs[len(kfs)-1]
	return orientationReading(now, k.RollDeg*degToRad, k.PitchDeg*degToRad, k.YawDeg*degToRad, [3]float64{})
}

func lerp(a, b, f float64) float64 { return a + (b-a)*f }
