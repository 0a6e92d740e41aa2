package sim

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dsumotion/internal/motion"
)

const rollScript = `
version: 1
loop: true
keyframes:
  - t: 0s
    roll_deg: 0
  - t: 1s
    roll_deg: 90
  - t: 2s
    roll_deg: 0
`

func mustPlayer(t *testing.T, src string) *Player {
	t.Helper()
	s, err := ParseScriptYAML([]byte(src))
	if err != nil {
		t.Fatalf("ParseScriptYAML: %v", err)
	}
	p, err := NewPlayer(s)
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	return p
}

func TestPlayer_InterpolatesAndReportsSegmentRate(t *testing.T) {
	p := mustPlayer(t, rollScript)
	if p.Duration() != 2*time.Second {
		t.Fatalf("duration=%s want 2s", p.Duration())
	}

	r := p.At(500*time.Millisecond, time.Time{})
	// 45° roll: gravity splits between -Y and Z.
	want := motion.StandardGravity * math.Sin(45*degToRad)
	if math.Abs(r.Accel[1]+want) > 1e-9 || math.Abs(r.Accel[2]-want) > 1e-9 {
		t.Fatalf("accel=%v want [0 %v %v]", r.Accel, -want, want)
	}
	if math.Abs(r.Gyro[0]-90*degToRad) > 1e-9 {
		t.Fatalf("roll rate=%v want %v", r.Gyro[0], 90*degToRad)
	}

	r = p.At(1500*time.Millisecond, time.Time{})
	if math.Abs(r.Gyro[0]+90*degToRad) > 1e-9 {
		t.Fatalf("roll rate=%v want %v", r.Gyro[0], -90*degToRad)
	}
}

func TestPlayer_Loops(t *testing.T) {
	p := mustPlayer(t, rollScript)
	a := p.At(500*time.Millisecond, time.Time{})
	b := p.At(2500*time.Millisecond, time.Time{})
	if a.Accel != b.Accel || a.Gyro != b.Gyro {
		t.Fatalf("looped reading differs: %v vs %v", a, b)
	}
}

func TestPlayer_NoLoopHoldsLastKeyframe(t *testing.T) {
	p := mustPlayer(t, "keyframes:\n  - t: 0s\n  - t: 1s\n    pitch_deg: 10\n")
	r := p.At(5*time.Second, time.Time{})
	if r.Gyro != [3]float64{} {
		t.Fatalf("gyro=%v want zero after end", r.Gyro)
	}
	if r.Accel[0] == 0 {
		t.Fatalf("accel=%v want pitched attitude", r.Accel)
	}
}

func TestNewPlayer_Validation(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"Empty", "version: 1\n"},
		{"BadVersion", "version: 2\nkeyframes:\n  - t: 0s\n"},
		{"Unsorted", "keyframes:\n  - t: 1s\n  - t: 0s\n"},
		{"Negative", "keyframes:\n  - t: -1s\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := ParseScriptYAML([]byte(tc.src))
			if err != nil {
				t.Fatalf("ParseScriptYAML: %v", err)
			}
			if _, err := NewPlayer(s); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gesture.yaml")
	if err := os.WriteFile(path, []byte(rollScript), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s, err := LoadScript(path)
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if !s.Loop || len(s.Keyframes) != 3 {
		t.Fatalf("script=%+v", s)
	}
}
