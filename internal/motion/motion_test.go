package motion

import (
	"math"
	"testing"
)

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestToDSU_AccelRemap(t *testing.T) {
	accel, _ := ToDSU(Reading{Accel: [3]float64{1, 2, 3}})
	want := [3]float32{2, -1, 3}
	if accel != want {
		t.Fatalf("accel=%v want %v", accel, want)
	}
}

func TestToDSU_GyroRemapAndUnits(t *testing.T) {
	_, gyro := ToDSU(Reading{Gyro: [3]float64{1, 2, 3}})
	// (y, -x, z) in deg/s, then ordered (x', z', y').
	want := [3]float64{2 * radToDeg, 3 * radToDeg, -1 * radToDeg}
	for i := range want {
		if !approx(float64(gyro[i]), want[i], 1e-3) {
			t.Fatalf("gyro[%d]=%v want %v", i, gyro[i], want[i])
		}
	}
}

func TestGravityFromRotationVector_Identity(t *testing.T) {
	g, err := GravityFromRotationVector([]float64{0, 0, 0})
	if err != nil {
		t.Fatalf("GravityFromRotationVector: %v", err)
	}
	if !approx(g[0], 0, 1e-12) || !approx(g[1], 0, 1e-12) || !approx(g[2], StandardGravity, 1e-12) {
		t.Fatalf("gravity=%v want [0 0 %v]", g, StandardGravity)
	}
}

func TestGravityFromRotationVector_QuarterTurnAboutX(t *testing.T) {
	// 90° about X: q = (sin45, 0, 0, cos45). Gravity moves onto -Y.
	s := math.Sin(math.Pi / 4)
	c := math.Cos(math.Pi / 4)
	for _, v := range [][]float64{{s, 0, 0, c}, {s, 0, 0}} {
		g, err := GravityFromRotationVector(v)
		if err != nil {
			t.Fatalf("GravityFromRotationVector(%v): %v", v, err)
		}
		if !approx(g[0], 0, 1e-9) || !approx(g[1], -StandardGravity, 1e-9) || !approx(g[2], 0, 1e-9) {
			t.Fatalf("v=%v gravity=%v want [0 %v 0]", v, g, -StandardGravity)
		}
	}
}

func TestGravityFromRotationVector_MagnitudePreserved(t *testing.T) {
	g, err := GravityFromRotationVector([]float64{0.2, -0.3, 0.4})
	if err != nil {
		t.Fatalf("GravityFromRotationVector: %v", err)
	}
	n := math.Sqrt(g[0]*g[0] + g[1]*g[1] + g[2]*g[2])
	if !approx(n, StandardGravity, 1e-9) {
		t.Fatalf("|g|=%v want %v", n, StandardGravity)
	}
}

func TestGravityFromRotationVector_TooShort(t *testing.T) {
	if _, err := GravityFromRotationVector([]float64{1, 2}); err == nil {
		t.Fatalf("expected error")
	}
}
