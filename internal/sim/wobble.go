package sim

import (
	"math"
	"time"

	"dsumotion/internal/motion"
)

const degToRad = math.Pi / 180.0

// Wobble is a synthetic motion source: the device rocks around roll and pitch
// along a deterministic figure-eight, so a DSU client sees continuous motion
// without any hardware attached.
type Wobble struct {
	Period       time.Duration
	AmplitudeDeg float64

	now func() time.Time
}

// Read implements motion.Source.
func (w *Wobble) Read() (motion.Reading, error) {
	now := time.Now
	if w.now != nil {
		now = w.now
	}
	return w.At(now()), nil
}

// At returns the reading at an absolute time. The phase is derived from
// now.UnixNano so independent processes stay in step.
func (w *Wobble) At(now time.Time) motion.Reading {
	period := w.Period
	if period <= 0 {
		period = 4 * time.Second
	}
	amp := w.AmplitudeDeg
	if amp == 0 {
		amp = 30
	}

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())
	a := 2 * math.Pi * phase
	omega := 2 * math.Pi / period.Seconds()

	// roll = A·sin(a), pitch = A/2·sin(2a), so both stay within ±A.
	ampRad := amp * degToRad
	roll := ampRad * math.Sin(a)
	pitch := 0.5 * ampRad * math.Sin(2*a)
	rollRate := ampRad * omega * math.Cos(a)
	pitchRate := ampRad * omega * math.Cos(2*a)

	return orientationReading(now, roll, pitch, 0, [3]float64{rollRate, pitchRate, 0})
}

// orientationReading builds a reading for the given Euler attitude (radians,
// Z-Y-X order). The gravity vector goes through the rotation vector path a
// fused orientation sensor would take. Gyro rates are the Euler angle rates.
func orientationReading(now time.Time, roll, pitch, yaw float64, rates [3]float64) motion.Reading {
	q := quaternionFromEuler(roll, pitch, yaw)
	g, _ := motion.GravityFromRotationVector(q[:])
	return motion.Reading{Time: now, Accel: g, Gyro: rates}
}

// quaternionFromEuler returns (x, y, z, w).
func quaternionFromEuler(roll, pitch, yaw float64) [4]float64 {
	cr, sr := math.Cos(roll/2), math.Sin(roll/2)
	cp, sp := math.Cos(pitch/2), math.Sin(pitch/2)
	cy, sy := math.Cos(yaw/2), math.Sin(yaw/2)
	return [4]float64{
		sr*cp*cy - cr*sp*sy,
		cr*sp*cy + sr*cp*sy,
		cr*cp*sy - sr*sp*cy,
		cr*cp*cy + sr*sp*sy,
	}
}
