// Package motion converts device-frame sensor readings into the vectors a
// DSU server reports and feeds them to it at a fixed rate.
package motion

import (
	"fmt"
	"math"
	"time"
)

// StandardGravity in m/s².
const StandardGravity = 9.80665

const radToDeg = 180.0 / math.Pi

// Reading is one device-frame sample.
type Reading struct {
	Time time.Time
	// Accel is gravity (or specific force) in m/s².
	Accel [3]float64
	// Gyro is angular rate in rad/s.
	Gyro [3]float64
}

// Source produces readings on demand.
type Source interface {
	Read() (Reading, error)
}

// Sink receives converted samples; *dsu.Server implements it.
type Sink interface {
	UpdateSensorData(accel, gyro [3]float32)
}

// ToDSU maps a device-frame reading onto the controller frame.
//
// The device is held rotated a quarter turn relative to a gamepad, so both
// vectors become (y, -x, z). The gyro is then converted to deg/s and handed
// over as (pitch, yaw, roll) = (x', z', y').
func ToDSU(r Reading) (accel, gyro [3]float32) {
	a := r.Accel
	accel = [3]float32{float32(a[1]), float32(-a[0]), float32(a[2])}

	g := [3]float64{r.Gyro[1] * radToDeg, -r.Gyro[0] * radToDeg, r.Gyro[2] * radToDeg}
	gyro = [3]float32{float32(g[0]), float32(g[2]), float32(g[1])}
	return accel, gyro
}

// GravityFromRotationVector returns the gravity vector in the device frame
// for an orientation given as a rotation vector (the vector part x, y, z of
// a unit quaternion, optionally followed by the scalar w).
//
// It is the third column of the rotation matrix scaled by StandardGravity.
func GravityFromRotationVector(v []float64) ([3]float64, error) {
	if len(v) < 3 {
		return [3]float64{}, fmt.Errorf("motion: rotation vector needs 3 or 4 components, got %d", len(v))
	}
	x, y, z := v[0], v[1], v[2]
	var w float64
	if len(v) >= 4 {
		w = v[3]
	} else {
		w = 1 - x*x - y*y - z*z
		if w > 0 {
			w = math.Sqrt(w)
		} else {
			w = 0
		}
	}

	r2 := 2*x*z + 2*y*w
	r5 := 2*y*z - 2*x*w
	r8 := 1 - 2*x*x - 2*y*y
	return [3]float64{r2 * StandardGravity, r5 * StandardGravity, r8 * StandardGravity}, nil
}
