package dsu

import "sync"

// SensorBuffer holds the most recent accelerometer/gyroscope pair.
//
// Update and Snapshot copy fixed-size arrays under a single mutex, so a
// reader always sees a pair written by one Update call. The lock is never
// held across I/O.
type SensorBuffer struct {
	mu    sync.Mutex
	accel [3]float32
	gyro  [3]float32
}

func (b *SensorBuffer) Update(accel, gyro [3]float32) {
	b.mu.Lock()
	b.accel = accel
	b.gyro = gyro
	b.mu.Unlock()
}

// Snapshot returns copies of the latest accel and gyro vectors.
func (b *SensorBuffer) Snapshot() (accel, gyro [3]float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accel, b.gyro
}
