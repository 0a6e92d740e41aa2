//go:build !linux

package i2c

import (
	"errors"
	"fmt"
)

var errUnsupported = errors.New("i2c: unsupported OS (need linux)")

type Bus struct{}

type Dev struct{}

func Open(n int) (*Bus, error) { return nil, fmt.Errorf("open %s: %w", BusPath(n), errUnsupported) }

func (b *Bus) Close() error { return nil }

func (b *Bus) Dev(addr uint16) (*Dev, error) {
	if err := validAddr(addr); err != nil {
		return nil, err
	}
	return nil, errUnsupported
}

func (d *Dev) ReadReg(reg byte, dst []byte) error {
	return errUnsupported
}

func (d *Dev) ReadRegU8(reg byte) (byte, error) {
	return 0, errUnsupported
}

func (d *Dev) WriteReg(reg, value byte) error {
	return errUnsupported
}
