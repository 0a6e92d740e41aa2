// Package i2c provides register-level access to devices on a Linux
// /dev/i2c-N bus.
package i2c

import "fmt"

// BusPath returns the character device for bus number n.
func BusPath(n int) string { return fmt.Sprintf("/dev/i2c-%d", n) }

func validAddr(addr uint16) error {
	if addr == 0 || addr > 0x7F {
		return fmt.Errorf("i2c: invalid addr 0x%X", addr)
	}
	return nil
}
