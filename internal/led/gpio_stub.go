//go:build !linux || (!arm && !arm64)

package led

import "fmt"

func openGPIOLine(pin int) (line, error) {
	return nil, fmt.Errorf("led: gpio %d unsupported on this platform", pin)
}
