//go:build linux && (arm || arm64)

package led

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

// openGPIOLine finds the chip exposing line "GPIO<pin>" (Raspberry Pi naming)
// and requests it as an output driven low.
func openGPIOLine(pin int) (line, error) {
	name := fmt.Sprintf("GPIO%d", pin)

	chips := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			chips = append(chips, filepath.Join("/dev", e.Name()))
		}
	}

	for _, path := range chips {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(name)
		if err != nil {
			_ = chip.Close()
			continue
		}
		l, err := chip.RequestLine(offset, gpiocdev.AsOutput(0), gpiocdev.WithConsumer("dsumotion-led"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &chipLine{chip: chip, Line: l}, nil
	}
	return nil, fmt.Errorf("led: gpio line %q not found (or busy)", name)
}

type chipLine struct {
	chip *gpiocdev.Chip
	*gpiocdev.Line
}

func (c *chipLine) Close() error {
	err := c.Line.Close()
	_ = c.chip.Close()
	return err
}
