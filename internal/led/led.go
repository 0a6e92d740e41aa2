// Package led drives a GPIO status LED that shows whether a DSU client is
// connected.
package led

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// line is one GPIO output.
type line interface {
	SetValue(v int) error
	Close() error
}

var openLine = openGPIOLine

// Indicator is a session hook target: it lights while a client is active.
type Indicator struct {
	log *zap.Logger

	mu sync.Mutex
	l  line
	on bool
}

// Open claims BCM GPIO pin as an output, initially off.
func Open(pin int, log *zap.Logger) (*Indicator, error) {
	if pin <= 0 {
		return nil, fmt.Errorf("led: invalid gpio pin %d", pin)
	}
	if log == nil {
		log = zap.NewNop()
	}
	l, err := openLine(pin)
	if err != nil {
		return nil, err
	}
	return &Indicator{log: log, l: l}, nil
}

// Set switches the LED. Failures are logged, not returned, so Set can be
// used directly as a session hook.
func (i *Indicator) Set(on bool) {
	if i == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.l == nil || i.on == on {
		return
	}
	v := 0
	if on {
		v = 1
	}
	if err := i.l.SetValue(v); err != nil {
		i.log.Warn("led set failed", zap.Bool("on", on), zap.Error(err))
		return
	}
	i.on = on
}

func (i *Indicator) On() bool {
	if i == nil {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.on
}

// Close turns the LED off and releases the line.
func (i *Indicator) Close() error {
	if i == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.l == nil {
		return nil
	}
	_ = i.l.SetValue(0)
	err := i.l.Close()
	i.l = nil
	i.on = false
	return err
}
