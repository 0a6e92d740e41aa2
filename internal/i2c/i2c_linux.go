//go:build linux

package i2c

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Register reads need a repeated start between the register write and the
// data read, so every transfer goes through a single I2C_RDWR ioctl.
const (
	flagRead  = 0x0001
	ioctlRdwr = 0x0707
)

type ioctlMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type ioctlRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// Bus is an open I2C adapter. Transfers on it are serialized.
type Bus struct {
	mu sync.Mutex
	f  *os.File
}

// Open opens bus number n.
func Open(n int) (*Bus, error) {
	path := BusPath(n)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %s: %w", path, err)
	}
	return &Bus{f: f}, nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Dev returns a handle to the device at 7-bit address addr.
func (b *Bus) Dev(addr uint16) (*Dev, error) {
	if b == nil {
		return nil, errors.New("i2c: bus is nil")
	}
	if err := validAddr(addr); err != nil {
		return nil, err
	}
	return &Dev{bus: b, addr: addr}, nil
}

type Dev struct {
	bus  *Bus
	addr uint16
}

func (d *Dev) ReadReg(reg byte, dst []byte) error {
	return d.transfer([]byte{reg}, dst)
}

func (d *Dev) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := d.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dev) WriteReg(reg, value byte) error {
	return d.transfer([]byte{reg, value}, nil)
}

func (d *Dev) transfer(w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		return nil
	}
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	if d.bus.f == nil {
		return errors.New("i2c: bus closed")
	}

	msgs := make([]ioctlMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, ioctlMsg{addr: d.addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))})
	}
	if len(r) > 0 {
		msgs = append(msgs, ioctlMsg{addr: d.addr, flags: flagRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))})
	}
	data := ioctlRdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.bus.f.Fd(), ioctlRdwr, uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return fmt.Errorf("i2c: addr 0x%02X: %w", d.addr, errno)
	}
	return nil
}
