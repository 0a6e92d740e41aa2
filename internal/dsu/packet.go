package dsu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"time"
)

// Wire constants for the DSU (cemuhook) protocol, server side.
const (
	ProtocolVersion = 1001

	MsgControllerInfo uint32 = 0x100001
	MsgControllerData uint32 = 0x100002

	HeaderLen          = 20
	ControllerInfoLen  = 32
	ControllerDataLen  = 100
	controllerInfoBody = 16
	controllerDataBody = 84

	// NumSlots is the fixed controller topology. Only slot 0 is ever real.
	NumSlots = 4

	checksumOffset = 8
)

var magicServer = [4]byte{'D', 'S', 'U', 'S'}

// Slot descriptor values. Everything except the slot state is fixed for
// a motion-only controller.
const (
	slotNotConnected byte = 0
	slotConnected    byte = 2
	modelFullGyro    byte = 2
	connBluetooth    byte = 2
	batteryFull      byte = 5
)

// ErrMalformed is returned for inbound datagrams too short to carry a header.
var ErrMalformed = errors.New("dsu: malformed packet")

// Header is the fixed 20-byte prefix of every DSU packet.
type Header struct {
	Magic    [4]byte
	Version  uint16
	Length   uint16
	Checksum uint32
	ID       uint32
	Type     uint32
}

// DecodeHeader parses the header of an inbound packet.
//
// Decoding is lenient: magic, version and checksum are reported but never
// validated, since real clients are known to vary in what they send.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrMalformed
	}
	var h Header
	copy(h.Magic[:], b[0:4])
	h.Version = binary.LittleEndian.Uint16(b[4:6])
	h.Length = binary.LittleEndian.Uint16(b[6:8])
	h.Checksum = binary.LittleEndian.Uint32(b[8:12])
	h.ID = binary.LittleEndian.Uint32(b[12:16])
	h.Type = binary.LittleEndian.Uint32(b[16:20])
	return h, nil
}

// Encoder builds outbound packets. It owns the controller-data sequence
// counter and the epoch of the motion timestamp, so each loop run starts a
// fresh sequence.
//
// Encoder is not safe for concurrent use.
type Encoder struct {
	seq   uint32
	epoch time.Time
}

func NewEncoder() *Encoder {
	return &Encoder{epoch: time.Now()}
}

// Seq returns the sequence number the next data packet will carry.
func (e *Encoder) Seq() uint32 { return e.seq }

// EncodeControllerInfo builds the 32-byte response to a controller info
// request for the given slot (0..3, caller-validated).
func EncodeControllerInfo(slot int, connected bool) []byte {
	b := make([]byte, ControllerInfoLen)
	putHeader(b, controllerInfoBody, MsgControllerInfo)

	state := slotNotConnected
	if connected {
		state = slotConnected
	}
	putSlot(b[HeaderLen:], byte(slot), state)
	// b[31] stays zero (padding).

	putChecksum(b)
	return b
}

// EncodeControllerData builds the 100-byte motion report for slot 0.
//
// gyro is placed as pitch=gyro[0], yaw=gyro[2], roll=gyro[1]; accel is
// written in x, y, z order unchanged.
func (e *Encoder) EncodeControllerData(accel, gyro [3]float32) []byte {
	b := make([]byte, ControllerDataLen)
	putHeader(b, controllerDataBody, MsgControllerData)

	p := b[HeaderLen:]
	putSlot(p, 0, slotConnected)
	p[11] = 1
	binary.LittleEndian.PutUint32(p[12:16], e.seq)
	e.seq++

	// p[16:36] buttons, sticks and analog face buttons, p[36:48] touch: all zero.

	binary.LittleEndian.PutUint64(p[48:56], uint64(time.Since(e.epoch).Nanoseconds()))

	putFloat(p[56:60], gyro[0])
	putFloat(p[60:64], gyro[2])
	putFloat(p[64:68], gyro[1])
	putFloat(p[68:72], accel[0])
	putFloat(p[72:76], accel[1])
	putFloat(p[76:80], accel[2])

	putChecksum(b)
	return b
}

// ControllerData is the motion content of a controller data packet.
type ControllerData struct {
	Seq uint32
	// Timestamp is nanoseconds since the sender's epoch.
	Timestamp uint64
	// Accel and Gyro use the argument order of EncodeControllerData.
	Accel [3]float32
	Gyro  [3]float32
}

// DecodeControllerData parses a packet produced by EncodeControllerData.
func DecodeControllerData(b []byte) (ControllerData, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return ControllerData{}, err
	}
	if h.Type != MsgControllerData || len(b) < ControllerDataLen {
		return ControllerData{}, fmt.Errorf("%w: type 0x%X len %d is not controller data", ErrMalformed, h.Type, len(b))
	}
	p := b[HeaderLen:]
	return ControllerData{
		Seq:       binary.LittleEndian.Uint32(p[12:16]),
		Timestamp: binary.LittleEndian.Uint64(p[48:56]),
		Gyro:      [3]float32{getFloat(p[56:60]), getFloat(p[64:68]), getFloat(p[60:64])},
		Accel:     [3]float32{getFloat(p[68:72]), getFloat(p[72:76]), getFloat(p[76:80])},
	}, nil
}

// VerifyChecksum reports whether the embedded CRC32 of a full packet matches
// the CRC32 recomputed with the checksum field zeroed.
func VerifyChecksum(packet []byte) bool {
	if len(packet) < HeaderLen {
		return false
	}
	want := binary.LittleEndian.Uint32(packet[checksumOffset : checksumOffset+4])
	return checksum(packet) == want
}

func putHeader(b []byte, bodyLen uint16, msgType uint32) {
	copy(b[0:4], magicServer[:])
	binary.LittleEndian.PutUint16(b[4:6], ProtocolVersion)
	binary.LittleEndian.PutUint16(b[6:8], bodyLen)
	// b[8:12] checksum, filled last.
	binary.LittleEndian.PutUint32(b[12:16], 0)
	binary.LittleEndian.PutUint32(b[16:20], msgType)
}

// putSlot writes the 11-byte shared slot descriptor.
func putSlot(p []byte, slot, state byte) {
	p[0] = slot
	p[1] = state
	p[2] = modelFullGyro
	p[3] = connBluetooth
	// p[4:10] MAC, all zero.
	p[10] = batteryFull
}

func putFloat(p []byte, v float32) {
	binary.LittleEndian.PutUint32(p, math.Float32bits(v))
}

func getFloat(p []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(p))
}

func putChecksum(b []byte) {
	binary.LittleEndian.PutUint32(b[checksumOffset:checksumOffset+4], checksum(b))
}

// checksum is CRC32 (IEEE) over the packet with the checksum field treated
// as zero. b is not modified.
func checksum(b []byte) uint32 {
	var zero [4]byte
	crc := crc32.Update(0, crc32.IEEETable, b[:checksumOffset])
	crc = crc32.Update(crc, crc32.IEEETable, zero[:])
	return crc32.Update(crc, crc32.IEEETable, b[checksumOffset+4:])
}
