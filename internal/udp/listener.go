package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Conn is the subset of *net.UDPConn the DSU dispatch loop needs.
type Conn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

type listenPacketFunc func(ctx context.Context, network, address string) (net.PacketConn, error)

// Listen binds a UDP socket on all interfaces at port. Port 0 selects an
// ephemeral port. SO_REUSEADDR is set where supported so a quick restart
// does not fail on a lingering socket.
func Listen(port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	return listen(port, lc.ListenPacket)
}

func listen(port int, listenPacket listenPacketFunc) (*net.UDPConn, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("udp: invalid port %d", port)
	}
	pc, err := listenPacket(context.Background(), "udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen udp :%d: %w", port, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, fmt.Errorf("udp: listener returned %T, want *net.UDPConn", pc)
	}
	return conn, nil
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
