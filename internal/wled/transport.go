package wled

import (
	"context"
	"io"
	"net"

	"github.com/pkg/errors"
)

// Conn is a connected datagram endpoint. Each Write sends one packet.
type Conn interface {
	io.Writer
	io.Closer
}

// Dialer opens a Conn towards a controller.
type Dialer interface {
	DialContext(ctx context.Context, addr string) (Conn, error)
}

// UDPDialer binds an ephemeral local port and connects it to the controller.
// Connecting a UDP socket only fixes the peer; nothing is sent.
type UDPDialer struct {
	// LocalAddr optionally pins the source address.
	LocalAddr *net.UDPAddr
}

// DialContext implements Dialer.
func (d UDPDialer) DialContext(ctx context.Context, addr string) (Conn, error) {
	nd := net.Dialer{}
	if d.LocalAddr != nil {
		nd.LocalAddr = d.LocalAddr
	}
	conn, err := nd.DialContext(ctx, "udp", Address(addr))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to WLED at %s", addr)
	}
	return conn, nil
}

// Listen opens a UDP socket for receiving realtime packets, used for
// debugging a sender without a controller.
func Listen(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid listen address %s", addr)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return conn, nil
}
