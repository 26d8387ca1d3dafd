package wol

import (
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// Prober reports whether the target machine answers on the local network.
type Prober interface {
	Probe(host string, timeout time.Duration) (bool, error)
}

// ICMPProber sends a single ICMPv4 echo request and waits for any echo reply
// from the host. Requires raw-socket privileges (or the udp4 unprivileged
// fallback available on Linux).
type ICMPProber struct{}

func (ICMPProber) Probe(host string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", host, err)
	}

	conn, dst, err := listenEcho(addr)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("wakerelay-probe"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false, fmt.Errorf("marshal echo: %w", err)
	}
	if _, err := conn.WriteTo(wire, dst); err != nil {
		return false, fmt.Errorf("send echo: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return false, nil
			}
			return false, err
		}
		reply, err := icmp.ParseMessage(1, buf[:n])
		if err != nil {
			continue
		}
		if reply.Type == ipv4.ICMPTypeEchoReply {
			return true, nil
		}
	}
}

// listenEcho opens a raw ICMP socket, falling back to the unprivileged
// udp4 datagram flavor when raw sockets are not permitted.
func listenEcho(addr *net.IPAddr) (*icmp.PacketConn, net.Addr, error) {
	if conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0"); err == nil {
		return conn, addr, nil
	}
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return nil, nil, fmt.Errorf("listen icmp: %w", err)
	}
	return conn, &net.UDPAddr{IP: addr.IP}, nil
}
