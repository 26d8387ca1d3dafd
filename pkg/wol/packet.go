package wol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"regexp"
)

var reMAC = regexp.MustCompile(`^([0-9a-fA-F]{2}[:-]){5}([0-9a-fA-F]{2})$`)

// MACAddress represents a 6 byte network mac address.
type MACAddress [6]byte

// MagicPacket is constituted of 6 bytes of 0xFF followed by 16 repetitions of
// the destination MAC address.
type MagicPacket struct {
	header  [6]byte
	payload [16]MACAddress
}

// NewMagicPacket returns a magic packet based on a mac address string.
// Only 6 byte MAC-48 addresses are supported.
func NewMagicPacket(mac string) (*MagicPacket, error) {
	var packet MagicPacket
	var macAddr MACAddress

	hwAddr, err := net.ParseMAC(mac)
	if err != nil {
		return nil, err
	}
	if !reMAC.MatchString(mac) {
		return nil, fmt.Errorf("%s is not a IEEE 802 MAC-48 address", mac)
	}

	copy(macAddr[:], hwAddr)

	for idx := range packet.header {
		packet.header[idx] = 0xFF
	}
	for idx := range packet.payload {
		packet.payload[idx] = macAddr
	}

	return &packet, nil
}

// Bytes renders the 102 byte wire form.
func (mp *MagicPacket) Bytes() []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, mp)
	return buf.Bytes()
}

// Send broadcasts the packet over UDP to addr, e.g. "255.255.255.255:9".
// UDP broadcast is unconfirmed; a nil return only means the write succeeded.
func (mp *MagicPacket) Send(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("unable to get UDP address for %s", addr)
	}

	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("unable to dial UDP address %s", addr)
	}
	defer conn.Close()

	n, err := conn.Write(mp.Bytes())
	if err != nil {
		return errors.New("unable to write packet to connection")
	}
	if n != 102 {
		return fmt.Errorf("wrote %d bytes, expected 102", n)
	}
	return nil
}
