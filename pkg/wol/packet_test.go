package wol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMagicPacket(t *testing.T) {
	pkt, err := NewMagicPacket("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	raw := pkt.Bytes()
	require.Len(t, raw, 102)

	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 6), raw[:6])

	mac := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	for i := 0; i < 16; i++ {
		off := 6 + i*6
		assert.Equal(t, mac, raw[off:off+6], "repetition %d", i)
	}
}

func TestNewMagicPacketDashSeparator(t *testing.T) {
	a, err := NewMagicPacket("aa-bb-cc-dd-ee-ff")
	require.NoError(t, err)
	b, err := NewMagicPacket("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, a.Bytes(), b.Bytes())
}

func TestNewMagicPacketInvalid(t *testing.T) {
	for _, mac := range []string{
		"",
		"not a mac",
		"aa:bb:cc:dd:ee",          // too short
		"aa:bb:cc:dd:ee:ff:00:11", // EUI-64, unsupported
		"zz:bb:cc:dd:ee:ff",       // bad hex
		"aabb.ccdd.eeff",          // cisco dot form, unsupported
	} {
		_, err := NewMagicPacket(mac)
		assert.Error(t, err, "mac=%q", mac)
	}
}

func TestSendLoopback(t *testing.T) {
	pkt, err := NewMagicPacket("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	// Loopback write exercises the UDP path without broadcasting.
	assert.NoError(t, pkt.Send("127.0.0.1:9"))
}
