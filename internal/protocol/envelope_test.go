package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gfacchetti/wakerelay/internal/model"
)

func testIdentity(serial string) model.Identity {
	return model.Identity{Serial: serial, Key: testKey()}
}

func TestSealOpenRoundTrip(t *testing.T) {
	id := testIdentity("DEV01")
	cmd := &model.Command{
		Kind:         model.KindStatus,
		TargetSerial: "DEV01",
		IssuedAt:     1000,
		Args:         map[string]string{"host": "192.168.1.10"},
	}

	raw, err := Seal(cmd, id)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), minEnvelopeSize)

	out, reason, err := Open(raw, id, time.Unix(1000, 0), DefaultSkewTolerance)
	require.NoError(t, err)
	assert.Equal(t, model.RejectNone, reason)
	assert.Equal(t, cmd, out)
}

func TestOpenTamperSensitivity(t *testing.T) {
	id := testIdentity("DEV01")
	cmd := &model.Command{Kind: model.KindWake, TargetSerial: "DEV01", IssuedAt: 1000}
	raw, err := Seal(cmd, id)
	require.NoError(t, err)

	// Flipping a single bit anywhere in iv, ciphertext or tag must yield
	// AuthFailure, never a different plaintext.
	for _, pos := range []int{0, IVSize, IVSize + 5, len(raw) - TagSize, len(raw) - 1} {
		mutated := append([]byte{}, raw...)
		mutated[pos] ^= 0x01
		out, reason, err := Open(mutated, id, time.Unix(1000, 0), DefaultSkewTolerance)
		assert.ErrorIs(t, err, ErrRejected, "flip at %d", pos)
		assert.Equal(t, model.RejectAuthFailure, reason, "flip at %d", pos)
		assert.Nil(t, out)
	}
}

func TestOpenSkewBoundary(t *testing.T) {
	id := testIdentity("DEV01")
	tolerance := 120 * time.Second
	cmd := &model.Command{Kind: model.KindWake, TargetSerial: "DEV01", IssuedAt: 1000}
	raw, err := Seal(cmd, id)
	require.NoError(t, err)

	cases := []struct {
		now    int64
		reason model.RejectReason
	}{
		{1000, model.RejectNone},
		{1120, model.RejectNone},             // = tolerance, accepted
		{1121, model.RejectExpiredTimestamp}, // tolerance+1, rejected
		{880, model.RejectNone},              // command from the "future" inside tolerance
		{879, model.RejectExpiredTimestamp},
	}
	for _, tc := range cases {
		out, reason, err := Open(raw, id, time.Unix(tc.now, 0), tolerance)
		assert.Equal(t, tc.reason, reason, "now=%d", tc.now)
		if tc.reason == model.RejectNone {
			assert.NoError(t, err)
			assert.NotNil(t, out)
		} else {
			assert.ErrorIs(t, err, ErrRejected)
			assert.Nil(t, out)
		}
	}
}

func TestOpenWrongTarget(t *testing.T) {
	sender := testIdentity("DEV02")
	receiver := testIdentity("DEV01")

	cmd := &model.Command{Kind: model.KindWake, TargetSerial: "DEV02", IssuedAt: 1000}
	raw, err := Seal(cmd, sender)
	require.NoError(t, err)

	// Same key, well-formed, well-timed, but addressed to another serial.
	_, reason, err := Open(raw, receiver, time.Unix(1000, 0), DefaultSkewTolerance)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, model.RejectWrongTarget, reason)
}

func TestOpenMalformed(t *testing.T) {
	id := testIdentity("DEV01")

	for _, raw := range [][]byte{
		nil,
		{},
		make([]byte, minEnvelopeSize-1),
	} {
		_, reason, err := Open(raw, id, time.Unix(1000, 0), DefaultSkewTolerance)
		assert.ErrorIs(t, err, ErrRejected)
		assert.Equal(t, model.RejectMalformed, reason)
	}

	// Authentic envelope whose plaintext is not a command.
	raw, err := sealBytes([]byte("not json at all"), id)
	require.NoError(t, err)
	_, reason, err := Open(raw, id, time.Unix(1000, 0), DefaultSkewTolerance)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, model.RejectMalformed, reason)
}

// The reference scenario: serial DEV01, fixed key, rotation 60s, tolerance
// 120s, WAKE sealed at t=1000.
func TestReferenceScenario(t *testing.T) {
	id := testIdentity("DEV01")
	tolerance := 120 * time.Second
	rotation := 60 * time.Second

	cmd := &model.Command{Kind: model.KindWake, TargetSerial: "DEV01", IssuedAt: 1000}
	envelope, err := Seal(cmd, id)
	require.NoError(t, err)

	out, _, err := Open(envelope, id, time.Unix(1100, 0), tolerance)
	require.NoError(t, err)
	assert.Equal(t, model.KindWake, out.Kind)

	_, reason, err := Open(envelope, id, time.Unix(1125, 0), tolerance)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, model.RejectExpiredTimestamp, reason)

	flipped := append([]byte{}, envelope...)
	flipped[IVSize+3] ^= 0x10 // one ciphertext byte
	_, reason, err = Open(flipped, id, time.Unix(1050, 0), tolerance)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, model.RejectAuthFailure, reason)

	assert.Equal(t,
		DeriveTopic("wakerelay", "DEV01", time.Unix(1000, 0), rotation),
		DeriveTopic("wakerelay", "DEV01", time.Unix(1039, 0), rotation))
	assert.NotEqual(t,
		DeriveTopic("wakerelay", "DEV01", time.Unix(1000, 0), rotation),
		DeriveTopic("wakerelay", "DEV01", time.Unix(1060, 0), rotation))
}

func TestSealOpenResponse(t *testing.T) {
	id := testIdentity("DEV01")
	resp := &model.Response{
		Kind:     model.KindUsage,
		Serial:   "DEV01",
		IssuedAt: 2000,
		Usage:    &model.UsageReport{UptimeSec: 42, Cores: 4, CPUMHz: 2400},
	}

	raw, err := SealResponse(resp, id)
	require.NoError(t, err)

	out, reason, err := OpenResponse(raw, id, time.Unix(2010, 0), DefaultSkewTolerance)
	require.NoError(t, err)
	assert.Equal(t, model.RejectNone, reason)
	assert.Equal(t, resp, out)

	// A stale capture of the response is rejected too.
	_, reason, err = OpenResponse(raw, id, time.Unix(2500, 0), DefaultSkewTolerance)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, model.RejectExpiredTimestamp, reason)
}

func TestSealRejectsInvalidCommand(t *testing.T) {
	id := testIdentity("DEV01")
	_, err := Seal(&model.Command{Kind: "REBOOT", TargetSerial: "DEV01", IssuedAt: 1}, id)
	assert.Error(t, err)
	_, err = Seal(&model.Command{Kind: model.KindWake, TargetSerial: "", IssuedAt: 1}, id)
	assert.Error(t, err)
	_, err = Seal(&model.Command{Kind: model.KindWake, TargetSerial: "DEV01"}, id)
	assert.Error(t, err)
}
