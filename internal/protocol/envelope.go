package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gfacchetti/wakerelay/internal/model"
)

// DefaultSkewTolerance is the maximum |now - issued_at| accepted by Open.
const DefaultSkewTolerance = 120 * time.Second

// minEnvelopeSize: IV + at least one ciphertext block + tag.
const minEnvelopeSize = IVSize + 16 + TagSize

// ErrRejected is returned by Open alongside a RejectReason. Callers drop the
// message; they never answer the sender.
var ErrRejected = errors.New("envelope rejected")

// Seal serializes a command and wraps it in the wire envelope:
// IV (16) || AES-256-CBC ciphertext || HMAC-SHA256 tag (32) over IV||ciphertext.
func Seal(cmd *model.Command, id model.Identity) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}
	plain, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	return sealBytes(plain, id)
}

// SealResponse wraps a response in the same envelope layout.
func SealResponse(resp *model.Response, id model.Identity) ([]byte, error) {
	plain, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return sealBytes(plain, id)
}

func sealBytes(plain []byte, id model.Identity) ([]byte, error) {
	iv, ct, err := Encrypt(id.Key, plain)
	if err != nil {
		return nil, err
	}
	tag := Sign(id.Key, append(append([]byte{}, iv...), ct...))
	out := make([]byte, 0, len(iv)+len(ct)+len(tag))
	out = append(out, iv...)
	out = append(out, ct...)
	out = append(out, tag...)
	return out, nil
}

// Open validates and decrypts an inbound envelope. Order is fixed:
// authenticate, decrypt, parse, target check, freshness check. The tag is
// verified before any decryption so unauthenticated ciphertext is never acted
// on, and structural decrypt failures are reported exactly like parse
// failures so there is no padding oracle.
func Open(raw []byte, id model.Identity, now time.Time, skew time.Duration) (*model.Command, model.RejectReason, error) {
	plain, reason, err := openBytes(raw, id)
	if err != nil {
		return nil, reason, err
	}

	var cmd model.Command
	if err := json.Unmarshal(plain, &cmd); err != nil {
		return nil, model.RejectMalformed, ErrRejected
	}
	if err := cmd.Validate(); err != nil {
		return nil, model.RejectMalformed, ErrRejected
	}
	if cmd.TargetSerial != id.Serial {
		return nil, model.RejectWrongTarget, ErrRejected
	}
	if skew <= 0 {
		skew = DefaultSkewTolerance
	}
	if d := now.Unix() - cmd.IssuedAt; d > int64(skew/time.Second) || -d > int64(skew/time.Second) {
		return nil, model.RejectExpiredTimestamp, ErrRejected
	}
	return &cmd, model.RejectNone, nil
}

// OpenResponse decrypts and authenticates a response envelope on the sender
// side. Freshness uses the same skew rule as commands.
func OpenResponse(raw []byte, id model.Identity, now time.Time, skew time.Duration) (*model.Response, model.RejectReason, error) {
	plain, reason, err := openBytes(raw, id)
	if err != nil {
		return nil, reason, err
	}
	var resp model.Response
	if err := json.Unmarshal(plain, &resp); err != nil {
		return nil, model.RejectMalformed, ErrRejected
	}
	if resp.Serial != id.Serial {
		return nil, model.RejectWrongTarget, ErrRejected
	}
	if skew <= 0 {
		skew = DefaultSkewTolerance
	}
	if d := now.Unix() - resp.IssuedAt; d > int64(skew/time.Second) || -d > int64(skew/time.Second) {
		return nil, model.RejectExpiredTimestamp, ErrRejected
	}
	return &resp, model.RejectNone, nil
}

func openBytes(raw []byte, id model.Identity) ([]byte, model.RejectReason, error) {
	if len(raw) < minEnvelopeSize {
		return nil, model.RejectMalformed, ErrRejected
	}
	iv := raw[:IVSize]
	ct := raw[IVSize : len(raw)-TagSize]
	tag := raw[len(raw)-TagSize:]

	if !VerifyTag(id.Key, raw[:len(raw)-TagSize], tag) {
		return nil, model.RejectAuthFailure, ErrRejected
	}
	plain, err := Decrypt(id.Key, iv, ct)
	if err != nil {
		// Padding and length failures are indistinguishable from a garbled
		// payload to any external observer.
		return nil, model.RejectMalformed, ErrRejected
	}
	return plain, model.RejectNone, nil
}
