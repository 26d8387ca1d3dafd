package model

// KeySize is the AES-256 / HMAC-SHA256 key length in bytes.
const KeySize = 32

// Identity binds a device serial to its long-lived symmetric key. Immutable
// for the process lifetime; the key never leaves this value's scope and is
// never transmitted.
type Identity struct {
	Serial string
	Key    [KeySize]byte
}
