package protocol

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/gfacchetti/wakerelay/internal/model"
)

// IVSize is the AES-CBC initialization vector length.
const IVSize = aes.BlockSize

// TagSize is the HMAC-SHA256 tag length.
const TagSize = sha256.Size

// Structural decryption failures. The protocol layer folds both into a single
// rejection reason so an observer cannot distinguish a padding error from a
// truncated ciphertext.
var (
	ErrCiphertextLength = errors.New("ciphertext length is not a multiple of the block size")
	ErrPadding          = errors.New("invalid padding")
)

// DeriveKey turns the configured shared secret into the 256-bit key used for
// both encryption and authentication.
func DeriveKey(secret string) [model.KeySize]byte {
	return sha256.Sum256([]byte(secret))
}

// Encrypt applies PKCS7 padding and AES-256-CBC under a fresh random IV.
// The IV is never reused across calls.
func Encrypt(key [model.KeySize]byte, plaintext []byte) (iv, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, nil, fmt.Errorf("new cipher: %w", err)
	}
	iv = make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("read iv: %w", err)
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return iv, ciphertext, nil
}

// Decrypt reverses Encrypt. It fails with ErrCiphertextLength or ErrPadding
// on structurally invalid input; both must be treated identically upstream.
func Decrypt(key [model.KeySize]byte, iv, ciphertext []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, ErrCiphertextLength
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrCiphertextLength
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)
	return pkcs7Unpad(plain, aes.BlockSize)
}

// Sign computes the HMAC-SHA256 tag over data.
func Sign(key [model.KeySize]byte, data []byte) []byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(data)
	return mac.Sum(nil)
}

// VerifyTag recomputes the tag and compares in constant time.
func VerifyTag(key [model.KeySize]byte, data, tag []byte) bool {
	return hmac.Equal(Sign(key, data), tag)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrPadding
	}
	pad := int(data[len(data)-1])
	if pad < 1 || pad > blockSize {
		return nil, ErrPadding
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrPadding
		}
	}
	return data[:len(data)-pad], nil
}
