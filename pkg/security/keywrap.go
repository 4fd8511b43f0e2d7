package security

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// kwInfo is the HKDF info string binding derived wrapping keys to this use.
var kwInfo = []byte("DIVE-AES256-KW-WRAP")

// GenerateDEK returns a fresh 256-bit data-encryption key from the
// operating system's CSPRNG.
func GenerateDEK() ([]byte, error) {
	dek := make([]byte, DEKSize)
	if _, err := io.ReadFull(rand.Reader, dek); err != nil {
		return nil, fmt.Errorf("generating DEK: %w", err)
	}
	return dek, nil
}

// WrapDEK wraps a 32-byte DEK under a 32-byte KEK using AES-256-KW.
//
// RFC 3394 key wrap is deterministic, so a fresh 16-byte salt is drawn per
// call and a one-shot wrapping key is derived from (KEK, salt) with
// HKDF-SHA256. The salt travels as the ciphertext prefix. Two wraps of the
// same DEK therefore produce different ciphertexts, while tampering with
// either the salt or the wrapped block fails the RFC 3394 integrity check
// on unwrap.
func WrapDEK(dek, kek []byte, kekID string) (*WrappedKey, error) {
	if len(dek) != DEKSize {
		return nil, fmt.Errorf("%w: DEK must be %d bytes, got %d", ErrInvalidKeyLength, DEKSize, len(dek))
	}
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("%w: KEK must be %d bytes, got %d", ErrInvalidKeyLength, KEKSize, len(kek))
	}

	salt := make([]byte, wrapSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating wrap salt: %w", err)
	}

	wrappingKey, err := deriveWrappingKey(kek, salt)
	if err != nil {
		return nil, err
	}

	wrapped, err := rfc3394Wrap(wrappingKey, dek)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, 0, len(salt)+len(wrapped))
	ciphertext = append(ciphertext, salt...)
	ciphertext = append(ciphertext, wrapped...)

	return &WrappedKey{
		Ciphertext: ciphertext,
		Algorithm:  AlgorithmAES256KW,
		KEKID:      kekID,
		WrappedAt:  time.Now().UTC(),
	}, nil
}

// UnwrapDEK recovers the DEK from a wrapped key. Any bit-level tampering of
// the ciphertext, and any KEK other than the wrapping one, yields
// [ErrUnwrapFailed]. The recovered DEK lives only in the returned buffer;
// callers must not persist it.
func UnwrapDEK(wrapped *WrappedKey, kek []byte) ([]byte, error) {
	if wrapped == nil {
		return nil, fmt.Errorf("%w: no wrapped key", ErrUnwrapFailed)
	}
	if len(kek) != KEKSize {
		return nil, fmt.Errorf("%w: KEK must be %d bytes, got %d", ErrInvalidKeyLength, KEKSize, len(kek))
	}
	if wrapped.Algorithm != AlgorithmAES256KW {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrUnwrapFailed, wrapped.Algorithm)
	}
	// salt + RFC 3394 output for a 32-byte key (40 bytes).
	if len(wrapped.Ciphertext) != wrapSaltSize+DEKSize+8 {
		return nil, fmt.Errorf("%w: ciphertext is %d bytes", ErrUnwrapFailed, len(wrapped.Ciphertext))
	}

	salt := wrapped.Ciphertext[:wrapSaltSize]
	block := wrapped.Ciphertext[wrapSaltSize:]

	wrappingKey, err := deriveWrappingKey(kek, salt)
	if err != nil {
		return nil, err
	}

	dek, err := rfc3394Unwrap(wrappingKey, block)
	if err != nil {
		return nil, err
	}
	if len(dek) != DEKSize {
		return nil, fmt.Errorf("%w: unwrapped key is %d bytes", ErrUnwrapFailed, len(dek))
	}
	return dek, nil
}

func deriveWrappingKey(kek, salt []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, kek, salt, kwInfo)
	key := make([]byte, KEKSize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving wrapping key: %w", err)
	}
	return key, nil
}

// rfc3394Wrap implements AES Key Wrap (RFC 3394) with the default IV.
func rfc3394Wrap(kek, plainKey []byte) ([]byte, error) {
	if len(plainKey)%8 != 0 || len(plainKey) == 0 {
		return nil, fmt.Errorf("%w: key to wrap must be a multiple of 8 bytes", ErrInvalidKeyLength)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("creating wrap cipher: %w", err)
	}

	n := len(plainKey) / 8
	a := uint64(0xA6A6A6A6A6A6A6A6)
	r := make([][]byte, n+1)
	for i := 1; i <= n; i++ {
		r[i] = make([]byte, 8)
		copy(r[i], plainKey[(i-1)*8:i*8])
	}

	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 1; i <= n; i++ {
			putUint64(buf[0:8], a)
			copy(buf[8:16], r[i])
			block.Encrypt(buf, buf)
			a = getUint64(buf[0:8]) ^ uint64(n*j+i)
			copy(r[i], buf[8:16])
		}
	}

	out := make([]byte, (n+1)*8)
	putUint64(out[0:8], a)
	for i := 1; i <= n; i++ {
		copy(out[i*8:(i+1)*8], r[i])
	}
	return out, nil
}

// rfc3394Unwrap inverts rfc3394Wrap, checking the integrity IV.
func rfc3394Unwrap(kek, wrapped []byte) ([]byte, error) {
	if len(wrapped)%8 != 0 || len(wrapped) < 24 {
		return nil, fmt.Errorf("%w: bad wrapped block size", ErrUnwrapFailed)
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, fmt.Errorf("creating unwrap cipher: %w", err)
	}

	n := (len(wrapped) / 8) - 1
	a := getUint64(wrapped[0:8])
	r := make([][]byte, n+1)
	for i := 1; i <= n; i++ {
		r[i] = make([]byte, 8)
		copy(r[i], wrapped[i*8:(i+1)*8])
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n; i >= 1; i-- {
			putUint64(buf[0:8], a^uint64(n*j+i))
			copy(buf[8:16], r[i])
			block.Decrypt(buf, buf)
			a = getUint64(buf[0:8])
			copy(r[i], buf[8:16])
		}
	}

	var iv [8]byte
	putUint64(iv[:], 0xA6A6A6A6A6A6A6A6)
	var got [8]byte
	putUint64(got[:], a)
	if subtle.ConstantTimeCompare(iv[:], got[:]) != 1 {
		return nil, fmt.Errorf("%w: integrity check failed", ErrUnwrapFailed)
	}

	plainKey := make([]byte, n*8)
	for i := 1; i <= n; i++ {
		copy(plainKey[(i-1)*8:i*8], r[i])
	}
	return plainKey, nil
}

func putUint64(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}

func getUint64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}
