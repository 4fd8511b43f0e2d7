// Package keystore manages the cryptographic key material of the key
// access service: the RSA keypair used to sign and verify security
// labels, and the ring of key-encryption keys (KEKs) that wrap data
// encryption keys.
package keystore

import (
	"crypto/rsa"
	"errors"
)

// ErrKeyNotFound is returned when a requested key does not exist.
var ErrKeyNotFound = errors.New("keystore: key not found")

// Provider supplies signing and key-encryption keys.
//
// KEK lookups satisfy the orchestrator's key-release path; SigningKey
// backs label signing and verification.
type Provider interface {
	// SigningKey returns the RSA private key used to sign security labels.
	SigningKey() (*rsa.PrivateKey, error)

	// KEK returns the 32-byte key-encryption key with the given id.
	KEK(id string) ([]byte, error)

	// ActiveKEKID returns the id of the KEK used for new wraps.
	ActiveKEKID() string

	// Close releases any resources held by the provider.
	Close() error
}
