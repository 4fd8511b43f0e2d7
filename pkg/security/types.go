// Package security implements the cryptographic binding engine.
//
// This package provides:
//   - tamper-evident RSA-SHA256 signatures over canonical security-label bytes
//   - AES-256-KW wrapping of per-resource data-encryption keys under a KEK
//   - SHA-384 integrity hashing of raw bytes and structured objects
//   - cryptographically secure DEK generation
//
// Signature and wrapped-key blobs are opaque to collaborators: they are
// persisted as-is alongside resource metadata and re-submitted unchanged on
// later verify/unwrap calls. The algorithm identifiers below are exchanged
// at that boundary and must be preserved bit-exactly.
package security

import (
	"errors"
	"time"
)

// Boundary algorithm identifiers.
const (
	// AlgorithmRSASHA256 identifies the label signing scheme: RSA PKCS#1
	// v1.5 with a SHA-256 digest (deterministic: same input, same signature).
	AlgorithmRSASHA256 = "RSA-SHA256"

	// AlgorithmAES256KW identifies the key-wrap scheme: AES Key Wrap of a
	// 256-bit DEK with per-wrap random initialization material, so two wraps
	// of the same DEK produce different ciphertexts.
	AlgorithmAES256KW = "AES-256-KW"

	// AlgorithmSHA384 identifies the integrity hash: SHA-384, 48-byte digest.
	AlgorithmSHA384 = "SHA-384"
)

// Key sizes in bytes.
const (
	// DEKSize is the required data-encryption key size (256 bits).
	DEKSize = 32

	// KEKSize is the required key-encryption key size (AES-256).
	KEKSize = 32

	// wrapSaltSize is the per-wrap random salt prepended to the ciphertext.
	wrapSaltSize = 16
)

// Sentinel errors for binding-engine failures.
var (
	// ErrInvalidKeyLength indicates a DEK or KEK of the wrong size. The call
	// is rejected before any cryptographic operation.
	ErrInvalidKeyLength = errors.New("invalid key length")

	// ErrUnwrapFailed indicates authenticated unwrap failure: the ciphertext
	// was tampered with or the wrong KEK was supplied. Callers cannot
	// distinguish the two cases, by construction.
	ErrUnwrapFailed = errors.New("key unwrap failed")
)

// WrappedKey is the ciphertext of a DEK under a KEK, plus the metadata needed
// to unwrap it later. Created once per resource at encryption time and never
// mutated.
type WrappedKey struct {
	Ciphertext []byte    `bson:"ciphertext" json:"ciphertext"`
	Algorithm  string    `bson:"algorithm" json:"algorithm"`
	KEKID      string    `bson:"kek_id" json:"kekId"`
	WrappedAt  time.Time `bson:"wrapped_at" json:"wrappedAt"`
}
