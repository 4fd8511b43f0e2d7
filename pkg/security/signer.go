package security

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/albeach/DIVE-V3-sub010/pkg/label"
)

// LabelSigner signs and verifies security labels.
//
// Signatures are RSA PKCS#1 v1.5 over the SHA-256 digest of the label's
// canonical byte form. PKCS#1 v1.5 signing is deterministic: the same label
// under the same key always yields the same signature bytes.
type LabelSigner struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

// NewLabelSigner creates a signer that can both sign and verify.
func NewLabelSigner(privateKey *rsa.PrivateKey) (*LabelSigner, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}
	return &LabelSigner{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
	}, nil
}

// NewLabelVerifier creates a verify-only signer (no private key).
func NewLabelVerifier(publicKey *rsa.PublicKey) (*LabelSigner, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("public key is required")
	}
	return &LabelSigner{publicKey: publicKey}, nil
}

// Algorithm returns the boundary identifier for this signing scheme.
func (s *LabelSigner) Algorithm() string { return AlgorithmRSASHA256 }

// Sign canonicalizes the label's policy fields and signs the digest. The
// label's own Signature field is ignored; callers typically store the result
// back into it.
func (s *LabelSigner) Sign(l *label.SecurityLabel) ([]byte, error) {
	if s.privateKey == nil {
		return nil, fmt.Errorf("private key is required for signing")
	}

	canonical, err := l.CanonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("signing label: %w", err)
	}

	digest := sha256.Sum256(canonical)
	sig, err := rsa.SignPKCS1v15(nil, s.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("signing label %s: %w", l.ResourceID, err)
	}
	return sig, nil
}

// Verify recomputes the canonical bytes and checks the signature. It returns
// false on any mismatch, including a single mutated field, a malformed label,
// or an empty signature. It never returns an error: a false result is the
// tamper signal and callers must deny access on it.
func (s *LabelSigner) Verify(l *label.SecurityLabel, signature []byte) bool {
	if len(signature) == 0 {
		return false
	}

	canonical, err := l.CanonicalBytes()
	if err != nil {
		return false
	}

	digest := sha256.Sum256(canonical)
	return rsa.VerifyPKCS1v15(s.publicKey, crypto.SHA256, digest[:], signature) == nil
}
