package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"

	"github.com/albeach/DIVE-V3-sub010/pkg/security"
)

// MemoryProvider generates ephemeral key material at construction time.
// Nothing is persisted, so wraps made by one process cannot be unwrapped
// by another. Intended for tests and demos.
type MemoryProvider struct {
	signing   *rsa.PrivateKey
	activeKEK string

	mu   sync.Mutex
	keks map[string][]byte
}

// NewMemoryProvider creates an in-memory provider with a fresh 2048-bit
// signing key and a single generated KEK.
func NewMemoryProvider(activeKEK string) (*MemoryProvider, error) {
	signing, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}

	kek := make([]byte, security.KEKSize)
	if _, err := rand.Read(kek); err != nil {
		return nil, fmt.Errorf("generating kek: %w", err)
	}

	return &MemoryProvider{
		signing:   signing,
		activeKEK: activeKEK,
		keks:      map[string][]byte{activeKEK: kek},
	}, nil
}

// SigningKey returns the ephemeral RSA signing key.
func (p *MemoryProvider) SigningKey() (*rsa.PrivateKey, error) {
	return p.signing, nil
}

// KEK returns a generated key-encryption key.
func (p *MemoryProvider) KEK(id string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kek, ok := p.keks[id]
	if !ok {
		return nil, fmt.Errorf("%w: kek %q", ErrKeyNotFound, id)
	}
	return kek, nil
}

// AddKEK registers an additional KEK, generating it when key is nil.
func (p *MemoryProvider) AddKEK(id string, key []byte) error {
	if key == nil {
		key = make([]byte, security.KEKSize)
		if _, err := rand.Read(key); err != nil {
			return err
		}
	}
	if len(key) != security.KEKSize {
		return fmt.Errorf("kek %q has %d bytes, expected %d", id, len(key), security.KEKSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.keks[id] = key
	return nil
}

// ActiveKEKID returns the wrap KEK id.
func (p *MemoryProvider) ActiveKEKID() string {
	return p.activeKEK
}

// Close zeroes the KEK ring.
func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, kek := range p.keks {
		for i := range kek {
			kek[i] = 0
		}
		delete(p.keks, id)
	}
	return nil
}
