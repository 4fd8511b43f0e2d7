package keystore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/albeach/DIVE-V3-sub010/pkg/security"
)

// FileProvider loads key material from the filesystem.
//
// The signing key is a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
// KEKs live in a directory as hex-encoded 32-byte files named
// "<kek-id>.kek". Keys are loaded lazily and cached; rotating a KEK
// means adding a new file and pointing activeKEK at it.
type FileProvider struct {
	signingKeyPath string
	kekDir         string
	activeKEK      string

	mu      sync.Mutex
	signing *rsa.PrivateKey
	keks    map[string][]byte
}

// NewFileProvider creates a file-based key provider.
func NewFileProvider(signingKeyPath, kekDir, activeKEK string) (*FileProvider, error) {
	if _, err := os.Stat(kekDir); err != nil {
		return nil, fmt.Errorf("kek directory: %w", err)
	}
	return &FileProvider{
		signingKeyPath: signingKeyPath,
		kekDir:         kekDir,
		activeKEK:      activeKEK,
		keks:           make(map[string][]byte),
	}, nil
}

// SigningKey returns the RSA label-signing key, loading it on first use.
func (p *FileProvider) SigningKey() (*rsa.PrivateKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.signing != nil {
		return p.signing, nil
	}

	key, err := loadRSAPrivateKey(p.signingKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading signing key: %w", err)
	}
	p.signing = key
	return key, nil
}

// KEK returns the key-encryption key with the given id.
func (p *FileProvider) KEK(id string) ([]byte, error) {
	if strings.ContainsAny(id, `/\`) || id == "" {
		return nil, fmt.Errorf("%w: invalid kek id %q", ErrKeyNotFound, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if kek, ok := p.keks[id]; ok {
		return kek, nil
	}

	path := filepath.Join(p.kekDir, id+".kek")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: kek %q", ErrKeyNotFound, id)
		}
		return nil, fmt.Errorf("reading kek %q: %w", id, err)
	}

	kek, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decoding kek %q: %w", id, err)
	}
	if len(kek) != security.KEKSize {
		return nil, fmt.Errorf("kek %q has %d bytes, expected %d", id, len(kek), security.KEKSize)
	}

	p.keks[id] = kek
	return kek, nil
}

// ActiveKEKID returns the configured wrap KEK id.
func (p *FileProvider) ActiveKEKID() string {
	return p.activeKEK
}

// Close clears cached key material.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.signing = nil
	for id, kek := range p.keks {
		for i := range kek {
			kek[i] = 0
		}
		delete(p.keks, id)
	}
	return nil
}

func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%s is not an RSA key", path)
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q in %s", block.Type, path)
	}
}
