package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albeach/DIVE-V3-sub010/internal/config"
	"github.com/albeach/DIVE-V3-sub010/pkg/security"
)

func writeTestKeys(t *testing.T) (signingPath, kekDir string) {
	t.Helper()
	dir := t.TempDir()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signingPath = filepath.Join(dir, "signing.pem")
	pemData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	require.NoError(t, os.WriteFile(signingPath, pemData, 0o600))

	kekDir = filepath.Join(dir, "kek")
	require.NoError(t, os.Mkdir(kekDir, 0o700))

	kek := make([]byte, security.KEKSize)
	_, err = rand.Read(kek)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(
		filepath.Join(kekDir, "kek-1.kek"),
		[]byte(hex.EncodeToString(kek)+"\n"),
		0o600,
	))

	return signingPath, kekDir
}

func TestFileProvider(t *testing.T) {
	signingPath, kekDir := writeTestKeys(t)

	p, err := NewFileProvider(signingPath, kekDir, "kek-1")
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "kek-1", p.ActiveKEKID())

	key, err := p.SigningKey()
	require.NoError(t, err)
	require.NotNil(t, key)

	// Second call returns the cached key
	key2, err := p.SigningKey()
	require.NoError(t, err)
	assert.Same(t, key, key2)

	kek, err := p.KEK("kek-1")
	require.NoError(t, err)
	assert.Len(t, kek, security.KEKSize)
}

func TestFileProvider_MissingKEK(t *testing.T) {
	signingPath, kekDir := writeTestKeys(t)

	p, err := NewFileProvider(signingPath, kekDir, "kek-1")
	require.NoError(t, err)
	defer p.Close()

	_, err = p.KEK("kek-99")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestFileProvider_RejectsPathTraversal(t *testing.T) {
	signingPath, kekDir := writeTestKeys(t)

	p, err := NewFileProvider(signingPath, kekDir, "kek-1")
	require.NoError(t, err)
	defer p.Close()

	for _, id := range []string{"", "../kek-1", `..\kek-1`, "a/b"} {
		_, err := p.KEK(id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestFileProvider_BadKEKContent(t *testing.T) {
	signingPath, kekDir := writeTestKeys(t)

	require.NoError(t, os.WriteFile(filepath.Join(kekDir, "short.kek"), []byte("abcd"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(kekDir, "nothex.kek"), []byte("zz"), 0o600))

	p, err := NewFileProvider(signingPath, kekDir, "kek-1")
	require.NoError(t, err)
	defer p.Close()

	_, err = p.KEK("short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 32")

	_, err = p.KEK("nothex")
	require.Error(t, err)
}

func TestMemoryProvider(t *testing.T) {
	p, err := NewMemoryProvider("default")
	require.NoError(t, err)
	defer p.Close()

	key, err := p.SigningKey()
	require.NoError(t, err)
	require.NotNil(t, key)

	kek, err := p.KEK("default")
	require.NoError(t, err)
	assert.Len(t, kek, security.KEKSize)

	require.NoError(t, p.AddKEK("rotated", nil))
	rotated, err := p.KEK("rotated")
	require.NoError(t, err)
	assert.NotEqual(t, kek, rotated)

	_, err = p.KEK("unknown")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestNewProvider(t *testing.T) {
	signingPath, kekDir := writeTestKeys(t)

	fileProv, err := NewProvider(config.KeysConfig{
		Mode: "file",
		File: config.FileKeysConfig{SigningKey: signingPath, KEKDir: kekDir, ActiveKEK: "kek-1"},
	})
	require.NoError(t, err)
	assert.IsType(t, &FileProvider{}, fileProv)
	fileProv.Close()

	memProv, err := NewProvider(config.KeysConfig{
		Mode: "memory",
		File: config.FileKeysConfig{ActiveKEK: "default"},
	})
	require.NoError(t, err)
	assert.IsType(t, &MemoryProvider{}, memProv)
	memProv.Close()

	_, err = NewProvider(config.KeysConfig{Mode: "pkcs11"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported keystore mode")
}
