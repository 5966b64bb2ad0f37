package secretstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/okazan/clauth/internal/apperrors"
)

// File keeps the secret in a single encrypted file, the nearest
// terminal-app equivalent of a platform secure store. The file holds
// nonce||ciphertext sealed with XChaCha20-Poly1305; the cipher key is
// derived from the configured store key with HKDF-SHA256, so the file
// is useless without the key and any tampering fails the open.
type File struct {
	path string
	key  []byte
}

const hkdfInfo = "clauth/secretstore/v1"

func NewFile(path string, storeKey string) (*File, error) {
	if path == "" {
		return nil, errors.New("store path must not be empty")
	}
	if storeKey == "" {
		return nil, errors.New("store key must not be empty")
	}

	key, err := deriveKey(storeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive store key: %w", err)
	}

	return &File{path: path, key: key}, nil
}

func (f *File) Get(_ context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return "", apperrors.ErrSecretNotFound
	case err != nil:
		return "", fmt.Errorf("failed to read secret file: %w", err)
	}

	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return "", err
	}

	if len(data) < aead.NonceSize() {
		return "", errors.New("secret file is truncated")
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret file: %w", err)
	}

	return string(plaintext), nil
}

func (f *File) Set(_ context.Context, secret string) error {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(secret), nil)

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	// Write to a temp file and rename so the stored secret is replaced atomically
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".secret-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, writeErr := tmp.Write(sealed)
	if err := tmp.Close(); writeErr == nil {
		writeErr = err
	}
	if writeErr == nil {
		writeErr = os.Chmod(tmp.Name(), 0o600)
	}
	if writeErr == nil {
		writeErr = os.Rename(tmp.Name(), f.path)
	}
	if writeErr != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write secret file: %w", writeErr)
	}

	return nil
}

func (f *File) Delete(_ context.Context) error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete secret file: %w", err)
	}
	return nil
}

// deriveKey stretches the configured store key into a cipher key with HKDF-SHA256
func deriveKey(storeKey string) ([]byte, error) {
	h := hkdf.New(sha256.New, []byte(storeKey), nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return key, nil
}
