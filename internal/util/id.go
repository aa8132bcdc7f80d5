package util

import (
	"crypto/rand"
	"encoding/hex"
	"path"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NewSecret returns 32 bytes of cryptographic randomness as hex. Used
// for refresh, verification, reset and share-link tokens.
func NewSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// NewRequestID returns a UUID suitable for the X-Request-Id header.
func NewRequestID() string {
	return uuid.NewString()
}

// NewObjectKey builds an object-storage key under dir, keeping the
// extension of the original filename so stored objects stay typed.
func NewObjectKey(dir, filename string) string {
	ext := path.Ext(filename)
	return path.Join(dir, uuid.NewString()+ext)
}
