package kdf

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize = 32

	passwordIterations = 200_000
)

var passwordSalt = []byte("AnonCipherSaltV1")

// HKDF fills buffer from HKDF-SHA256 over secret.
func HKDF(secret, salt, info, buffer []byte) (int, error) {
	h := hkdf.New(sha256.New, secret, salt, info)
	return io.ReadFull(h, buffer)
}

// DeriveKey returns a KeySize key bound to info.
func DeriveKey(secret, salt, info []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := HKDF(secret, salt, info, key); err != nil {
		return nil, err
	}
	return key, nil
}

// PasswordKey stretches a human secret with PBKDF2-SHA256.
func PasswordKey(password string) []byte {
	return pbkdf2.Key([]byte(password), passwordSalt, passwordIterations, KeySize, sha256.New)
}
