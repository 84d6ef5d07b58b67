package dh

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const KeySize = curve25519.PointSize

// NewX25519KeyPair generates a fresh key pair.
func NewX25519KeyPair() (priv, pub [KeySize]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, fmt.Errorf("failed to generate private key: %w", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)
	return priv, pub, nil
}

// X25519SharedSecret computes priv * pub. A low-order peer key is rejected.
func X25519SharedSecret(priv, pub [KeySize]byte) ([]byte, error) {
	return curve25519.X25519(priv[:], pub[:])
}

// EncodePublicKey renders pub the way it is registered in the key directory.
func EncodePublicKey(pub [KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(pub[:])
}

func DecodePublicKey(s string) ([KeySize]byte, error) {
	var pub [KeySize]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return pub, fmt.Errorf("public key is not base64: %w", err)
	}
	if len(raw) != KeySize {
		return pub, fmt.Errorf("public key must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(pub[:], raw)
	return pub, nil
}
