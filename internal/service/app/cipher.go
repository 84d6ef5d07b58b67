package app

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"blind_relay/internal/cryptographic/dh"
	"blind_relay/internal/cryptographic/encryption"
	"blind_relay/internal/cryptographic/kdf"
	"blind_relay/internal/model"
)

var (
	directInfo = []byte("blind_relay/dm/v1")
	roomInfo   = []byte("blind_relay/room/v1")
)

// Cipher seals and opens the payload of one conversation. iv and ciphertext
// are exchanged as base64 text.
type Cipher struct {
	key []byte
	aad []byte
}

// NewDirectCipher derives the pairwise key from our private key and the
// peer's registered public key. Both sides derive the same key.
func NewDirectCipher(ks *Keystore, peerPublicKey string, me, peer string) (*Cipher, error) {
	pub, err := dh.DecodePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	shared, err := dh.X25519SharedSecret(ks.priv, pub)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}

	// the conversation key binds the ciphertext to this pair of names
	conv := []byte(model.DirectKey(me, peer))
	key, err := kdf.DeriveKey(shared, conv, directInfo)
	if err != nil {
		return nil, err
	}
	return &Cipher{key: key, aad: conv}, nil
}

// NewRoomCipher stretches the room secret into a key and returns the room id
// members join with. The relay only ever sees the id.
func NewRoomCipher(secret string) (*Cipher, string, error) {
	if secret == "" {
		return nil, "", fmt.Errorf("%w: room secret is empty", model.ErrInvalidInput)
	}
	stretched := kdf.PasswordKey(secret)
	key, err := kdf.DeriveKey(stretched, nil, roomInfo)
	if err != nil {
		return nil, "", err
	}
	return &Cipher{key: key, aad: roomInfo}, RoomID(secret), nil
}

// RoomID is the public handle of a room secret.
func RoomID(secret string) string {
	sum := sha256.Sum256([]byte("room:" + secret))
	return hex.EncodeToString(sum[:])
}

func (c *Cipher) Seal(plaintext string) (iv, ciphertext string, err error) {
	nonce, ct, err := encryption.AEADEncrypt(c.key, []byte(plaintext), c.aad)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(nonce), base64.StdEncoding.EncodeToString(ct), nil
}

func (c *Cipher) Open(iv, ciphertext string) (string, error) {
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("iv is not base64: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not base64: %w", err)
	}
	plain, err := encryption.AEADDecrypt(c.key, nonce, ct, c.aad)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
