package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	directKeyPrefix = "dm:"
	roomKeyPrefix   = "room:"
)

type (
	// ConversationKey buckets envelopes in the conversation store.
	ConversationKey string

	// Envelope is one relayed ciphertext plus routing metadata. It is never
	// mutated after it has been appended. IV and Ciphertext hold the base64
	// text the sender supplied so every copy is byte-identical to the input.
	Envelope struct {
		ID         string    `json:"id" cbor:"id"`
		From       string    `json:"from" cbor:"from"`
		To         string    `json:"to" cbor:"to"`
		IV         string    `json:"iv" cbor:"iv"`
		Ciphertext string    `json:"ciphertext" cbor:"ct"`
		Timestamp  time.Time `json:"ts" cbor:"ts"`
	}
)

// DirectKey derives the conversation key for a pair of identities. The
// result does not depend on argument order or name casing.
func DirectKey(a, b string) ConversationKey {
	a, b = NormalizeName(a), NormalizeName(b)
	if b < a {
		a, b = b, a
	}
	sum := sha256.Sum256([]byte(a + "\x00" + b))
	return ConversationKey(directKeyPrefix + hex.EncodeToString(sum[:]))
}

func RoomKey(roomID string) ConversationKey {
	return ConversationKey(roomKeyPrefix + roomID)
}

func (k ConversationKey) IsDirect() bool {
	return strings.HasPrefix(string(k), directKeyPrefix)
}

func (k ConversationKey) IsRoom() bool {
	return strings.HasPrefix(string(k), roomKeyPrefix)
}

func (k ConversationKey) String() string {
	return string(k)
}
