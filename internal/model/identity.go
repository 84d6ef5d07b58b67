package model

import (
	"strings"
	"time"
)

type (
	// Identity is the public half of a directory entry. PublicKey is opaque
	// to the relay and returned exactly as registered.
	Identity struct {
		ID          string    `json:"id" bson:"_id" cbor:"id"`
		DisplayName string    `json:"displayName" bson:"name" cbor:"name"`
		PublicKey   []byte    `json:"-" bson:"public_key" cbor:"pk"`
		CreatedAt   time.Time `json:"createdAt" bson:"created_at" cbor:"created"`
	}

	// User is the stored directory record.
	User struct {
		Identity     `bson:",inline"`
		NameLower    string `json:"-" bson:"name_lower" cbor:"lower"`
		PasswordHash []byte `json:"-" bson:"password_hash,omitempty" cbor:"pw,omitempty"`
	}
)

// NormalizeName folds a display name for case-insensitive comparison.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SameName reports whether two display names refer to the same identity.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}
