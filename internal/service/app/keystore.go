package app

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"blind_relay/internal/cryptographic/dh"
	"blind_relay/internal/model"
)

// Keystore is the long-term key pair of one local identity. The private half
// never leaves this file.
type Keystore struct {
	Name       string `json:"name"`
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`

	priv [dh.KeySize]byte
	pub  [dh.KeySize]byte
}

// DefaultKeyDir is ~/.blind_relay, or the working directory when there is no
// home directory.
func DefaultKeyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".blind_relay"
	}
	return filepath.Join(home, ".blind_relay")
}

// LoadOrCreateKeystore reads the key pair for name from dir, generating and
// persisting a new one on first use. created reports the latter.
func LoadOrCreateKeystore(dir, name string) (ks *Keystore, created bool, err error) {
	path := filepath.Join(dir, model.NormalizeName(name)+".json")

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		ks, err = parseKeystore(data)
		return ks, false, err
	case !errors.Is(err, fs.ErrNotExist):
		return nil, false, fmt.Errorf("read keystore: %w", err)
	}

	priv, pub, err := dh.NewX25519KeyPair()
	if err != nil {
		return nil, false, err
	}
	ks = &Keystore{
		Name:       name,
		PrivateKey: base64.StdEncoding.EncodeToString(priv[:]),
		PublicKey:  dh.EncodePublicKey(pub),
		priv:       priv,
		pub:        pub,
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, fmt.Errorf("create key dir: %w", err)
	}
	data, err = json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return nil, false, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, false, fmt.Errorf("write keystore: %w", err)
	}
	return ks, true, nil
}

func parseKeystore(data []byte) (*Keystore, error) {
	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ks.PrivateKey)
	if err != nil || len(raw) != dh.KeySize {
		return nil, errors.New("parse keystore: malformed private key")
	}
	copy(ks.priv[:], raw)

	if ks.pub, err = dh.DecodePublicKey(ks.PublicKey); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	return &ks, nil
}
