// Package frame decodes and encodes the JSON frames exchanged on a relay
// connection. Inbound frames are decoded once into a closed set of types.
package frame

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"blind_relay/internal/model"
)

type Type string

const (
	TypeAuth    Type = "auth"
	TypeJoin    Type = "join"
	TypeMessage Type = "message"
	TypeDM      Type = "dm"

	TypeAuthOK  Type = "auth-ok"
	TypeWelcome Type = "welcome"
	TypeError   Type = "error"
)

type (
	// Inbound is one of Auth, Join, Send or Unknown.
	Inbound interface {
		inbound()
	}

	Auth struct {
		Identity string
		Token    string
	}

	Join struct {
		RoomID string
	}

	Send struct {
		Kind       Type
		To         string
		IV         string
		Ciphertext string
	}

	Unknown struct {
		Type string
	}

	wireFrame struct {
		Type       string `json:"type"`
		Identity   string `json:"identity"`
		Username   string `json:"username"`
		Token      string `json:"token"`
		RoomID     string `json:"roomId"`
		To         string `json:"to"`
		IV         string `json:"iv"`
		Ciphertext string `json:"ciphertext"`
	}

	// Outbound is any server to client frame. Empty fields are omitted.
	Outbound struct {
		Type       Type   `json:"type"`
		ID         string `json:"id,omitempty"`
		From       string `json:"from,omitempty"`
		To         string `json:"to,omitempty"`
		IV         string `json:"iv,omitempty"`
		Ciphertext string `json:"ciphertext,omitempty"`
		Timestamp  int64  `json:"ts,omitempty"`
		Message    string `json:"message,omitempty"`
	}
)

func (Auth) inbound()    {}
func (Join) inbound()    {}
func (Send) inbound()    {}
func (Unknown) inbound() {}

// Decode parses one inbound frame. An error means the frame is not a JSON
// object with a string type and should be dropped as noise.
func Decode(data []byte) (Inbound, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch Type(w.Type) {
	case TypeAuth:
		identity := w.Identity
		if identity == "" {
			identity = w.Username
		}
		return Auth{Identity: strings.TrimSpace(identity), Token: w.Token}, nil
	case TypeJoin:
		return Join{RoomID: w.RoomID}, nil
	case TypeMessage, TypeDM:
		return Send{Kind: Type(w.Type), To: strings.TrimSpace(w.To), IV: w.IV, Ciphertext: w.Ciphertext}, nil
	default:
		return Unknown{Type: w.Type}, nil
	}
}

// ValidatePayload checks that iv and ciphertext are present and base64. The
// relay never decodes them further.
func ValidatePayload(iv, ciphertext string) error {
	if iv == "" || ciphertext == "" {
		return fmt.Errorf("%w: iv and ciphertext are required", model.ErrInvalidInput)
	}
	if _, err := base64.StdEncoding.DecodeString(iv); err != nil {
		return fmt.Errorf("%w: iv is not base64", model.ErrInvalidInput)
	}
	if _, err := base64.StdEncoding.DecodeString(ciphertext); err != nil {
		return fmt.Errorf("%w: ciphertext is not base64", model.ErrInvalidInput)
	}
	return nil
}

func Encode(out Outbound) ([]byte, error) {
	return json.Marshal(out)
}

func Error(err error) Outbound {
	return Outbound{Type: TypeError, Message: err.Error()}
}

func AuthOK(identity string) Outbound {
	return Outbound{Type: TypeAuthOK, To: identity}
}

func Welcome(message string) Outbound {
	return Outbound{Type: TypeWelcome, Message: message}
}

// Envelope builds the forwarded copy of env.
func Envelope(kind Type, env model.Envelope) Outbound {
	return Outbound{
		Type:       kind,
		ID:         env.ID,
		From:       env.From,
		IV:         env.IV,
		Ciphertext: env.Ciphertext,
		Timestamp:  env.Timestamp.UnixMilli(),
	}
}
