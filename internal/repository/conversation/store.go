//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
package conversation

import (
	"context"
	"fmt"

	"blind_relay/internal/model"

	"github.com/fxamacker/cbor/v2"
)

// Store is the append-only ciphertext log. Within one key, ReadAll returns
// envelopes in the order Append was called. Appends to different keys do not
// contend. Every failure is wrapped in model.ErrStorage.
type Store interface {
	Append(ctx context.Context, key model.ConversationKey, env model.Envelope) error
	ReadAll(ctx context.Context, key model.ConversationKey) ([]model.Envelope, error)
	// Peers lists the display names identity has exchanged direct messages with.
	Peers(ctx context.Context, identity string) ([]string, error)
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func encodeEnvelope(env model.Envelope) ([]byte, error) {
	data, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: encode envelope: %v", model.ErrStorage, err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (model.Envelope, error) {
	var env model.Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return model.Envelope{}, fmt.Errorf("%w: decode envelope: %v", model.ErrStorage, err)
	}
	return env, nil
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrStorage, op, err)
}
