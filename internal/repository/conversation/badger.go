package conversation

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"blind_relay/internal/model"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
)

const lockStripes = 64

var (
	entryPrefix = []byte("conv\x00")
	seqPrefix   = []byte("seq\x00")
	peerPrefix  = []byte("peer\x00")
)

type BadgerStore struct {
	db *badger.DB

	// appends to one conversation are serialized on its stripe so the
	// counter read and bump never race inside badger's optimistic txns
	stripes [lockStripes]sync.Mutex
}

func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Append stores env under key. Entry keys are
// "conv\x00{conversation}\x00{seq big-endian}" where seq is a per-conversation
// counter kept next to the entries and bumped in the same transaction, so a
// prefix scan yields arrival order.
func (s *BadgerStore) Append(ctx context.Context, key model.ConversationKey, env model.Envelope) error {
	if err := ctx.Err(); err != nil {
		return storageError("append", err)
	}

	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}

	mu := &s.stripes[xxhash.Sum64String(string(key))%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		n, err := nextSequence(txn, key)
		if err != nil {
			return err
		}
		if err := txn.Set(entryKey(key, n), data); err != nil {
			return err
		}
		if !key.IsDirect() {
			return nil
		}
		if err := txn.Set(peerKey(env.From, env.To), []byte(env.To)); err != nil {
			return err
		}
		return txn.Set(peerKey(env.To, env.From), []byte(env.From))
	})
	if err != nil {
		return storageError("append", err)
	}
	return nil
}

func (s *BadgerStore) ReadAll(ctx context.Context, key model.ConversationKey) ([]model.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("read", err)
	}

	var envs []model.Envelope
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := conversationPrefix(key)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				env, err := decodeEnvelope(value)
				if err != nil {
					return err
				}
				envs = append(envs, env)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageError("read", err)
	}
	return envs, nil
}

func (s *BadgerStore) Peers(ctx context.Context, identity string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("peers", err)
	}

	var peers []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := append(append([]byte{}, peerPrefix...), []byte(model.NormalizeName(identity)+"\x00")...)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			peers = append(peers, string(value))
		}
		return nil
	})
	if err != nil {
		return nil, storageError("peers", err)
	}
	return peers, nil
}

// Close holds nothing to release; the badger handle is owned by the caller.
func (s *BadgerStore) Close() error {
	return nil
}

// nextSequence returns the number for the next entry of key and stores its
// successor. The stored value is big-endian, which also reads back counters
// written by badger.Sequence leases on older databases.
func nextSequence(txn *badger.Txn, key model.ConversationKey) (uint64, error) {
	k := sequenceKey(key)

	var n uint64
	item, err := txn.Get(k)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(v []byte) error {
			if len(v) == 8 {
				n = binary.BigEndian.Uint64(v)
			}
			return nil
		}); err != nil {
			return 0, err
		}
	}

	if err := txn.Set(k, binary.BigEndian.AppendUint64(nil, n+1)); err != nil {
		return 0, err
	}
	return n, nil
}

func sequenceKey(key model.ConversationKey) []byte {
	k := make([]byte, 0, len(seqPrefix)+len(key))
	k = append(k, seqPrefix...)
	return append(k, string(key)...)
}

func conversationPrefix(key model.ConversationKey) []byte {
	p := make([]byte, 0, len(entryPrefix)+len(key)+1)
	p = append(p, entryPrefix...)
	p = append(p, string(key)...)
	return append(p, 0)
}

func entryKey(key model.ConversationKey, n uint64) []byte {
	return binary.BigEndian.AppendUint64(conversationPrefix(key), n)
}

func peerKey(me, other string) []byte {
	k := make([]byte, 0, len(peerPrefix)+len(me)+len(other)+1)
	k = append(k, peerPrefix...)
	k = append(k, model.NormalizeName(me)...)
	k = append(k, 0)
	return append(k, model.NormalizeName(other)...)
}

var _ Store = (*BadgerStore)(nil)
