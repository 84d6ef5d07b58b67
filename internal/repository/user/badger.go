package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"blind_relay/internal/model"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
)

var userPrefix = []byte("user\x00")

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// BadgerRepo is the embedded directory. Names are unique through badger's
// optimistic transactions: a racing writer for the same key fails to commit.
type BadgerRepo struct {
	db *badger.DB
}

func NewBadgerRepo(db *badger.DB) *BadgerRepo {
	return &BadgerRepo{db: db}
}

func (r *BadgerRepo) Create(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return storageError("create user", err)
	}

	user.NameLower = model.NormalizeName(user.DisplayName)
	data, err := encMode.Marshal(user)
	if err != nil {
		return storageError("encode user", err)
	}

	key := userKey(user.NameLower)
	err = r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return model.ErrConflict
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrConflict), errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %s", model.ErrConflict, user.DisplayName)
	default:
		return storageError("create user", err)
	}
}

func (r *BadgerRepo) GetByName(ctx context.Context, name string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("get user", err)
	}

	var user model.User
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(model.NormalizeName(name)))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return cbor.Unmarshal(value, &user)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", model.ErrNotFound, name)
	}
	if err != nil {
		return nil, storageError("get user", err)
	}
	return &user, nil
}

// Search walks keys only; badger keeps them sorted, so matches come out in
// normalized-name order and values are read just for the hits.
func (r *BadgerRepo) Search(ctx context.Context, query string, limit int) ([]model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("search users", err)
	}

	needle := model.NormalizeName(query)
	var res []model.Identity
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = userPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(userPrefix); it.ValidForPrefix(userPrefix) && len(res) < limit; it.Next() {
			item := it.Item()
			if !strings.Contains(string(item.Key()[len(userPrefix):]), needle) {
				continue
			}
			var user model.User
			if err := item.Value(func(value []byte) error {
				return cbor.Unmarshal(value, &user)
			}); err != nil {
				return err
			}
			res = append(res, user.Identity)
		}
		return nil
	})
	if err != nil {
		return nil, storageError("search users", err)
	}
	return res, nil
}

func userKey(nameLower string) []byte {
	return append(append([]byte{}, userPrefix...), nameLower...)
}

var _ Store = (*BadgerRepo)(nil)
