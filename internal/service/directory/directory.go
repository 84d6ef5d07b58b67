// Package directory is the key directory: it registers display names with
// their public keys and answers lookups and searches.
package directory

import (
	"context"
	"errors"
	"fmt"

	"blind_relay/internal/model"
	userRepo "blind_relay/internal/repository/user"
	"blind_relay/internal/utils/log"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultSearchLimit = 20
	MinPasswordLength  = 6
	bcryptCost         = 11
)

type (
	Directory struct {
		users       userRepo.Store
		clock       clock.Clock
		searchLimit int
	}

	Option func(*Directory)
)

func WithClock(c clock.Clock) Option {
	return func(d *Directory) { d.clock = c }
}

// WithSearchLimit caps every search result regardless of the caller's limit.
func WithSearchLimit(n int) Option {
	return func(d *Directory) {
		if n > 0 {
			d.searchLimit = n
		}
	}
}

func NewDirectory(users userRepo.Store, opts ...Option) *Directory {
	d := &Directory{
		users:       users,
		clock:       clock.New(),
		searchLimit: DefaultSearchLimit,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register creates an identity without credentials.
func (d *Directory) Register(ctx context.Context, displayName string, publicKey []byte) (*model.Identity, error) {
	return d.register(ctx, displayName, publicKey, nil)
}

// RegisterAccount creates an identity whose password can later be checked by
// Authenticate.
func (d *Directory) RegisterAccount(ctx context.Context, displayName, password string, publicKey []byte) (*model.Identity, error) {
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", model.ErrInvalidInput, MinPasswordLength)
	}
	if err := model.ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}
	return d.register(ctx, displayName, publicKey, hash)
}

func (d *Directory) register(ctx context.Context, displayName string, publicKey, passwordHash []byte) (*model.Identity, error) {
	if err := model.ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	if len(publicKey) == 0 {
		return nil, fmt.Errorf("%w: public key is required", model.ErrInvalidInput)
	}

	user := &model.User{
		Identity: model.Identity{
			ID:          uuid.NewString(),
			DisplayName: displayName,
			PublicKey:   append([]byte(nil), publicKey...),
			CreatedAt:   d.clock.Now().UTC(),
		},
		PasswordHash: passwordHash,
	}
	if err := d.users.Create(ctx, user); err != nil {
		if !errors.Is(err, model.ErrConflict) {
			log.Error("register identity failed", zap.String("identity", displayName), zap.Error(err))
		}
		return nil, err
	}

	log.Info("identity registered", zap.String("identity", displayName), zap.String("id", user.ID))
	identity := user.Identity
	return &identity, nil
}

// Lookup returns the public key registered for displayName.
func (d *Directory) Lookup(ctx context.Context, displayName string) ([]byte, error) {
	identity, err := d.Get(ctx, displayName)
	if err != nil {
		return nil, err
	}
	return identity.PublicKey, nil
}

func (d *Directory) Get(ctx context.Context, displayName string) (*model.Identity, error) {
	user, err := d.users.GetByName(ctx, displayName)
	if err != nil {
		return nil, err
	}
	identity := user.Identity
	return &identity, nil
}

// Search returns display names containing query, case-insensitively, in
// normalized-name order. limit <= 0 or above the directory cap means the cap.
func (d *Directory) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 || limit > d.searchLimit {
		limit = d.searchLimit
	}
	identities, err := d.users.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(identities))
	for _, identity := range identities {
		names = append(names, identity.DisplayName)
	}
	return names, nil
}

// Authenticate checks a password against the stored hash. Unknown names and
// wrong passwords both yield ErrUnauthorized.
func (d *Directory) Authenticate(ctx context.Context, displayName, password string) (*model.Identity, error) {
	user, err := d.users.GetByName(ctx, displayName)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if len(user.PasswordHash) == 0 {
		return nil, model.ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, model.ErrUnauthorized
	}
	identity := user.Identity
	return &identity, nil
}
