package user

import (
	"context"
	"fmt"

	"blind_relay/internal/model"
)

// Store persists directory records keyed by normalized display name. Create
// must reject a second record for the same name with model.ErrConflict even
// when two writers race.
type Store interface {
	Create(ctx context.Context, user *model.User) error
	GetByName(ctx context.Context, name string) (*model.User, error)
	// Search returns identities whose name contains query, case-insensitively,
	// ordered by normalized name and capped at limit.
	Search(ctx context.Context, query string, limit int) ([]model.Identity, error)
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrStorage, op, err)
}
