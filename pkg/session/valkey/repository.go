package sessionvalkey

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/vmware-session/pkg/session"
)

const objectTypeSession = "session"

// Repository publishes the session key of one controller endpoint so that
// several processes can share it.
type Repository struct {
	store    *store
	endpoint string
}

var _ = session.Store(&Repository{})

// NewRepository stores the key for endpoint under {prefix}:session:{endpoint}.
func NewRepository(valkeyClient valkey.Client, prefix, endpoint string) *Repository {
	return &Repository{
		store:    newStore(valkeyClient, prefix),
		endpoint: endpoint,
	}
}

func (r *Repository) Load(ctx context.Context) (h session.Handle, _ error) {
	if err := r.store.Get(ctx, objectTypeSession, r.endpoint, &h); err != nil {
		return session.Handle{}, fmt.Errorf("getting session from store: %w", err)
	}

	return h, nil
}

func (r *Repository) Save(ctx context.Context, h session.Handle, ttl time.Duration) error {
	if err := r.store.Set(ctx, objectTypeSession, r.endpoint, h, ttl); err != nil {
		return fmt.Errorf("setting session into storage: %w", err)
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context) error {
	if err := r.store.Destroy(ctx, objectTypeSession, r.endpoint); err != nil {
		return fmt.Errorf("deleting session from store: %w", err)
	}

	return nil
}
