package usecase

import (
	"context"
	"errors"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// transition applies a conditional stage update. On a stale read it re-reads the item
// and retries once if the item is still in `from`; otherwise the item is skipped and
// applied is false with a nil error.
func transition(ctx context.Context, store ports.ItemStore, fingerprint string, from, to domain.Stage, update domain.ItemUpdate) (applied bool, err error) {
	err = store.UpdateStage(ctx, fingerprint, from, to, update)
	var stale *domain.StaleStateError
	if !errors.As(err, &stale) {
		return err == nil, err
	}

	current, err := store.Get(ctx, fingerprint)
	if err != nil {
		return false, err
	}
	if current.Stage != from {
		return false, nil
	}

	err = store.UpdateStage(ctx, fingerprint, from, to, update)
	if errors.As(err, &stale) {
		return false, nil
	}
	return err == nil, err
}
