// Package credential owns the single write path to the credential store.
package credential

import (
	"context"
	"errors"
	"sync"

	"jobs-admin/client/internal/credential/domain"
	"jobs-admin/client/internal/credential/store"
)

// ErrSuperseded is returned by SaveIfEpoch when a login or logout happened after the
// caller read the credential; the caller's result must be discarded.
var ErrSuperseded = errors.New("credential: superseded by a newer login or logout")

// Keeper serialises writes to a Store. Each login or logout starts a new epoch, so a
// refresh that began under an older epoch cannot overwrite (or resurrect) the credential.
type Keeper struct {
	store store.Store

	mu    sync.Mutex
	epoch uint64
}

// NewKeeper wraps s.
func NewKeeper(s store.Store) *Keeper {
	return &Keeper{store: s}
}

// Load returns the stored credential or nil.
func (k *Keeper) Load(ctx context.Context) (*domain.Credential, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.store.Load(ctx)
}

// Current returns the stored credential together with the epoch it belongs to.
func (k *Keeper) Current(ctx context.Context) (*domain.Credential, uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	cred, err := k.store.Load(ctx)
	return cred, k.epoch, err
}

// Epoch returns the current epoch.
func (k *Keeper) Epoch() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.epoch
}

// Replace stores cred as the result of a fresh login and starts a new epoch.
func (k *Keeper) Replace(ctx context.Context, cred domain.Credential) (uint64, error) {
	if err := cred.Validate(); err != nil {
		return 0, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.epoch++
	if err := k.store.Save(ctx, cred); err != nil {
		return k.epoch, err
	}
	return k.epoch, nil
}

// SaveIfEpoch stores cred only if no login or logout happened since epoch was read.
func (k *Keeper) SaveIfEpoch(ctx context.Context, epoch uint64, cred domain.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.epoch != epoch {
		return ErrSuperseded
	}
	return k.store.Save(ctx, cred)
}

// ClearIfEpoch removes the credential only if no login or logout happened since epoch was read.
// cleared is false when the credential was already superseded.
func (k *Keeper) ClearIfEpoch(ctx context.Context, epoch uint64) (cleared bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.epoch != epoch {
		return false, nil
	}
	k.epoch++
	return true, k.store.Clear(ctx)
}

// Clear removes the credential and starts a new epoch. The epoch moves even if the
// backend fails, so in-flight refreshes are still discarded.
func (k *Keeper) Clear(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.epoch++
	return k.store.Clear(ctx)
}
