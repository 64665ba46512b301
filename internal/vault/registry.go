package vault

import (
	"errors"
	"fmt"
	"math/big"

	"LendCore/internal/fixedpoint"
)

var ErrVaultNotFound = errors.New("vault: not found")

// Registry owns every live vault and is the unit of snapshot for the
// transaction executor.
type Registry struct {
	vaults map[string]*Vault
}

func NewRegistry() *Registry {
	return &Registry{vaults: make(map[string]*Vault)}
}

func (r *Registry) Register(v *Vault) error {
	if _, ok := r.vaults[v.ID]; ok {
		return fmt.Errorf("vault: %s already registered", v.ID)
	}
	r.vaults[v.ID] = v
	return nil
}

func (r *Registry) Get(id string) (*Vault, error) {
	v, ok := r.vaults[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, id)
	}
	return v, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.vaults))
	for id := range r.vaults {
		ids = append(ids, id)
	}
	return ids
}

// VaultSnapshot is the serializable state of one vault.
type VaultSnapshot struct {
	ID          string
	Asset       string
	TotalAssets *big.Int
	TotalShares *big.Int
	Shares      map[string]*big.Int
}

func (r *Registry) Snapshot() map[string]VaultSnapshot {
	out := make(map[string]VaultSnapshot, len(r.vaults))
	for id, v := range r.vaults {
		shares := make(map[string]*big.Int, len(v.shares))
		for owner, bal := range v.shares {
			shares[owner] = fixedpoint.Clone(bal)
		}
		out[id] = VaultSnapshot{
			ID:          v.ID,
			Asset:       v.Asset,
			TotalAssets: fixedpoint.Clone(v.totalAssets),
			TotalShares: fixedpoint.Clone(v.totalShares),
			Shares:      shares,
		}
	}
	return out
}

func (r *Registry) Restore(snap map[string]VaultSnapshot) {
	vaults := make(map[string]*Vault, len(snap))
	for id, s := range snap {
		v := New(s.ID, s.Asset)
		v.totalAssets = fixedpoint.Clone(s.TotalAssets)
		v.totalShares = fixedpoint.Clone(s.TotalShares)
		for owner, bal := range s.Shares {
			v.shares[owner] = fixedpoint.Clone(bal)
		}
		vaults[id] = v
	}
	r.vaults = vaults
}
