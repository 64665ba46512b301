package amm

import (
	"errors"
	"fmt"
	"math/big"

	"LendCore/internal/fixedpoint"
)

var ErrPoolNotFound = errors.New("amm: pool not found")

// Registry owns every live pool and is the unit of snapshot for the
// transaction executor.
type Registry struct {
	pools map[string]*Pool
}

func NewRegistry() *Registry {
	return &Registry{pools: make(map[string]*Pool)}
}

// Register adds a pool. A duplicate ID replaces nothing and errors.
func (r *Registry) Register(p *Pool) error {
	if _, ok := r.pools[p.ID]; ok {
		return fmt.Errorf("amm: pool %s already registered", p.ID)
	}
	r.pools[p.ID] = p
	return nil
}

func (r *Registry) Get(id string) (*Pool, error) {
	p, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, id)
	}
	return p, nil
}

func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	return ids
}

// PoolSnapshot is the serializable state of one pool.
type PoolSnapshot struct {
	ID          string
	AssetA      string
	AssetB      string
	FeeBps      uint64
	ReserveA    *big.Int
	ReserveB    *big.Int
	TotalShares *big.Int
	Shares      map[string]*big.Int
}

// Snapshot deep-copies every pool's mutable state.
func (r *Registry) Snapshot() map[string]PoolSnapshot {
	out := make(map[string]PoolSnapshot, len(r.pools))
	for id, p := range r.pools {
		shares := make(map[string]*big.Int, len(p.shares))
		for owner, bal := range p.shares {
			shares[owner] = fixedpoint.Clone(bal)
		}
		out[id] = PoolSnapshot{
			ID:          p.ID,
			AssetA:      p.AssetA,
			AssetB:      p.AssetB,
			FeeBps:      p.FeeBps,
			ReserveA:    fixedpoint.Clone(p.reserveA),
			ReserveB:    fixedpoint.Clone(p.reserveB),
			TotalShares: fixedpoint.Clone(p.totalShares),
			Shares:      shares,
		}
	}
	return out
}

// Restore rebuilds every pool from a snapshot, dropping pools created after
// it was taken.
func (r *Registry) Restore(snap map[string]PoolSnapshot) {
	pools := make(map[string]*Pool, len(snap))
	for id, s := range snap {
		p := NewPool(s.ID, s.AssetA, s.AssetB, s.FeeBps)
		p.reserveA = fixedpoint.Clone(s.ReserveA)
		p.reserveB = fixedpoint.Clone(s.ReserveB)
		p.totalShares = fixedpoint.Clone(s.TotalShares)
		for owner, bal := range s.Shares {
			p.shares[owner] = fixedpoint.Clone(bal)
		}
		pools[id] = p
	}
	r.pools = pools
}
