package query

import (
	"encoding/hex"

	"github.com/google/uuid"

	"LendCore/internal/core"
	"LendCore/internal/ledger"
	"LendCore/internal/lending"
)

// Service answers read requests against live engine state. Every read runs
// under the engine's global lock via View, so responses are consistent
// point-in-time views, never torn across a transaction.
type Service struct {
	engine *core.Engine
}

func NewService(engine *core.Engine) *Service {
	return &Service{engine: engine}
}

// StatusView reports the executor's progress.
type StatusView struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
}

func (s *Service) Status() StatusView {
	hash := s.engine.StateHash()
	return StatusView{
		Sequence:  s.engine.Sequence(),
		StateHash: hex.EncodeToString(hash[:]),
	}
}

// BalanceView is one account balance.
type BalanceView struct {
	Owner   string `json:"owner"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func (s *Service) Balance(owner, asset string) BalanceView {
	var view BalanceView
	s.engine.View(func() {
		view = BalanceView{
			Owner:   owner,
			Asset:   asset,
			Balance: s.engine.Book().Balance(ledger.UserAccount(owner, asset)).String(),
		}
	})
	return view
}

// PositionView is a borrower's position with current-index debt.
type PositionView struct {
	Owner        string `json:"owner"`
	Asset        string `json:"asset"`
	Collateral   string `json:"collateral"`
	Debt         string `json:"debt"`
	HealthFactor string `json:"health_factor,omitempty"`
}

// Position returns a position; health factor is included when both oracle
// quotes are available and omitted otherwise rather than failing the read.
func (s *Service) Position(now int64, owner, asset string) (PositionView, error) {
	var view PositionView
	var outerErr error
	s.engine.View(func() {
		lend := s.engine.Lending()
		pos, err := lend.GetPosition(owner, asset)
		if err != nil {
			outerErr = err
			return
		}
		idx, err := lend.BorrowIndex(asset)
		if err != nil {
			outerErr = err
			return
		}
		view = PositionView{
			Owner:      owner,
			Asset:      asset,
			Collateral: pos.Collateral.String(),
			Debt:       pos.Debt(idx).String(),
		}

		cr, cerr := s.engine.Oracle().GetPriceWithFallback(now, asset)
		dr, derr := s.engine.Oracle().GetPriceWithFallback(now, lend.DebtAsset)
		if cerr != nil || derr != nil {
			return
		}
		hf, err := lend.PreviewHealthFactor(owner, asset,
			lending.Price{Value: cr.Price, Decimals: cr.Decimals},
			lending.Price{Value: dr.Price, Decimals: dr.Decimals})
		if err == nil {
			view.HealthFactor = hf.String()
		}
	})
	return view, outerErr
}

// ReserveView is the public shape of one collateral reserve.
type ReserveView struct {
	Asset                   string `json:"asset"`
	Decimals                uint8  `json:"decimals"`
	MaxLTVBps               uint64 `json:"max_ltv_bps"`
	LiquidationThresholdBps uint64 `json:"liquidation_threshold_bps"`
	LiquidationBonusBps     uint64 `json:"liquidation_bonus_bps"`
	DebtCeiling             string `json:"debt_ceiling,omitempty"`
	DustMin                 string `json:"dust_min,omitempty"`
	RatePerSecWad           string `json:"rate_per_sec_wad"`
	BorrowIndex             string `json:"borrow_index"`
	TotalDebt               string `json:"total_debt"`
}

func (s *Service) Reserves() []ReserveView {
	var views []ReserveView
	s.engine.View(func() {
		lend := s.engine.Lending()
		for _, asset := range lend.ReserveAssets() {
			cfg, err := lend.Config(asset)
			if err != nil {
				continue
			}
			idx, _ := lend.BorrowIndex(asset)
			total, _ := lend.TotalDebt(asset)
			v := ReserveView{
				Asset:                   cfg.Asset,
				Decimals:                cfg.Decimals,
				MaxLTVBps:               cfg.MaxLTVBps,
				LiquidationThresholdBps: cfg.LiquidationThresholdBps,
				LiquidationBonusBps:     cfg.LiquidationBonusBps,
				RatePerSecWad:           cfg.RatePerSecWad.String(),
				BorrowIndex:             idx.String(),
				TotalDebt:               total.String(),
			}
			if cfg.DebtCeiling != nil {
				v.DebtCeiling = cfg.DebtCeiling.String()
			}
			if cfg.DustMin != nil {
				v.DustMin = cfg.DustMin.String()
			}
			views = append(views, v)
		}
	})
	return views
}

// PoolView is the public shape of one AMM pool.
type PoolView struct {
	ID          string `json:"id"`
	AssetA      string `json:"asset_a"`
	AssetB      string `json:"asset_b"`
	FeeBps      uint64 `json:"fee_bps"`
	ReserveA    string `json:"reserve_a"`
	ReserveB    string `json:"reserve_b"`
	TotalShares string `json:"total_shares"`
}

func (s *Service) Pools() []PoolView {
	var views []PoolView
	s.engine.View(func() {
		reg := s.engine.Pools()
		for _, id := range reg.IDs() {
			p, err := reg.Get(id)
			if err != nil {
				continue
			}
			ra, rb := p.Reserves()
			views = append(views, PoolView{
				ID:          p.ID,
				AssetA:      p.AssetA,
				AssetB:      p.AssetB,
				FeeBps:      p.FeeBps,
				ReserveA:    ra.String(),
				ReserveB:    rb.String(),
				TotalShares: p.TotalShares().String(),
			})
		}
	})
	return views
}

// VaultView is the public shape of one vault.
type VaultView struct {
	ID          string `json:"id"`
	Asset       string `json:"asset"`
	TotalAssets string `json:"total_assets"`
	TotalShares string `json:"total_shares"`
}

func (s *Service) Vaults() []VaultView {
	var views []VaultView
	s.engine.View(func() {
		reg := s.engine.Vaults()
		for _, id := range reg.IDs() {
			v, err := reg.Get(id)
			if err != nil {
				continue
			}
			views = append(views, VaultView{
				ID:          v.ID,
				Asset:       v.Asset,
				TotalAssets: v.TotalAssets().String(),
				TotalShares: v.TotalShares().String(),
			})
		}
	})
	return views
}

// AuctionView is the public shape of one auction.
type AuctionView struct {
	ID                  string `json:"id"`
	Owner               string `json:"owner"`
	Asset               string `json:"asset"`
	State               string `json:"state"`
	StartPriceWad       string `json:"start_price_wad"`
	StartedAt           int64  `json:"started_at"`
	RemainingCollateral string `json:"remaining_collateral"`
	RemainingDebt       string `json:"remaining_debt"`
	CurrentPriceWad     string `json:"current_price_wad,omitempty"`
}

func (s *Service) Auctions(now int64) []AuctionView {
	var views []AuctionView
	s.engine.View(func() {
		eng := s.engine.Auctions()
		for _, a := range eng.List() {
			v := AuctionView{
				ID:                  a.ID.String(),
				Owner:               a.Owner,
				Asset:               a.Asset,
				State:               a.State.String(),
				StartPriceWad:       a.StartPriceWad.String(),
				StartedAt:           a.StartedAt,
				RemainingCollateral: a.RemainingCollateral.String(),
				RemainingDebt:       a.RemainingDebt.String(),
			}
			if price, err := eng.CurrentPrice(now, a.ID); err == nil {
				v.CurrentPriceWad = price.String()
			}
			views = append(views, v)
		}
	})
	return views
}

// Auction returns one auction by ID.
func (s *Service) Auction(now int64, id uuid.UUID) (AuctionView, error) {
	var view AuctionView
	var outerErr error
	s.engine.View(func() {
		eng := s.engine.Auctions()
		a, err := eng.Get(id)
		if err != nil {
			outerErr = err
			return
		}
		view = AuctionView{
			ID:                  a.ID.String(),
			Owner:               a.Owner,
			Asset:               a.Asset,
			State:               a.State.String(),
			StartPriceWad:       a.StartPriceWad.String(),
			StartedAt:           a.StartedAt,
			RemainingCollateral: a.RemainingCollateral.String(),
			RemainingDebt:       a.RemainingDebt.String(),
		}
		if price, err := eng.CurrentPrice(now, a.ID); err == nil {
			view.CurrentPriceWad = price.String()
		}
	})
	return view, outerErr
}
