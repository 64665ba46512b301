package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// Scope partitions the account space. User and module accounts must never go
// negative; external accounts represent the world outside the engine and
// absorb the offsetting side of deposits and withdrawals, keeping the book
// zero-sum per asset.
type Scope int32

const (
	ScopeUser Scope = iota
	ScopeModule
	ScopeExternal
)

func (s Scope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopeModule:
		return "module"
	case ScopeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// AccountKey identifies one balance bucket.
type AccountKey struct {
	Scope Scope
	Owner string
	Asset string
}

// UserAccount returns the key for a user's balance in one asset.
func UserAccount(owner, asset string) AccountKey {
	return AccountKey{Scope: ScopeUser, Owner: owner, Asset: asset}
}

// ModuleAccount returns the key for an engine-owned treasury account, e.g.
// "lending:liquidity", "amm:POOL-1", "vault:YVAULT".
func ModuleAccount(name, asset string) AccountKey {
	return AccountKey{Scope: ScopeModule, Owner: name, Asset: asset}
}

// ExternalAccount returns the key for an off-engine counterparty bucket.
func ExternalAccount(name, asset string) AccountKey {
	return AccountKey{Scope: ScopeExternal, Owner: name, Asset: asset}
}

// Path renders the canonical account path used in journals and digests.
func (k AccountKey) Path() string {
	return fmt.Sprintf("%s:%s:%s", k.Scope, k.Owner, k.Asset)
}

// EntryKind classifies journal entries for the operation log.
type EntryKind int32

const (
	EntryKindTransfer EntryKind = iota
	EntryKindDeposit
	EntryKindWithdrawal
	EntryKindCollateral
	EntryKindDebt
	EntryKindSwap
	EntryKindVault
	EntryKindAuction
	EntryKindFlashLoan
	EntryKindFee
)

func (k EntryKind) String() string {
	switch k {
	case EntryKindTransfer:
		return "transfer"
	case EntryKindDeposit:
		return "deposit"
	case EntryKindWithdrawal:
		return "withdrawal"
	case EntryKindCollateral:
		return "collateral"
	case EntryKindDebt:
		return "debt"
	case EntryKindSwap:
		return "swap"
	case EntryKindVault:
		return "vault"
	case EntryKindAuction:
		return "auction"
	case EntryKindFlashLoan:
		return "flash_loan"
	case EntryKindFee:
		return "fee"
	default:
		return "unknown"
	}
}

// Entry is one double-sided journal line: Debit gains Amount, Credit loses it.
type Entry struct {
	EntryID   uuid.UUID
	TxID      uuid.UUID
	Debit     AccountKey
	Credit    AccountKey
	Asset     string
	Amount    string // decimal string; big.Int amounts serialize losslessly
	Kind      EntryKind
	Timestamp int64
}
