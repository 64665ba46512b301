package event

import (
	"github.com/google/uuid"
)

// OpType discriminates committed transaction records in the operation log.
type OpType int32

const (
	OpUnknown OpType = iota
	OpFundAccount
	OpWithdrawFunds
	OpTransfer
	OpReportPrice
	OpAccrueInterest
	OpSupplyCollateral
	OpWithdrawCollateral
	OpBorrow
	OpRepay
	OpSwapExactIn
	OpSwapExactOut
	OpAddLiquidity
	OpRemoveLiquidity
	OpVaultDeposit
	OpVaultMint
	OpVaultWithdraw
	OpVaultRedeem
	OpVaultReport
	OpAuctionStart
	OpAuctionTake
	OpAuctionReset
	OpFlashLoan
	OpSeedLiquidity
)

func (t OpType) String() string {
	switch t {
	case OpFundAccount:
		return "FundAccount"
	case OpWithdrawFunds:
		return "WithdrawFunds"
	case OpTransfer:
		return "Transfer"
	case OpReportPrice:
		return "ReportPrice"
	case OpAccrueInterest:
		return "AccrueInterest"
	case OpSupplyCollateral:
		return "SupplyCollateral"
	case OpWithdrawCollateral:
		return "WithdrawCollateral"
	case OpBorrow:
		return "Borrow"
	case OpRepay:
		return "Repay"
	case OpSwapExactIn:
		return "SwapExactIn"
	case OpSwapExactOut:
		return "SwapExactOut"
	case OpAddLiquidity:
		return "AddLiquidity"
	case OpRemoveLiquidity:
		return "RemoveLiquidity"
	case OpVaultDeposit:
		return "VaultDeposit"
	case OpVaultMint:
		return "VaultMint"
	case OpVaultWithdraw:
		return "VaultWithdraw"
	case OpVaultRedeem:
		return "VaultRedeem"
	case OpVaultReport:
		return "VaultReport"
	case OpAuctionStart:
		return "AuctionStart"
	case OpAuctionTake:
		return "AuctionTake"
	case OpAuctionReset:
		return "AuctionReset"
	case OpFlashLoan:
		return "FlashLoan"
	case OpSeedLiquidity:
		return "SeedLiquidity"
	default:
		return "Unknown"
	}
}

// Context carries the ambient inputs of one transaction explicitly. The
// engine never reads wall-clock time or an implicit caller; everything that
// varies between runs arrives here, which is what makes rollback and replay
// deterministic.
type Context struct {
	// Caller is the account initiating the transaction.
	Caller string

	// Timestamp is the admission time of the transaction, unix seconds.
	// Oracle freshness and auction pricing are evaluated against it.
	Timestamp int64

	// TxID identifies the transaction in the operation log.
	TxID uuid.UUID
}

// NewContext assigns a fresh transaction ID.
func NewContext(caller string, timestamp int64) Context {
	return Context{Caller: caller, Timestamp: timestamp, TxID: uuid.New()}
}

// Envelope wraps every committed transaction in the operation log.
type Envelope struct {
	// Global monotonic sequence assigned at commit
	Sequence int64

	TxID   uuid.UUID
	OpType OpType
	Caller string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp int64

	// JSON-encoded operation payload
	Payload []byte

	// SHA-256 of engine state AFTER this transaction
	StateHash [32]byte

	// Previous transaction's state hash (chain integrity)
	PrevHash [32]byte
}
