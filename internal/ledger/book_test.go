package ledger_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"LendCore/internal/ledger"
)

func TestAccountKey_Paths(t *testing.T) {
	if got := ledger.UserAccount("alice", "USDC").Path(); got != "user:alice:USDC" {
		t.Errorf("user path: got %q", got)
	}
	if got := ledger.ModuleAccount("lending:liquidity", "USDC").Path(); got != "module:lending:liquidity:USDC" {
		t.Errorf("module path: got %q", got)
	}
	if got := ledger.ExternalAccount("gateway", "WETH").Path(); got != "external:gateway:WETH" {
		t.Errorf("external path: got %q", got)
	}
}

func TestBook_InitialBalanceZero(t *testing.T) {
	b := ledger.NewBook()
	if b.Balance(ledger.UserAccount("alice", "USDC")).Sign() != 0 {
		t.Error("fresh account must read zero")
	}
}

func TestBook_TransferMovesValue(t *testing.T) {
	b := ledger.NewBook()
	gateway := ledger.ExternalAccount("gateway", "USDC")
	alice := ledger.UserAccount("alice", "USDC")

	err := b.Transfer(uuid.New(), gateway, alice, big.NewInt(1000), ledger.EntryKindDeposit, 1)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if got := b.Balance(alice); got.Int64() != 1000 {
		t.Errorf("alice balance: got %s, want 1000", got)
	}
	if got := b.Balance(gateway); got.Int64() != -1000 {
		t.Errorf("gateway balance: got %s, want -1000", got)
	}
}

func TestBook_UserCannotOverdraw(t *testing.T) {
	b := ledger.NewBook()
	alice := ledger.UserAccount("alice", "USDC")
	bob := ledger.UserAccount("bob", "USDC")

	err := b.Transfer(uuid.New(), alice, bob, big.NewInt(1), ledger.EntryKindTransfer, 1)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	if b.Balance(bob).Sign() != 0 {
		t.Error("failed transfer must not move value")
	}
}

func TestBook_ExternalMayGoNegative(t *testing.T) {
	b := ledger.NewBook()
	gateway := ledger.ExternalAccount("gateway", "USDC")
	alice := ledger.UserAccount("alice", "USDC")

	if err := b.Transfer(uuid.New(), gateway, alice, big.NewInt(500), ledger.EntryKindDeposit, 1); err != nil {
		t.Fatalf("external overdraw should be allowed: %v", err)
	}
	if err := b.ValidateNonNegative(); err != nil {
		t.Errorf("negative external must pass validation: %v", err)
	}
}

func TestBook_RejectsNonPositiveAmounts(t *testing.T) {
	b := ledger.NewBook()
	gateway := ledger.ExternalAccount("gateway", "USDC")
	alice := ledger.UserAccount("alice", "USDC")

	for _, amt := range []*big.Int{nil, big.NewInt(0), big.NewInt(-5)} {
		if err := b.Transfer(uuid.New(), gateway, alice, amt, ledger.EntryKindDeposit, 1); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("amount %v: got %v, want ErrInvalidAmount", amt, err)
		}
	}
}

func TestBook_GlobalSumsZero(t *testing.T) {
	b := ledger.NewBook()
	gateway := ledger.ExternalAccount("gateway", "USDC")
	alice := ledger.UserAccount("alice", "USDC")
	pool := ledger.ModuleAccount("lending:liquidity", "USDC")

	b.Transfer(uuid.New(), gateway, alice, big.NewInt(1000), ledger.EntryKindDeposit, 1)
	b.Transfer(uuid.New(), alice, pool, big.NewInt(400), ledger.EntryKindCollateral, 2)

	for asset, total := range b.GlobalSums() {
		if total.Sign() != 0 {
			t.Errorf("asset %s sums to %s, want 0", asset, total)
		}
	}
}

func TestBook_JournalRecordsEveryTransfer(t *testing.T) {
	b := ledger.NewBook()
	gateway := ledger.ExternalAccount("gateway", "USDC")
	alice := ledger.UserAccount("alice", "USDC")
	txID := uuid.New()

	b.Transfer(txID, gateway, alice, big.NewInt(1000), ledger.EntryKindDeposit, 42)

	entries := b.DrainJournal()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.TxID != txID {
		t.Error("entry must carry the transaction id")
	}
	if e.Debit != alice || e.Credit != gateway {
		t.Error("debit/credit sides swapped")
	}
	if e.Amount != "1000" {
		t.Errorf("amount: got %q, want \"1000\"", e.Amount)
	}
	if e.Kind != ledger.EntryKindDeposit || e.Timestamp != 42 {
		t.Error("kind or timestamp not recorded")
	}

	if len(b.DrainJournal()) != 0 {
		t.Error("drain must clear the journal")
	}
}

func TestBook_SnapshotRestore(t *testing.T) {
	b := ledger.NewBook()
	gateway := ledger.ExternalAccount("gateway", "USDC")
	alice := ledger.UserAccount("alice", "USDC")

	b.Transfer(uuid.New(), gateway, alice, big.NewInt(1000), ledger.EntryKindDeposit, 1)
	b.DrainJournal()
	snap := b.Snapshot()

	b.Transfer(uuid.New(), alice, ledger.UserAccount("bob", "USDC"), big.NewInt(999), ledger.EntryKindTransfer, 2)
	b.Restore(snap)

	if got := b.Balance(alice); got.Int64() != 1000 {
		t.Errorf("alice after restore: got %s, want 1000", got)
	}
	if b.Balance(ledger.UserAccount("bob", "USDC")).Sign() != 0 {
		t.Error("bob after restore must be zero")
	}
	if len(b.DrainJournal()) != 0 {
		t.Error("restore must discard pending journal entries")
	}
}

func TestBook_SnapshotIsDeepCopy(t *testing.T) {
	b := ledger.NewBook()
	gateway := ledger.ExternalAccount("gateway", "USDC")
	alice := ledger.UserAccount("alice", "USDC")
	b.Transfer(uuid.New(), gateway, alice, big.NewInt(100), ledger.EntryKindDeposit, 1)

	snap := b.Snapshot()
	snap[alice].SetInt64(0)

	if got := b.Balance(alice); got.Int64() != 100 {
		t.Error("mutating a snapshot must not touch live balances")
	}
}
