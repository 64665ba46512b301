package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"LendCore/internal/amm"
	"LendCore/internal/auction"
	"LendCore/internal/event"
	"LendCore/internal/flash"
	"LendCore/internal/ledger"
	"LendCore/internal/lending"
	"LendCore/internal/observability"
	"LendCore/internal/oracle"
	"LendCore/internal/vault"
)

// Output is one committed transaction handed to the persistence worker and
// the outbound publisher.
type Output struct {
	Envelope *event.Envelope
	Entries  []ledger.Entry
}

// Config wires an Engine.
type Config struct {
	// DebtAsset is the single asset all loans are denominated in.
	DebtAsset    string
	DebtDecimals uint8

	// FlashFeeBps is charged on flash-loan principal.
	FlashFeeBps uint64

	// OracleGraceSec delays price reads after execution resumes from a halt.
	OracleGraceSec int64

	// ExecutionStatus gates the oracle; nil means always live.
	ExecutionStatus oracle.ExecutionStatus

	// PersistChan receives committed outputs with a blocking send; nil
	// disables persistence (tests).
	PersistChan chan<- Output

	// PublishChan receives committed outputs with a non-blocking send for
	// outbound notification; drops are acceptable.
	PublishChan chan<- Output

	Metrics *observability.Metrics
}

// Engine is the single-threaded transaction executor. Exactly one top-level
// transaction runs at a time; every transaction either commits completely or
// restores the pre-transaction checkpoint.
type Engine struct {
	mu       sync.Mutex
	sequence int64
	hasher   *StateHasher

	cfg      Config
	book     *ledger.Book
	oracle   *oracle.Oracle
	pools    *amm.Registry
	vaults   *vault.Registry
	lending  *lending.Pool
	auctions *auction.Engine
	flash    *flash.Coordinator

	// shareRoutes prices vault share assets through the vault ledger instead
	// of a direct oracle feed. Config, not state: never checkpointed.
	shareRoutes map[string]shareRoute

	metrics     *observability.Metrics
	persistChan chan<- Output
	publishChan chan<- Output
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		hasher:      NewStateHasher(),
		cfg:         cfg,
		book:        ledger.NewBook(),
		oracle:      oracle.New(cfg.ExecutionStatus, cfg.OracleGraceSec),
		pools:       amm.NewRegistry(),
		vaults:      vault.NewRegistry(),
		lending:     lending.NewPool(cfg.DebtAsset, cfg.DebtDecimals),
		auctions:    auction.NewEngine(),
		flash:       flash.NewCoordinator(cfg.FlashFeeBps),
		shareRoutes: make(map[string]shareRoute),
		metrics:     cfg.Metrics,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
	}
}

// Wiring accessors, used before the engine starts serving transactions.

func (e *Engine) Oracle() *oracle.Oracle        { return e.oracle }
func (e *Engine) Pools() *amm.Registry          { return e.pools }
func (e *Engine) Vaults() *vault.Registry       { return e.vaults }
func (e *Engine) Lending() *lending.Pool        { return e.lending }
func (e *Engine) Auctions() *auction.Engine     { return e.auctions }
func (e *Engine) Flash() *flash.Coordinator     { return e.flash }
func (e *Engine) Book() *ledger.Book            { return e.book }

// RouteShareAsset declares asset to be vaultID's share token. Quotes for it
// are derived from the vault's convert-to-assets rate times the underlying's
// oracle price rather than from a feed of its own, so a share price cannot
// diverge from the ledger that backs it. shareDecimals scales one whole
// share, underlyingDecimals one whole unit of the vault's asset.
func (e *Engine) RouteShareAsset(asset, vaultID string, shareDecimals, underlyingDecimals uint8) {
	e.shareRoutes[asset] = shareRoute{
		vaultID:            vaultID,
		shareDecimals:      shareDecimals,
		underlyingDecimals: underlyingDecimals,
	}
}

// View runs a read-only function under the global lock. The query service
// uses it; fn must not mutate engine state.
func (e *Engine) View(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// Sequence returns the next sequence to be assigned.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// StateHash returns the current chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// runTx is the shared transaction pipeline: lock, checkpoint, execute,
// rollback on error, post-check invariants, hash, commit, emit. fn runs with
// the lock held and must go through the e.do* internals, never the public
// operations.
func (e *Engine) runTx(ctx event.Context, op event.OpType, payload any, fn func() error) error {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := e.takeCheckpoint()

	if err := fn(); err != nil {
		e.restoreCheckpoint(cp)
		if e.metrics != nil {
			e.metrics.TxRejected.WithLabelValues(op.String()).Inc()
		}
		return err
	}

	if err := e.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", op, err))
	}

	entries := e.book.DrainJournal()
	digest := e.computeStateDigest(entries)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)

	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("FATAL: unserializable payload for %s: %v", op, err))
	}

	env := &event.Envelope{
		Sequence:  e.sequence,
		TxID:      ctx.TxID,
		OpType:    op,
		Caller:    ctx.Caller,
		Timestamp: ctx.Timestamp,
		Payload:   raw,
		StateHash: stateHash,
		PrevHash:  prevHash,
	}
	e.sequence++

	out := Output{Envelope: env, Entries: entries}
	if e.persistChan != nil {
		// Blocking send: the executor stalls rather than lose an output.
		e.persistChan <- out
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.TxApplied.WithLabelValues(op.String()).Inc()
		e.metrics.TxDuration.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
		e.metrics.Sequence.Set(float64(e.sequence))
		e.metrics.ActiveAuctions.Set(float64(e.auctions.ActiveCount()))
	}
	return nil
}

// computeStateDigest builds canonical bytes from the accounts this
// transaction touched, sorted by path, with their post-transaction balances.
func (e *Engine) computeStateDigest(entries []ledger.Entry) []byte {
	affected := make(map[ledger.AccountKey]bool)
	for _, entry := range entries {
		affected[entry.Debit] = true
		affected[entry.Credit] = true
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Path() < accounts[j].Path()
	})

	digest := make([]byte, 0, len(accounts)*48)
	for _, key := range accounts {
		path := key.Path()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)

		bal := e.book.Balance(key).Text(10)
		digest = append(digest, byte(len(bal)))
		digest = append(digest, bal...)
	}
	return digest
}

// postCheckInvariants runs after every successful transaction body. A
// failure here is a logic bug and the caller panics.
func (e *Engine) postCheckInvariants() error {
	if err := e.book.ValidateNonNegative(); err != nil {
		return err
	}
	// A zero-sum book per asset means the engine neither minted nor burned
	// value; external accounts carry the offsetting side.
	for asset, total := range e.book.GlobalSums() {
		if total.Sign() != 0 {
			return fmt.Errorf("global balance non-zero for %s: %s", asset, total)
		}
	}
	return nil
}
