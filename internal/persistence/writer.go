package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// OpLogWriter writes committed transactions and their journal entries to
// Postgres using multi-row INSERTs. Switch to pgx CopyFrom if write
// throughput ever becomes the bottleneck.
type OpLogWriter struct {
	db *sql.DB
}

// OpRow is a row in op_log.transactions.
type OpRow struct {
	Sequence  int64
	TxID      string
	OpType    string
	Caller    string
	Timestamp int64
	Payload   []byte
	StateHash []byte
	PrevHash  []byte
}

// EntryRow is a row in op_log.journal.
type EntryRow struct {
	EntryID   string
	TxID      string
	Sequence  int64
	Debit     string
	Credit    string
	Asset     string
	Amount    string
	Kind      string
	Timestamp int64
}

func NewOpLogWriter(db *sql.DB) *OpLogWriter {
	return &OpLogWriter{db: db}
}

func (w *OpLogWriter) DB() *sql.DB { return w.db }

// WriteOpBatch inserts transactions; re-inserting a sequence is a no-op so
// replays after a crash are idempotent.
func (w *OpLogWriter) WriteOpBatch(ctx context.Context, tx *sql.Tx, ops []OpRow) error {
	if len(ops) == 0 {
		return nil
	}

	query := `INSERT INTO op_log.transactions
		(sequence, tx_id, op_type, caller, ts, payload, state_hash, prev_hash)
		VALUES `

	values := make([]string, 0, len(ops))
	args := make([]interface{}, 0, len(ops)*8)
	for i, o := range ops {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			o.Sequence, o.TxID, o.OpType, o.Caller,
			o.Timestamp, o.Payload, o.StateHash, o.PrevHash,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteEntryBatch inserts journal entries, idempotent on entry_id.
func (w *OpLogWriter) WriteEntryBatch(ctx context.Context, tx *sql.Tx, entries []EntryRow) error {
	if len(entries) == 0 {
		return nil
	}

	query := `INSERT INTO op_log.journal
		(entry_id, tx_id, sequence, debit_account, credit_account, asset, amount, kind, ts)
		VALUES `

	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*9)
	for i, e := range entries {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.EntryID, e.TxID, e.Sequence, e.Debit, e.Credit,
			e.Asset, e.Amount, e.Kind, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (entry_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LastSequence returns the highest persisted sequence, or -1 when the log is
// empty.
func (w *OpLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM op_log.transactions`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
