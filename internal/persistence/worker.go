package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"LendCore/internal/core"
	"LendCore/internal/observability"
)

// Worker drains the persist channel and batch-writes to Postgres. The
// executor sends with a blocking send, so a worker that falls behind stalls
// the executor rather than losing a committed transaction.
type Worker struct {
	writer       *OpLogWriter
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewOpLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          observability.NewLogger("persistence"),
	}
}

func (w *Worker) Writer() *OpLogWriter { return w.writer }

// Run batches incoming outputs and flushes when the batch fills or the
// timeout fires. Blocks until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	opBatch := make([]OpRow, 0, w.batchSize)
	entryBatch := make([]EntryRow, 0, w.batchSize*2)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(opBatch) > 0 {
				if err := w.flush(context.Background(), opBatch, entryBatch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				if len(opBatch) > 0 {
					if err := w.flush(context.Background(), opBatch, entryBatch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			opBatch = append(opBatch, toOpRow(output))
			entryBatch = append(entryBatch, toEntryRows(output)...)

			if len(opBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, opBatch, entryBatch); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				opBatch = opBatch[:0]
				entryBatch = entryBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(opBatch) > 0 {
				if err := w.flushWithRetry(ctx, opBatch, entryBatch); err != nil {
					w.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				opBatch = opBatch[:0]
				entryBatch = entryBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops a
// batch; on shutdown it attempts one final flush with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, ops []OpRow, entries []EntryRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).
				Int("ops", len(ops)).Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), ops, entries); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
		}

		if err := w.flush(ctx, ops, entries); err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
	}
}

func (w *Worker) flush(ctx context.Context, ops []OpRow, entries []EntryRow) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteOpBatch(ctx, tx, ops); err != nil {
		w.countError("write_ops")
		return err
	}
	if err := w.writer.WriteEntryBatch(ctx, tx, entries); err != nil {
		w.countError("write_entries")
		return err
	}
	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistTxWritten.Add(float64(len(ops)))
		w.metrics.PersistEntriesWritten.Add(float64(len(entries)))
		if len(ops) > 0 {
			w.metrics.PersistLastSequence.Set(float64(ops[len(ops)-1].Sequence))
		}
	}
	return nil
}

func (w *Worker) countError(kind string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}

func toOpRow(out core.Output) OpRow {
	env := out.Envelope
	return OpRow{
		Sequence:  env.Sequence,
		TxID:      env.TxID.String(),
		OpType:    env.OpType.String(),
		Caller:    env.Caller,
		Timestamp: env.Timestamp,
		Payload:   env.Payload,
		StateHash: env.StateHash[:],
		PrevHash:  env.PrevHash[:],
	}
}

func toEntryRows(out core.Output) []EntryRow {
	rows := make([]EntryRow, 0, len(out.Entries))
	for _, e := range out.Entries {
		rows = append(rows, EntryRow{
			EntryID:   e.EntryID.String(),
			TxID:      e.TxID.String(),
			Sequence:  out.Envelope.Sequence,
			Debit:     e.Debit.Path(),
			Credit:    e.Credit.Path(),
			Asset:     e.Asset,
			Amount:    e.Amount,
			Kind:      e.Kind.String(),
			Timestamp: e.Timestamp,
		})
	}
	return rows
}
