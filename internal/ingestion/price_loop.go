package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog"

	"LendCore/internal/core"
	"LendCore/internal/event"
	"LendCore/internal/observability"
)

// feedCaller is the ledger identity price ingestion transactions run under.
const feedCaller = "oracle-feed"

// PriceReport is the wire schema on lend.prices.>.
type PriceReport struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Round     uint64 `json:"round"`
	UpdatedAt int64  `json:"updated_at"`
}

// PriceApplyLoop drains raw NATS messages and applies them to the executor
// one at a time. Acks only after the executor commits; a nak redelivers, and
// round-monotonic ingestion absorbs the duplicate.
type PriceApplyLoop struct {
	engine  *core.Engine
	msgChan <-chan RawMessage
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPriceApplyLoop(engine *core.Engine, msgChan <-chan RawMessage, metrics *observability.Metrics) *PriceApplyLoop {
	return &PriceApplyLoop{
		engine:  engine,
		msgChan: msgChan,
		metrics: metrics,
		log:     observability.NewLogger("price-loop"),
	}
}

// Run blocks until ctx is cancelled or the channel closes.
func (l *PriceApplyLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-l.msgChan:
			if !ok {
				return nil
			}
			if err := l.apply(msg); err != nil {
				l.log.Warn().Err(err).Str("subject", msg.Subject).Msg("price report rejected")
				if l.metrics != nil {
					l.metrics.IngestErrors.WithLabelValues(msg.Subject).Inc()
				}
				msg.NakFunc()
				continue
			}
			if l.metrics != nil {
				l.metrics.IngestMessages.WithLabelValues(msg.Subject).Inc()
			}
			msg.AckFunc()
		}
	}
}

func (l *PriceApplyLoop) apply(msg RawMessage) error {
	var report PriceReport
	if err := json.Unmarshal(msg.Data, &report); err != nil {
		return fmt.Errorf("parse price report: %w", err)
	}
	price, ok := new(big.Int).SetString(report.Price, 10)
	if !ok {
		return fmt.Errorf("bad price %q for %s", report.Price, report.Asset)
	}
	fallback := strings.HasPrefix(msg.Subject, "lend.prices.fallback.")

	ctx := event.NewContext(feedCaller, report.UpdatedAt)
	return l.engine.ReportPrice(ctx, report.Asset, price, report.Round, report.UpdatedAt, fallback)
}
