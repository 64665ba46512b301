package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendCore/internal/core"
	"LendCore/internal/event"
	"LendCore/internal/observability"
)

// Publisher forwards committed auction lifecycle transactions to
// lend.auctions.>. It drains the executor's publish channel; drops upstream
// are acceptable because consumers can always rebuild from the operation
// log.
type Publisher struct {
	js      jetstream.JetStream
	pubChan <-chan core.Output
	log     zerolog.Logger
}

// OutboundTx is the wire schema on lend.auctions.>.
type OutboundTx struct {
	Sequence  int64           `json:"sequence"`
	TxID      string          `json:"tx_id"`
	Op        string          `json:"op"`
	Caller    string          `json:"caller"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func NewPublisher(js jetstream.JetStream, pubChan <-chan core.Output) *Publisher {
	return &Publisher{
		js:      js,
		pubChan: pubChan,
		log:     observability.NewLogger("publisher"),
	}
}

// Run blocks until ctx is cancelled or the channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-p.pubChan:
			if !ok {
				return nil
			}
			subject, publishable := subjectFor(out.Envelope.OpType)
			if !publishable {
				continue
			}
			if err := p.publish(ctx, subject, out); err != nil {
				p.log.Warn().Err(err).Str("subject", subject).
					Int64("sequence", out.Envelope.Sequence).Msg("publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, subject string, out core.Output) error {
	doc := OutboundTx{
		Sequence:  out.Envelope.Sequence,
		TxID:      out.Envelope.TxID.String(),
		Op:        out.Envelope.OpType.String(),
		Caller:    out.Envelope.Caller,
		Timestamp: out.Envelope.Timestamp,
		Payload:   out.Envelope.Payload,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal outbound tx: %w", err)
	}
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// subjectFor maps auction lifecycle operations onto outbound subjects.
// Everything else stays internal.
func subjectFor(op event.OpType) (string, bool) {
	switch op {
	case event.OpAuctionStart, event.OpAuctionTake, event.OpAuctionReset:
		return "lend.auctions." + strings.ToLower(op.String()), true
	default:
		return "", false
	}
}
