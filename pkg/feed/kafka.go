// Package feed publishes the trade tape to Kafka for downstream
// market-data consumers. Publishing is best-effort: a broker outage is
// logged and never propagated into the matching path.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tcex/engine/pkg/storage"
)

// Publisher writes per-listing trade events to a single topic, keyed by
// listing ID so one listing's tape stays ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

type tradeEvent struct {
	Type      string           `json:"type"`
	ListingID string           `json:"listingId"`
	Trades    []*storage.Trade `json:"trades"`
}

func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		log: log,
	}
}

// PublishTrades sends one event carrying all fills of a single matching
// operation.
func (p *Publisher) PublishTrades(ctx context.Context, listingID string, trades []*storage.Trade) {
	if len(trades) == 0 {
		return
	}
	payload, err := json.Marshal(tradeEvent{Type: "trades", ListingID: listingID, Trades: trades})
	if err != nil {
		p.log.Errorw("feed_marshal_failed", "listing", listingID, "err", err)
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(listingID),
		Value: payload,
	}); err != nil {
		p.log.Warnw("feed_publish_failed", "listing", listingID, "err", err)
	}
}

func (p *Publisher) Close() error { return p.writer.Close() }

// Nop discards trade events. Used when no brokers are configured.
type Nop struct{}

func (Nop) PublishTrades(context.Context, string, []*storage.Trade) {}
