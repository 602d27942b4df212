// Package publisher announces anchor checkpoints on Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"contramind/internal/anchor/models"
)

const EventType = "anchor.checkpoint"

// Event is the message value. The checkpoint fields are what KID signed;
// consumers can verify Signature against the published key set.
type Event struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	AnchorID   int64     `json:"anchor_id"`
	CreatedAt  time.Time `json:"created_at"`
	FromID     int64     `json:"from_id"`
	ToID       int64     `json:"to_id"`
	MerkleRoot string    `json:"merkle_root"`
	LeafCount  int       `json:"leaf_count"`
	KID        string    `json:"kid"`
	Signature  string    `json:"signature_b64"`
}

func NewEvent(a models.Anchor) Event {
	return Event{
		EventID:    uuid.NewString(),
		Type:       EventType,
		AnchorID:   a.ID,
		CreatedAt:  a.CreatedAt,
		FromID:     a.FromID,
		ToID:       a.ToID,
		MerkleRoot: a.MerkleRoot,
		LeafCount:  a.LeafCount,
		KID:        a.KID,
		Signature:  a.Signature,
	}
}

// Anchor rebuilds the anchor the event announces.
func (e Event) Anchor() models.Anchor {
	return models.Anchor{
		ID:         e.AnchorID,
		CreatedAt:  e.CreatedAt,
		FromID:     e.FromID,
		ToID:       e.ToID,
		MerkleRoot: e.MerkleRoot,
		LeafCount:  e.LeafCount,
		KID:        e.KID,
		Signature:  e.Signature,
	}
}

// KafkaPublisher produces one record per anchor, keyed by anchor id.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafka(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher needs at least one broker")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// EnsureTopic creates the checkpoint topic when it does not exist yet.
func (p *KafkaPublisher) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	resp, err := kadm.NewClient(p.client).CreateTopic(ctx, partitions, replication, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", p.topic, resp.Err)
	}
	return nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, a models.Anchor) error {
	event := NewEvent(a)
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode anchor event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatInt(a.ID, 10)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce anchor %d: %w", a.ID, err)
	}
	p.logger.DebugContext(ctx, "anchor checkpoint published", "anchor_id", a.ID, "event_id", event.EventID, "topic", p.topic)
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
