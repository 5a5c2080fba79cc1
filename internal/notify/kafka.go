package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/blackmichael/bluesky-federation/internal/domain"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications to a Kafka topic, keyed by recipient so
// one user's notifications stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink creates a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}, nil
}

type notificationMessage struct {
	ID               string `json:"id"`
	RecipientID      string `json:"recipientId"`
	ActorDID         string `json:"actorDid"`
	ActorHandle      string `json:"actorHandle,omitempty"`
	ActorDisplayName string `json:"actorDisplayName,omitempty"`
	ActorAvatarURL   string `json:"actorAvatarUrl,omitempty"`
	Reason           string `json:"reason"`
	SubjectURI       string `json:"subjectUri"`
	IsExternal       bool   `json:"isExternal"`
	CreatedAt        string `json:"createdAt"`
}

func (k *KafkaSink) Deliver(ctx context.Context, n *domain.Notification) error {
	payload, err := json.Marshal(notificationMessage{
		ID:               n.ID,
		RecipientID:      n.RecipientID,
		ActorDID:         n.ActorDID,
		ActorHandle:      n.ActorHandle,
		ActorDisplayName: n.ActorDisplayName,
		ActorAvatarURL:   n.ActorAvatarURL,
		Reason:           string(n.Reason),
		SubjectURI:       n.SubjectURI,
		IsExternal:       n.IsExternal,
		CreatedAt:        n.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(n.RecipientID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
