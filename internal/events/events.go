// Package events announces graded submissions to downstream consumers such
// as progress tracking and analytics.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/michaelbrown/labrunner/internal/storage"
)

// TypeSubmissionGraded is the envelope type of PublishGraded messages.
const TypeSubmissionGraded = "submission.graded"

// Publisher emits one event per graded submission.
type Publisher interface {
	PublishGraded(ctx context.Context, sub *storage.Submission) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishGraded(context.Context, *storage.Submission) error { return nil }
func (Nop) Close() error                                             { return nil }

// Envelope is the JSON value written for each event. Source code and case
// output stay in the submission store.
type Envelope struct {
	Type         string    `json:"type"`
	SubmissionID string    `json:"submission_id"`
	UserID       string    `json:"user_id"`
	ExerciseID   string    `json:"exercise_id"`
	Status       string    `json:"status"`
	PassedCount  int       `json:"passed_count"`
	TotalCount   int       `json:"total_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaPublisher writes envelopes to a Kafka topic keyed by user id, so one
// learner's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewKafkaPublisher constructs a publisher from cfg.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
	}
	return newKafkaPublisher(writer), nil
}

func newKafkaPublisher(writer messageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) PublishGraded(ctx context.Context, sub *storage.Submission) error {
	payload, err := json.Marshal(Envelope{
		Type:         TypeSubmissionGraded,
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ExerciseID:   sub.ExerciseID,
		Status:       string(sub.Status),
		PassedCount:  sub.PassedCount,
		TotalCount:   sub.TotalCount,
		CreatedAt:    sub.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(sub.UserID),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(TypeSubmissionGraded)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
