package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/michaelbrown/labrunner/internal/storage"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleSubmission() *storage.Submission {
	return &storage.Submission{
		ID:          "sub-1",
		UserID:      "alice",
		ExerciseID:  "sum-of-two",
		Source:      "print(8)",
		Status:      storage.StatusPassed,
		PassedCount: 3,
		TotalCount:  3,
		CreatedAt:   time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPublishGraded(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w)

	if err := p.PublishGraded(context.Background(), sampleSubmission()); err != nil {
		t.Fatalf("PublishGraded: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages", len(w.msgs))
	}

	msg := w.msgs[0]
	if string(msg.Key) != "alice" {
		t.Errorf("key = %q", msg.Key)
	}
	var env Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if env.Type != TypeSubmissionGraded || env.SubmissionID != "sub-1" || env.Status != "passed" || env.PassedCount != 3 {
		t.Errorf("envelope = %+v", env)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close: %v closed=%v", err, w.closed)
	}
}

func TestPublishGradedWriteError(t *testing.T) {
	p := newKafkaPublisher(&fakeWriter{err: errors.New("broker down")})
	if err := p.PublishGraded(context.Background(), sampleSubmission()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Error("expected error without topic")
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.PublishGraded(context.Background(), sampleSubmission()); err != nil {
		t.Errorf("Nop.PublishGraded: %v", err)
	}
}
