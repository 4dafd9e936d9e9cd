// Package kafkasink mirrors every notification into a Kafka topic, so other
// consumers (a dashboard, an archiver) can follow shipment progress alongside
// the push notifications.
package kafkasink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/skrattaren/onex-track/internal/models"
)

// StatusMessage is the wire format: the normalized event plus the rendered
// text.
type StatusMessage struct {
	TrackNumber string    `json:"track_number"`
	Label       string    `json:"label"`
	Date        string    `json:"date"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sent_at"`
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Sink struct {
	w     writer
	topic string
}

func New(brokers []string, topic string) *Sink {
	return &Sink{
		w: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.LeastBytes{},
		},
		topic: topic,
	}
}

func newSinkWithWriter(w writer, topic string) *Sink {
	return &Sink{w: w, topic: topic}
}

func (s *Sink) Notify(ctx context.Context, ev models.StatusEvent, message string) error {
	b, err := json.Marshal(StatusMessage{
		TrackNumber: ev.Number,
		Label:       ev.Label,
		Date:        ev.Date,
		Message:     message,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal status message")
	}

	if err := s.w.WriteMessages(ctx, kafka.Message{
		Topic: s.topic,
		Key:   []byte(ev.Number),
		Value: b,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}
