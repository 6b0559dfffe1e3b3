package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"
)

// EventSaleRecorded is the event type published for every sale.
const EventSaleRecorded = "sale.recorded"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder publishes sales as JSON events keyed by transaction id.
type KafkaRecorder struct {
	w messageWriter
}

// NewKafkaWriter creates a writer for a comma separated broker list.
func NewKafkaWriter(brokersCSV, topic string) (*kafka.Writer, error) {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}, nil
}

// NewKafkaRecorder wraps w.
func NewKafkaRecorder(w messageWriter) *KafkaRecorder {
	return &KafkaRecorder{w: w}
}

// RecordSale implements Recorder. Consumers dedupe on the "id" field.
func (k *KafkaRecorder) RecordSale(ctx context.Context, s Sale) error {
	msg := kafka.Message{
		Key:   []byte(s.TransactionID),
		Value: encodeSale(s),
		Time:  time.Now().UTC(),
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrap(err, "write kafka message")
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaRecorder) Close() error {
	return k.w.Close()
}

func encodeSale(s Sale) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(EventSaleRecorded)
	e.FieldStart("id")
	e.Str(s.ID)
	e.FieldStart("transactionId")
	e.Str(s.TransactionID)
	e.FieldStart("amount")
	e.Num(jx.Num(s.Amount.String()))
	e.FieldStart("date")
	e.Str(s.Day())
	e.FieldStart("occurredAt")
	e.Str(s.Date.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}
