package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/qr-attendance/pkg/logger"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url, nats.Name("qr-attendance"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// NoopBus drops everything. Used when NATS is not configured.
type NoopBus struct{}

func (NoopBus) Publish(context.Context, string, interface{}) error { return nil }
func (NoopBus) Subscribe(string, func(*Message)) error             { return nil }
func (NoopBus) Close() error                                       { return nil }

// Connect returns a NATS bus for url, or a NoopBus when url is empty.
func Connect(url string) (EventBus, error) {
	if url == "" {
		return NoopBus{}, nil
	}
	return NewNATSEventBus(url)
}

const (
	AttendanceRecorded  = "attendance.recorded"
	AttendanceCorrected = "attendance.corrected"
	AttendanceDeleted   = "attendance.deleted"
	UserRegistered      = "user.registered"
	UserDeleted         = "user.deleted"

	// AttendanceAll matches every attendance subject.
	AttendanceAll = "attendance.>"
)

type AttendanceRecordedEvent struct {
	EventID    string    `json:"event_id"`
	UserID     int64     `json:"user_id"`
	UserName   string    `json:"user_name"`
	SiteID     string    `json:"site_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

type AttendanceCorrectedEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	CorrectedAt time.Time `json:"corrected_at"`
}

type AttendanceDeletedEvent struct {
	EventIDs  []string  `json:"event_ids"`
	DeletedAt time.Time `json:"deleted_at"`
}

type UserRegisteredEvent struct {
	UserID       int64     `json:"user_id"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
}

type UserDeletedEvent struct {
	Name          string    `json:"name"`
	EventsRemoved int64     `json:"events_removed"`
	DeletedAt     time.Time `json:"deleted_at"`
}
