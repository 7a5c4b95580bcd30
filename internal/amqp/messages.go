package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"kakeibo/internal/core"
)

// Change operations carried by EntryChangedMessage.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
)

// EntryChangedMessage announces that an entry in an accounting month changed.
// Consumers reload what they need from the database; the message only names
// the entry and the month whose totals are now stale.
type EntryChangedMessage struct {
	ID        int64          `json:"id"`
	Kind      core.EntryKind `json:"kind"`
	Year      int            `json:"year"`
	Month     int            `json:"month"`
	Op        string         `json:"op"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEntryChangedMessage creates a message stamped with the current time.
func NewEntryChangedMessage(id int64, kind core.EntryKind, m core.CalendarMonth, op string) *EntryChangedMessage {
	return &EntryChangedMessage{
		ID:        id,
		Kind:      kind,
		Year:      m.Year,
		Month:     m.Month,
		Op:        op,
		Timestamp: time.Now(),
	}
}

// CalendarMonth returns the accounting month the change belongs to.
func (m *EntryChangedMessage) CalendarMonth() (core.CalendarMonth, error) {
	return core.NewCalendarMonth(m.Year, m.Month)
}

// ToJSON converts the message to JSON bytes
func (m *EntryChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EntryChangedMessageFromJSON decodes and validates a message.
func EntryChangedMessageFromJSON(data []byte) (*EntryChangedMessage, error) {
	var msg EntryChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if _, err := msg.CalendarMonth(); err != nil {
		return nil, fmt.Errorf("entry change message: %w", err)
	}
	switch msg.Op {
	case OpCreated, OpUpdated, OpDeleted:
	default:
		return nil, fmt.Errorf("entry change message: unknown op %q", msg.Op)
	}
	return &msg, nil
}
