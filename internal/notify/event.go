package notify

import (
	"encoding/json"
	"time"

	"github.com/iliyamo/table-reservation/internal/model"
)

// Event names sent to subscribers.
const (
	EventSlotUpdated        = "slotUpdated"
	EventTableAdded         = "tableAdded"
	EventTableDeleted       = "tableDeleted"
	EventTableChanged       = "tableChanged"
	EventNewReservation     = "newReservation"
	EventReservationRemoved = "reservationRemoved"
	EventReservationChanged = "reservationChanged"
	EventTableStatusChanged = "tableStatusChanged"
)

// Action tags carried inside SlotEvent.
const (
	ActionReserve      = "reserve"
	ActionAdminReserve = "admin_reserve"
	ActionUnreserve    = "unreserve"
	ActionAdminRelease = "admin_unreserve"
	ActionToggle       = "toggle_status"
	ActionChangeTable  = "change_table"
	ActionAdd          = "add"
	ActionDelete       = "delete"
)

// SlotEvent is the payload of every reservation broadcast: what happened,
// which identifiers were affected and the resulting snapshot(s).
type SlotEvent struct {
	Action         string      `json:"action"`
	SlotNumber     int         `json:"slotNumber"`
	SlotTime       string      `json:"slotTime"`
	TableNumber    int         `json:"tableNumber"`
	OldTableNumber int         `json:"oldTableNumber,omitempty"`
	UserID         uint64      `json:"userId,omitempty"`
	Slot           *model.Slot `json:"slot,omitempty"`
	Previous       *model.Slot `json:"previous,omitempty"`
}

// Envelope is the unit that travels over WebSocket, Redis and RabbitMQ.
type Envelope struct {
	Topic   Topic           `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sentAt"`
}

// NewEnvelope marshals payload and stamps the envelope with the current time.
func NewEnvelope(topic Topic, event string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Topic: topic, Event: event, Payload: raw, SentAt: time.Now().UTC()}, nil
}
