// Package queue carries reservation events over RabbitMQ.  The publisher
// writes every broadcast envelope to a durable queue; the consumer turns
// them into an append-only audit log.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/table-reservation/internal/notify"
)

// EventsQueue is the durable queue holding reservation envelopes.
const EventsQueue = "reservation.events"

// formatLine renders one envelope as a single human-readable log line.
func formatLine(env notify.Envelope) string {
	var ev notify.SlotEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.Action == "" {
		return fmt.Sprintf("[%s] %s | topic=%s | payload=%s\n",
			env.SentAt.Format(time.RFC3339), env.Event, env.Topic, env.Payload)
	}
	line := fmt.Sprintf("[%s] %s | topic=%s | action=%s | slot=%d (%s) | table=%d",
		env.SentAt.Format(time.RFC3339), env.Event, env.Topic, ev.Action, ev.SlotNumber, ev.SlotTime, ev.TableNumber)
	if ev.OldTableNumber != 0 {
		line += fmt.Sprintf(" | old_table=%d", ev.OldTableNumber)
	}
	if ev.UserID != 0 {
		line += fmt.Sprintf(" | user_id=%d", ev.UserID)
	}
	return line + "\n"
}
