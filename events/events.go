/*
Package events publishes balance changes to a message broker.

PURPOSE:
  Every engine write that moves a balance bumps the version signal
  (generic.VersionSignal). The Bridge subscribes to that signal and turns
  each bump into a BalanceChanged event on a topic exchange, so payroll,
  rostering or notification services can react without polling.

ROUTING KEYS:
  leave.balance.<reason>, e.g.

    leave.balance.request_submitted
    leave.balance.request_approved
    leave.balance.request_cancelled
    leave.balance.balance_adjusted
    leave.balance.accrual_recalculated

  Bind "leave.balance.#" to receive everything.

DELIVERY:
  At most once. The signal callback never blocks the engine: changes are
  queued and published from Run. A full queue drops the change and logs it;
  consumers that need exactness re-read balances on the next event or via
  the version long-poll.

SEE ALSO:
  - generic/signal.go: VersionSignal
  - events/publisher.go: AMQP publisher
*/
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/warp/leave-engine/generic"
)

const (
	// ExchangeLeaveEvents is the default topic exchange.
	ExchangeLeaveEvents = "leave.events"

	// RoutingPrefix prefixes every balance-change routing key.
	RoutingPrefix = "leave.balance."

	EventBalanceChanged = "leave.balance.changed"
)

// Event is the envelope written to the broker.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source string, data any) (*Event, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      body,
	}, nil
}

// UnmarshalData unmarshals the event data into v.
func (e *Event) UnmarshalData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// BalanceChanged is published after every committed balance write. An
// empty Category means every category of the employee may have changed.
type BalanceChanged struct {
	Version    uint64    `json:"version"`
	TenantID   string    `json:"tenant_id"`
	EmployeeID string    `json:"employee_id"`
	Category   string    `json:"category,omitempty"`
	Reason     string    `json:"reason"`
	ChangedAt  time.Time `json:"changed_at"`
}

// FromChange converts a signal bump into the event payload.
func FromChange(c generic.Change) BalanceChanged {
	return BalanceChanged{
		Version:    c.Version,
		TenantID:   string(c.TenantID),
		EmployeeID: string(c.EntityID),
		Category:   c.Category,
		Reason:     c.Reason,
		ChangedAt:  c.At,
	}
}

// RoutingKey returns the topic routing key for a change.
func RoutingKey(c generic.Change) string {
	if c.Reason == "" {
		return RoutingPrefix + "changed"
	}
	return RoutingPrefix + c.Reason
}
