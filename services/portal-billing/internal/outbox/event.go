package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types. The Kafka topic name equals the event type.
const (
	EventCancelRequested = "billing.subscription.cancel_requested.v1"
	EventReactivated     = "billing.subscription.reactivated.v1"
	EventCheckoutCreated = "billing.checkout.created.v1"
	EventCustomerCreated = "billing.customer.created.v1"
	EventProposalLinked  = "billing.proposal.linked.v1"
)

// Event is the envelope written to the outbox table.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Recorder persists events for asynchronous publication.
type Recorder interface {
	Record(ctx context.Context, evt Event) error
}

// NewEvent marshals payload and stamps the event with a fresh id and occurred_at.
func NewEvent(aggregateType, aggregateID, eventType string, payload map[string]any) (Event, error) {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["occurred_at"] = time.Now().UTC().Format(time.RFC3339)
	raw, err := json.Marshal(body)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
