// Command portal-webhook-sim sends a signed Stripe event to the portal billing
// webhook so proposal linking can be exercised without the Stripe CLI.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/clientportal/libs/config"
)

type eventSpec struct {
	ID              string
	Type            string
	ProposalID      string
	SubscriptionID  string
	PaymentIntentID string
	InvoiceID       string
	At              time.Time
}

func main() {
	_ = config.LoadDotEnv(".env")

	var (
		baseURL  = flag.String("base-url", config.String("BASE_URL", "http://localhost:8090"), "portal billing base url")
		evtType  = flag.String("type", config.String("STRIPE_EVENT_TYPE", "checkout.session.completed"), "stripe event type")
		proposal = flag.String("proposal-id", config.String("PROPOSAL_ID", ""), "proposal_id metadata")
		sub      = flag.String("subscription-id", "", "subscription id carried by the event")
		pi       = flag.String("payment-intent-id", "", "payment intent id carried by the event")
		invoice  = flag.String("invoice-id", "", "invoice id carried by the checkout session")
		eventID  = flag.String("event-id", "", "provider event id (defaults to a fresh one; reuse it to test dedupe)")
		secret   = flag.String("secret", config.String("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*proposal) == "" {
		fatal("PROPOSAL_ID is required")
	}

	now := time.Now().UTC()
	ev := eventSpec{
		ID:              *eventID,
		Type:            *evtType,
		ProposalID:      *proposal,
		SubscriptionID:  *sub,
		PaymentIntentID: *pi,
		InvoiceID:       *invoice,
		At:              now,
	}
	if ev.ID == "" {
		ev.ID = fmt.Sprintf("evt_test_%d", now.UnixNano())
	}

	payload, err := buildEventJSON(ev)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/portal/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	fmt.Printf("event=%s status=%d body=%s\n", ev.ID, resp.StatusCode, strings.TrimSpace(string(body)))
}

func buildEventJSON(ev eventSpec) ([]byte, error) {
	metadata := map[string]any{"proposal_id": ev.ProposalID}

	var object map[string]any
	switch ev.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		object = map[string]any{
			"id":       "cs_test_sim",
			"object":   "checkout.session",
			"metadata": metadata,
		}
		setIf(object, "subscription", ev.SubscriptionID)
		setIf(object, "payment_intent", ev.PaymentIntentID)
		setIf(object, "invoice", ev.InvoiceID)
	case "payment_intent.succeeded":
		if ev.PaymentIntentID == "" {
			return nil, fmt.Errorf("%s needs -payment-intent-id", ev.Type)
		}
		object = map[string]any{
			"id":       ev.PaymentIntentID,
			"object":   "payment_intent",
			"status":   "succeeded",
			"metadata": metadata,
		}
	case "customer.subscription.created":
		if ev.SubscriptionID == "" {
			return nil, fmt.Errorf("%s needs -subscription-id", ev.Type)
		}
		object = map[string]any{
			"id":       ev.SubscriptionID,
			"object":   "subscription",
			"status":   "active",
			"metadata": metadata,
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", ev.Type)
	}

	return json.Marshal(map[string]any{
		"id":          ev.ID,
		"object":      "event",
		"created":     ev.At.Unix(),
		"type":        ev.Type,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
}

func setIf(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
