package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/outbox"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/storage"
)

const metaProposalID = "proposal_id"

// StripeWebhook links proposals to the gateway entities created by their
// checkouts. There is no bearer auth; the signature is the authentication.
// Each provider event is applied at most once.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		h.metrics.Webhooks.WithLabelValues("unknown", "invalid_signature").Inc()
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	evtType := string(evt.Type)
	h.logger.InfoContext(ctx, "billing provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", time.Unix(evt.Created, 0).UTC().Format(time.RFC3339),
	)

	pe := storage.ProviderEvent{Provider: "stripe", ProviderEventID: evt.ID, EventType: evtType, Payload: body}
	proposalID, refs := proposalRefs(evt)

	var status string
	if proposalID != "" && !refs.IsZero() {
		err = h.webhooks.LinkProposalFromEvent(ctx, pe, proposalID, refs)
		status = "linked"
		if errors.Is(err, model.ErrNotFound) {
			h.logger.WarnContext(ctx, "stripe: event references unknown proposal", "provider_event_id", evt.ID, "proposal_id", proposalID)
			err = h.webhooks.RecordProviderEvent(ctx, pe)
			status = "ignored"
		}
	} else {
		err = h.webhooks.RecordProviderEvent(ctx, pe)
		status = "recorded"
	}

	switch {
	case errors.Is(err, storage.ErrDuplicateProviderEvent):
		h.logger.InfoContext(ctx, "billing provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID, "event_type", evtType)
		h.metrics.Webhooks.WithLabelValues(evtType, "duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "stripe: failed to apply provider event", "provider_event_id", evt.ID, "err", err)
		h.metrics.Webhooks.WithLabelValues(evtType, "error").Inc()
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	if status == "linked" {
		h.recordLinked(r, evt.ID, proposalID, refs)
	}
	h.metrics.Webhooks.WithLabelValues(evtType, status).Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (h *Handler) recordLinked(r *http.Request, eventID, proposalID string, refs model.ExternalRefs) {
	if h.events == nil {
		return
	}
	payload := map[string]any{"proposal_id": proposalID, "provider_event_id": eventID}
	for k, v := range model.EncodeRefs(refs) {
		payload[k] = v
	}
	evt, err := outbox.NewEvent("proposal", proposalID, outbox.EventProposalLinked, payload)
	if err == nil {
		err = h.events.Record(r.Context(), evt)
	}
	if err != nil {
		h.metrics.OutboxFailures.Inc()
		h.logger.ErrorContext(r.Context(), "record lifecycle event", "event_type", outbox.EventProposalLinked, "aggregate_id", proposalID, "err", err)
	}
}

// proposalRefs extracts the proposal id stamped on checkout metadata and the
// gateway ids the event carries. Unparseable payloads yield no refs.
func proposalRefs(evt stripe.Event) (string, model.ExternalRefs) {
	if evt.Data == nil {
		return "", model.ExternalRefs{}
	}
	var refs model.ExternalRefs
	var meta map[string]string

	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
			return "", refs
		}
		meta = session.Metadata
		if session.Subscription != nil {
			refs.SubscriptionID = session.Subscription.ID
		}
		if session.PaymentIntent != nil {
			refs.PaymentIntentID = session.PaymentIntent.ID
		}
		if session.Invoice != nil {
			refs.InvoiceID = session.Invoice.ID
		}
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return "", refs
		}
		meta = pi.Metadata
		refs.PaymentIntentID = pi.ID
	case "customer.subscription.created":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return "", refs
		}
		meta = sub.Metadata
		refs.SubscriptionID = sub.ID
	default:
		return "", refs
	}
	return strings.TrimSpace(meta[metaProposalID]), refs
}
