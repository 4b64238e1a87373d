package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/subscriptions"
)

// GetBilling never fails on gateway trouble; the engine degrades to an empty view.
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	slug := strings.TrimSpace(r.URL.Query().Get("client_slug"))
	if slug == "" {
		slug = id.ClientSlug
	}
	if slug == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "client_slug is required"})
		return
	}

	view, err := h.billing.GetBillingInfo(r.Context(), id, slug)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type cancelRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,max=255"`
	Immediate      bool   `json:"immediate"`
}

func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.lifecycle.CancelSubscription(r.Context(), id, subscriptions.CancelRequest{
		SubscriptionID: req.SubscriptionID,
		Immediate:      req.Immediate,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type reactivateRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,max=255"`
}

func (h *Handler) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	var req reactivateRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.lifecycle.ReactivateSubscription(r.Context(), id, subscriptions.ReactivateRequest{
		SubscriptionID: req.SubscriptionID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resubscribeRequest struct {
	ProductID  string `json:"productId" validate:"required,max=255"`
	SuccessURL string `json:"successUrl" validate:"omitempty,url"`
	CancelURL  string `json:"cancelUrl" validate:"omitempty,url"`
}

func (h *Handler) Resubscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	var req resubscribeRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.lifecycle.Resubscribe(r.Context(), id, subscriptions.ResubscribeRequest{
		ProductID:      req.ProductID,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type proposalCheckoutRequest struct {
	ProposalID         string   `json:"proposalId" validate:"required,max=255"`
	SelectedPackageIDs []string `json:"selectedPackageIds" validate:"omitempty,max=100"`
	SuccessURL         string   `json:"successUrl" validate:"omitempty,url"`
	CancelURL          string   `json:"cancelUrl" validate:"omitempty,url"`
}

func (h *Handler) ProposalCheckout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	var req proposalCheckoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.lifecycle.CreateProposalCheckout(r.Context(), id, subscriptions.ProposalCheckoutRequest{
		ProposalID:         req.ProposalID,
		SelectedPackageIDs: req.SelectedPackageIDs,
		SuccessURL:         req.SuccessURL,
		CancelURL:          req.CancelURL,
		IdempotencyKey:     idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type ensureCustomerRequest struct {
	ClientSlug string `json:"clientSlug" validate:"required,max=255"`
}

func (h *Handler) EnsureCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}
	var req ensureCustomerRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.lifecycle.EnsureExternalCustomer(r.Context(), id, req.ClientSlug)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	writeJSON(w, code, res)
}
