package storage

import (
	"context"
	"sync"

	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
)

// Memory is an in-process store with the same semantics as Repository. It backs
// tests and local runs without a database.
type Memory struct {
	mu        sync.RWMutex
	clients   map[string]model.Client
	proposals map[string]model.Proposal
	order     []string
	events    map[string]ProviderEvent
}

func NewMemory() *Memory {
	return &Memory{
		clients:   map[string]model.Client{},
		proposals: map[string]model.Proposal{},
		events:    map[string]ProviderEvent{},
	}
}

func (m *Memory) PutClient(c model.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.ID] = c
}

func (m *Memory) PutProposal(p model.Proposal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.proposals[p.ID] = p
}

func (m *Memory) GetClientBySlug(_ context.Context, slug string) (model.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.Slug == slug {
			return c, nil
		}
	}
	return model.Client{}, model.NotFound("client %q", slug)
}

func (m *Memory) GetClientByID(_ context.Context, id string) (model.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.clients[id]; ok {
		return c, nil
	}
	return model.Client{}, model.NotFound("client id %q", id)
}

func (m *Memory) GetClientByCustomerID(_ context.Context, customerID string) (model.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if customerID != "" && c.StripeCustomerID == customerID {
			return c, nil
		}
	}
	return model.Client{}, model.NotFound("client for customer %q", customerID)
}

func (m *Memory) SetClientCustomerID(_ context.Context, clientID, customerID string) error {
	if customerID == "" {
		return model.BadRequest("customer id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return model.NotFound("client id %q", clientID)
	}
	c.StripeCustomerID = customerID
	m.clients[clientID] = c
	return nil
}

func (m *Memory) ListProposals(_ context.Context, clientID string) ([]model.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Proposal
	for _, id := range m.order {
		if p := m.proposals[id]; p.ClientID == clientID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *Memory) GetProposal(_ context.Context, id string) (model.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.proposals[id]; ok {
		return p, nil
	}
	return model.Proposal{}, model.NotFound("proposal %q", id)
}

func (m *Memory) LinkProposalFromEvent(_ context.Context, evt ProviderEvent, proposalID string, refs model.ExternalRefs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := evt.Provider + "/" + evt.ProviderEventID
	if _, dup := m.events[key]; dup {
		return ErrDuplicateProviderEvent
	}
	if proposalID != "" && !refs.IsZero() {
		p, ok := m.proposals[proposalID]
		if !ok {
			return model.NotFound("proposal %q", proposalID)
		}
		if refs.PaymentIntentID != "" {
			p.Refs.PaymentIntentID = refs.PaymentIntentID
		}
		if refs.SubscriptionID != "" {
			p.Refs.SubscriptionID = refs.SubscriptionID
		}
		if refs.InvoiceID != "" {
			p.Refs.InvoiceID = refs.InvoiceID
		}
		m.proposals[proposalID] = p
	}
	m.events[key] = evt
	return nil
}

func (m *Memory) RecordProviderEvent(_ context.Context, evt ProviderEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := evt.Provider + "/" + evt.ProviderEventID
	if _, dup := m.events[key]; dup {
		return ErrDuplicateProviderEvent
	}
	m.events[key] = evt
	return nil
}
