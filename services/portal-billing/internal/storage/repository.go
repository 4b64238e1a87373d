package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/clientportal/libs/db"
	"github.com/md-rashed-zaman/clientportal/services/portal-billing/internal/model"
)

const proposalsSection = "proposals"

var ErrDuplicateProviderEvent = errors.New("duplicate provider event")

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

const clientColumns = `id::text, slug, name, email, COALESCE(stripe_customer_id, '')`

func scanClient(row pgx.Row) (model.Client, error) {
	var c model.Client
	err := row.Scan(&c.ID, &c.Slug, &c.Name, &c.Email, &c.StripeCustomerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Client{}, errors.Mark(err, model.ErrNotFound)
	}
	return c, err
}

func (r *Repository) GetClientBySlug(ctx context.Context, slug string) (model.Client, error) {
	c, err := scanClient(r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE slug = $1`, slug))
	return c, errors.Wrapf(err, "client %q", slug)
}

func (r *Repository) GetClientByID(ctx context.Context, id string) (model.Client, error) {
	c, err := scanClient(r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id::text = $1`, id))
	return c, errors.Wrapf(err, "client id %q", id)
}

func (r *Repository) GetClientByCustomerID(ctx context.Context, customerID string) (model.Client, error) {
	c, err := scanClient(r.pool.QueryRow(ctx, `
		SELECT `+clientColumns+`
		FROM clients
		WHERE stripe_customer_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, customerID))
	return c, errors.Wrapf(err, "client for customer %q", customerID)
}

// SetClientCustomerID replaces the stored gateway customer id. There is
// deliberately no way to clear it.
func (r *Repository) SetClientCustomerID(ctx context.Context, clientID, customerID string) error {
	if strings.TrimSpace(customerID) == "" {
		return model.BadRequest("customer id is required")
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE clients
		SET stripe_customer_id = $2, updated_at = now()
		WHERE id::text = $1
	`, clientID, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("client id %q", clientID)
	}
	return nil
}

const proposalQuery = `
	SELECT r.id::text, r.client_id::text, COALESCE(r.project_id::text, ''), COALESCE(p.name, ''), r.title, r.metadata
	FROM resources r
	LEFT JOIN projects p ON p.id = r.project_id
	WHERE r.section = 'proposals'`

func scanProposal(row pgx.Row) (model.Proposal, error) {
	var p model.Proposal
	var meta []byte
	if err := row.Scan(&p.ID, &p.ClientID, &p.ProjectID, &p.ProjectName, &p.Title, &meta); err != nil {
		return model.Proposal{}, err
	}
	// Unreadable metadata leaves the proposal without links or pricing.
	if refs, pricing, err := model.DecodeProposalMetadata(meta); err == nil {
		p.Refs, p.Pricing = refs, pricing
	}
	return p, nil
}

func (r *Repository) ListProposals(ctx context.Context, clientID string) ([]model.Proposal, error) {
	rows, err := r.pool.Query(ctx, proposalQuery+` AND r.client_id::text = $1 ORDER BY r.created_at DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) GetProposal(ctx context.Context, id string) (model.Proposal, error) {
	p, err := scanProposal(r.pool.QueryRow(ctx, proposalQuery+` AND r.id::text = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Proposal{}, model.NotFound("proposal %q", id)
	}
	return p, err
}

// LinkProposalFromEvent records a provider event and merges the gateway ids
// into the proposal metadata in one transaction. A replayed event returns
// ErrDuplicateProviderEvent and changes nothing.
func (r *Repository) LinkProposalFromEvent(ctx context.Context, evt ProviderEvent, proposalID string, refs model.ExternalRefs) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertProviderEvent(ctx, tx, evt); err != nil {
		return err
	}
	if proposalID != "" && !refs.IsZero() {
		patch, err := json.Marshal(model.EncodeRefs(refs))
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE resources
			SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb, updated_at = now()
			WHERE id::text = $1 AND section = $3
		`, proposalID, patch, proposalsSection)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return model.NotFound("proposal %q", proposalID)
		}
	}
	return tx.Commit(ctx)
}

// RecordProviderEvent stores an event that needs no further processing.
func (r *Repository) RecordProviderEvent(ctx context.Context, evt ProviderEvent) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := insertProviderEvent(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertProviderEvent(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	var payload any
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		return errors.Wrap(err, "provider event payload")
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, evt.Provider, evt.ProviderEventID, evt.EventType, payload)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateProviderEvent
	}
	return nil
}
