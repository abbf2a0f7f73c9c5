package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Directory resolves party identities. Profiles are owned by the user
// service; this subsystem only reads them.
type Directory interface {
	// ResolveParty returns the party's profile as visible from tenantID.
	// Portal customers resolve through the contact mapping of that tenant.
	ResolveParty(ctx context.Context, tenantID, partyID string) (Party, error)
}

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) ResolveParty(ctx context.Context, tenantID, partyID string) (Party, error) {
	var p Party
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, tenant_id, display_name, FALSE AS portal_customer
		FROM users
		WHERE user_id = $1 AND tenant_id = $2
		UNION ALL
		SELECT pc.user_id, c.tenant_id, c.display_name, TRUE AS portal_customer
		FROM portal_customers pc
		JOIN contacts c ON c.contact_id = pc.contact_id
		WHERE pc.user_id = $1 AND c.tenant_id = $2
		LIMIT 1`, partyID, tenantID).
		Scan(&p.ID, &p.TenantID, &p.DisplayName, &p.PortalCustomer)
	if errors.Is(err, sql.ErrNoRows) {
		return Party{}, ErrNotFound
	}
	if err != nil {
		return Party{}, fmt.Errorf("calls: resolve party: %w", err)
	}
	return p, nil
}

// StaticDirectory serves a fixed set of parties. Useful for tests.
type StaticDirectory struct {
	Parties map[string]Party // keyed by party id
}

func (d *StaticDirectory) ResolveParty(ctx context.Context, tenantID, partyID string) (Party, error) {
	p, ok := d.Parties[partyID]
	if !ok || p.TenantID != tenantID {
		return Party{}, ErrNotFound
	}
	return p, nil
}
