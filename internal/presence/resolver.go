package presence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// TenantResolver decides which tenant a party's presence is filed under.
//
// A portal customer's presence must live in the CRM tenant that owns their
// originating contact record, not in their own account tenant, so staff see
// them in a single roster. This is a deliberate business rule and is kept as
// its own step so it can be tested in isolation.
type TenantResolver interface {
	FilingTenant(ctx context.Context, partyID, accountTenantID string) (string, error)
}

// PostgresTenantResolver resolves through the portal_customers -> contacts
// mapping, which is read-only from this subsystem's perspective.
type PostgresTenantResolver struct {
	db *sql.DB
}

func NewPostgresTenantResolver(db *sql.DB) *PostgresTenantResolver {
	return &PostgresTenantResolver{db: db}
}

func (r *PostgresTenantResolver) FilingTenant(ctx context.Context, partyID, accountTenantID string) (string, error) {
	var crmTenant string
	err := r.db.QueryRowContext(ctx, `
		SELECT c.tenant_id
		FROM portal_customers pc
		JOIN contacts c ON c.contact_id = pc.contact_id
		WHERE pc.user_id = $1`, partyID).Scan(&crmTenant)
	if errors.Is(err, sql.ErrNoRows) {
		// not a portal customer; file under the party's own tenant
		return accountTenantID, nil
	}
	if err != nil {
		return "", fmt.Errorf("presence: resolve filing tenant: %w", err)
	}
	return crmTenant, nil
}

// StaticTenantResolver maps specific portal customers to CRM tenants and
// defaults everyone else to their account tenant. Useful for tests.
type StaticTenantResolver struct {
	Portal map[string]string // party id -> CRM tenant
}

func (r *StaticTenantResolver) FilingTenant(ctx context.Context, partyID, accountTenantID string) (string, error) {
	if t, ok := r.Portal[partyID]; ok {
		return t, nil
	}
	return accountTenantID, nil
}
