package pgstore

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/clinicbilling/pkg/billing"
)

// RoleAdmin is the users.role value of a clinic administrator.
const RoleAdmin = "admin"

func (s *Store) TenantByEmail(ctx context.Context, email string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id FROM users WHERE lower(email) = $1 LIMIT 1`, normalizeEmail(email),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, billing.ErrTenantNotFound
	}
	return id, wrap(err, "tenant by email")
}

func (s *Store) TenantAdmin(ctx context.Context, tenantID uuid.UUID) (*billing.Contact, error) {
	return s.contact(ctx,
		`SELECT email, name FROM users WHERE tenant_id = $1 AND role = $2 ORDER BY email LIMIT 1`,
		tenantID, RoleAdmin)
}

func (s *Store) ContactByEmail(ctx context.Context, email string) (*billing.Contact, error) {
	return s.contact(ctx,
		`SELECT email, name FROM users WHERE lower(email) = $1 LIMIT 1`, normalizeEmail(email))
}

func (s *Store) CountPatients(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM patients WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID,
	).Scan(&n)
	return n, wrap(err, "count patients")
}

func (s *Store) StorageUsed(ctx context.Context, tenantID uuid.UUID) (billing.StorageUsage, error) {
	var u billing.StorageUsage
	err := s.pool.QueryRow(ctx,
		`SELECT coalesce(sum(size), 0)::bigint, count(*) FROM files WHERE tenant_id = $1`, tenantID,
	).Scan(&u.Bytes, &u.Files)
	return u, wrap(err, "sum file sizes")
}

func (s *Store) contact(ctx context.Context, query string, args ...any) (*billing.Contact, error) {
	var c billing.Contact
	err := s.pool.QueryRow(ctx, query, args...).Scan(&c.Email, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, billing.ErrContactNotFound
	}
	if err != nil {
		return nil, wrap(err, "find contact")
	}
	return &c, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
