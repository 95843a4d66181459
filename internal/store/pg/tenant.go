package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/tenant"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var (
	_ tenant.Catalog         = (*Store)(nil)
	_ tenant.ProfileStore    = (*Store)(nil)
	_ tenant.AccessLinkStore = (*Store)(nil)
)

// List returns the full organization catalog ordered by name. An empty
// catalog is a valid answer, not an error.
func (s *Store) List(ctx context.Context) ([]tenant.Organization, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, name, status, created_at, updated_at
		from organizations
		order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tenant.Organization
	for rows.Next() {
		var org tenant.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Status, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, org)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get loads a profile by actor id.
func (s *Store) Get(ctx context.Context, actorID string) (*tenant.Profile, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	var (
		p     tenant.Profile
		role  string
		orgID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, email, role, organization_id, is_active, created_at, updated_at
		from profiles
		where id = $1
	`, actorID).Scan(&p.ID, &p.Name, &p.Email, &role, &orgID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Role = tenant.Role(role)
	if orgID.Valid {
		p.OrganizationID = orgID.String
	}
	return &p, nil
}

// Create inserts a new profile row. A duplicate id maps to
// tenant.ErrConflict so the ensure path can fall back to the winner.
func (s *Store) Create(ctx context.Context, profile *tenant.Profile) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	if profile == nil || strings.TrimSpace(profile.ID) == "" {
		return fmt.Errorf("%w: profile id is required", tenant.ErrInvalidInput)
	}
	orgID := sql.NullString{String: profile.OrganizationID, Valid: profile.OrganizationID != ""}
	_, err := s.db.ExecContext(ctx, `
		insert into profiles (id, name, email, role, organization_id, is_active)
		values ($1, $2, $3, $4, $5, $6)
	`, profile.ID, profile.Name, profile.Email, string(profile.Role), orgID, profile.IsActive)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return tenant.ErrConflict
		}
		return err
	}
	return nil
}

// UpdateOrganization persists the actor's selected home organization.
func (s *Store) UpdateOrganization(ctx context.Context, actorID, organizationID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update profiles
		set organization_id = $2, updated_at = now()
		where id = $1
	`, actorID, organizationID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return tenant.ErrNotFound
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return tenant.ErrNotFound
	}
	return nil
}

// ListOrganizationsForResearcher returns the organization ids granted
// to the researcher through access links.
func (s *Store) ListOrganizationsForResearcher(ctx context.Context, researcherID string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select organization_id
		from researcher_organizations
		where researcher_id = $1
		order by organization_id
	`, researcherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
