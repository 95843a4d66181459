package tenant

import "time"

// Role classifies what a profile is allowed to see across organizations.
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleResearcher   Role = "researcher"
	RolePartnerAdmin Role = "partner_admin"
	RolePartnerUser  Role = "partner_user"
)

// Known reports whether the role is one of the recognized values.
// Unknown roles are treated as having no organization access.
func (r Role) Known() bool {
	switch r {
	case RoleAdmin, RoleResearcher, RolePartnerAdmin, RolePartnerUser:
		return true
	}
	return false
}

const (
	OrganizationStatusActive   = "active"
	OrganizationStatusInactive = "inactive"
)

// Actor is the authenticated identity as reported by the identity
// provider. It exists only for the lifetime of a session and is never
// persisted by this subsystem.
type Actor struct {
	ID    string
	Email string
}

// Organization is a tenant record from the catalog. Read-only here.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the organization is selectable by non-admins.
func (o Organization) Active() bool {
	return o.Status == OrganizationStatusActive
}

// Profile binds an actor to a role and, for partner roles, to a home
// organization. Created lazily on first successful identity resolution.
type Profile struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           Role      `json:"role"`
	OrganizationID string    `json:"organization_id,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AccessLink grants a researcher access to one organization.
type AccessLink struct {
	ResearcherID   string    `json:"researcher_id"`
	OrganizationID string    `json:"organization_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// View is the snapshot consumed by everything downstream of the tenant
// context. All domain queries must scope themselves by
// CurrentOrganization.ID; it is always access-checked or nil.
type View struct {
	State                  State          `json:"state"`
	Loading                bool           `json:"loading"`
	IsAdmin                bool           `json:"is_admin"`
	CurrentOrganization    *Organization  `json:"current_organization,omitempty"`
	AvailableOrganizations []Organization `json:"available_organizations"`
	CanAccessMultipleOrgs  bool           `json:"can_access_multiple"`
}
