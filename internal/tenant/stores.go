package tenant

import "context"

// IdentityResolver answers "who is authenticated right now". A nil
// actor with a nil error means not authenticated; implementations must
// fold provider failures into that answer instead of returning them.
type IdentityResolver interface {
	Resolve(ctx context.Context) (*Actor, error)
}

// Catalog supplies the full organization list in stable iteration order.
type Catalog interface {
	List(ctx context.Context) ([]Organization, error)
}

// ProfileStore persists actor profiles keyed by actor id.
type ProfileStore interface {
	Get(ctx context.Context, actorID string) (*Profile, error)
	Create(ctx context.Context, profile *Profile) error
	UpdateOrganization(ctx context.Context, actorID, organizationID string) error
}

// AccessLinkStore supplies researcher-to-organization grants.
type AccessLinkStore interface {
	ListOrganizationsForResearcher(ctx context.Context, researcherID string) ([]string, error)
}
