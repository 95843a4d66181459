package tenant

import "context"

// AccessSet is the outcome of the access policy: either every
// organization (admins) or an explicit id set.
type AccessSet struct {
	All bool
	IDs map[string]struct{}
}

// Contains reports whether the set includes the organization id.
func (s AccessSet) Contains(id string) bool {
	if s.All {
		return true
	}
	_, ok := s.IDs[id]
	return ok
}

// ComputeAccessibleOrganizationIDs returns the organizations the
// profile may operate in, before any status filtering:
//
//   - admin: every organization, irrespective of status.
//   - researcher: the organizations granted through access links.
//   - partner_admin / partner_user: the profile's home organization.
//   - anything else: nothing.
//
// The function is deterministic and has no side effects beyond the
// link lookup. A failed lookup denies access rather than propagating.
func ComputeAccessibleOrganizationIDs(ctx context.Context, profile *Profile, links AccessLinkStore) AccessSet {
	set := AccessSet{IDs: make(map[string]struct{})}
	if profile == nil {
		return set
	}
	switch profile.Role {
	case RoleAdmin:
		if profile.IsActive {
			set.All = true
		}
	case RoleResearcher:
		if links == nil {
			return set
		}
		granted, err := links.ListOrganizationsForResearcher(ctx, profile.ID)
		if err != nil {
			// Fail-safe deny: an unreadable grant table must not widen access.
			return AccessSet{IDs: map[string]struct{}{}}
		}
		for _, id := range granted {
			if id != "" {
				set.IDs[id] = struct{}{}
			}
		}
	case RolePartnerAdmin, RolePartnerUser:
		if profile.OrganizationID != "" {
			set.IDs[profile.OrganizationID] = struct{}{}
		}
	}
	return set
}
