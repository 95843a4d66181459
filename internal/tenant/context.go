package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// State tracks initialization progress of a session context.
type State int

const (
	StateIdle State = iota
	StateResolvingIdentity
	StateEnsuringProfile
	StateComputingAccess
	StateSelectingDefault
	StateReady
	StateUnauthenticated
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StateResolvingIdentity: "resolving_identity",
	StateEnsuringProfile:   "ensuring_profile",
	StateComputingAccess:   "computing_access",
	StateSelectingDefault:  "selecting_default",
	StateReady:             "ready",
	StateUnauthenticated:   "unauthenticated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the state name in JSON views.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether initialization has finished, successfully
// or by falling back to the unauthenticated state.
func (s State) Terminal() bool {
	return s == StateReady || s == StateUnauthenticated
}

// Notifier receives context lifecycle events for audit, metrics and
// live subscribers. Implementations must not block.
type Notifier interface {
	ContextEvent(ctx context.Context, event string, fields map[string]any)
}

// Event names emitted through the Notifier.
const (
	EventContextReady       = "tenant.context.ready"
	EventUnauthenticated    = "tenant.context.unauthenticated"
	EventProfileBootstrap   = "tenant.profile.bootstrap"
	EventPreferredOrgStale  = "tenant.preferred_org.stale"
	EventOrganizationSwitch = "tenant.organization.switch"
	EventSwitchRejected     = "tenant.organization.switch_rejected"
	EventPersistenceFailed  = "tenant.organization.persist_failed"
	EventInitFailed         = "tenant.context.init_failed"
)

// Deps bundles the collaborators a Context sequences during Init.
type Deps struct {
	Identity IdentityResolver
	Catalog  Catalog
	Profiles ProfileStore
	Links    AccessLinkStore
}

// Context resolves which organizations an actor may operate in and
// keeps a single selected organization for the session. One instance
// per session; the only writers are Init and SetCurrentOrganization.
type Context struct {
	deps            Deps
	bootstrapAdmins map[string]struct{}
	notifier        Notifier
	now             func() time.Time
	persistTimeout  time.Duration

	mu           sync.Mutex
	state        State
	initializing bool
	closed       bool

	actor     *Actor
	profile   *Profile
	isAdmin   bool
	access    AccessSet
	catalog   []Organization
	available []Organization
	current   *Organization
}

// Option configures a Context.
type Option func(*Context)

// WithBootstrapAdmins injects the allowlist of actor emails that are
// always granted administrative access, independent of their profile.
func WithBootstrapAdmins(emails []string) Option {
	return func(c *Context) {
		for _, e := range emails {
			e = strings.TrimSpace(strings.ToLower(e))
			if e != "" {
				c.bootstrapAdmins[e] = struct{}{}
			}
		}
	}
}

// WithNotifier wires lifecycle event delivery.
func WithNotifier(n Notifier) Option {
	return func(c *Context) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Context) {
		if fn != nil {
			c.now = fn
		}
	}
}

// WithPersistTimeout bounds the background profile write issued by
// SetCurrentOrganization.
func WithPersistTimeout(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.persistTimeout = d
		}
	}
}

// NewContext constructs an idle session context.
func NewContext(deps Deps, opts ...Option) *Context {
	c := &Context{
		deps:            deps,
		bootstrapAdmins: make(map[string]struct{}),
		now:             time.Now,
		persistTimeout:  5 * time.Second,
		state:           StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init runs the resolution sequence:
//
//	Idle -> ResolvingIdentity -> EnsuringProfile -> ComputingAccess
//	     -> SelectingDefault -> Ready (or Unauthenticated)
//
// The catalog and identity lookups run concurrently; everything after
// them is strictly sequential, so default selection can never observe
// a partially computed available list. Re-invoking Init while a run is
// in flight, or after a terminal state was reached, is a no-op. A
// failed run rewinds so the next call retries.
func (c *Context) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state.Terminal() || c.initializing {
		c.mu.Unlock()
		return nil
	}
	c.initializing = true
	c.state = StateResolvingIdentity
	c.mu.Unlock()

	err := c.run(ctx)
	if err != nil {
		c.notify(ctx, EventInitFailed, map[string]any{"error": err.Error()})
	}
	return err
}

func (c *Context) run(ctx context.Context) error {
	var (
		catalog []Organization
		actor   *Actor
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := c.deps.Catalog.List(gctx)
		if err != nil {
			return fmt.Errorf("list organizations: %w", err)
		}
		catalog = list
		return nil
	})
	g.Go(func() error {
		// Resolver failures mean "not authenticated", never an error.
		resolved, err := c.deps.Identity.Resolve(gctx)
		if err == nil {
			actor = resolved
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		// Without a catalog the sequence cannot start; rewind for retry.
		c.rewind(StateIdle)
		return err
	}

	if actor == nil {
		return c.finishUnauthenticated(ctx)
	}

	if !c.advance(StateEnsuringProfile) {
		return ErrClosed
	}
	isAdmin := c.isBootstrapAdmin(actor.Email)
	profile, created, err := c.ensureProfile(ctx, actor, isAdmin)
	if err != nil {
		// Remain in EnsuringProfile; the next Init call retries.
		c.rewind(StateEnsuringProfile)
		return fmt.Errorf("ensure profile: %w", err)
	}
	if created {
		c.notify(ctx, EventProfileBootstrap, map[string]any{
			"actor_id": actor.ID,
			"role":     string(profile.Role),
		})
	}
	isAdmin = isAdmin || (profile.Role == RoleAdmin && profile.IsActive)

	if !c.advance(StateComputingAccess) {
		return ErrClosed
	}
	access := AccessSet{All: isAdmin, IDs: map[string]struct{}{}}
	if !isAdmin {
		access = ComputeAccessibleOrganizationIDs(ctx, profile, c.deps.Links)
	}

	available := availableOrganizations(catalog, access, isAdmin)

	if !c.advance(StateSelectingDefault) {
		return ErrClosed
	}
	current := c.selectDefault(ctx, catalog, available, profile, isAdmin)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.actor = actor
	c.profile = profile
	c.isAdmin = isAdmin
	c.access = access
	c.catalog = catalog
	c.available = available
	c.current = current
	c.state = StateReady
	c.initializing = false
	c.mu.Unlock()

	fields := map[string]any{
		"actor_id":  actor.ID,
		"is_admin":  isAdmin,
		"available": len(available),
	}
	if current != nil {
		fields["organization_id"] = current.ID
	}
	c.notify(ctx, EventContextReady, fields)
	return nil
}

func (c *Context) finishUnauthenticated(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateUnauthenticated
	c.available = nil
	c.current = nil
	c.initializing = false
	c.mu.Unlock()
	c.notify(ctx, EventUnauthenticated, nil)
	return nil
}

// ensureProfile loads the actor's profile, creating it exactly once on
// first sight. A create that loses a race against a concurrent session
// falls back to reading the winner's row.
func (c *Context) ensureProfile(ctx context.Context, actor *Actor, bootstrapAdmin bool) (*Profile, bool, error) {
	profile, err := c.deps.Profiles.Get(ctx, actor.ID)
	if err == nil {
		return profile, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	role := RolePartnerUser
	if bootstrapAdmin {
		role = RoleAdmin
	}
	now := c.now().UTC()
	fresh := &Profile{
		ID:        actor.ID,
		Name:      nameFromEmail(actor.Email),
		Email:     actor.Email,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.deps.Profiles.Create(ctx, fresh); err != nil {
		if errors.Is(err, ErrConflict) {
			existing, getErr := c.deps.Profiles.Get(ctx, actor.ID)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return fresh, true, nil
}

// selectDefault picks the current organization by priority: admins get
// the first catalog entry; otherwise the profile's home organization
// when it is still active in the catalog; otherwise the first
// available organization; otherwise none.
func (c *Context) selectDefault(ctx context.Context, catalog, available []Organization, profile *Profile, isAdmin bool) *Organization {
	if isAdmin {
		if len(catalog) == 0 {
			return nil
		}
		org := catalog[0]
		return &org
	}
	if profile != nil && profile.OrganizationID != "" {
		if org, ok := findOrganization(catalog, profile.OrganizationID); ok && org.Active() {
			return &org
		}
		c.notify(ctx, EventPreferredOrgStale, map[string]any{
			"actor_id":        profile.ID,
			"organization_id": profile.OrganizationID,
		})
	}
	if len(available) > 0 {
		org := available[0]
		return &org
	}
	return nil
}

// SetCurrentOrganization switches the session to the given
// organization. Non-admins may only pick from the available list;
// admins may pick anything in the catalog. The in-memory switch is
// synchronous; the profile write for non-admins is fire-and-forget and
// its failure never reverts the selection.
func (c *Context) SetCurrentOrganization(ctx context.Context, organizationID string) (View, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return View{}, ErrInvalidInput
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return View{}, ErrClosed
	}
	if c.state == StateUnauthenticated {
		view := c.viewLocked()
		c.mu.Unlock()
		return view, ErrUnauthenticated
	}
	if c.state != StateReady {
		view := c.viewLocked()
		c.mu.Unlock()
		return view, ErrUnavailable
	}
	pool := c.available
	if c.isAdmin {
		pool = c.catalog
	}
	org, ok := findOrganization(pool, organizationID)
	if !ok {
		actorID := c.actor.ID
		view := c.viewLocked()
		c.mu.Unlock()
		c.notify(ctx, EventSwitchRejected, map[string]any{
			"actor_id":        actorID,
			"organization_id": organizationID,
		})
		return view, ErrNotAvailable
	}
	c.current = &org
	actorID := c.actor.ID
	persist := !c.isAdmin
	view := c.viewLocked()
	c.mu.Unlock()

	c.notify(ctx, EventOrganizationSwitch, map[string]any{
		"actor_id":        actorID,
		"organization_id": org.ID,
	})
	if persist {
		go c.persistSelection(actorID, org.ID)
	}
	return view, nil
}

func (c *Context) persistSelection(actorID, organizationID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()
	if err := c.deps.Profiles.UpdateOrganization(ctx, actorID, organizationID); err != nil {
		// Best effort: the optimistic in-memory selection stands.
		c.notify(ctx, EventPersistenceFailed, map[string]any{
			"actor_id":        actorID,
			"organization_id": organizationID,
			"error":           err.Error(),
		})
	}
}

// View returns the current snapshot. ok is false while initialization
// is still in flight; callers must treat that as "context unavailable"
// rather than an empty-but-usable state.
func (c *Context) View() (View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := c.viewLocked()
	return view, c.state.Terminal()
}

func (c *Context) viewLocked() View {
	view := View{
		State:                  c.state,
		Loading:                !c.state.Terminal(),
		IsAdmin:                c.isAdmin,
		AvailableOrganizations: append([]Organization{}, c.available...),
	}
	if c.current != nil {
		org := *c.current
		view.CurrentOrganization = &org
	}
	view.CanAccessMultipleOrgs = c.isAdmin || len(c.available) > 1
	return view
}

// State returns the current machine state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close marks the context dead. In-flight continuations observe the
// flag before mutating state, so a torn-down session is never written.
func (c *Context) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Context) advance(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.state = next
	return true
}

// rewind returns the machine to a retryable state after a failed run.
func (c *Context) rewind(to State) {
	c.mu.Lock()
	if !c.closed {
		c.state = to
	}
	c.initializing = false
	c.mu.Unlock()
}

func (c *Context) isBootstrapAdmin(email string) bool {
	_, ok := c.bootstrapAdmins[strings.TrimSpace(strings.ToLower(email))]
	return ok
}

func (c *Context) notify(ctx context.Context, event string, fields map[string]any) {
	if c.notifier == nil {
		return
	}
	c.notifier.ContextEvent(ctx, event, fields)
}

func availableOrganizations(catalog []Organization, access AccessSet, isAdmin bool) []Organization {
	if isAdmin {
		return append([]Organization(nil), catalog...)
	}
	var out []Organization
	for _, org := range catalog {
		if org.Active() && access.Contains(org.ID) {
			out = append(out, org)
		}
	}
	return out
}

func findOrganization(list []Organization, id string) (Organization, bool) {
	for _, org := range list {
		if org.ID == id {
			return org, true
		}
	}
	return Organization{}, false
}

func nameFromEmail(email string) string {
	email = strings.TrimSpace(email)
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
