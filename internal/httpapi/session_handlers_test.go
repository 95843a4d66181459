package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/identity"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/stream"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/tenant"
)

type memCatalog struct {
	orgs []tenant.Organization
}

func (m memCatalog) List(ctx context.Context) ([]tenant.Organization, error) {
	return append([]tenant.Organization(nil), m.orgs...), nil
}

type memProfiles struct {
	mu   sync.Mutex
	byID map[string]*tenant.Profile
}

func newMemProfiles(existing ...*tenant.Profile) *memProfiles {
	m := &memProfiles{byID: make(map[string]*tenant.Profile)}
	for _, p := range existing {
		cp := *p
		m.byID[p.ID] = &cp
	}
	return m
}

func (m *memProfiles) Get(ctx context.Context, actorID string) (*tenant.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[actorID]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProfiles) Create(ctx context.Context, profile *tenant.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[profile.ID]; ok {
		return tenant.ErrConflict
	}
	cp := *profile
	m.byID[profile.ID] = &cp
	return nil
}

func (m *memProfiles) UpdateOrganization(ctx context.Context, actorID, organizationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[actorID]
	if !ok {
		return tenant.ErrNotFound
	}
	p.OrganizationID = organizationID
	return nil
}

type memLinks struct {
	ids map[string][]string
}

func (m memLinks) ListOrganizationsForResearcher(ctx context.Context, researcherID string) ([]string, error) {
	return m.ids[researcherID], nil
}

// viewPayload mirrors tenant.View for decoding responses; the state
// arrives as its text form.
type viewPayload struct {
	State                  string                `json:"state"`
	Loading                bool                  `json:"loading"`
	IsAdmin                bool                  `json:"is_admin"`
	CurrentOrganization    *tenant.Organization  `json:"current_organization"`
	AvailableOrganizations []tenant.Organization `json:"available_organizations"`
	CanAccessMultiple      bool                  `json:"can_access_multiple"`
}

type fixture struct {
	api      *API
	handler  http.Handler
	resolver *identity.Resolver
	events   *stream.Stream
	profiles *memProfiles
}

func newFixture(t *testing.T, catalog []tenant.Organization, profiles *memProfiles, links memLinks) *fixture {
	t.Helper()
	resolver, err := identity.NewResolver("httpapi-test-secret")
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	events := stream.New()
	registry := tenant.NewRegistry(
		tenant.Deps{
			Identity: resolver,
			Catalog:  memCatalog{orgs: catalog},
			Profiles: profiles,
			Links:    links,
		},
		[]tenant.Option{tenant.WithNotifier(NewContextNotifier(events))},
	)
	t.Cleanup(registry.Close)

	api := New(ReadyProbe{}, "test", resolver, registry, events)
	return &fixture{
		api:      api,
		handler:  api.Handler(),
		resolver: resolver,
		events:   events,
		profiles: profiles,
	}
}

func (f *fixture) token(t *testing.T, actorID, email string) string {
	t.Helper()
	token, err := f.resolver.GenerateToken(actorID, email, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return token
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) viewPayload {
	t.Helper()
	var view viewPayload
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view
}

func defaultCatalog() []tenant.Organization {
	return []tenant.Organization{
		{ID: "org-2", Name: "Org 2", Status: tenant.OrganizationStatusActive},
		{ID: "org-4", Name: "Org 4", Status: tenant.OrganizationStatusActive},
		{ID: "org-7", Name: "Org 7", Status: tenant.OrganizationStatusActive},
	}
}

func TestSessionContextWithoutToken(t *testing.T) {
	fx := newFixture(t, defaultCatalog(), newMemProfiles(), memLinks{})
	rec := fx.do(t, httptest.NewRequest(http.MethodGet, "/v1/session/context", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decodeView(t, rec)
	if view.State != "unauthenticated" {
		t.Fatalf("state = %s", view.State)
	}
	if view.CurrentOrganization != nil || len(view.AvailableOrganizations) != 0 {
		t.Fatalf("unauthenticated view must be empty: %+v", view)
	}
}

func TestSessionContextGarbageToken(t *testing.T) {
	fx := newFixture(t, defaultCatalog(), newMemProfiles(), memLinks{})
	req := httptest.NewRequest(http.MethodGet, "/v1/session/context", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := fx.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if view := decodeView(t, rec); view.State != "unauthenticated" {
		t.Fatalf("state = %s", view.State)
	}
}

func TestSessionContextPartner(t *testing.T) {
	profiles := newMemProfiles(&tenant.Profile{
		ID: "u2", Email: "p@x.y", Role: tenant.RolePartnerUser, OrganizationID: "org-7", IsActive: true,
	})
	fx := newFixture(t, defaultCatalog(), profiles, memLinks{})

	req := httptest.NewRequest(http.MethodGet, "/v1/session/context", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token(t, "u2", "p@x.y"))
	rec := fx.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decodeView(t, rec)
	if view.State != "ready" || view.IsAdmin {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.CurrentOrganization == nil || view.CurrentOrganization.ID != "org-7" {
		t.Fatalf("current = %+v", view.CurrentOrganization)
	}
	if len(view.AvailableOrganizations) != 1 {
		t.Fatalf("available = %+v", view.AvailableOrganizations)
	}
}

func TestSessionContextBootstrapsProfile(t *testing.T) {
	profiles := newMemProfiles()
	fx := newFixture(t, defaultCatalog(), profiles, memLinks{})

	req := httptest.NewRequest(http.MethodGet, "/v1/session/context", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token(t, "new-user", "fresh@x.y"))
	rec := fx.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decodeView(t, rec)
	if view.State != "ready" {
		t.Fatalf("state = %s", view.State)
	}

	created, err := profiles.Get(context.Background(), "new-user")
	if err != nil {
		t.Fatalf("profile was not created: %v", err)
	}
	if created.Role != tenant.RolePartnerUser {
		t.Fatalf("default role = %s", created.Role)
	}
}

func TestSessionContextPreferredOrgHint(t *testing.T) {
	profiles := newMemProfiles(&tenant.Profile{
		ID: "res-1", Email: "r@x.y", Role: tenant.RoleResearcher, IsActive: true,
	})
	links := memLinks{ids: map[string][]string{"res-1": {"org-2", "org-4"}}}
	fx := newFixture(t, defaultCatalog(), profiles, links)

	req := httptest.NewRequest(http.MethodGet, "/v1/session/context", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token(t, "res-1", "r@x.y"))
	req.Header.Set(preferredOrgHeader, "org-4")
	rec := fx.do(t, req)

	view := decodeView(t, rec)
	if view.CurrentOrganization == nil || view.CurrentOrganization.ID != "org-4" {
		t.Fatalf("hint was not applied: %+v", view.CurrentOrganization)
	}
}

func TestSessionContextIgnoresUnauthorizedHint(t *testing.T) {
	profiles := newMemProfiles(&tenant.Profile{
		ID: "u2", Email: "p@x.y", Role: tenant.RolePartnerUser, OrganizationID: "org-7", IsActive: true,
	})
	fx := newFixture(t, defaultCatalog(), profiles, memLinks{})

	req := httptest.NewRequest(http.MethodGet, "/v1/session/context", nil)
	req.Header.Set("Authorization", "Bearer "+fx.token(t, "u2", "p@x.y"))
	req.Header.Set(preferredOrgHeader, "org-2")
	rec := fx.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	view := decodeView(t, rec)
	if view.CurrentOrganization == nil || view.CurrentOrganization.ID != "org-7" {
		t.Fatalf("unauthorized hint must be ignored: %+v", view.CurrentOrganization)
	}
}

func TestSessionOrganizationSwitch(t *testing.T) {
	profiles := newMemProfiles(&tenant.Profile{
		ID: "res-1", Email: "r@x.y", Role: tenant.RoleResearcher, IsActive: true,
	})
	links := memLinks{ids: map[string][]string{"res-1": {"org-2", "org-4"}}}
	fx := newFixture(t, defaultCatalog(), profiles, links)
	token := fx.token(t, "res-1", "r@x.y")

	req := httptest.NewRequest(http.MethodPut, "/v1/session/organization",
		strings.NewReader(`{"organization_id":"org-4"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := fx.do(t, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	view := decodeView(t, rec)
	if view.CurrentOrganization == nil || view.CurrentOrganization.ID != "org-4" {
		t.Fatalf("switch did not apply: %+v", view.CurrentOrganization)
	}
}

func TestSessionOrganizationRejected(t *testing.T) {
	profiles := newMemProfiles(&tenant.Profile{
		ID: "u2", Email: "p@x.y", Role: tenant.RolePartnerUser, OrganizationID: "org-7", IsActive: true,
	})
	fx := newFixture(t, defaultCatalog(), profiles, memLinks{})
	token := fx.token(t, "u2", "p@x.y")

	req := httptest.NewRequest(http.MethodPut, "/v1/session/organization",
		strings.NewReader(`{"organization_id":"org-2"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := fx.do(t, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "organization_not_available") {
		t.Fatalf("body = %s", rec.Body.String())
	}

	// The session still points at the original organization.
	get := httptest.NewRequest(http.MethodGet, "/v1/session/context", nil)
	get.Header.Set("Authorization", "Bearer "+token)
	view := decodeView(t, fx.do(t, get))
	if view.CurrentOrganization == nil || view.CurrentOrganization.ID != "org-7" {
		t.Fatalf("rejected switch leaked: %+v", view.CurrentOrganization)
	}
}

func TestSessionOrganizationRequiresAuth(t *testing.T) {
	fx := newFixture(t, defaultCatalog(), newMemProfiles(), memLinks{})
	req := httptest.NewRequest(http.MethodPut, "/v1/session/organization",
		strings.NewReader(`{"organization_id":"org-2"}`))
	if rec := fx.do(t, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessionOrganizationBadBody(t *testing.T) {
	profiles := newMemProfiles(&tenant.Profile{
		ID: "u2", Email: "p@x.y", Role: tenant.RolePartnerUser, OrganizationID: "org-7", IsActive: true,
	})
	fx := newFixture(t, defaultCatalog(), profiles, memLinks{})
	token := fx.token(t, "u2", "p@x.y")

	for _, body := range []string{
		`{"organization_id":"org-7","extra":true}`,
		`not json`,
		`{"organization_id":""}`,
	} {
		req := httptest.NewRequest(http.MethodPut, "/v1/session/organization", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		if rec := fx.do(t, req); rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, rec.Code)
		}
	}
}

func TestSessionOrganizationMethodNotAllowed(t *testing.T) {
	fx := newFixture(t, defaultCatalog(), newMemProfiles(), memLinks{})
	req := httptest.NewRequest(http.MethodGet, "/v1/session/organization", nil)
	rec := fx.do(t, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != http.MethodPut {
		t.Fatalf("Allow = %q", got)
	}
}

func TestSessionEventsRequireAuth(t *testing.T) {
	fx := newFixture(t, defaultCatalog(), newMemProfiles(), memLinks{})
	req := httptest.NewRequest(http.MethodGet, "/v1/session/events", nil)
	if rec := fx.do(t, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSessionEventsStream(t *testing.T) {
	profiles := newMemProfiles(&tenant.Profile{
		ID: "u2", Email: "p@x.y", Role: tenant.RolePartnerUser, OrganizationID: "org-7", IsActive: true,
	})
	fx := newFixture(t, defaultCatalog(), profiles, memLinks{})
	srv := httptest.NewServer(fx.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/session/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+fx.token(t, "u2", "p@x.y"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := make(chan string, 32)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// Give the handler a moment to subscribe, then publish an event for
	// another actor (must be filtered) followed by one for ours.
	time.Sleep(100 * time.Millisecond)
	fx.events.Publish(stream.SessionEvent{Event: "tenant.organization.switch", ActorID: "someone-else"})
	fx.events.Publish(stream.SessionEvent{Event: "tenant.context.ready", ActorID: "u2", OrganizationID: "org-7"})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed before event arrived")
			}
			if strings.Contains(line, "someone-else") {
				t.Fatalf("event for another actor leaked: %s", line)
			}
			if line == "event: tenant.context.ready" {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event")
		}
	}
}

func TestHealthz(t *testing.T) {
	fx := newFixture(t, nil, newMemProfiles(), memLinks{})
	rec := fx.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["service"] != serviceName || payload["version"] != "test" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestReadyzWithoutDB(t *testing.T) {
	fx := newFixture(t, nil, newMemProfiles(), memLinks{})
	rec := fx.do(t, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	fx := newFixture(t, nil, newMemProfiles(), memLinks{})
	rec := fx.do(t, httptest.NewRequest(http.MethodGet, "/v1/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	fx := newFixture(t, nil, newMemProfiles(), memLinks{})
	rec := fx.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q", header, got)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	fx := newFixture(t, nil, newMemProfiles(), memLinks{})
	req := httptest.NewRequest(http.MethodOptions, "/v1/session/context", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := fx.do(t, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("allow origin = %q", got)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), preferredOrgHeader) {
		t.Fatalf("preferred-org header missing from allow list")
	}
}
