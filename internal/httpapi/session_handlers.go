package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/identity"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/stream"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/tenant"
)

// preferredOrgHeader carries the client's cached last-selected
// organization. It is a hint only; it is revalidated against the
// freshly computed available list and never trusted directly.
const preferredOrgHeader = "X-Preferred-Org"

type selectOrganizationRequest struct {
	OrganizationID string `json:"organization_id"`
}

// handleSessionContext returns the actor's tenant-context view,
// initializing the session on first use.
func (a *API) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, unauthenticatedView())
		return
	}

	tc := a.registry.ContextFor(actor.ID)
	if err := tc.Init(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "context unavailable")
		return
	}
	view, ready := tc.View()
	if !ready {
		writeError(w, http.StatusServiceUnavailable, "context unavailable")
		return
	}

	if hint := strings.TrimSpace(r.Header.Get(preferredOrgHeader)); hint != "" {
		if switched, err := tc.SetCurrentOrganization(r.Context(), hint); err == nil {
			view = switched
		}
		// A stale or unauthorized hint is silently ignored.
	}

	writeJSON(w, http.StatusOK, view)
}

// handleSessionOrganization switches the session's current
// organization. Policy rejections surface as 403, never as a 5xx.
func (a *API) handleSessionOrganization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req selectOrganizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tc := a.registry.ContextFor(actor.ID)
	if err := tc.Init(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "context unavailable")
		return
	}
	view, err := tc.SetCurrentOrganization(r.Context(), req.OrganizationID)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "organization_id is required")
		case errors.Is(err, tenant.ErrNotAvailable):
			writeError(w, http.StatusForbidden, "organization_not_available")
		case errors.Is(err, tenant.ErrUnauthenticated):
			writeError(w, http.StatusUnauthorized, "not authenticated")
		case errors.Is(err, tenant.ErrUnavailable), errors.Is(err, tenant.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "context unavailable")
		default:
			writeError(w, http.StatusServiceUnavailable, "context unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSessionEvents streams the actor's session events over SSE.
func (a *API) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	actor, ok := identity.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := a.events.Subscribe(r.Context())
	for evt := range events {
		if evt.ActorID != "" && evt.ActorID != actor.ID {
			continue
		}
		writeSSE(w, evt)
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, evt stream.SessionEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, data)
}

func unauthenticatedView() tenant.View {
	return tenant.View{
		State:                  tenant.StateUnauthenticated,
		AvailableOrganizations: []tenant.Organization{},
	}
}
