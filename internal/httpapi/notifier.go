package httpapi

import (
	"context"

	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/audit"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/obs"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/stream"
	"github.com/ramon-gama/pesarq-ramon-teste-sub004/internal/tenant"
)

// ContextNotifier forwards tenant-context lifecycle events to the
// audit log, prometheus counters and the live event stream.
type ContextNotifier struct {
	events *stream.Stream
}

var _ tenant.Notifier = (*ContextNotifier)(nil)

// NewContextNotifier wires a notifier over the given stream.
func NewContextNotifier(events *stream.Stream) *ContextNotifier {
	return &ContextNotifier{events: events}
}

// ContextEvent implements tenant.Notifier.
func (n *ContextNotifier) ContextEvent(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)

	switch event {
	case tenant.EventContextReady:
		obs.ObserveContextInit("ready")
	case tenant.EventUnauthenticated:
		obs.ObserveContextInit("unauthenticated")
	case tenant.EventInitFailed:
		obs.ObserveContextInit("failed")
	case tenant.EventOrganizationSwitch:
		obs.ObserveSelection("switched")
	case tenant.EventSwitchRejected:
		obs.ObserveSelection("rejected")
	case tenant.EventPersistenceFailed:
		obs.ObserveSelection("persist_failed")
	}

	if n.events == nil {
		return
	}
	switch event {
	case tenant.EventContextReady, tenant.EventOrganizationSwitch, tenant.EventUnauthenticated:
		evt := stream.SessionEvent{Event: event}
		if v, ok := fields["actor_id"].(string); ok {
			evt.ActorID = v
		}
		if v, ok := fields["organization_id"].(string); ok {
			evt.OrganizationID = v
		}
		n.events.Publish(evt)
	}
}
