// Package events defines the normalized Secret event model and the
// annotation-filtered dispatch table that routes events to handlers.
package events

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// EventType identifies the kind of change that triggered an event.
type EventType string

const (
	// EventListed is delivered for objects already present when the watch
	// started, before the informer's initial sync completes.
	EventListed EventType = "listed"

	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

// Event is one delivery of object state from the event source. Secret is
// the full object as of the event; for deletes it is the last known state.
type Event struct {
	Type   EventType
	Secret *corev1.Secret
}

// Handler processes a single event. An error returned here is the caller's
// to retry; handlers perform no internal retries.
type Handler func(ctx context.Context, evt Event) error

// Filter decides whether an object is routed to a handler.
type Filter func(obj metav1.Object) bool

// HasAnnotation returns a filter matching objects that carry the given
// annotation key, whatever its value.
func HasAnnotation(key string) Filter {
	return func(obj metav1.Object) bool {
		_, ok := obj.GetAnnotations()[key]
		return ok
	}
}

// Route pairs a filter with the handler it feeds.
type Route struct {
	Filter  Filter
	Handler Handler
}

// Dispatcher fans a single event out to every route whose filter matches.
// An object matching several filters receives each handler call
// independently, so a Secret can be a source and a destination at once.
type Dispatcher struct {
	routes []Route
}

func NewDispatcher(routes ...Route) *Dispatcher {
	return &Dispatcher{routes: routes}
}

// Dispatch calls each matching handler in registration order. The first
// handler error aborts the dispatch and is returned; redelivery is the
// event source's concern.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) error {
	for _, route := range d.routes {
		if !route.Filter(evt.Secret) {
			continue
		}
		if err := route.Handler(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}
