// Package watcher feeds Secret watch events from the manager's cache into
// the event dispatcher.
package watcher

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	toolscache "k8s.io/client-go/tools/cache"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"

	"github.com/praekeltfoundation/secret-sync-controller/internal/events"
)

// Watcher bridges a Secret informer to the dispatcher. It implements
// manager.Runnable so the manager owns its lifecycle, and it only runs on
// the elected leader.
//
// The informer delivers events for a given object in arrival order; events
// for different objects may interleave, which is why the registry behind the
// handlers is concurrency-safe.
type Watcher struct {
	Cache      cache.Cache
	Log        logr.Logger
	Dispatcher *events.Dispatcher
}

// SetupWithManager wires the watcher to the manager's cache and registers it
// as a runnable.
func (w *Watcher) SetupWithManager(mgr ctrl.Manager) error {
	w.Cache = mgr.GetCache()
	return mgr.Add(w)
}

// NeedLeaderElection makes the manager start the watcher only on the leader.
func (w *Watcher) NeedLeaderElection() bool {
	return true
}

// Start registers the Secret event handlers and blocks until ctx is done.
// Adds delivered before the informer's initial sync are classified as
// initial-listing events; everything after is a live create.
func (w *Watcher) Start(ctx context.Context) error {
	informer, err := w.Cache.GetInformer(ctx, &corev1.Secret{})
	if err != nil {
		return fmt.Errorf("unable to get Secret informer: %w", err)
	}

	registration, err := informer.AddEventHandler(toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj any) {
			eventType := events.EventCreated
			if !informer.HasSynced() {
				eventType = events.EventListed
			}
			w.dispatch(ctx, eventType, obj)
		},
		UpdateFunc: func(_, newObj any) {
			w.dispatch(ctx, events.EventModified, newObj)
		},
		DeleteFunc: func(obj any) {
			if tombstone, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
				obj = tombstone.Obj
			}
			w.dispatch(ctx, events.EventDeleted, obj)
		},
	})
	if err != nil {
		return fmt.Errorf("unable to register Secret event handlers: %w", err)
	}
	defer func() {
		if err := informer.RemoveEventHandler(registration); err != nil {
			w.Log.Error(err, "Failed to remove Secret event handlers")
		}
	}()

	w.Log.Info("Watching secrets")
	<-ctx.Done()
	return nil
}

// dispatch hands one event to the dispatcher. Handler errors cannot be
// returned through the informer, so they are logged here; the periodic
// cache re-list is the redelivery path.
func (w *Watcher) dispatch(ctx context.Context, eventType events.EventType, obj any) {
	secret, ok := obj.(*corev1.Secret)
	if !ok {
		w.Log.Info("Ignoring unexpected event object", "type", fmt.Sprintf("%T", obj))
		return
	}

	evt := events.Event{Type: eventType, Secret: secret}
	if err := w.Dispatcher.Dispatch(ctx, evt); err != nil {
		w.Log.Error(err, "Event handling failed",
			"secret", secret.Namespace+"/"+secret.Name, "event", string(eventType))
	}
}
