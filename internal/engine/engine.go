/*
Copyright 2026 Praekelt.org.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/praekeltfoundation/secret-sync-controller/internal/config"
	"github.com/praekeltfoundation/secret-sync-controller/internal/events"
	"github.com/praekeltfoundation/secret-sync-controller/internal/secretref"
	"github.com/praekeltfoundation/secret-sync-controller/internal/watchregistry"
)

// Engine copies data from source Secrets to their declared destinations.
//
// It keeps no per-object state between events: a Secret's role is re-derived
// from its annotations on every delivery, and every sync fetches the source
// fresh and applies an idempotent merge patch. A stale registry entry
// therefore costs at worst a redundant write, never a wrong one.
type Engine struct {
	client.Client
	Log      logr.Logger
	Config   config.ControllerConfig
	Registry *watchregistry.Registry
}

// Routes returns the dispatch table for the event source: Secrets carrying
// the sync declaration are sources, Secrets carrying the watch marker are
// destinations. A Secret matching both filters is handled as both,
// independently.
func (e *Engine) Routes() []events.Route {
	return []events.Route{
		{Filter: events.HasAnnotation(e.Config.SyncToAnnotation()), Handler: e.HandleSourceEvent},
		{Filter: events.HasAnnotation(e.Config.WatchAnnotation()), Handler: e.HandleDestinationEvent},
	}
}

// HandleSourceEvent handles one event for a Secret carrying the sync
// declaration. Deletes are logged and otherwise ignored; registry entries
// naming the deleted source stay behind and resolve as "not found" on the
// next destination sync. All other event kinds re-assert the
// source→destination edges and copy the source's data out.
func (e *Engine) HandleSourceEvent(ctx context.Context, evt events.Event) error {
	src := secretref.FromObject(evt.Secret)
	if evt.Type == events.EventDeleted {
		e.Log.Info("Source secret deleted", "secret", src.String())
		return nil
	}

	for _, dst := range secretref.Destinations(evt.Secret, e.Config.SyncToAnnotation()) {
		e.Registry.Record(src, dst)
	}
	return e.Copy(ctx, evt.Secret)
}

// HandleDestinationEvent handles one event for a Secret carrying the watch
// marker. Every source registered for it is fetched live and copied to all
// of that source's current destinations, not just the one that triggered the
// event. The extra writes are idempotent merges, which is what lets this
// handler stay free of any staleness bookkeeping: a destination event with
// no registered source yet is a no-op resolved by the next source event.
func (e *Engine) HandleDestinationEvent(ctx context.Context, evt events.Event) error {
	dst := secretref.FromObject(evt.Secret)
	if evt.Type == events.EventDeleted {
		e.Log.Info("Watched secret deleted", "secret", dst.String())
		return nil
	}

	for _, src := range e.Registry.SourcesFor(dst) {
		srcSecret, err := e.fetch(ctx, src)
		if err != nil {
			return err
		}
		if srcSecret == nil {
			continue
		}
		if err := e.Copy(ctx, srcSecret); err != nil {
			return err
		}
	}
	return nil
}

// Copy syncs the source's entire data to every destination in its sync
// declaration, in declared order. A missing destination is logged and
// skipped; any other store error aborts the remaining destinations and
// propagates. Earlier successful syncs in the same call are not rolled back.
func (e *Engine) Copy(ctx context.Context, src *corev1.Secret) error {
	patch, err := e.copyPatch(src)
	if err != nil {
		return err
	}
	hash, err := DataHash(src.Data)
	if err != nil {
		return fmt.Errorf("unable to hash data of %s: %w", secretref.FromObject(src), err)
	}

	for _, dst := range secretref.Destinations(src, e.Config.SyncToAnnotation()) {
		if err := e.syncOne(ctx, dst, patch, hash); err != nil {
			return err
		}
	}
	return nil
}

// copyPatch builds the merge patch applied to each destination: the source's
// entire data plus the watch marker. The store applies it as a recursive
// key-wise merge, so destination keys absent from the source survive.
func (e *Engine) copyPatch(src *corev1.Secret) ([]byte, error) {
	data := src.Data
	if data == nil {
		// A nil map marshals to JSON null, which a merge patch would
		// interpret as "delete the destination's data".
		data = map[string][]byte{}
	}
	patch := map[string]any{
		"metadata": map[string]any{
			"annotations": map[string]string{e.Config.WatchAnnotation(): "true"},
		},
		"data": data,
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("unable to encode merge patch for %s: %w", secretref.FromObject(src), err)
	}
	return raw, nil
}

func (e *Engine) syncOne(ctx context.Context, dst secretref.SecretRef, patch []byte, hash string) error {
	secret := &corev1.Secret{}
	secret.Namespace = dst.Namespace
	secret.Name = dst.Name

	if err := e.Patch(ctx, secret, client.RawPatch(types.MergePatchType, patch)); err != nil {
		if apierrors.IsNotFound(err) {
			e.Log.Info("Secret not found", "secret", dst.String())
			return nil
		}
		return fmt.Errorf("unable to patch destination %s: %w", dst, err)
	}

	e.Log.Info("Synced secret", "secret", dst.String(),
		"resourceVersion", secret.ResourceVersion, "dataHash", hash)
	return nil
}

// fetch gets a Secret live from the store. A missing Secret is logged and
// reported as nil, nil; any other error propagates.
func (e *Engine) fetch(ctx context.Context, ref secretref.SecretRef) (*corev1.Secret, error) {
	secret := &corev1.Secret{}
	key := client.ObjectKey{Namespace: ref.Namespace, Name: ref.Name}
	if err := e.Get(ctx, key, secret); err != nil {
		if apierrors.IsNotFound(err) {
			e.Log.Info("Secret not found", "secret", ref.String())
			return nil, nil
		}
		return nil, fmt.Errorf("unable to fetch secret %s: %w", ref, err)
	}
	return secret, nil
}
