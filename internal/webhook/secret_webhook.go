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

package webhook

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/praekeltfoundation/secret-sync-controller/internal/config"
)

// nolint:unused
// log is for logging in this package.
var secretlog = logf.Log.WithName("secret-resource")

// SetupSecretWebhookWithManager registers the sync-declaration validator for
// Secrets in the manager.
func SetupSecretWebhookWithManager(mgr ctrl.Manager, cfg config.ControllerConfig) error {
	return ctrl.NewWebhookManagedBy(mgr).For(&corev1.Secret{}).
		WithValidator(&SecretSyncValidator{Config: cfg}).
		Complete()
}

// +kubebuilder:webhook:path=/validate--v1-secret,mutating=false,failurePolicy=ignore,sideEffects=None,groups="",resources=secrets,verbs=create;update,versions=v1,name=vsecret-sync.praekelt.org,admissionReviewVersions=v1

// SecretSyncValidator checks the sync declaration annotation on Secrets at
// admission time. Problems surface as warnings, never rejections: the engine
// skips bad tokens at sync time, and blocking writes to Secrets over one
// annotation would be far too intrusive.
type SecretSyncValidator struct {
	Config config.ControllerConfig
}

var _ webhook.CustomValidator = &SecretSyncValidator{}

// ValidateCreate implements webhook.CustomValidator so a webhook will be registered for the type Secret.
func (v *SecretSyncValidator) ValidateCreate(ctx context.Context, obj runtime.Object) (admission.Warnings, error) {
	secret, ok := obj.(*corev1.Secret)
	if !ok {
		return nil, fmt.Errorf("expected a Secret object but got %T", obj)
	}
	return v.validate(secret), nil
}

// ValidateUpdate implements webhook.CustomValidator so a webhook will be registered for the type Secret.
func (v *SecretSyncValidator) ValidateUpdate(ctx context.Context, oldObj, newObj runtime.Object) (admission.Warnings, error) {
	return v.ValidateCreate(ctx, newObj)
}

// ValidateDelete implements webhook.CustomValidator so a webhook will be registered for the type Secret.
func (v *SecretSyncValidator) ValidateDelete(ctx context.Context, obj runtime.Object) (admission.Warnings, error) {
	return nil, nil
}

func (v *SecretSyncValidator) validate(secret *corev1.Secret) admission.Warnings {
	annotation := v.Config.SyncToAnnotation()
	raw, ok := secret.Annotations[annotation]
	if !ok {
		return nil
	}
	secretlog.V(1).Info("Validating sync declaration", "secret", secret.Namespace+"/"+secret.Name)

	var warnings admission.Warnings
	for i, token := range strings.Split(raw, ",") {
		switch {
		case token == "":
			warnings = append(warnings, fmt.Sprintf(
				"%s: destination %d is empty and will be skipped", annotation, i))
		case strings.Count(token, "/") > 1:
			warnings = append(warnings, fmt.Sprintf(
				"%s: destination %q contains more than one '/'", annotation, token))
		case strings.HasPrefix(token, "/") || strings.HasSuffix(token, "/"):
			warnings = append(warnings, fmt.Sprintf(
				"%s: destination %q is missing a namespace or name", annotation, token))
		}
	}
	return warnings
}
