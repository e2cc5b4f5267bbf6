// Package secretref provides immutable references to Secrets and parses the
// sync declaration annotation into destination references.
package secretref

import (
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// SecretRef is an immutable reference to a Secret. It is comparable, so it
// can key maps directly.
type SecretRef struct {
	Namespace string
	Name      string
}

// String returns the canonical "namespace/name" form.
func (r SecretRef) String() string {
	return r.Namespace + "/" + r.Name
}

// FromObject builds a SecretRef for the object's own namespace and name.
func FromObject(obj metav1.Object) SecretRef {
	return SecretRef{Namespace: obj.GetNamespace(), Name: obj.GetName()}
}

// Parse interprets a single destination token relative to the source
// namespace. A token containing "/" is a cross-namespace reference, anything
// else names a Secret in the source's own namespace. Tokens are taken as-is,
// whitespace included.
func Parse(sourceNamespace, token string) SecretRef {
	if ns, name, ok := strings.Cut(token, "/"); ok {
		return SecretRef{Namespace: ns, Name: name}
	}
	return SecretRef{Namespace: sourceNamespace, Name: token}
}

// Destinations resolves the comma-separated sync declaration on obj into
// destination references, preserving declared order. Duplicate tokens are
// kept: each occurrence is synced independently. Empty tokens are dropped.
// Returns nil when obj does not carry the annotation.
func Destinations(obj metav1.Object, annotation string) []SecretRef {
	raw, ok := obj.GetAnnotations()[annotation]
	if !ok {
		return nil
	}
	tokens := strings.Split(raw, ",")
	refs := make([]SecretRef, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		refs = append(refs, Parse(obj.GetNamespace(), token))
	}
	return refs
}
