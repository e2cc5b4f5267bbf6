// internal/config/config.go
package config

import (
	"os"
	"time"
)

// ControllerConfig holds the runtime settings for the sync controller.
type ControllerConfig struct {
	// AnnotationPrefix is the shared prefix of the controller's annotations.
	AnnotationPrefix string

	// ResyncInterval is how often the Secret informer re-lists everything.
	// The re-list is also the retry path for failed event handlers.
	ResyncInterval time.Duration
}

// SyncToAnnotation is the annotation holding a source's destination list.
func (c ControllerConfig) SyncToAnnotation() string {
	return c.AnnotationPrefix + "/sync-to"
}

// WatchAnnotation is the annotation the controller stamps on every
// destination it has synced to. Its value is always the literal "true".
func (c ControllerConfig) WatchAnnotation() string {
	return c.AnnotationPrefix + "/watch"
}

// FromEnv returns the default config with environment overrides applied.
// Unparseable values keep the default.
func FromEnv() ControllerConfig {
	cfg := DefaultControllerConfig
	if v := os.Getenv("ANNOTATION_PREFIX"); v != "" {
		cfg.AnnotationPrefix = v
	}
	if v := os.Getenv("SYNC_RESYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ResyncInterval = d
		}
	}
	return cfg
}
