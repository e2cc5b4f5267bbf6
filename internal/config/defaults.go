// internal/config/defaults.go
package config

import "time"

var DefaultControllerConfig = ControllerConfig{
	AnnotationPrefix: "secret-sync.praekelt.org",
	ResyncInterval:   10 * time.Hour,
}
