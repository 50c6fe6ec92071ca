package props

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/bstoi/apptest/pkg/logging"
)

var log = logging.Named("github.com/bstoi/apptest/pkg/props")

// Resolver looks up test properties. Lookup order is forced values, then
// system properties, then normal values.
//
// A Resolver belongs to a single test instance and is not safe for
// concurrent mutation.
type Resolver struct {
	system *System
	normal map[string]string
	forced map[string]string
}

// NewResolver creates a resolver over the given system layer. A nil system
// selects DefaultSystem.
func NewResolver(system *System) *Resolver {
	if system == nil {
		system = DefaultSystem()
	}
	return &Resolver{
		system: system,
		normal: make(map[string]string),
		forced: make(map[string]string),
	}
}

// System returns the system layer consulted by the resolver.
func (r *Resolver) System() *System {
	return r.system
}

// Enable sets a feature flag to true. A system property can override it.
func (r *Resolver) Enable(name string) {
	r.normal[name] = "true"
}

// Disable sets a feature flag to false. A system property can override it.
func (r *Resolver) Disable(name string) {
	r.normal[name] = "false"
}

// ForceEnable sets a feature flag to true regardless of system properties.
func (r *Resolver) ForceEnable(name string) {
	r.forced[name] = "true"
}

// ForceDisable sets a feature flag to false regardless of system properties.
func (r *Resolver) ForceDisable(name string) {
	r.forced[name] = "false"
}

// Set sets a property value. A system property can override it.
func (r *Resolver) Set(name string, value any) {
	r.normal[name] = fmt.Sprint(value)
}

// ForceSet sets a property value regardless of system properties.
func (r *Resolver) ForceSet(name, value string) {
	r.forced[name] = value
}

// Property returns the value of a property.
func (r *Resolver) Property(name string) (string, bool) {
	if v, ok := r.forced[name]; ok {
		return v, true
	}
	if v, ok := r.system.Lookup(name); ok {
		return v, true
	}
	v, ok := r.normal[name]
	return v, ok
}

// IsEnabled reports whether a feature flag is set to a true value. Absent and
// unparsable values are false.
func (r *Resolver) IsEnabled(name string) bool {
	v, ok := r.Property(name)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// Port returns the container port. Zero means an ephemeral port. Negative and
// malformed values are reported and replaced by DefaultContainerPort.
func (r *Resolver) Port() int {
	v, ok := r.Property(ContainerPort)
	if !ok {
		return DefaultContainerPort
	}
	port, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || port < 0 || port > 65535 {
		log.Log(context.Background(), logging.LevelConfig, "invalid container port, using default",
			"property", ContainerPort, "value", v, "default", DefaultContainerPort)
		return DefaultContainerPort
	}
	return port
}

// RecordLevel returns the level at which log records are captured. The second
// result is false when RecordLogLevel is absent, which disables capture.
func (r *Resolver) RecordLevel() (slog.Level, bool, error) {
	v, ok := r.Property(RecordLogLevel)
	if !ok {
		return 0, false, nil
	}
	level, err := logging.LevelFromString(v)
	if err != nil {
		return 0, false, errors.Wrapf(err, "property %s", RecordLogLevel)
	}
	return level, true, nil
}
