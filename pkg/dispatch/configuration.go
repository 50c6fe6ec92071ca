package dispatch

import (
	"fmt"
	"sort"
	"strconv"
)

// Configuration property names understood by the dispatch layer and its
// containers.
const (
	// ResponseSetStatusOverSendError makes containers report failures by
	// setting the status on the reset response instead of sending a
	// protocol-level error page.
	ResponseSetStatusOverSendError = "apptest.config.server.response.setStatusOverSendError"

	// ResponseBuffering asks containers to buffer streamed entities.
	ResponseBuffering = "apptest.config.server.response.buffering"
)

// Configuration is the read-only view of the application properties an
// engine was built with.
type Configuration struct {
	name       string
	properties map[string]any
}

func newConfiguration(app *Application) *Configuration {
	return &Configuration{name: app.name, properties: app.Properties()}
}

// ApplicationName returns the name of the application.
func (c *Configuration) ApplicationName() string {
	return c.name
}

// Property returns a property value.
func (c *Configuration) Property(name string) (any, bool) {
	v, ok := c.properties[name]
	return v, ok
}

// String returns a property formatted as a string, or "" when absent.
func (c *Configuration) String(name string) string {
	v, ok := c.properties[name]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// IsEnabled reports whether a boolean property is true. String values are
// parsed; anything else is false.
func (c *Configuration) IsEnabled(name string) bool {
	switch v := c.properties[name].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	default:
		return false
	}
}

// Names returns the property names in sorted order.
func (c *Configuration) Names() []string {
	names := make([]string, 0, len(c.properties))
	for k := range c.properties {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
