package testcontainer

import (
	"strings"

	"github.com/bstoi/apptest/pkg/dispatch"
)

// DeploymentContext is an application together with the context path it is
// deployed under.
type DeploymentContext struct {
	app         *dispatch.Application
	contextPath string
}

// DeploymentOption configures a DeploymentContext.
type DeploymentOption func(*DeploymentContext)

// WithContextPath deploys the application under path instead of the root.
func WithContextPath(path string) DeploymentOption {
	return func(d *DeploymentContext) {
		d.contextPath = strings.Trim(path, "/")
	}
}

// NewDeploymentContext deploys app at the root unless WithContextPath says
// otherwise.
func NewDeploymentContext(app *dispatch.Application, opts ...DeploymentOption) *DeploymentContext {
	d := &DeploymentContext{app: app}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Application returns the deployed application.
func (d *DeploymentContext) Application() *dispatch.Application {
	return d.app
}

// ContextPath returns the context path without leading or trailing slash.
// It is empty for the root.
func (d *DeploymentContext) ContextPath() string {
	return d.contextPath
}
