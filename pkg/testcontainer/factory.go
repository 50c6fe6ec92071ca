package testcontainer

import (
	"net/url"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/bstoi/apptest/pkg/container"
)

// Factory creates test containers.
type Factory interface {
	// Create returns a container serving dc below baseURI. The container is
	// not started.
	Create(baseURI *url.URL, dc *DeploymentContext) (TestContainer, error)
}

// FactoryFunc adapts a function to a Factory.
type FactoryFunc func(baseURI *url.URL, dc *DeploymentContext) (TestContainer, error)

func (f FactoryFunc) Create(baseURI *url.URL, dc *DeploymentContext) (TestContainer, error) {
	return f(baseURI, dc)
}

// Names of the factories registered by this package.
const (
	HTTP  = "http"
	HTTPS = "https"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		HTTP:  &HTTPFactory{},
		HTTPS: &HTTPFactory{Secure: true},
	}
)

// Register makes a factory available under name, replacing any factory
// registered under the same name.
func Register(name string, f Factory) error {
	if name == "" || f == nil {
		return errors.New("factory needs a name and an implementation")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
	return nil
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Factories returns the registered factory names in sorted order.
func Factories() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HTTPFactory creates containers that run the application in an HTTP
// container on the embedded listener server.
type HTTPFactory struct {
	// Secure serves https with a freshly generated self-signed certificate,
	// whatever the scheme of the base URI.
	Secure bool

	// Options are passed on to container.CreateHTTPServer.
	Options []container.ServerOption
}

func (f *HTTPFactory) Create(baseURI *url.URL, dc *DeploymentContext) (TestContainer, error) {
	c, err := newHTTPContainer(baseURI, dc, f)
	if err != nil {
		return nil, err
	}
	return c, nil
}
