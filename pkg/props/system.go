package props

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

// System holds process-wide properties. A name is looked up in the override
// map first, then in the environment under the exact name, then under its
// environment form (upper case, dots and dashes replaced by underscores), so
// "apptest.config.test.container.port" may be given as
// APPTEST_CONFIG_TEST_CONTAINER_PORT.
type System struct {
	mu        sync.RWMutex
	overrides map[string]string
	lookupEnv func(string) (string, bool)
}

var defaultSystem = NewSystem()

// DefaultSystem returns the system properties shared by the process.
func DefaultSystem() *System {
	return defaultSystem
}

// NewSystem creates an empty property layer backed by the process
// environment.
func NewSystem() *System {
	return &System{
		overrides: make(map[string]string),
		lookupEnv: os.LookupEnv,
	}
}

// EnvName returns the environment variable form of a property name.
func EnvName(name string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(name))
}

// Lookup returns the value of a system property.
func (s *System) Lookup(name string) (string, bool) {
	s.mu.RLock()
	v, ok := s.overrides[name]
	s.mu.RUnlock()
	if ok {
		return v, true
	}
	if v, ok := s.lookupEnv(name); ok {
		return v, true
	}
	return s.lookupEnv(EnvName(name))
}

// Set overrides a property and returns a function restoring the previous
// state, for use with t.Cleanup or defer.
func (s *System) Set(name, value string) (restore func()) {
	s.mu.Lock()
	prev, had := s.overrides[name]
	s.overrides[name] = value
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if had {
			s.overrides[name] = prev
		} else {
			delete(s.overrides, name)
		}
	}
}

// Unset removes an override. Environment variables are not affected.
func (s *System) Unset(name string) {
	s.mu.Lock()
	delete(s.overrides, name)
	s.mu.Unlock()
}

// Load reads dotenv files into the override map. Keys already overridden are
// replaced; later files win over earlier ones.
func (s *System) Load(files ...string) error {
	for _, f := range files {
		values, err := godotenv.Read(f)
		if err != nil {
			return errors.Wrapf(err, "reading properties from %s", f)
		}
		s.mu.Lock()
		for k, v := range values {
			s.overrides[k] = v
		}
		s.mu.Unlock()
	}
	return nil
}

// Names returns the overridden property names in sorted order.
func (s *System) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.overrides))
	for k := range s.overrides {
		names = append(names, k)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}
