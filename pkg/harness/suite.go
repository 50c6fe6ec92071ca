package harness

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"

	"github.com/bstoi/apptest/pkg/dispatch"
)

// Suite integrates a Harness with testify suites. Embed it, implement
// Configure and run the suite with Run:
//
//	type GreetingSuite struct{ harness.Suite }
//
//	func (s *GreetingSuite) Configure(h *harness.Harness) (*dispatch.Application, error) {
//		return sample.New(), nil
//	}
//
//	func TestGreeting(t *testing.T) { harness.Run(t, new(GreetingSuite)) }
//
// Suites overriding SetupTest or TearDownTest must call the embedded
// methods.
type Suite struct {
	suite.Suite

	self    Configurer
	options []Option
	harness *Harness
}

// TestingSuite is a suite that embeds Suite.
type TestingSuite interface {
	suite.TestingSuite
	Configurer
	bind(self Configurer, opts []Option)
}

// Run runs s with the harness options opts.
func Run(t *testing.T, s TestingSuite, opts ...Option) {
	s.bind(s, opts)
	suite.Run(t, s)
}

func (s *Suite) bind(self Configurer, opts []Option) {
	s.self = self
	s.options = opts
}

// Configure fails; suites provide their own.
func (s *Suite) Configure(*Harness) (*dispatch.Application, error) {
	return nil, errors.Wrap(ErrUnsupportedOperation, "the suite does not implement Configure")
}

// Harness returns the harness of the suite.
func (s *Suite) Harness() *Harness {
	return s.harness
}

func (s *Suite) SetupSuite() {
	self := s.self
	if self == nil {
		self = s
	}
	h, err := New(self, s.options...)
	s.Require().NoError(err)
	s.harness = h
}

func (s *Suite) TearDownSuite() {
	if s.harness != nil {
		s.Require().NoError(s.harness.Close())
	}
}

func (s *Suite) SetupTest() {
	s.Require().NoError(s.harness.SetUp())
}

func (s *Suite) TearDownTest() {
	s.Require().NoError(s.harness.TearDown())
}
