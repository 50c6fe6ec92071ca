package harness

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/bstoi/apptest/pkg/dispatch"
	"github.com/bstoi/apptest/pkg/props"
)

const (
	testWait = 2 * time.Second
	testTick = 10 * time.Millisecond
)

type GreeterSuite struct {
	Suite
	tests int
}

func (s *GreeterSuite) Configure(h *Harness) (*dispatch.Application, error) {
	h.Set(props.ContainerPort, 0)
	return greetingApp(), nil
}

func (s *GreeterSuite) SetupTest() {
	s.Suite.SetupTest()
	s.tests++
}

func (s *GreeterSuite) TestContainerIsStarted() {
	s.True(s.Harness().Container().IsStarted())
}

func (s *GreeterSuite) TestGreeting() {
	resp, err := s.Harness().TargetPath("greetings/suite").Get(s.T().Context())
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)
	text, err := resp.Text()
	s.Require().NoError(err)
	s.Equal("hello suite", text)
}

func TestGreeterSuite(t *testing.T) {
	s := new(GreeterSuite)
	Run(t, s, WithSystem(props.NewSystem()))
	assert.Equal(t, 2, s.tests)
	assert.False(t, s.Harness().Container().IsStarted(), "the suite stops the container")
}

type unconfiguredSuite struct{ Suite }

func TestSuiteRequiresConfigure(t *testing.T) {
	var s unconfiguredSuite
	s.bind(&s, nil)
	_, err := New(&s)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)

	var _ suite.SetupAllSuite = &s
	var _ suite.TearDownTestSuite = &s
}
