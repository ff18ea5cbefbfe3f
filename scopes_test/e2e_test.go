package scopes_test

import (
	"testing"

	scopes "github.com/centraunit/goallin_scopes"
	"github.com/centraunit/goallin_scopes/mock"
	"github.com/stretchr/testify/suite"
)

// SessionLifecycleTestSuite walks one session through its whole life the
// way request glue would: connect, resolve, construct, disconnect,
// reconnect.
type SessionLifecycleTestSuite struct {
	suite.Suite
	proc    *scopes.LifecycleProcessor
	manager *scopes.ScopeManager
}

func (s *SessionLifecycleTestSuite) SetupTest() {
	s.proc = scopes.NewLifecycleProcessor(scopes.NewCallbackRegistry(), scopes.WithLogger(quietLogger()))
	s.manager = scopes.NewScopeManager(s.proc, scopes.WithManagerLogger(quietLogger()))
}

func (s *SessionLifecycleTestSuite) TearDownTest() {
	s.NoError(s.proc.Shutdown())
}

func (s *SessionLifecycleTestSuite) TestSessionRoundTrip() {
	key := scopes.NewServiceKey("Greeter", "")

	// Player connects.
	handle, err := s.manager.EnterSession("P1")
	s.NoError(err)

	resolved, err := s.manager.Session().Resolve(key, func() (interface{}, error) {
		return &mock.Greeter{Name: "P1"}, nil
	})
	s.NoError(err)
	greeter := resolved.(*mock.Greeter)
	s.NoError(s.proc.InvokeConstruct(greeter))

	s.Equal(int32(1), greeter.Constructs.Load())
	s.True(s.proc.IsRegisteredForReload(greeter))
	handle.Close()

	// Player disconnects.
	s.NoError(s.manager.DestroySession("P1"))
	s.Equal(int32(1), greeter.Destroys.Load(), "destroy callback observed exactly once")
	s.False(s.proc.IsRegisteredForReload(greeter), "the reload registry no longer holds the instance")

	// Player reconnects under the same id: a fresh instance, not the old one.
	handle, err = s.manager.EnterSession("P1")
	s.NoError(err)
	defer handle.Close()

	resolved, err = s.manager.Session().Resolve(key, func() (interface{}, error) {
		return &mock.Greeter{Name: "P1"}, nil
	})
	s.NoError(err)
	s.NotSame(greeter, resolved)
	s.Equal(int32(0), resolved.(*mock.Greeter).Constructs.Load())
}

func TestSessionLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(SessionLifecycleTestSuite))
}
