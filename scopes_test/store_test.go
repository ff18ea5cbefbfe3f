package scopes_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	scopes "github.com/centraunit/goallin_scopes"
	"github.com/centraunit/goallin_scopes/mock"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	store *scopes.ScopeStore
}

func (s *StoreTestSuite) SetupTest() {
	s.store = scopes.NewScopeStore(scopes.KindSession)
}

func (s *StoreTestSuite) TestSingleCreationUnderConcurrency() {
	key := scopes.KeyFor[*mock.Greeter]()
	var made atomic.Int32
	var wg sync.WaitGroup
	results := make(chan interface{}, 16)
	failures := make(chan error, 16)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.EnterScope("P1"); err != nil {
				failures <- err
				return
			}
			defer s.store.LeaveScope()
			instance, err := s.store.Resolve(key, func() (interface{}, error) {
				made.Add(1)
				return &mock.Greeter{Name: "P1"}, nil
			})
			if err != nil {
				failures <- err
				return
			}
			results <- instance
		}()
	}
	wg.Wait()
	close(failures)
	close(results)

	for err := range failures {
		s.NoError(err)
	}
	s.Equal(int32(1), made.Load(), "factory must run exactly once")

	var first interface{}
	for instance := range results {
		if first == nil {
			first = instance
			continue
		}
		s.Same(first, instance)
	}
	s.NotNil(first)
}

func (s *StoreTestSuite) TestScopeIsolation() {
	key := scopes.KeyFor[*mock.Greeter]()

	s.NoError(s.store.EnterScope("P1"))
	one, err := s.store.Resolve(key, func() (interface{}, error) {
		return &mock.Greeter{Name: "P1"}, nil
	})
	s.NoError(err)
	s.store.LeaveScope()

	s.NoError(s.store.EnterScope("P2"))
	two, err := s.store.Resolve(key, func() (interface{}, error) {
		return &mock.Greeter{Name: "P2"}, nil
	})
	s.NoError(err)
	s.store.LeaveScope()

	s.NotSame(one, two)
}

func (s *StoreTestSuite) TestResolveOutOfScope() {
	_, err := s.store.Resolve(scopes.KeyFor[*mock.Greeter](), func() (interface{}, error) {
		return &mock.Greeter{}, nil
	})
	var oos *scopes.OutOfScopeError
	s.ErrorAs(err, &oos)
	s.Equal(scopes.KindSession, oos.Kind)
}

func (s *StoreTestSuite) TestReentrancyGuard() {
	s.NoError(s.store.EnterScope("P1"))
	defer s.store.LeaveScope()

	err := s.store.EnterScope("P2")
	var already *scopes.AlreadyInScopeError
	s.ErrorAs(err, &already)
	s.Equal(scopes.ContextID("P1"), already.Current)
}

func (s *StoreTestSuite) TestLeaveScopeKeepsInstances() {
	key := scopes.KeyFor[*mock.Greeter]()

	s.NoError(s.store.EnterScope("P1"))
	first, err := s.store.Resolve(key, func() (interface{}, error) {
		return &mock.Greeter{}, nil
	})
	s.NoError(err)
	s.store.LeaveScope()

	s.NoError(s.store.EnterScope("P1"))
	defer s.store.LeaveScope()
	again, err := s.store.Resolve(key, func() (interface{}, error) {
		s.Fail("factory must not run for a cached instance")
		return nil, nil
	})
	s.NoError(err)
	s.Same(first, again)
}

func (s *StoreTestSuite) TestEvictionCompleteness() {
	key := scopes.KeyFor[*mock.Greeter]()

	s.NoError(s.store.EnterScope("P1"))
	first, err := s.store.Resolve(key, func() (interface{}, error) {
		return &mock.Greeter{}, nil
	})
	s.NoError(err)

	evicted := s.store.ExitScope("P1")
	s.Len(evicted, 1)
	s.Same(first, evicted[key])
	s.NotContains(s.store.ActiveContexts(), scopes.ContextID("P1"))

	// ExitScope cleared the calling goroutine's context too.
	_, inScope := s.store.CurrentContext()
	s.False(inScope)

	s.NoError(s.store.EnterScope("P1"))
	defer s.store.LeaveScope()
	fresh, err := s.store.Resolve(key, func() (interface{}, error) {
		return &mock.Greeter{}, nil
	})
	s.NoError(err)
	s.NotSame(first, fresh)
}

func (s *StoreTestSuite) TestFactoryFailureIsNotCached() {
	key := scopes.KeyFor[*mock.Greeter]()
	s.NoError(s.store.EnterScope("P1"))
	defer s.store.LeaveScope()

	boom := errors.New("backend unavailable")
	_, err := s.store.Resolve(key, func() (interface{}, error) {
		return nil, boom
	})
	var factoryErr *scopes.FactoryError
	s.ErrorAs(err, &factoryErr)
	s.ErrorIs(err, boom)
	s.Equal(key, factoryErr.Key)

	// The slot is empty again, so the next resolve retries.
	instance, err := s.store.Resolve(key, func() (interface{}, error) {
		return &mock.Greeter{}, nil
	})
	s.NoError(err)
	s.NotNil(instance)
}

func (s *StoreTestSuite) TestFailedFactoryWaiterSharesRetriedSlot() {
	key := scopes.KeyFor[*mock.Greeter]()
	inFactory := make(chan struct{})
	release := make(chan struct{})

	// The first caller fails inside the factory while a second caller is
	// already parked waiting for the same (context, key) pair.
	firstDone := make(chan error, 1)
	go func() {
		if err := s.store.EnterScope("P1"); err != nil {
			firstDone <- err
			return
		}
		defer s.store.LeaveScope()
		_, err := s.store.Resolve(key, func() (interface{}, error) {
			close(inFactory)
			<-release
			return nil, errors.New("first attempt failed")
		})
		firstDone <- err
	}()

	<-inFactory
	secondInstance := make(chan interface{}, 1)
	secondErr := make(chan error, 1)
	go func() {
		if err := s.store.EnterScope("P1"); err != nil {
			secondErr <- err
			return
		}
		defer s.store.LeaveScope()
		instance, err := s.store.Resolve(key, func() (interface{}, error) {
			return &mock.Greeter{}, nil
		})
		secondErr <- err
		secondInstance <- instance
	}()

	// Give the second caller time to park, then let the first factory fail.
	time.Sleep(20 * time.Millisecond)
	close(release)

	var factoryErr *scopes.FactoryError
	s.ErrorAs(<-firstDone, &factoryErr)
	s.NoError(<-secondErr)
	created := <-secondInstance

	// Every later caller sees the retried instance, never a second one.
	s.NoError(s.store.EnterScope("P1"))
	again, err := s.store.Resolve(key, func() (interface{}, error) {
		s.Fail("factory must not run again for a cached instance")
		return nil, nil
	})
	s.NoError(err)
	s.Same(created, again)

	evicted := s.store.ExitScope("P1")
	s.Len(evicted, 1, "exactly one live instance for the pair")
	s.Same(created, evicted[key])
}

func (s *StoreTestSuite) TestExitScopeUnknownContext() {
	s.Nil(s.store.ExitScope("never-entered"))
}

func (s *StoreTestSuite) TestIntrospection() {
	s.Equal(scopes.KindSession, s.store.Kind())
	s.False(s.store.IsInScope("P1"))

	s.NoError(s.store.EnterScope("P1"))
	defer s.store.LeaveScope()

	s.True(s.store.IsInScope("P1"))
	s.False(s.store.IsInScope("P2"))
	current, ok := s.store.CurrentContext()
	s.True(ok)
	s.Equal(scopes.ContextID("P1"), current)
}

func (s *StoreTestSuite) TestContextDoesNotLeakAcrossGoroutines() {
	s.NoError(s.store.EnterScope("P1"))
	defer s.store.LeaveScope()

	done := make(chan error, 1)
	go func() {
		_, err := s.store.Resolve(scopes.KeyFor[*mock.Greeter](), func() (interface{}, error) {
			return &mock.Greeter{}, nil
		})
		done <- err
	}()
	var oos *scopes.OutOfScopeError
	s.ErrorAs(<-done, &oos)
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
