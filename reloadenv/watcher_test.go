package reloadenv_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	scopes "github.com/centraunit/goallin_scopes"
	"github.com/centraunit/goallin_scopes/mock"
	"github.com/centraunit/goallin_scopes/reloadenv"
	"github.com/stretchr/testify/suite"
)

type WatcherTestSuite struct {
	suite.Suite
	dir      string
	registry *scopes.CallbackRegistry
	proc     *scopes.LifecycleProcessor
}

func (s *WatcherTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.registry = scopes.NewCallbackRegistry()
	s.proc = scopes.NewLifecycleProcessor(s.registry, scopes.WithLogger(quietLogger()))
}

func (s *WatcherTestSuite) TearDownTest() {
	s.NoError(s.proc.Shutdown())
}

func quietLogger() scopes.Logger {
	return scopes.NewSlogAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *WatcherTestSuite) writeEnv(name, content string) string {
	path := filepath.Join(s.dir, name)
	s.NoError(os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (s *WatcherTestSuite) TestDiff() {
	s.Empty(reloadenv.Diff(nil, nil))
	s.Empty(reloadenv.Diff(
		map[string]string{"A": "1"},
		map[string]string{"A": "1"},
	))
	s.Equal([]string{"A", "B", "C"}, reloadenv.Diff(
		map[string]string{"A": "1", "B": "2"},
		map[string]string{"A": "changed", "C": "added"},
	))
}

func (s *WatcherTestSuite) TestPollReloadsOnlyChangedKeys() {
	path := s.writeEnv(".env", "GREETING=hello\nDB_URL=postgres://localhost\n")

	cache := &mock.CacheService{}
	scopes.OnReload(s.registry, func(c *mock.CacheService) error {
		c.Note("db")
		return nil
	}, scopes.WatchKeys("DB_URL"))
	scopes.OnReload(s.registry, func(c *mock.CacheService) error {
		c.Note("any")
		return nil
	})
	s.NoError(s.proc.InvokeConstruct(cache))

	// A long interval keeps the ticker out of the way; the test drives
	// Poll directly.
	w := reloadenv.New(path, s.proc,
		reloadenv.WithInterval(time.Hour),
		reloadenv.WithLogger(quietLogger()),
	)
	s.NoError(w.Start())
	defer w.Stop()

	w.Poll()
	s.Empty(cache.Noted(), "no change, no reload")

	s.writeEnv(".env", "GREETING=hi\nDB_URL=postgres://localhost\n")
	w.Poll()
	s.Equal([]string{"any"}, cache.Noted(), "an unrelated key skips the watched callback")

	s.writeEnv(".env", "GREETING=hi\nDB_URL=postgres://replica\n")
	w.Poll()
	s.Equal([]string{"any", "db", "any"}, cache.Noted())
}

func (s *WatcherTestSuite) TestStartFailsOnMissingFile() {
	w := reloadenv.New(filepath.Join(s.dir, "missing.env"), s.proc, reloadenv.WithLogger(quietLogger()))
	s.Error(w.Start())
}

func (s *WatcherTestSuite) TestUnreadableFileSkipsCycle() {
	path := s.writeEnv(".env", "A=1\n")
	cache := &mock.CacheService{}
	scopes.OnReload(s.registry, func(c *mock.CacheService) error {
		c.Note("fired")
		return nil
	})
	s.NoError(s.proc.InvokeConstruct(cache))

	w := reloadenv.New(path, s.proc,
		reloadenv.WithInterval(time.Hour),
		reloadenv.WithLogger(quietLogger()),
	)
	s.NoError(w.Start())
	defer w.Stop()

	s.NoError(os.Remove(path))
	w.Poll()
	s.Empty(cache.Noted(), "a vanished file must not fire a spurious reload")
}

func (s *WatcherTestSuite) TestStopIsIdempotent() {
	path := s.writeEnv(".env", "A=1\n")
	w := reloadenv.New(path, s.proc,
		reloadenv.WithInterval(time.Millisecond),
		reloadenv.WithLogger(quietLogger()),
	)
	s.NoError(w.Start())
	w.Stop()
	w.Stop()

	// Stopping a watcher that never started is a no-op too.
	idle := reloadenv.New(path, s.proc, reloadenv.WithLogger(quietLogger()))
	idle.Stop()
}

func TestWatcherTestSuite(t *testing.T) {
	suite.Run(t, new(WatcherTestSuite))
}
