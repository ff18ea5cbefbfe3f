package scopes_test

import (
	"io"
	"log/slog"

	scopes "github.com/centraunit/goallin_scopes"
)

// quietLogger keeps expected-failure tests from spamming stderr.
func quietLogger() scopes.Logger {
	return scopes.NewSlogAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
