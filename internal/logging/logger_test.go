package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Development: true})
	if err != nil {
		t.Fatalf("New(development) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{})
	if err != nil {
		t.Fatalf("New(production) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("expected info to be enabled in production")
	}
}

func TestNewLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Level: "error"})
	if err != nil {
		t.Fatalf("New(level) error = %v", err)
	}
	if logger.Core().Enabled(zap.WarnLevel) {
		t.Fatal("expected warn to be filtered at error level")
	}
	if _, err := New(Options{Level: "chatty"}); err == nil {
		t.Fatal("expected error for an unknown level")
	}
}

func TestQuiet(t *testing.T) {
	t.Parallel()

	logger, err := Quiet(false)
	if err != nil {
		t.Fatalf("Quiet(false) error = %v", err)
	}
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("expected info to be filtered for quiet CLI runs")
	}
	verbose, err := Quiet(true)
	if err != nil {
		t.Fatalf("Quiet(true) error = %v", err)
	}
	if !verbose.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected debug to be enabled in verbose mode")
	}
}
