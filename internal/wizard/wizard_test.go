package wizard

import (
	"strings"
	"testing"

	"github.com/postalsys/loxone-go/internal/config"
)

func TestNewSeedsDefaults(t *testing.T) {
	w := New()
	if w.existing == nil {
		t.Fatal("New() should seed a default config")
	}
	if w.existing.Miniserver.URL == "" {
		t.Error("expected a default miniserver url")
	}
}

func TestWithExisting(t *testing.T) {
	cfg := config.Default()
	cfg.Miniserver.URL = "ws://10.0.0.9/ws"

	w := New().WithExisting(cfg)
	if w.existing.Miniserver.URL != "ws://10.0.0.9/ws" {
		t.Errorf("got %q", w.existing.Miniserver.URL)
	}
}

// Run requires an interactive terminal; under go test stdin is never a
// TTY, so Run should fail fast with a clear message rather than hang
// waiting for input that will never arrive.
func TestRunNonInteractiveFails(t *testing.T) {
	w := New()
	_, err := w.Run()
	if err == nil {
		t.Fatal("expected an error when stdin is not a terminal")
	}
	if !strings.Contains(err.Error(), "not a terminal") {
		t.Errorf("got %q, want a not-a-terminal error", err.Error())
	}
}
