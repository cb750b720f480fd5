package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	logger := Component("reconciler")
	logger.Info().Msg("applied")

	var logEntry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("failed to parse log: %v", err)
	}

	if got := logEntry["component"]; got != "reconciler" {
		t.Errorf("Component() component = %v, want %q", got, "reconciler")
	}
	if got := logEntry["message"]; got != "applied" {
		t.Errorf("Component() message = %v, want %q", got, "applied")
	}
}
