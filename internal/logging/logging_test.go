package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":           zerolog.ErrorLevel,
		"production": zerolog.ErrorLevel,
		"prod":       zerolog.ErrorLevel,
		"dev":        zerolog.DebugLevel,
		"DEBUG":      zerolog.DebugLevel,
		" info ":     zerolog.InfoLevel,
		"warning":    zerolog.WarnLevel,
		"trace":      zerolog.TraceLevel,
		"bogus":      zerolog.ErrorLevel,
	}
	for input, want := range tests {
		if got := Level(input); got != want {
			t.Errorf("Level(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestInitWithWriterHonoursLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	InitWithWriter(&buf)

	log.Info().Msg("hidden")
	log.Warn().Str("module", "test").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn message missing: %q", out)
	}
}
