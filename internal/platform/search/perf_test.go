package search

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestTimings_MarksPhases(t *testing.T) {
	timings := NewTimings()
	timings.Mark("validate")
	timings.Mark("query")

	if timings.Total() <= 0 {
		t.Error("expected positive total")
	}

	var buf strings.Builder
	log := zerolog.New(&buf)
	log.Info().Object("timings", timings).Msg("done")

	out := buf.String()
	for _, phase := range []string{"validate", "query", "total"} {
		if !strings.Contains(out, phase) {
			t.Errorf("expected %q in log output, got %s", phase, out)
		}
	}
}
