package stats

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteText(t *testing.T) {
	reg := NewRegistry()
	failures := reg.Counter("carmonitor_read_failures_total", "Failed signal reads.", "signal")
	failures.Inc("speed")
	failures.Inc("speed")
	failures.Inc("rpm")
	reg.Gauge("carmonitor_score", "Current driver score.").Set(97.5)
	reg.Counter("carmonitor_unused_total", "Never incremented.", "")

	var buf bytes.Buffer
	require.NoError(t, reg.WriteText(&buf))

	expected := `# HELP carmonitor_read_failures_total Failed signal reads.
# TYPE carmonitor_read_failures_total counter
carmonitor_read_failures_total{signal="rpm"} 1
carmonitor_read_failures_total{signal="speed"} 2
# HELP carmonitor_score Current driver score.
# TYPE carmonitor_score gauge
carmonitor_score 97.5
`
	assert.Equal(t, expected, buf.String())
}

func TestCounterReuseAndNegativeAdd(t *testing.T) {
	reg := NewRegistry()
	a := reg.Counter("ticks_total", "Ticks.", "")
	b := reg.Counter("ticks_total", "Ticks.", "")
	assert.Same(t, a, b)

	a.Inc("")
	a.Add("", -5)
	assert.Equal(t, 1.0, b.Value(""))
}

func TestWriteTextfile(t *testing.T) {
	reg := NewRegistry()
	reg.Counter("ticks_total", "Ticks.", "").Inc("")

	path := filepath.Join(t.TempDir(), "carmonitor.prom")
	require.NoError(t, reg.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ticks_total 1")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file is cleaned up")
}

func TestRegistry_NameClash(t *testing.T) {
	tests := []struct {
		name     string
		register func(reg *Registry)
	}{
		{"gauge over counter", func(reg *Registry) {
			reg.Counter("carmonitor_score", "Score.", "")
			reg.Gauge("carmonitor_score", "Score.")
		}},
		{"counter over gauge", func(reg *Registry) {
			reg.Gauge("carmonitor_score", "Score.")
			reg.Counter("carmonitor_score", "Score.", "")
		}},
		{"counter with another label", func(reg *Registry) {
			reg.Counter("carmonitor_events_total", "Events.", "event")
			reg.Counter("carmonitor_events_total", "Events.", "signal")
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Panics(t, func() { test.register(NewRegistry()) })
		})
	}
}

func TestRegistry_SameGaugeReturned(t *testing.T) {
	reg := NewRegistry()
	reg.Gauge("carmonitor_score", "Score.").Set(42)
	assert.Equal(t, 42.0, reg.Gauge("carmonitor_score", "Score.").Value())
}
