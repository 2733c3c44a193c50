package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadcell/host/config"
)

func TestConsolePublish(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	out := NewConsoleWriter(&buf)

	when := time.Date(2026, 8, 25, 10, 30, 0, 250_000_000, time.UTC)
	err := out.Publish([]Reading{
		{Sensor: "bed", Counts: 1200, Value: 5.04, Time: when},
		{Sensor: "bed", Error: "read took too long", Time: when},
	})
	require.NoError(t, err)

	lines := buf.String()
	assert.Contains(t, lines, "10:30:00.250 bed 5.0400 (raw 1200)")
	assert.Contains(t, lines, "10:30:00.250 bed read took too long")
	require.NoError(t, out.Close())
}

func TestNewSelectsSink(t *testing.T) {
	out, err := New(config.OutputConfig{Type: "console"})
	require.NoError(t, err)
	_, ok := out.(*ConsoleOutput)
	assert.True(t, ok)

	_, err = New(config.OutputConfig{Type: "udp"})
	assert.Error(t, err)
}
