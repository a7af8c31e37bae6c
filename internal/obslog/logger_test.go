package obslog

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestInit_DefaultsToInfoLevel(t *testing.T) {
	Init("")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestInit_ParsesWarningAlias(t *testing.T) {
	Init("warning")
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestInit_UnrecognizedLevelFallsBackToInfo(t *testing.T) {
	Init("not-a-real-level")
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestComponent_TagsComponentField(t *testing.T) {
	Init("debug")
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
	var buf bytes.Buffer
	logger := Component("modelhost").Output(&buf)
	logger.Info().Msg("hello")
	require.Contains(t, buf.String(), `"component":"modelhost"`)
}
