package color

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestColor_DisabledPassesTextThrough(t *testing.T) {
	c := &Color{enabled: false}
	require.Equal(t, "bad_table", c.Warn("bad_table"))
	require.Equal(t, "good_table", c.OK("good_table"))
	require.Equal(t, "Tables", c.Header("Tables"))
}

func TestColor_EnabledWrapsInAnsiCodes(t *testing.T) {
	c := &Color{enabled: true}
	require.Equal(t, Red+"bad_table"+Reset, c.Warn("bad_table"))
	require.Equal(t, Green+"good_table"+Reset, c.OK("good_table"))
	require.Equal(t, Cyan+"Tables"+Reset, c.Header("Tables"))
	require.Equal(t, Bold+"x"+Reset, c.Bold("x"))
}

func TestShouldEnableColor_NoColorEnvWins(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("TERM", "xterm-256color")
	require.False(t, shouldEnableColor())
}

func TestShouldEnableColor_DumbTermDisabled(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("TERM", "dumb")
	require.False(t, shouldEnableColor())
}

func TestShouldEnableColor_NormalTermEnabled(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("TERM", "xterm-256color")
	require.True(t, shouldEnableColor())
}

func TestNew_RespectsCallerPreference(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	t.Setenv("TERM", "xterm-256color")

	require.False(t, New(false).enabled)
	require.True(t, New(true).enabled)
}
