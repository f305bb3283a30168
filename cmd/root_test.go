package cmd

import (
	"strings"
	"testing"

	"github.com/pgschema/pgmerge/internal/version"
	"github.com/stretchr/testify/require"
)

func TestPlatform(t *testing.T) {
	p := version.Platform()
	require.Contains(t, p, "/")
	parts := strings.SplitN(p, "/", 2)
	require.NotEmpty(t, parts[0])
	require.NotEmpty(t, parts[1])
}

func TestRootCmd_HasExpectedSubcommands(t *testing.T) {
	var names []string
	for _, c := range RootCmd.Commands() {
		names = append(names, c.Name())
	}
	require.Contains(t, names, "export")
	require.Contains(t, names, "import")
	require.Contains(t, names, "inspect")
	require.Contains(t, names, "version")
}
