package cmd

import (
	"fmt"

	"github.com/pgschema/pgmerge/internal/version"
	"github.com/spf13/cobra"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long:  "Display the version number of pgmerge",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pgmerge v%s %s\n", version.Version(), version.Platform())
	},
}
