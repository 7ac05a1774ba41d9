package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sipeed/godcmd/cmd/godcmd/internal"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Show version information",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "godcmd %s\n", internal.FormatVersion())
			build, goVer := internal.FormatBuildInfo()
			if build != "" {
				fmt.Fprintf(out, "  Build: %s\n", build)
			}
			if goVer != "" {
				fmt.Fprintf(out, "  Go: %s\n", goVer)
			}
		},
	}
}
