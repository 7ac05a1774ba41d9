// godcmd - command dispatch and authorization for chat-bot hosts
// License: MIT

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sipeed/godcmd/cmd/godcmd/internal"
	"github.com/sipeed/godcmd/cmd/godcmd/internal/codes"
	"github.com/sipeed/godcmd/cmd/godcmd/internal/gateway"
	"github.com/sipeed/godcmd/cmd/godcmd/internal/passwd"
	"github.com/sipeed/godcmd/cmd/godcmd/internal/version"
)

func NewGodcmdCommand() *cobra.Command {
	short := "godcmd - chat-bot command dispatch and authorization"

	cmd := &cobra.Command{
		Use:          "godcmd",
		Short:        short,
		Version:      internal.FormatVersion(),
		SilenceUsage: true,
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		codes.NewCodesCommand(),
		passwd.NewPasswdCommand(),
		version.NewVersionCommand(),
	)
	return cmd
}

func main() {
	if err := NewGodcmdCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
