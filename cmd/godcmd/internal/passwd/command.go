package passwd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sipeed/godcmd/cmd/godcmd/internal"
	"github.com/sipeed/godcmd/pkg/auth"
	"github.com/sipeed/godcmd/pkg/commands"
)

// StorePath is where the godcmd plugin keeps its password and admins.
func StorePath(pluginsDir string) string {
	return filepath.Join(pluginsDir, commands.PluginName, "config.json")
}

func NewPasswdCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "passwd <password>",
		Short: "Set the admin password used by #auth",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := strings.TrimSpace(args[0])
			if password == "" {
				return errors.New("password must not be blank")
			}
			if file == "" {
				cfg, err := internal.LoadConfig()
				if err != nil {
					return fmt.Errorf("error loading config: %w", err)
				}
				file = StorePath(cfg.PluginsPath())
			}

			store, err := auth.LoadStore(file)
			if err != nil {
				return err
			}
			store.Password = password
			if err := auth.SaveStore(file, store); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated in %s\n", file)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the godcmd config file")
	return cmd
}
