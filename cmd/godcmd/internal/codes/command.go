package codes

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sipeed/godcmd/cmd/godcmd/internal"
	"github.com/sipeed/godcmd/pkg/activation"
)

// DBFile is the user database under the data dir.
const DBFile = "user.db"

func NewCodesCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Manage activation codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if dbPath != "" {
				return nil
			}
			cfg, err := internal.LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading config: %w", err)
			}
			dbPath = filepath.Join(cfg.DataPath(), DBFile)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the user database (default <data_dir>/user.db)")

	path := func() string { return dbPath }
	cmd.AddCommand(
		newGenerateCommand(path),
		newDeleteCommand(path),
		newListCommand(path),
	)
	return cmd
}

func newGenerateCommand(dbPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "generate <days> [count]",
		Short: "Generate activation codes",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days, count, err := activation.ParseGenerateArgs(args)
			if err != nil {
				return err
			}
			store, err := activation.Open(dbPath())
			if err != nil {
				return err
			}
			defer store.Close()

			codes, err := store.Generate(cmd.Context(), days, count)
			if len(codes) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), activation.FormatCodes(codes))
			}
			return err
		},
	}
}

func newDeleteCommand(dbPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <code>",
		Short: "Delete an activation code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := activation.Open(dbPath())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "code deleted")
			return nil
		},
	}
}

func newListCommand(dbPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List activation codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := activation.Open(dbPath())
			if err != nil {
				return err
			}
			defer store.Close()

			codes, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(codes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no activation codes")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tDAYS\tUSER")
			for _, c := range codes {
				user := c.UserID
				if user == "" {
					user = "-"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\n", c.Code, c.ValidDays, user)
			}
			return w.Flush()
		},
	}
}
