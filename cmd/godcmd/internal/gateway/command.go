package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sipeed/godcmd/cmd/godcmd/internal"
	"github.com/sipeed/godcmd/pkg/config"
	"github.com/sipeed/godcmd/pkg/logger"
)

func NewGatewayCommand() *cobra.Command {
	var debug bool
	var configPath string

	cmd := &cobra.Command{
		Use:     "gateway",
		Aliases: []string{"g"},
		Short:   "Run the chat gateway",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = internal.GetConfigPath()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return gatewayCmd(ctx, configPath, debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config.json")
	return cmd
}

func gatewayCmd(ctx context.Context, configPath string, debug bool) error {
	loader, err := config.NewLoader(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := setupLogging(loader.Current(), debug); err != nil {
		return err
	}
	defer logger.DisableFileLogging()

	h, err := NewHost(loader)
	if err != nil {
		return err
	}
	defer h.Close()

	return h.Run(ctx)
}

func setupLogging(cfg *config.Config, debug bool) error {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if debug {
		level = logger.DEBUG
	}
	logger.SetLevel(level)
	logger.ConfigureRedaction(cfg.Redaction)
	logger.SetRedactionEnabled(cfg.Redaction.Enabled)

	if cfg.LogFile != "" {
		if err := logger.EnableFileLogging(cfg.LogFile); err != nil {
			return fmt.Errorf("enable file logging: %w", err)
		}
	}
	logger.DebugCF("gateway", "Logging configured", map[string]any{
		"level":     level.String(),
		"redaction": logger.IsRedactionEnabled(),
		"file":      cfg.LogFile,
	})
	return nil
}
