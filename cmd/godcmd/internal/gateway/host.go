package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sipeed/godcmd/cmd/godcmd/internal/codes"
	"github.com/sipeed/godcmd/cmd/godcmd/internal/passwd"
	"github.com/sipeed/godcmd/pkg/activation"
	"github.com/sipeed/godcmd/pkg/auth"
	"github.com/sipeed/godcmd/pkg/bus"
	"github.com/sipeed/godcmd/pkg/channels"
	"github.com/sipeed/godcmd/pkg/commands"
	"github.com/sipeed/godcmd/pkg/config"
	"github.com/sipeed/godcmd/pkg/engine"
	"github.com/sipeed/godcmd/pkg/gateway"
	"github.com/sipeed/godcmd/pkg/hooks"
	"github.com/sipeed/godcmd/pkg/logger"
	"github.com/sipeed/godcmd/pkg/plugin"
	"github.com/sipeed/godcmd/pkg/plugin/builtin"
	"github.com/sipeed/godcmd/pkg/schedule"
	"github.com/sipeed/godcmd/pkg/session"
	"github.com/sipeed/godcmd/pkg/state"
)

// Host is a fully wired gateway process.
type Host struct {
	Loader     *config.Loader
	Bus        *bus.MessageBus
	Channels   *channels.Manager
	Plugins    *plugin.Manager
	Auth       *auth.Authorizer
	Engine     engine.Engine
	Dispatcher *commands.Dispatcher
	Gateway    *gateway.Gateway
	State      *state.RunState
	Scheduler  *schedule.Scheduler

	codes *activation.Store
}

// NewHost builds every component from the loader's current config.
func NewHost(loader *config.Loader) (*Host, error) {
	cfg := loader.Current()
	h := &Host{Loader: loader, State: state.NewRunState()}

	dataDir, pluginsDir := cfg.DataPath(), cfg.PluginsPath()
	for _, dir := range []string{dataDir, pluginsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	authz, err := auth.New(passwd.StorePath(pluginsDir), auth.Options{
		MaxAttemptsPerMinute: cfg.Auth.MaxAttemptsPerMinute,
		OnAdminAdded:         loader.AddAdminUser,
		GlobalAdmins:         func() []string { return loader.Current().AdminUsers },
	})
	if err != nil {
		return nil, fmt.Errorf("load godcmd config: %w", err)
	}
	for _, id := range authz.Admins() {
		loader.AddAdminUser(id)
	}
	h.Auth = authz

	sealer, err := auth.NewSealer(cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	var codec state.SecretCodec
	if sealer != nil {
		codec = sealer
	}
	prefs, err := state.NewManager(dataDir, codec)
	if err != nil {
		return nil, err
	}

	h.codes, err = activation.Open(filepath.Join(dataDir, codes.DBFile))
	if err != nil {
		return nil, err
	}

	h.Bus = bus.NewMessageBus()
	h.Channels, err = channels.NewManagerFromConfig(cfg, h.Bus)
	if err != nil {
		h.Close()
		return nil, err
	}

	h.Plugins, err = plugin.NewManager(plugin.Options{
		Dir:           pluginsDir,
		TriggerPrefix: func() string { return loader.Current().PluginTriggerPrefix },
	})
	if err != nil {
		h.Close()
		return nil, err
	}

	h.Engine, err = engine.New(cfg.Engine, engine.Options{
		Sessions: session.NewSessionManager(filepath.Join(dataDir, "sessions")),
		Prefs:    prefs,
		OnClear:  h.sessionEnded,
	})
	if err != nil {
		h.Close()
		return nil, err
	}

	h.Dispatcher = commands.NewDispatcher(commands.Deps{
		Config:  loader,
		Auth:    authz,
		State:   h.State,
		Plugins: h.Plugins,
		Channel: h.Channels,
		Engine:  h.Engine,
		Codes:   h.codes,
		Prefs:   prefs,
	})

	if err := h.Plugins.Register(commands.NewPlugin(h.Dispatcher)); err != nil {
		h.Close()
		return nil, err
	}
	if err := builtin.RegisterAll(h.Plugins, pluginsDir); err != nil {
		logger.WarnCF("gateway", "Some builtin plugins failed to load", map[string]any{"error": err.Error()})
	}
	if _, err := h.Plugins.Scan(); err != nil {
		logger.WarnCF("gateway", "Plugin scan failed", map[string]any{"error": err.Error()})
	}
	if err := h.Plugins.Activate(); err != nil {
		logger.WarnCF("gateway", "Some plugins failed to activate", map[string]any{"error": err.Error()})
	}

	h.Scheduler, err = schedule.New(cfg.Schedule, h.State)
	if err != nil {
		h.Close()
		return nil, err
	}

	h.Gateway = gateway.New(h.Bus, h.Plugins, h.Engine, h.Channels)
	return h, nil
}

func (h *Host) sessionEnded(sessionKey string) {
	channel, chatID, _ := strings.Cut(sessionKey, ":")
	h.Plugins.HookRegistry().TriggerSessionEnd(context.Background(), &hooks.SessionEvent{
		SessionKey: sessionKey,
		Channel:    channel,
		ChatID:     chatID,
	})
}

// Run starts the channels, the scheduler and the pipeline, and blocks until
// ctx ends or the console input closes.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := h.Channels.StartAll(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() { errCh <- h.Gateway.Run(ctx) }()
	if h.Scheduler != nil {
		go func() {
			if err := h.Scheduler.Run(ctx); err != nil {
				logger.ErrorCF("gateway", "Scheduler stopped", map[string]any{"error": err.Error()})
			}
		}()
	}

	var consoleDone <-chan struct{}
	if ch, ok := h.Channels.GetChannel("console"); ok {
		if c, ok := ch.(*channels.ConsoleChannel); ok {
			consoleDone = c.Done()
		}
	}

	logger.InfoCF("gateway", "Gateway started", map[string]any{
		"channels": h.Channels.EnabledChannels(),
		"engine":   h.Engine.Type(),
		"plugins":  h.Plugins.Names(),
	})

	var runErr error
	select {
	case <-ctx.Done():
	case <-consoleDone:
	case runErr = <-errCh:
	}
	cancel()

	stopErr := h.Channels.StopAll(context.Background())
	h.Gateway.Wait()
	return errors.Join(runErr, stopErr)
}

func (h *Host) Close() {
	if h.Bus != nil {
		h.Bus.Close()
	}
	if h.codes != nil {
		if err := h.codes.Close(); err != nil {
			logger.WarnCF("gateway", "Closing user database failed", map[string]any{"error": err.Error()})
		}
	}
}
