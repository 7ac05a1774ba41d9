package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sipeed/godcmd/pkg/activation"
)

// Engine types whose sessions resetall can clear.
var resettableEngines = []string{"openAI", "chatGPT", "chatGPTOnAzure", "linkai"}

const (
	usagePluginName = "provide a plugin name"
	usageInstall    = "provide a plugin name or a repository address ending in .git"
)

func (d *Dispatcher) reconf() (string, error) {
	if err := d.deps.Config.Reload(); err != nil {
		return "", opFailed(KindReconf, err)
	}
	d.rebuildRegistry()
	return "configuration reloaded", nil
}

func (d *Dispatcher) resetAll() (string, error) {
	if d.deps.Engine == nil || d.deps.Channel == nil {
		return "", errUnavailable
	}
	if !slices.Contains(resettableEngines, d.deps.Engine.Type()) {
		return "", ErrUnsupportedEngineOperation
	}
	d.deps.Channel.CancelAllSessions()
	d.deps.Engine.ClearAllSessions()
	return "all sessions reset", nil
}

func (d *Dispatcher) listPlugins() (string, error) {
	if d.deps.Plugins == nil {
		return "", errUnavailable
	}
	var b strings.Builder
	b.WriteString("plugins:")
	for _, p := range d.deps.Plugins.List() {
		state := "disabled"
		if p.Enabled {
			state = "enabled"
		}
		fmt.Fprintf(&b, "\n%s_v%s %d - %s", p.Name, p.Version, p.Priority, state)
	}
	return b.String(), nil
}

func (d *Dispatcher) scanPlugins() (string, error) {
	if d.deps.Plugins == nil {
		return "", errUnavailable
	}
	found, err := d.deps.Plugins.Scan()
	if err != nil {
		return "", opFailed(KindScanPlugins, err)
	}
	if err := d.deps.Plugins.Activate(); err != nil {
		return "", opFailed(KindScanPlugins, err)
	}
	if len(found) == 0 {
		return "plugin scan complete, no new plugins found", nil
	}
	names := make([]string, len(found))
	for i, p := range found {
		names[i] = p.Name + "_v" + p.Version
	}
	return "plugin scan complete\nnew plugins found:\n" + strings.Join(names, "\n"), nil
}

func (d *Dispatcher) setPriority(args []string) (string, error) {
	if d.deps.Plugins == nil {
		return "", errUnavailable
	}
	if len(args) != 2 {
		return "", missingArg("provide a plugin name and a priority")
	}
	priority, err := strconv.Atoi(args[1])
	if err != nil {
		return "", invalidArg("priority must be an integer")
	}
	if err := d.deps.Plugins.SetPriority(args[0], priority); err != nil {
		return "", err
	}
	return fmt.Sprintf("plugin %s priority set to %d", args[0], priority), nil
}

// withPluginName validates the single plugin argument shared by the
// plugin lifecycle commands.
func (d *Dispatcher) withPluginName(args []string, usage string, fn func(name string) (string, error)) (string, error) {
	if d.deps.Plugins == nil {
		return "", errUnavailable
	}
	if len(args) != 1 {
		return "", missingArg(usage)
	}
	return fn(args[0])
}

func (d *Dispatcher) reloadPlugin(args []string) (string, error) {
	return d.withPluginName(args, usagePluginName, func(name string) (string, error) {
		if err := d.deps.Plugins.Reload(name); err != nil {
			return "", err
		}
		return "plugin configuration reloaded", nil
	})
}

func (d *Dispatcher) enablePlugin(args []string) (string, error) {
	return d.withPluginName(args, usagePluginName, func(name string) (string, error) {
		if err := d.deps.Plugins.Enable(name); err != nil {
			return "", err
		}
		return "plugin " + name + " enabled", nil
	})
}

func (d *Dispatcher) disablePlugin(args []string) (string, error) {
	return d.withPluginName(args, usagePluginName, func(name string) (string, error) {
		if err := d.deps.Plugins.Disable(name); err != nil {
			return "", err
		}
		return "plugin " + name + " disabled", nil
	})
}

func (d *Dispatcher) installPlugin(ctx context.Context, args []string) (string, error) {
	return d.withPluginName(args, usageInstall, func(name string) (string, error) {
		return d.deps.Plugins.Install(ctx, name)
	})
}

func (d *Dispatcher) uninstallPlugin(args []string) (string, error) {
	return d.withPluginName(args, usagePluginName, func(name string) (string, error) {
		return d.deps.Plugins.Uninstall(name)
	})
}

func (d *Dispatcher) updatePlugin(ctx context.Context, args []string) (string, error) {
	return d.withPluginName(args, usagePluginName, func(name string) (string, error) {
		return d.deps.Plugins.Update(ctx, name)
	})
}

func (d *Dispatcher) generateCodes(ctx context.Context, args []string) (string, error) {
	if d.deps.Codes == nil {
		return "", errUnavailable
	}
	days, count, err := activation.ParseGenerateArgs(args)
	if err != nil {
		return "", invalidArg(err.Error())
	}
	codes, err := d.deps.Codes.Generate(ctx, days, count)
	if err != nil {
		err = opFailed(KindVerify, err)
		if len(codes) > 0 {
			return "", fmt.Errorf("%w\nissued before the failure:\n%s", err, activation.FormatCodes(codes))
		}
		return "", err
	}
	return activation.FormatCodes(codes), nil
}

func (d *Dispatcher) deleteCode(ctx context.Context, args []string) (string, error) {
	if d.deps.Codes == nil {
		return "", errUnavailable
	}
	if len(args) != 1 {
		return "", missingArg(activation.ErrMissingCode.Error())
	}
	if err := d.deps.Codes.Delete(ctx, args[0]); err != nil {
		if errors.Is(err, activation.ErrCodeNotFound) {
			return "", err
		}
		return "", opFailed(KindDelete, err)
	}
	return "code deleted", nil
}
