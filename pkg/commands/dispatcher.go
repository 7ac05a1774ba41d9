package commands

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/sipeed/godcmd/pkg/auth"
	"github.com/sipeed/godcmd/pkg/config"
	"github.com/sipeed/godcmd/pkg/logger"
	"github.com/sipeed/godcmd/pkg/plugin"
	"github.com/sipeed/godcmd/pkg/state"
)

type Request struct {
	Channel    string
	ChatID     string
	SenderID   string
	SessionKey string
	IsGroup    bool
	Content    string
}

type Outcome int

const (
	// OutcomeIgnored means the message is not a command for us.
	OutcomeIgnored Outcome = iota
	OutcomeSuccess
	OutcomeFailure
	// OutcomePassThrough stops default handling without a reply.
	OutcomePassThrough
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomePassThrough:
		return "pass_through"
	default:
		return "ignored"
	}
}

type Result struct {
	Outcome Outcome
	Message string
	Command Kind
	// Suppress tells the host to skip default handling.
	Suppress bool
}

// Handled reports whether the dispatcher took the message.
func (r Result) Handled() bool {
	return r.Outcome != OutcomeIgnored
}

type ConfigLoader interface {
	Current() *config.Config
	Reload() error
}

type Authorizer interface {
	IsAdmin(userID string) bool
	Authenticate(userID string, args []string, isGroup bool) (auth.Grant, error)
}

type PluginManager interface {
	List() []plugin.Info
	Scan() ([]plugin.Info, error)
	Activate() error
	SetPriority(name string, priority int) error
	Reload(name string) error
	Enable(name string) error
	Disable(name string) error
	Install(ctx context.Context, nameOrRepo string) (string, error)
	Uninstall(name string) (string, error)
	Update(ctx context.Context, name string) (string, error)
}

type Channel interface {
	CancelSession(sessionKey string)
	CancelAllSessions()
}

type Engine interface {
	Type() string
	// Model is the default model, used when the caller has no override.
	Model() string
	ClearSession(sessionKey string)
	ClearAllSessions()
}

type CodeStore interface {
	Generate(ctx context.Context, validDays, count int) ([]string, error)
	Delete(ctx context.Context, code string) error
}

type PrefsStore interface {
	Get(userID string) state.UserPrefs
	Update(userID string, fn func(*state.UserPrefs)) error
}

// Deps are the collaborators the handlers act on. Config, Auth and State
// are required; a nil optional collaborator makes its commands fail with
// "command unavailable".
type Deps struct {
	Config      ConfigLoader
	Auth        Authorizer
	State       *state.RunState
	Plugins     PluginManager
	Channel     Channel
	Engine      Engine
	Codes       CodeStore
	Prefs       PrefsStore
	ToggleDebug func() logger.LogLevel
}

type Dispatcher struct {
	deps Deps
	reg  atomic.Pointer[Registry]
}

func NewDispatcher(deps Deps) *Dispatcher {
	if deps.State == nil {
		deps.State = state.NewRunState()
	}
	if deps.ToggleDebug == nil {
		deps.ToggleDebug = logger.ToggleDebug
	}
	d := &Dispatcher{deps: deps}
	d.rebuildRegistry()
	return d
}

func (d *Dispatcher) Registry() *Registry {
	return d.reg.Load()
}

func (d *Dispatcher) rebuildRegistry() {
	d.reg.Store(NewRegistry(BuiltinDefinitions(d.deps.Config.Current().ClearMemoryCommands)))
}

// Dispatch runs one inbound message through the command state machine.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	body, ok := strings.CutPrefix(req.Content, config.CommandPrefix)
	if !ok {
		return Result{Outcome: OutcomeIgnored, Suppress: !d.deps.State.Running()}
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return Result{Outcome: OutcomeFailure, Message: ErrEmptyCommand.Error(), Suppress: true}
	}
	token, args := fields[0], fields[1:]

	def, ok := d.Registry().Resolve(token, len(args))
	if !ok {
		if d.deps.Config.Current().PluginTriggerPrefix == config.CommandPrefix {
			return Result{Outcome: OutcomeIgnored}
		}
		return Result{Outcome: OutcomePassThrough, Suppress: true}
	}

	isAdmin := d.deps.Auth.IsAdmin(req.SenderID)
	var (
		msg string
		err error
	)
	switch {
	case def.Tier == TierAdmin && !isAdmin:
		err = ErrNotAuthorized
	case def.Tier == TierAdmin && req.IsGroup:
		err = ErrAdminInGroup
	default:
		msg, err = d.execute(ctx, def.Kind, req, args, isAdmin)
		if def.Tier == TierAdmin {
			logger.DebugCF("godcmd", "Admin command executed", map[string]any{
				"command": def.Name,
				"user":    req.SenderID,
			})
		}
	}
	return render(def.Kind, msg, err)
}

func render(kind Kind, msg string, err error) Result {
	res := Result{Command: kind, Suppress: true}
	switch {
	case errors.Is(err, ErrNotAuthorized), errors.Is(err, errDeferred):
		res.Outcome = OutcomePassThrough
	case err != nil:
		res.Outcome = OutcomeFailure
		res.Message = err.Error()
	case msg == "":
		res.Outcome = OutcomePassThrough
	default:
		res.Outcome = OutcomeSuccess
		res.Message = msg
	}
	return res
}

func (d *Dispatcher) execute(ctx context.Context, kind Kind, req Request, args []string, isAdmin bool) (string, error) {
	switch kind {
	case KindHelp:
		return d.Registry().HelpText(isAdmin, req.IsGroup), nil
	case KindHelpPlugin:
		return "", errDeferred
	case KindAuth:
		return d.authenticate(req, args)
	case KindID:
		return req.SenderID, nil
	case KindReset:
		return d.resetSession(req)
	case KindSetAPIKey:
		return d.setAPIKey(req, args)
	case KindResetAPIKey:
		return d.resetAPIKey(req)
	case KindSetModel:
		return d.setModel(req, args)
	case KindResetModel:
		return d.resetModel(req)
	case KindModel:
		return d.currentModel(req)

	case KindStop:
		d.deps.State.Pause()
		return "service paused", nil
	case KindResume:
		d.deps.State.Resume()
		return "service resumed", nil
	case KindReconf:
		return d.reconf()
	case KindResetAll:
		return d.resetAll()
	case KindDebug:
		if d.deps.ToggleDebug() == logger.DEBUG {
			return "debug mode enabled", nil
		}
		return "debug mode disabled", nil
	case KindListPlugins:
		return d.listPlugins()
	case KindScanPlugins:
		return d.scanPlugins()
	case KindSetPriority:
		return d.setPriority(args)
	case KindReloadPlugin:
		return d.reloadPlugin(args)
	case KindEnablePlugin:
		return d.enablePlugin(args)
	case KindDisablePlugin:
		return d.disablePlugin(args)
	case KindInstallPlugin:
		return d.installPlugin(ctx, args)
	case KindUninstallPlugin:
		return d.uninstallPlugin(args)
	case KindUpdatePlugin:
		return d.updatePlugin(ctx, args)
	case KindVerify:
		return d.generateCodes(ctx, args)
	case KindDelete:
		return d.deleteCode(ctx, args)
	}
	return "", nil
}
