package commands

import (
	"errors"

	"github.com/sipeed/godcmd/pkg/auth"
	"github.com/sipeed/godcmd/pkg/state"
)

func (d *Dispatcher) authenticate(req Request, args []string) (string, error) {
	grant, err := d.deps.Auth.Authenticate(req.SenderID, args, req.IsGroup)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrGroupContextDenied),
		errors.Is(err, auth.ErrAlreadyAdmin),
		errors.Is(err, auth.ErrAuthFailed),
		errors.Is(err, auth.ErrRateLimited):
		return "", err
	case errors.Is(err, auth.ErrMissingPassword):
		return "", missingArg(err.Error())
	default:
		return "", opFailed(KindAuth, err)
	}
	if grant == auth.GrantTemporary {
		return "authenticated, please set a password soon", nil
	}
	return "authenticated", nil
}

func (d *Dispatcher) resetSession(req Request) (string, error) {
	if d.deps.Channel == nil || d.deps.Engine == nil {
		return "", errUnavailable
	}
	d.deps.Channel.CancelSession(req.SessionKey)
	d.deps.Engine.ClearSession(req.SessionKey)
	return "session reset", nil
}

func (d *Dispatcher) updatePrefs(kind Kind, userID string, fn func(*state.UserPrefs)) error {
	if d.deps.Prefs == nil {
		return errUnavailable
	}
	if err := d.deps.Prefs.Update(userID, fn); err != nil {
		return opFailed(kind, err)
	}
	return nil
}

func (d *Dispatcher) setAPIKey(req Request, args []string) (string, error) {
	if len(args) != 1 {
		return "", missingArg("provide an api key")
	}
	if err := d.updatePrefs(KindSetAPIKey, req.SenderID, func(p *state.UserPrefs) {
		p.APIKey = args[0]
	}); err != nil {
		return "", err
	}
	return "your api key has been set", nil
}

func (d *Dispatcher) resetAPIKey(req Request) (string, error) {
	if err := d.updatePrefs(KindResetAPIKey, req.SenderID, func(p *state.UserPrefs) {
		p.APIKey = ""
	}); err != nil {
		return "", err
	}
	return "your api key has been reset to the default", nil
}

func (d *Dispatcher) setModel(req Request, args []string) (string, error) {
	if len(args) != 1 {
		return "", missingArg("provide a model name")
	}
	if err := d.updatePrefs(KindSetModel, req.SenderID, func(p *state.UserPrefs) {
		p.Model = args[0]
	}); err != nil {
		return "", err
	}
	return "your model has been set to " + args[0], nil
}

func (d *Dispatcher) resetModel(req Request) (string, error) {
	if err := d.updatePrefs(KindResetModel, req.SenderID, func(p *state.UserPrefs) {
		p.Model = ""
	}); err != nil {
		return "", err
	}
	return "your model has been reset to the default", nil
}

func (d *Dispatcher) currentModel(req Request) (string, error) {
	if d.deps.Prefs != nil {
		if m := d.deps.Prefs.Get(req.SenderID).Model; m != "" {
			return "current model: " + m, nil
		}
	}
	if d.deps.Engine == nil {
		return "", errUnavailable
	}
	return "current model: " + d.deps.Engine.Model(), nil
}
