package commands

import (
	"errors"
	"fmt"

	"github.com/sipeed/godcmd/pkg/activation"
	"github.com/sipeed/godcmd/pkg/auth"
	"github.com/sipeed/godcmd/pkg/logger"
	"github.com/sipeed/godcmd/pkg/plugin"
)

var (
	ErrEmptyCommand               = errors.New("empty command, send #help for the command list")
	ErrMissingArgument            = errors.New("missing argument")
	ErrInvalidArgument            = errors.New("invalid argument")
	ErrNotAuthorized              = errors.New("not authorized")
	ErrAdminInGroup               = errors.New("admin commands may not run in group chats")
	ErrUnsupportedEngineOperation = errors.New("current engine does not support session reset")

	ErrGroupContextDenied = auth.ErrGroupContextDenied
	ErrAlreadyAdmin       = auth.ErrAlreadyAdmin
	ErrAuthFailed         = auth.ErrAuthFailed
	ErrPluginNotFound     = plugin.ErrNotFound
	ErrCodeNotFound       = activation.ErrCodeNotFound

	errUnavailable = errors.New("command unavailable in current context")

	// errDeferred hands the message to the next plugin without a reply.
	errDeferred = errors.New("deferred to other plugins")
)

// argError carries a user-facing usage message while matching one of the
// argument sentinels with errors.Is.
type argError struct {
	kind error
	msg  string
}

func (e *argError) Error() string { return e.msg }
func (e *argError) Unwrap() error { return e.kind }

func missingArg(msg string) error {
	return &argError{kind: ErrMissingArgument, msg: msg}
}

func invalidArg(msg string) error {
	return &argError{kind: ErrInvalidArgument, msg: msg}
}

// opFailed reports an unexpected failure of a backing store. The
// operation fails, the process keeps running.
func opFailed(kind Kind, err error) error {
	logger.ErrorCF("godcmd", "Command failed", map[string]any{
		"command": kind.String(),
		"error":   err.Error(),
	})
	return fmt.Errorf("operation failed: %w", err)
}
