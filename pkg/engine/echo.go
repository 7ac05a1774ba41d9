package engine

import (
	"context"
	"fmt"
)

// Echo answers with the user's own text. It keeps history so session
// commands behave the same as with a real engine.
type Echo struct {
	history
}

func NewEcho(opts Options) *Echo {
	return &Echo{history{opts: opts}}
}

func (e *Echo) Type() string  { return TypeEcho }
func (e *Echo) Model() string { return TypeEcho }

func (e *Echo) Reply(_ context.Context, req Request) (string, error) {
	turns := len(e.turn(req))
	reply := fmt.Sprintf("[%d] %s", turns, req.Content)
	e.commit(req, reply)
	return reply, nil
}
