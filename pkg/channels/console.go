package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/sipeed/godcmd/pkg/bus"
	"github.com/sipeed/godcmd/pkg/config"
	"github.com/sipeed/godcmd/pkg/logger"
)

const consoleChatID = "console"

// LineReader is the subset of *readline.Instance the console needs.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// ConsoleChannel reads commands and chat from the terminal. There is one
// private chat whose sender is the configured user id.
type ConsoleChannel struct {
	*BaseChannel
	userID string
	rl     LineReader
	out    io.Writer
	outMu  sync.Mutex
	done   chan struct{}
}

func NewConsoleChannel(cfg config.ConsoleConfig, msgBus *bus.MessageBus) (*ConsoleChannel, error) {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = "> "
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".godcmd_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	return NewConsoleChannelWith(cfg.UserID, rl, rl.Stdout(), msgBus), nil
}

// NewConsoleChannelWith builds a console over an arbitrary line source.
func NewConsoleChannelWith(userID string, rl LineReader, out io.Writer, msgBus *bus.MessageBus) *ConsoleChannel {
	if userID == "" {
		userID = "console"
	}
	return &ConsoleChannel{
		BaseChannel: NewBaseChannel("console", msgBus),
		userID:      userID,
		rl:          rl,
		out:         out,
		done:        make(chan struct{}),
	}
}

func (c *ConsoleChannel) Start(ctx context.Context) error {
	c.setRunning(true)
	go c.readLoop(ctx)
	return nil
}

func (c *ConsoleChannel) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				logger.InfoCF("channels", "Console input closed", nil)
				return
			}
			logger.WarnCF("channels", "Console read error", map[string]any{"error": err.Error()})
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.HandleMessage(ctx, c.userID, consoleChatID, strings.TrimSpace(line), false)
	}
}

// Done is closed when the input side reaches EOF or is interrupted.
func (c *ConsoleChannel) Done() <-chan struct{} {
	return c.done
}

func (c *ConsoleChannel) Stop(context.Context) error {
	c.setRunning(false)
	return c.rl.Close()
}

func (c *ConsoleChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("console channel not running")
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, err := fmt.Fprintln(c.out, formatConsole(msg))
	return err
}

func formatConsole(msg bus.OutboundMessage) string {
	switch msg.Type {
	case bus.OutboundInfo:
		return "[INFO]\n" + msg.Content
	case bus.OutboundError:
		return "[ERROR]\n" + msg.Content
	default:
		return msg.Content
	}
}
