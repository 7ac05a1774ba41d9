// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/sipeed/godcmd/pkg/bus"
	"github.com/sipeed/godcmd/pkg/config"
	"github.com/sipeed/godcmd/pkg/logger"
)

const defaultChannelQueueSize = 100

type channelWorker struct {
	ch    Channel
	queue chan bus.OutboundMessage
	done  chan struct{}
}

// Manager owns the enabled channels, routes outbound messages to them and
// tracks in-flight work per session so it can be cancelled.
type Manager struct {
	channels map[string]Channel
	workers  map[string]*channelWorker
	bus      *bus.MessageBus
	cancel   context.CancelFunc

	// sessionKey -> cancel funcs of in-flight work
	inflight map[string]map[uint64]context.CancelFunc
	nextID   uint64

	mu   sync.RWMutex
	inMu sync.Mutex
}

func NewManager(messageBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		workers:  make(map[string]*channelWorker),
		bus:      messageBus,
		inflight: make(map[string]map[uint64]context.CancelFunc),
	}
}

// NewManagerFromConfig registers the channels enabled in cfg.
func NewManagerFromConfig(cfg *config.Config, messageBus *bus.MessageBus) (*Manager, error) {
	m := NewManager(messageBus)

	if cfg.Channels.Console.Enabled {
		ch, err := NewConsoleChannel(cfg.Channels.Console, messageBus)
		if err != nil {
			return nil, fmt.Errorf("console channel: %w", err)
		}
		m.RegisterChannel(ch)
	}
	if cfg.Channels.WebSocket.Enabled {
		m.RegisterChannel(NewWebSocketChannel(cfg.Channels.WebSocket, messageBus))
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]any{
		"enabled_channels": m.EnabledChannels(),
	})
	return m, nil
}

func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
	m.workers[ch.Name()] = &channelWorker{
		ch:    ch,
		queue: make(chan bus.OutboundMessage, defaultChannelQueueSize),
		done:  make(chan struct{}),
	}
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) == 0 {
		logger.WarnCF("channels", "No channels enabled", nil)
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for name, channel := range m.channels {
		if err := channel.Start(ctx); err != nil {
			cancel()
			m.cancel = nil
			return fmt.Errorf("start channel %s: %w", name, err)
		}
		logger.InfoCF("channels", "Channel started", map[string]any{"channel": name})
	}
	for name, w := range m.workers {
		go m.runWorker(dispatchCtx, name, w)
	}
	go m.dispatchOutbound(dispatchCtx)
	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
		for _, w := range m.workers {
			<-w.done
		}
	}

	m.CancelAllSessions()

	var firstErr error
	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) runWorker(ctx context.Context, name string, w *channelWorker) {
	defer close(w.done)
	for {
		select {
		case msg := <-w.queue:
			if err := w.ch.Send(ctx, msg); err != nil {
				logger.ErrorCF("channels", "Error sending message", map[string]any{
					"channel": name,
					"error":   err.Error(),
				})
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}

		m.mu.RLock()
		w, exists := m.workers[msg.Channel]
		m.mu.RUnlock()
		if !exists {
			logger.WarnCF("channels", "Unknown channel for outbound message", map[string]any{
				"channel": msg.Channel,
			})
			continue
		}

		select {
		case w.queue <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// Track derives a context for work done on behalf of sessionKey. The
// context ends when CancelSession or CancelAllSessions is called, or when
// the returned release func runs.
func (m *Manager) Track(parent context.Context, sessionKey string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	m.inMu.Lock()
	m.nextID++
	id := m.nextID
	if m.inflight[sessionKey] == nil {
		m.inflight[sessionKey] = make(map[uint64]context.CancelFunc)
	}
	m.inflight[sessionKey][id] = cancel
	m.inMu.Unlock()

	return ctx, func() {
		m.inMu.Lock()
		if set := m.inflight[sessionKey]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(m.inflight, sessionKey)
			}
		}
		m.inMu.Unlock()
		cancel()
	}
}

// CancelSession aborts in-flight work for sessionKey.
func (m *Manager) CancelSession(sessionKey string) {
	m.inMu.Lock()
	set := m.inflight[sessionKey]
	delete(m.inflight, sessionKey)
	m.inMu.Unlock()

	for _, cancel := range set {
		cancel()
	}
	if len(set) > 0 {
		logger.InfoCF("channels", "Session cancelled", map[string]any{
			"session": sessionKey,
			"tasks":   len(set),
		})
	}
}

func (m *Manager) CancelAllSessions() {
	m.inMu.Lock()
	all := m.inflight
	m.inflight = make(map[string]map[uint64]context.CancelFunc)
	m.inMu.Unlock()

	for _, set := range all {
		for _, cancel := range set {
			cancel()
		}
	}
}
