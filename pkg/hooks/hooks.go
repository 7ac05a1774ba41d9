// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/sipeed/godcmd/pkg/logger"
)

// HookHandler is the callback signature for all hooks.
type HookHandler[T any] func(ctx context.Context, event *T) error

// HookRegistration tracks a handler with its priority and name.
type HookRegistration[T any] struct {
	Handler  HookHandler[T]
	Priority int // Higher = runs first
	Name     string
}

// HookRegistry manages all message hooks.
type HookRegistry struct {
	handleContext   []HookRegistration[HandleContextEvent]
	messageReceived []HookRegistration[MessageReceivedEvent]
	messageSending  []HookRegistration[MessageSendingEvent]
	sessionEnd      []HookRegistration[SessionEvent]
	mu              sync.RWMutex
}

// NewHookRegistry creates an empty hook registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{}
}

// insertSorted inserts a registration into a new slice sorted by descending
// priority. Equal priorities keep registration order.
// Always allocates a new backing array so concurrent readers of the old slice are safe.
func insertSorted[T any](slice []HookRegistration[T], reg HookRegistration[T]) []HookRegistration[T] {
	i := 0
	for i < len(slice) && slice[i].Priority >= reg.Priority {
		i++
	}
	result := make([]HookRegistration[T], len(slice)+1)
	copy(result, slice[:i])
	result[i] = reg
	copy(result[i+1:], slice[i:])
	return result
}

func (r *HookRegistry) OnHandleContext(name string, priority int, handler HookHandler[HandleContextEvent]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handleContext = insertSorted(r.handleContext, HookRegistration[HandleContextEvent]{
		Handler: handler, Priority: priority, Name: name,
	})
}

func (r *HookRegistry) OnMessageReceived(name string, priority int, handler HookHandler[MessageReceivedEvent]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageReceived = insertSorted(r.messageReceived, HookRegistration[MessageReceivedEvent]{
		Handler: handler, Priority: priority, Name: name,
	})
}

func (r *HookRegistry) OnMessageSending(name string, priority int, handler HookHandler[MessageSendingEvent]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageSending = insertSorted(r.messageSending, HookRegistration[MessageSendingEvent]{
		Handler: handler, Priority: priority, Name: name,
	})
}

func (r *HookRegistry) OnSessionEnd(name string, priority int, handler HookHandler[SessionEvent]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionEnd = insertSorted(r.sessionEnd, HookRegistration[SessionEvent]{
		Handler: handler, Priority: priority, Name: name,
	})
}

// HandleContextNames returns handler names in execution order.
func (r *HookRegistry) HandleContextNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handleContext))
	for _, h := range r.handleContext {
		names = append(names, h.Name)
	}
	return names
}

// triggerVoid runs all handlers concurrently and waits for completion.
// Handlers MUST NOT mutate the event, it is shared across goroutines.
// Errors are logged but do not propagate to the caller.
func triggerVoid[T any](ctx context.Context, hooks []HookRegistration[T], event *T, hookName string) {
	if len(hooks) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, h := range hooks {
		wg.Add(1)
		go func(reg HookRegistration[T]) {
			defer wg.Done()
			runHandler(ctx, reg, event, hookName)
		}(h)
	}
	wg.Wait()
}

// triggerModifying runs handlers sequentially by priority, stopping as soon
// as stop reports true for the event.
func triggerModifying[T any](ctx context.Context, hooks []HookRegistration[T], event *T, hookName string, stop func(*T) bool) {
	for _, h := range hooks {
		runHandler(ctx, h, event, hookName)
		if stop(event) {
			logger.DebugCF("hooks", "Hook stopped chain",
				map[string]any{
					"hook":    hookName,
					"handler": h.Name,
				})
			return
		}
	}
}

func runHandler[T any](ctx context.Context, reg HookRegistration[T], event *T, hookName string) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("hooks", "Hook panic",
				map[string]any{
					"hook":    hookName,
					"handler": reg.Name,
					"panic":   fmt.Sprintf("%v", r),
				})
		}
	}()
	if err := reg.Handler(ctx, event); err != nil {
		logger.WarnCF("hooks", "Hook error",
			map[string]any{
				"hook":    hookName,
				"handler": reg.Name,
				"error":   err.Error(),
			})
	}
}

// TriggerHandleContext runs handle_context handlers in priority order until
// one of them sets ActionBreak or ActionBreakPass.
func (r *HookRegistry) TriggerHandleContext(ctx context.Context, event *HandleContextEvent) {
	r.mu.RLock()
	hooks := r.handleContext
	r.mu.RUnlock()
	triggerModifying(ctx, hooks, event, "handle_context", func(e *HandleContextEvent) bool {
		return e.Action != ActionContinue
	})
}

// TriggerMessageReceived fires all message_received handlers concurrently.
// Handlers must not mutate the event.
func (r *HookRegistry) TriggerMessageReceived(ctx context.Context, event *MessageReceivedEvent) {
	r.mu.RLock()
	hooks := r.messageReceived
	r.mu.RUnlock()
	triggerVoid(ctx, hooks, event, "message_received")
}

func (r *HookRegistry) TriggerMessageSending(ctx context.Context, event *MessageSendingEvent) {
	r.mu.RLock()
	hooks := r.messageSending
	r.mu.RUnlock()
	triggerModifying(ctx, hooks, event, "message_sending", func(e *MessageSendingEvent) bool {
		return e.Cancel
	})
}

// TriggerSessionEnd fires all session_end handlers concurrently.
// Handlers must not mutate the event.
func (r *HookRegistry) TriggerSessionEnd(ctx context.Context, event *SessionEvent) {
	r.mu.RLock()
	hooks := r.sessionEnd
	r.mu.RUnlock()
	triggerVoid(ctx, hooks, event, "session_end")
}
