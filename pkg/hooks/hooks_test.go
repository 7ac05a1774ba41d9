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
	"sync/atomic"
	"testing"
	"time"
)

func TestNewHookRegistry(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	// Triggering all hooks on an empty registry should not panic.
	r.TriggerHandleContext(ctx, &HandleContextEvent{Content: "hello"})
	r.TriggerMessageReceived(ctx, &MessageReceivedEvent{Content: "hello"})
	r.TriggerMessageSending(ctx, &MessageSendingEvent{Content: "hello"})
	r.TriggerSessionEnd(ctx, &SessionEvent{SessionKey: "s"})
}

func TestVoidHookExecution(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	var called atomic.Bool
	r.OnMessageReceived("test", 0, func(_ context.Context, e *MessageReceivedEvent) error {
		called.Store(true)
		if e.Content != "ping" {
			t.Errorf("Expected content 'ping', got '%s'", e.Content)
		}
		return nil
	})

	r.TriggerMessageReceived(ctx, &MessageReceivedEvent{Content: "ping"})

	if !called.Load() {
		t.Error("Expected handler to be called")
	}
}

func TestVoidHooksConcurrent(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	var count atomic.Int32
	started := make(chan struct{}, 5)
	release := make(chan struct{})
	done := make(chan struct{})

	for i := range 5 {
		r.OnSessionEnd("hook-"+string(rune('A'+i)), i, func(_ context.Context, _ *SessionEvent) error {
			started <- struct{}{}
			<-release
			count.Add(1)
			return nil
		})
	}

	go func() {
		r.TriggerSessionEnd(ctx, &SessionEvent{SessionKey: "s"})
		close(done)
	}()

	for i := range 5 {
		select {
		case <-started:
		case <-time.After(1 * time.Second):
			t.Fatalf("timeout waiting for handler %d to start", i+1)
		}
	}

	close(release)

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for handlers to complete")
	}

	if count.Load() != 5 {
		t.Errorf("Expected 5 handlers called, got %d", count.Load())
	}
}

func TestHandleContextRunsHighestPriorityFirst(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	var order []int
	for _, p := range []int{50, 999, 10, 30, 0} {
		r.OnHandleContext(fmt.Sprintf("p-%d", p), p, func(_ context.Context, _ *HandleContextEvent) error {
			order = append(order, p)
			return nil
		})
	}

	r.TriggerHandleContext(ctx, &HandleContextEvent{Content: "hi"})

	expected := []int{999, 50, 30, 10, 0}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d handlers, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("Position %d: expected priority %d, got %d", i, v, order[i])
		}
	}
}

func TestHandleContextEqualPriorityKeepsRegistrationOrder(t *testing.T) {
	r := NewHookRegistry()
	noop := func(_ context.Context, _ *HandleContextEvent) error { return nil }

	r.OnHandleContext("a", 5, noop)
	r.OnHandleContext("b", 5, noop)
	r.OnHandleContext("c", 7, noop)

	got := r.HandleContextNames()
	want := []string{"c", "a", "b"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("HandleContextNames() = %v, want %v", got, want)
	}
}

func TestHandleContextBreakPassStopsChain(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	var lowerCalled bool
	r.OnHandleContext("godcmd", 999, func(_ context.Context, e *HandleContextEvent) error {
		e.Reply = &Reply{Type: ReplyInfo, Content: "service paused"}
		e.Action = ActionBreakPass
		return nil
	})
	r.OnHandleContext("keyword", 10, func(_ context.Context, _ *HandleContextEvent) error {
		lowerCalled = true
		return nil
	})

	event := &HandleContextEvent{Content: "#stop"}
	r.TriggerHandleContext(ctx, event)

	if lowerCalled {
		t.Error("Expected lower priority handler NOT to run after break_pass")
	}
	if !event.SkipDefault() {
		t.Error("Expected SkipDefault after break_pass")
	}
	if event.Reply == nil || event.Reply.Content != "service paused" {
		t.Errorf("unexpected reply %+v", event.Reply)
	}
}

func TestHandleContextBreakKeepsDefault(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	r.OnHandleContext("breaker", 1, func(_ context.Context, e *HandleContextEvent) error {
		e.Action = ActionBreak
		return nil
	})

	event := &HandleContextEvent{Content: "hello"}
	r.TriggerHandleContext(ctx, event)
	if event.SkipDefault() {
		t.Error("ActionBreak must not skip default handling")
	}
}

func TestModifyingHookCancel(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	var secondCalled bool

	r.OnMessageSending("canceler", 20, func(_ context.Context, e *MessageSendingEvent) error {
		e.Cancel = true
		e.CancelReason = "blocked"
		return nil
	})
	r.OnMessageSending("after-cancel", 10, func(_ context.Context, _ *MessageSendingEvent) error {
		secondCalled = true
		return nil
	})

	event := &MessageSendingEvent{Content: "hi"}
	r.TriggerMessageSending(ctx, event)

	if !event.Cancel {
		t.Error("Expected Cancel to be true")
	}
	if secondCalled {
		t.Error("Expected second handler NOT to be called after cancel")
	}
}

func TestMessageSendingFilter(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	r.OnMessageSending("rewriter", 10, func(_ context.Context, e *MessageSendingEvent) error {
		e.Content = "[filtered] " + e.Content
		return nil
	})

	event := &MessageSendingEvent{Content: "hello world"}
	r.TriggerMessageSending(ctx, event)

	if event.Content != "[filtered] hello world" {
		t.Errorf("Expected '[filtered] hello world', got '%s'", event.Content)
	}
}

func TestConcurrentRegistrationAndTrigger(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.OnHandleContext("reg-hook", i, func(_ context.Context, _ *HandleContextEvent) error {
				return nil
			})
		}()
	}

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.TriggerHandleContext(ctx, &HandleContextEvent{Content: "race"})
		}()
	}

	wg.Wait()
}

func TestHandlerErrorsSwallowed(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	var secondCalled atomic.Bool
	r.OnMessageReceived("erroring", 20, func(_ context.Context, _ *MessageReceivedEvent) error {
		return fmt.Errorf("handler error")
	})
	r.OnMessageReceived("observer", 10, func(_ context.Context, _ *MessageReceivedEvent) error {
		secondCalled.Store(true)
		return nil
	})

	r.TriggerMessageReceived(ctx, &MessageReceivedEvent{Content: "test"})
	if !secondCalled.Load() {
		t.Error("Expected second void handler to run despite first handler's error")
	}

	// Only the action stops a modifying chain, not an error.
	var modifySecondCalled bool
	r.OnHandleContext("erroring", 20, func(_ context.Context, _ *HandleContextEvent) error {
		return fmt.Errorf("handler error")
	})
	r.OnHandleContext("modifier", 10, func(_ context.Context, _ *HandleContextEvent) error {
		modifySecondCalled = true
		return nil
	})

	r.TriggerHandleContext(ctx, &HandleContextEvent{Content: "test"})
	if !modifySecondCalled {
		t.Error("Expected second modifying handler to run despite first handler's error")
	}
}

func TestPanicRecovery(t *testing.T) {
	r := NewHookRegistry()
	ctx := context.Background()

	var safeHandlerCalled atomic.Bool
	r.OnSessionEnd("panicker", 10, func(_ context.Context, _ *SessionEvent) error {
		panic("boom")
	})
	r.OnSessionEnd("safe", 10, func(_ context.Context, _ *SessionEvent) error {
		safeHandlerCalled.Store(true)
		return nil
	})

	r.TriggerSessionEnd(ctx, &SessionEvent{SessionKey: "s"})
	if !safeHandlerCalled.Load() {
		t.Error("Expected safe handler to run despite panicking sibling")
	}

	var afterPanic bool
	r.OnHandleContext("panicker", 10, func(_ context.Context, _ *HandleContextEvent) error {
		panic("boom")
	})
	r.OnHandleContext("after", 1, func(_ context.Context, _ *HandleContextEvent) error {
		afterPanic = true
		return nil
	})

	r.TriggerHandleContext(ctx, &HandleContextEvent{Content: "x"})
	if !afterPanic {
		t.Error("Expected chain to continue after a recovered panic")
	}
}

func TestActionString(t *testing.T) {
	cases := map[Action]string{
		ActionContinue:  "continue",
		ActionBreak:     "break",
		ActionBreakPass: "break_pass",
	}
	for a, want := range cases {
		if got := a.String(); got != want {
			t.Errorf("Action(%d).String() = %q, want %q", a, got, want)
		}
	}
}
