package banwords

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sipeed/godcmd/pkg/hooks"
	"github.com/sipeed/godcmd/pkg/plugin"
)

func registered(t *testing.T, p *Plugin) *hooks.HookRegistry {
	t.Helper()
	pm, err := plugin.NewManager(plugin.Options{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := pm.Register(p); err != nil {
		t.Fatalf("register plugin: %v", err)
	}
	if err := pm.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	return pm.HookRegistry()
}

func TestBanwordsIgnoresInboundSilently(t *testing.T) {
	p := New("", Config{Words: []string{"Spam"}})
	r := registered(t, p)

	e := &hooks.HandleContextEvent{Content: "buy SPAM now"}
	r.TriggerHandleContext(context.Background(), e)
	if !e.SkipDefault() {
		t.Fatal("expected default handling to be skipped")
	}
	if e.Reply != nil {
		t.Fatalf("expected no reply, got %+v", e.Reply)
	}

	clean := &hooks.HandleContextEvent{Content: "hello"}
	r.TriggerHandleContext(context.Background(), clean)
	if clean.SkipDefault() {
		t.Fatal("clean message must pass")
	}

	stats := p.Snapshot()
	if stats.Inspected != 2 || stats.Ignored != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBanwordsRejectsWithReply(t *testing.T) {
	p := New("", Config{Words: []string{"spam"}, Action: "replace"})
	r := registered(t, p)

	e := &hooks.HandleContextEvent{Content: "spam"}
	r.TriggerHandleContext(context.Background(), e)
	if e.Reply == nil || e.Reply.Type != hooks.ReplyInfo || e.Reply.Content != rejectMessage {
		t.Fatalf("unexpected reply: %+v", e.Reply)
	}
	if got := p.Snapshot().Rejected; got != 1 {
		t.Fatalf("Rejected = %d, want 1", got)
	}
}

func TestBanwordsReplyFilter(t *testing.T) {
	p := New("", Config{Words: []string{"secret"}, ReplyFilter: true, ReplyAction: "replace"})
	r := registered(t, p)

	e := &hooks.MessageSendingEvent{Content: "the Secret is out"}
	r.TriggerMessageSending(context.Background(), e)
	if e.Cancel {
		t.Fatal("did not expect cancellation")
	}
	if e.Content != "the ****** is out" {
		t.Fatalf("unexpected masked content: %q", e.Content)
	}

	blocking := New("", Config{Words: []string{"secret"}, ReplyFilter: true})
	r = registered(t, blocking)
	e = &hooks.MessageSendingEvent{Content: "secret"}
	r.TriggerMessageSending(context.Background(), e)
	if !e.Cancel || e.CancelReason == "" {
		t.Fatalf("expected cancellation with reason, got %+v", e)
	}
	if got := blocking.Snapshot().RepliesBlocked; got != 1 {
		t.Fatalf("RepliesBlocked = %d, want 1", got)
	}
}

func TestBanwordsReplyFilterDisabled(t *testing.T) {
	p := New("", Config{Words: []string{"secret"}})
	r := registered(t, p)

	e := &hooks.MessageSendingEvent{Content: "secret"}
	r.TriggerMessageSending(context.Background(), e)
	if e.Cancel || e.Content != "secret" {
		t.Fatalf("reply filter is off, got %+v", e)
	}
}

func TestBanwordsSessionEnd(t *testing.T) {
	p := New("", Config{})
	r := registered(t, p)

	r.TriggerSessionEnd(context.Background(), &hooks.SessionEvent{SessionKey: "s1"})
	if got := p.Snapshot().SessionsCleared; got != 1 {
		t.Fatalf("SessionsCleared = %d, want 1", got)
	}
}

func TestLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	p, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() with no config: %v", err)
	}
	r := registered(t, p)

	e := &hooks.HandleContextEvent{Content: "forbidden"}
	r.TriggerHandleContext(context.Background(), e)
	if e.SkipDefault() {
		t.Fatal("empty word list must not block")
	}

	cfgDir := filepath.Join(dir, Name)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(`{"words":["forbidden"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.Reload(); err != nil {
		t.Fatalf("Reload(): %v", err)
	}

	e = &hooks.HandleContextEvent{Content: "forbidden"}
	r.TriggerHandleContext(context.Background(), e)
	if !e.SkipDefault() {
		t.Fatal("expected reloaded word list to block")
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, Name)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCompileDeduplicates(t *testing.T) {
	r := compile(Config{Words: []string{" A ", "a", "", "b"}, Action: "REPLACE"})
	if len(r.words) != 2 {
		t.Fatalf("words = %v, want 2 entries", r.words)
	}
	if r.action != ActionReplace || r.replyAction != ActionIgnore {
		t.Fatalf("unexpected actions: %q %q", r.action, r.replyAction)
	}
}
