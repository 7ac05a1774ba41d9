package channels

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/godcmd/pkg/bus"
	"github.com/sipeed/godcmd/pkg/config"
)

type recordingChannel struct {
	*BaseChannel
	mu   sync.Mutex
	sent []bus.OutboundMessage
	got  chan struct{}
}

func newRecordingChannel(name string, mb *bus.MessageBus) *recordingChannel {
	return &recordingChannel{BaseChannel: NewBaseChannel(name, mb), got: make(chan struct{}, 10)}
}

func (c *recordingChannel) Start(context.Context) error { c.setRunning(true); return nil }
func (c *recordingChannel) Stop(context.Context) error  { c.setRunning(false); return nil }

func (c *recordingChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	c.got <- struct{}{}
	return nil
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestManager_RoutesOutbound(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	m := NewManager(mb)
	rec := newRecordingChannel("fake", mb)
	m.RegisterChannel(rec)

	ctx := context.Background()
	require.NoError(t, m.StartAll(ctx))
	assert.Equal(t, []string{"fake"}, m.EnabledChannels())

	require.NoError(t, mb.PublishOutbound(ctx, bus.OutboundMessage{Channel: "nowhere", Content: "lost"}))
	require.NoError(t, mb.PublishOutbound(ctx, bus.OutboundMessage{Channel: "fake", ChatID: "c", Content: "hi"}))
	waitSignal(t, rec.got)

	require.NoError(t, m.StopAll(ctx))
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "hi", rec.sent[0].Content)
	assert.False(t, rec.IsRunning())
}

func TestManager_CancelSession(t *testing.T) {
	m := NewManager(bus.NewMessageBus())
	parent := context.Background()

	a1, releaseA1 := m.Track(parent, "console:a")
	a2, _ := m.Track(parent, "console:a")
	b, releaseB := m.Track(parent, "console:b")

	m.CancelSession("console:a")
	assert.ErrorIs(t, a1.Err(), context.Canceled)
	assert.ErrorIs(t, a2.Err(), context.Canceled)
	assert.NoError(t, b.Err())
	releaseA1()

	m.CancelSession("console:missing")

	c, _ := m.Track(parent, "console:c")
	m.CancelAllSessions()
	assert.ErrorIs(t, c.Err(), context.Canceled)
	assert.ErrorIs(t, b.Err(), context.Canceled)
	releaseB()

	d, releaseD := m.Track(parent, "console:d")
	releaseD()
	assert.ErrorIs(t, d.Err(), context.Canceled)
	m.inMu.Lock()
	assert.Empty(t, m.inflight)
	m.inMu.Unlock()
}

type scriptedReader struct {
	lines  []string
	closed bool
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

func TestConsoleChannel(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	var out bytes.Buffer
	rd := &scriptedReader{lines: []string{"  #help  ", "   ", "hello"}}
	c := NewConsoleChannelWith("alice", rd, &out, mb)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	waitSignal(t, c.Done())

	first, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "#help", first.Content)
	assert.Equal(t, "alice", first.SenderID)
	assert.Equal(t, "console:console", first.SessionKey)
	assert.False(t, first.IsGroup)
	assert.NotEmpty(t, first.TraceID)

	second, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "hello", second.Content)

	require.NoError(t, c.Send(ctx, bus.OutboundMessage{Type: bus.OutboundInfo, Content: "done"}))
	require.NoError(t, c.Send(ctx, bus.OutboundMessage{Type: bus.OutboundText, Content: "plain"}))
	assert.Equal(t, "[INFO]\ndone\nplain\n", out.String())

	require.NoError(t, c.Stop(ctx))
	assert.True(t, rd.closed)
	assert.Error(t, c.Send(ctx, bus.OutboundMessage{Content: "late"}))
}

func TestWebSocketChannel_RoundTrip(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	c := NewWebSocketChannel(config.WebSocketConfig{Host: "127.0.0.1", Port: 0}, mb)

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+c.Addr()+"/ws?client_id=bob", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{"content": "#id"}))
	in, ok := mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.Equal(t, "websocket", in.Channel)
	assert.Equal(t, "bob", in.SenderID)
	assert.Equal(t, "ws:bob", in.ChatID)
	assert.Equal(t, "websocket:ws:bob", in.SessionKey)

	require.NoError(t, conn.WriteJSON(map[string]any{"content": "#help", "chat_id": "room1", "is_group": true}))
	in, ok = mb.ConsumeInbound(ctx)
	require.True(t, ok)
	assert.True(t, in.IsGroup)
	assert.Equal(t, "room1", in.ChatID)

	require.NoError(t, c.Send(ctx, bus.OutboundMessage{ChatID: "ws:bob", Type: bus.OutboundInfo, Content: "bob"}))
	var out wsOutgoing
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, wsOutgoing{Content: "bob", Type: "info", ChatID: "ws:bob"}, out)

	require.NoError(t, c.Send(ctx, bus.OutboundMessage{ChatID: "room1", Content: "group"}))
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "room1", out.ChatID)

	assert.Error(t, c.Send(ctx, bus.OutboundMessage{ChatID: "ws:nobody", Content: "x"}))
}
