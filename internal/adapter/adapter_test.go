package adapter

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/stylesync/internal/document"
	"github.com/cory-johannsen/stylesync/internal/protocol"
	"github.com/cory-johannsen/stylesync/internal/realtime"
)

type fakePort struct {
	id      string
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (p *fakePort) ConnectionID() string { return p.id }

func (p *fakePort) SendText(payload string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, payload)
	return p.sendErr
}

func (p *fakePort) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *fakePort) Types() []string {
	var types []string
	for _, s := range p.Sent() {
		types = append(types, gjson.Get(s, "type").String())
	}
	return types
}

// spyDispatcher records what reaches the dispatcher boundary.
type spyDispatcher struct {
	registered   []string
	dispatched   []protocol.ClientMessage
	disconnected []string
}

func (s *spyDispatcher) RegisterConnection(connID string, _ realtime.Sender) error {
	s.registered = append(s.registered, connID)
	return nil
}

func (s *spyDispatcher) Dispatch(_ string, msg protocol.ClientMessage) {
	s.dispatched = append(s.dispatched, msg)
}

func (s *spyDispatcher) Disconnect(connID string) {
	s.disconnected = append(s.disconnected, connID)
}

func demoDispatcher() *realtime.Dispatcher {
	return realtime.New(realtime.DocumentSourceFunc(func(roomID string) (document.RoomDocument, error) {
		if roomID != "demo-room" {
			return document.RoomDocument{}, document.ErrNotFound
		}
		return document.RoomDocument{
			RoomID:           "demo-room",
			CurrentVersionID: "v1",
			AtomicDoc:        document.AtomicDoc{ComponentID: "component-hero", ClassName: "p-4"},
			PageDoc:          document.PageDoc{PageID: "home", Overrides: []document.PageOverride{}},
		}, nil
	}))
}

func TestHandle_JoinRoundTrip(t *testing.T) {
	a := New(demoDispatcher(), zaptest.NewLogger(t))
	port := &fakePort{id: "conn-a"}
	h, err := a.Connect(port)
	require.NoError(t, err)
	assert.Equal(t, "conn-a", h.ConnectionID())

	h.ReceiveText(`{"type":"join","protocolVersion":1,"roomId":"demo-room","clientId":"client-a"}`)

	sent := port.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "doc", gjson.Get(sent[0], "type").String())
	assert.Equal(t, int64(1), gjson.Get(sent[0], "protocolVersion").Int())
	assert.Equal(t, "component-hero", gjson.Get(sent[0], "atomicDoc.componentId").String())
	assert.JSONEq(t, `{"type":"presence","protocolVersion":1,"roomId":"demo-room","clientIds":["client-a"]}`, sent[1])
}

func TestHandle_LockFlowBetweenTwoConnections(t *testing.T) {
	a := New(demoDispatcher(), zaptest.NewLogger(t))
	pa, pb := &fakePort{id: "conn-a"}, &fakePort{id: "conn-b"}
	ha, err := a.Connect(pa)
	require.NoError(t, err)
	hb, err := a.Connect(pb)
	require.NoError(t, err)

	ha.ReceiveText(`{"type":"join","protocolVersion":1,"roomId":"demo-room","clientId":"a"}`)
	hb.ReceiveText(`{"type":"join","protocolVersion":1,"roomId":"demo-room","clientId":"b"}`)
	ha.ReceiveText(`{"type":"lockAcquire","protocolVersion":1,"roomId":"demo-room","clientId":"a","lockTarget":{"target":"atomic","componentId":"component-hero"}}`)
	hb.ReceiveText(`{"type":"lockAcquire","protocolVersion":1,"roomId":"demo-room","clientId":"b","lockTarget":{"target":"atomic","componentId":"component-hero"}}`)

	last := pb.Sent()[len(pb.Sent())-1]
	assert.Equal(t, "lockDenied", gjson.Get(last, "type").String())
	assert.Equal(t, "alreadyLocked", gjson.Get(last, "reason").String())

	ha.Close()
	last = pb.Sent()[len(pb.Sent())-1]
	assert.Equal(t, "presence", gjson.Get(last, "type").String())
	assert.Equal(t, "lockReleased", pb.Types()[len(pb.Types())-2])
}

func TestHandle_InvalidPayloadsNeverReachDispatcher(t *testing.T) {
	spy := &spyDispatcher{}
	a := New(spy, zaptest.NewLogger(t))
	port := &fakePort{id: "conn-a"}
	h, err := a.Connect(port)
	require.NoError(t, err)

	for _, payload := range []string{
		``,
		`not json`,
		`{"type":"join"`,
		`[]`,
		`{"type":"join","protocolVersion":1}`,
		`{"type":"fly","protocolVersion":1,"roomId":"r"}`,
		`{"type":"subscribe","protocolVersion":1,"roomId":"r","bogus":1}`,
	} {
		h.ReceiveText(payload)
	}

	assert.Empty(t, spy.dispatched)
	sent := port.Sent()
	require.Len(t, sent, 7)
	for _, s := range sent {
		assert.Equal(t, "error", gjson.Get(s, "type").String())
		assert.Equal(t, protocol.CodeInvalidMessage, gjson.Get(s, "code").String())
		assert.Equal(t, int64(protocol.ProtocolVersion), gjson.Get(s, "supportedProtocolVersion").Int())
	}

	issues := gjson.Get(sent[4], "issues.#.path")
	assert.Equal(t, []string{"roomId", "clientId"}, []string{issues.Array()[0].String(), issues.Array()[1].String()})
}

func TestHandle_UnsupportedProtocolVersion(t *testing.T) {
	spy := &spyDispatcher{}
	a := New(spy, zaptest.NewLogger(t))
	port := &fakePort{id: "conn-a"}
	h, err := a.Connect(port)
	require.NoError(t, err)

	h.ReceiveText(`{"type":"subscribe","protocolVersion":7,"roomId":"r"}`)
	assert.Empty(t, spy.dispatched)
	require.Len(t, port.Sent(), 1)
	assert.Equal(t, protocol.CodeUnsupportedProtocolVersion, gjson.Get(port.Sent()[0], "code").String())
}

func TestHandle_ValidPayloadDispatched(t *testing.T) {
	spy := &spyDispatcher{}
	a := New(spy, zaptest.NewLogger(t))
	h, err := a.Connect(&fakePort{id: "conn-a"})
	require.NoError(t, err)

	h.ReceiveText(`{"type":"subscribe","protocolVersion":1,"roomId":"r"}`)
	assert.Equal(t, []string{"conn-a"}, spy.registered)
	assert.Equal(t, []protocol.ClientMessage{protocol.Subscribe{RoomID: "r"}}, spy.dispatched)
}

func TestHandle_CloseIdempotentAndStopsReceiving(t *testing.T) {
	spy := &spyDispatcher{}
	a := New(spy, zaptest.NewLogger(t))
	port := &fakePort{id: "conn-a"}
	h, err := a.Connect(port)
	require.NoError(t, err)

	h.Close()
	h.Close()
	assert.Equal(t, []string{"conn-a"}, spy.disconnected)

	h.ReceiveText(`{"type":"subscribe","protocolVersion":1,"roomId":"r"}`)
	h.ReceiveText(`garbage`)
	assert.Empty(t, spy.dispatched)
	assert.Empty(t, port.Sent())
}

func TestHandle_CloseRemovesConnection(t *testing.T) {
	d := demoDispatcher()
	a := New(d, zaptest.NewLogger(t))
	h, err := a.Connect(&fakePort{id: "conn-a"})
	require.NoError(t, err)
	h.ReceiveText(`{"type":"join","protocolVersion":1,"roomId":"demo-room","clientId":"a"}`)
	require.Equal(t, 1, d.Stats().Connections)

	h.Close()
	assert.Equal(t, realtime.Stats{}, d.Stats())
}

func TestAdapter_DuplicateConnectionRejected(t *testing.T) {
	a := New(demoDispatcher(), zaptest.NewLogger(t))
	_, err := a.Connect(&fakePort{id: "conn-a"})
	require.NoError(t, err)

	_, err = a.Connect(&fakePort{id: "conn-a"})
	assert.ErrorIs(t, err, realtime.ErrDuplicateConnection)
}

func TestHandle_SendFailureIsContained(t *testing.T) {
	a := New(demoDispatcher(), zaptest.NewLogger(t))
	broken := &fakePort{id: "conn-a", sendErr: errors.New("broken pipe")}
	h, err := a.Connect(broken)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		h.ReceiveText(`{"type":"join","protocolVersion":1,"roomId":"demo-room","clientId":"a"}`)
		h.ReceiveText(`nonsense`)
	})
	assert.Len(t, broken.Sent(), 3)
}

// Property: arbitrary input never panics and every reply is a typed message.
func TestPropertyReceiveTextNeverPanics(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		spy := &spyDispatcher{}
		a := New(spy, zaptest.NewLogger(t))
		port := &fakePort{id: "conn-x"}
		h, err := a.Connect(port)
		if err != nil {
			rt.Fatalf("connect: %v", err)
		}

		payload := rapid.OneOf(
			rapid.String(),
			rapid.StringMatching(`\{"type":"(join|subscribe|patchDraft|lockAcquire)","protocolVersion":[0-2](,"roomId":"[a-z]{0,3}")?\}`),
		).Draw(rt, "payload")
		h.ReceiveText(payload)

		for _, s := range port.Sent() {
			if !gjson.Valid(s) || gjson.Get(s, "type").String() == "" {
				rt.Fatalf("reply is not a typed message: %q", s)
			}
		}
		if len(spy.dispatched)+len(port.Sent()) != 1 {
			rt.Fatalf("payload %q produced %d dispatches and %d replies", payload, len(spy.dispatched), len(port.Sent()))
		}
	})
}
