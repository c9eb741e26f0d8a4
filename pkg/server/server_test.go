package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"
	lsp "go.lsp.dev/protocol"

	"github.com/ajitpratap0/langrpc-go/pkg/logging"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/registry"
	"github.com/ajitpratap0/langrpc-go/pkg/selector"
	"github.com/ajitpratap0/langrpc-go/pkg/transport"
	"github.com/ajitpratap0/langrpc-go/pkg/utils"
)

type peerCall struct {
	method string
	params json.RawMessage
}

type lspSession struct {
	server *Server
	peer   jsonrpc2.Conn
	calls  chan peerCall
	done   chan error
}

// startLSP serves a language server over a pipe. The client end records
// every message the server sends and answers requests with null.
func startLSP(t *testing.T, reg *registry.Registry, opts ...ServerOption) *lspSession {
	t.Helper()
	opts = append([]ServerOption{WithLogger(logging.NewNop())}, opts...)
	s, err := New(reg, opts...)
	require.NoError(t, err)

	a, b := net.Pipe()
	conn, err := transport.NewConn(a, transport.TransportConfig{Protocol: transport.ProtocolLSP, CallTimeout: 5 * time.Second})
	require.NoError(t, err)

	sess := &lspSession{server: s, calls: make(chan peerCall, 16), done: make(chan error, 1)}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { sess.done <- s.Serve(ctx, conn) }()

	sess.peer = jsonrpc2.NewConn(jsonrpc2.NewStream(b))
	sess.peer.Go(ctx, func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		sess.calls <- peerCall{method: req.Method(), params: req.Params()}
		if _, isCall := req.(*jsonrpc2.Call); isCall {
			// a handler error would make jsonrpc2 reply a second time
			_ = reply(ctx, nil, nil)
		}
		return nil
	})

	t.Cleanup(func() {
		cancel()
		_ = sess.peer.Close()
		select {
		case <-sess.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return sess
}

func (s *lspSession) initialize(t *testing.T, caps string) map[string]interface{} {
	t.Helper()
	params := map[string]interface{}{
		"processId":    1,
		"clientInfo":   map[string]string{"name": "test-editor", "version": "1.2"},
		"capabilities": json.RawMessage(caps),
		"trace":        "verbose",
	}
	var result map[string]interface{}
	_, err := s.peer.Call(context.Background(), protocol.MethodInitialize, params, &result)
	require.NoError(t, err)
	return result
}

func (s *lspSession) expectCall(t *testing.T, method string) json.RawMessage {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c := <-s.calls:
			if c.method == method {
				return c.params
			}
		case <-timeout:
			t.Fatalf("client never received %s", method)
			return nil
		}
	}
}

func wireCode(t *testing.T, err error) protocol.ErrorCode {
	t.Helper()
	var wireErr *jsonrpc2.Error
	require.True(t, errors.As(err, &wireErr), "expected a wire error, got %v", err)
	return protocol.ErrorCode(wireErr.Code)
}

func hoverRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(protocol.LSP())
	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return map[string]string{"contents": "docs"}, nil
	}), protocol.MethodHover, protocol.ClientToServer)
	require.NoError(t, err)
	return reg
}

func hoverParams() map[string]interface{} {
	return map[string]interface{}{
		"textDocument": map[string]string{"uri": "file:///a.go"},
		"position":     map[string]int{"line": 0, "character": 0},
	}
}

func TestRequestBeforeInitialize(t *testing.T) {
	sess := startLSP(t, hoverRegistry(t))

	_, err := sess.peer.Call(context.Background(), protocol.MethodHover, hoverParams(), nil)
	assert.Equal(t, protocol.ServerNotInitialized, wireCode(t, err))
}

func TestInitializeNegotiatesCapabilities(t *testing.T) {
	reg := hoverRegistry(t)
	lens := registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return []interface{}{}, nil
	})
	_, _, err := reg.RegisterResolvable(lens, lens, protocol.MethodCodeLens, protocol.ClientToServer)
	require.NoError(t, err)

	sess := startLSP(t, reg, WithName("gopher-ls"), WithVersion("2.0.0"))
	result := sess.initialize(t, `{}`)

	caps, ok := result["capabilities"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, caps["hoverProvider"])
	assert.Equal(t, map[string]interface{}{"resolveProvider": true}, caps["codeLensProvider"])
	assert.NotContains(t, caps, "definitionProvider")
	assert.Equal(t, map[string]interface{}{"name": "gopher-ls", "version": "2.0.0"}, result["serverInfo"])

	require.NotNil(t, sess.server.ClientInfo())
	assert.Equal(t, "test-editor", sess.server.ClientInfo().Name)
	assert.True(t, sess.server.Initialized())
	assert.True(t, sess.server.Capabilities().Present(protocol.MethodHover))

	var hover map[string]string
	_, err = sess.peer.Call(context.Background(), protocol.MethodHover, hoverParams(), &hover)
	require.NoError(t, err)
	assert.Equal(t, "docs", hover["contents"])

	_, err = sess.peer.Call(context.Background(), protocol.MethodInitialize, map[string]interface{}{}, nil)
	assert.Equal(t, protocol.InvalidRequest, wireCode(t, err))
}

func TestShutdownThenExit(t *testing.T) {
	sess := startLSP(t, hoverRegistry(t))
	sess.initialize(t, `{}`)

	_, err := sess.peer.Call(context.Background(), protocol.MethodShutdown, nil, nil)
	require.NoError(t, err)
	assert.False(t, sess.server.Initialized())

	_, err = sess.peer.Call(context.Background(), protocol.MethodHover, hoverParams(), nil)
	assert.Equal(t, protocol.InvalidRequest, wireCode(t, err))

	require.NoError(t, sess.peer.Notify(context.Background(), protocol.MethodExit, nil))
	select {
	case err := <-sess.done:
		assert.NoError(t, err)
		sess.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("exit did not end the session")
	}
	assert.Equal(t, 0, sess.server.ExitCode())
}

func TestExitWithoutShutdown(t *testing.T) {
	sess := startLSP(t, hoverRegistry(t))
	sess.initialize(t, `{}`)

	require.NoError(t, sess.peer.Notify(context.Background(), protocol.MethodExit, nil))
	select {
	case err := <-sess.done:
		assert.NoError(t, err)
		sess.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("exit did not end the session")
	}
	assert.Equal(t, 1, sess.server.ExitCode())
}

func TestLifecycleMethodsAreReserved(t *testing.T) {
	reg := registry.New(protocol.LSP())
	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, nil
	}), protocol.MethodShutdown, protocol.ClientToServer)
	require.NoError(t, err)

	_, err = New(reg, WithLogger(logging.NewNop()))
	assert.Error(t, err)
}

func TestSyncRegistrations(t *testing.T) {
	reg := hoverRegistry(t)
	sess := startLSP(t, reg)
	sess.initialize(t, `{"textDocument": {"definition": {"dynamicRegistration": true}}}`)

	id, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, nil
	}), protocol.MethodDefinition, protocol.ClientToServer, registry.WithSelector(selector.Language("go")))
	require.NoError(t, err)
	require.NoError(t, sess.server.SyncRegistrations(context.Background()))

	var regs lsp.RegistrationParams
	require.NoError(t, json.Unmarshal(sess.expectCall(t, protocol.MethodRegisterCapability), &regs))
	require.Len(t, regs.Registrations, 1)
	registered := regs.Registrations[0]
	assert.Equal(t, protocol.MethodDefinition, registered.Method)
	assert.NotEmpty(t, registered.ID)
	opts, err := json.Marshal(registered.RegisterOptions)
	require.NoError(t, err)
	assert.JSONEq(t, `{"documentSelector": [{"language": "go"}]}`, string(opts))
	assert.True(t, sess.server.Capabilities().Present(protocol.MethodDefinition))

	require.True(t, reg.Unregister(id))
	require.NoError(t, sess.server.SyncRegistrations(context.Background()))

	var unregs lsp.UnregistrationParams
	require.NoError(t, json.Unmarshal(sess.expectCall(t, protocol.MethodUnregisterCapability), &unregs))
	require.Len(t, unregs.Unregisterations, 1)
	assert.Equal(t, registered.ID, unregs.Unregisterations[0].ID)
	assert.False(t, sess.server.Capabilities().Present(protocol.MethodDefinition))
}

func TestRegistryChangesArePushed(t *testing.T) {
	reg := hoverRegistry(t)
	cfg := DefaultConfig()
	cfg.RegistrationDebounce = 10 * time.Millisecond
	sess := startLSP(t, reg, WithConfig(cfg))
	sess.initialize(t, `{"textDocument": {"references": {"dynamicRegistration": true}}}`)
	require.NoError(t, sess.peer.Notify(context.Background(), protocol.MethodInitialized, map[string]interface{}{}))

	require.Eventually(t, func() bool {
		sess.server.mu.Lock()
		defer sess.server.mu.Unlock()
		return sess.server.unsubscribe != nil
	}, 2*time.Second, 5*time.Millisecond)

	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return []interface{}{}, nil
	}), protocol.MethodReferences, protocol.ClientToServer)
	require.NoError(t, err)

	var regs lsp.RegistrationParams
	require.NoError(t, json.Unmarshal(sess.expectCall(t, protocol.MethodRegisterCapability), &regs))
	require.Len(t, regs.Registrations, 1)
	assert.Equal(t, protocol.MethodReferences, regs.Registrations[0].Method)
}

func TestStaticCapabilitiesAreNotRegistered(t *testing.T) {
	reg := hoverRegistry(t)
	sess := startLSP(t, reg)
	sess.initialize(t, `{}`)

	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, nil
	}), protocol.MethodRename, protocol.ClientToServer)
	require.NoError(t, err)
	require.NoError(t, sess.server.SyncRegistrations(context.Background()))

	// the snapshot moves on even though the client could not be told
	assert.True(t, sess.server.Capabilities().Present(protocol.MethodRename))
	select {
	case c := <-sess.calls:
		t.Fatalf("unexpected %s", c.method)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSendAndCallDirections(t *testing.T) {
	sess := startLSP(t, hoverRegistry(t))
	sess.initialize(t, `{}`)
	ctx := context.Background()
	s := sess.server

	assert.Error(t, s.Send(ctx, protocol.MethodHover, nil))
	assert.Error(t, s.Send(ctx, "custom/unknown", nil))
	assert.Error(t, s.Send(ctx, protocol.MethodWorkspaceConfiguration, nil))
	assert.Error(t, s.Call(ctx, protocol.MethodLogMessage, nil, nil))

	require.NoError(t, s.Send(ctx, protocol.MethodLogMessage, map[string]interface{}{"type": 3, "message": "indexing"}))
	params := sess.expectCall(t, protocol.MethodLogMessage)
	assert.JSONEq(t, `{"type": 3, "message": "indexing"}`, string(params))

	var result interface{}
	require.NoError(t, s.Call(ctx, protocol.MethodWorkspaceConfiguration, map[string]interface{}{"items": []interface{}{}}, &result))
	assert.Nil(t, result)
}

func TestLogTrace(t *testing.T) {
	sess := startLSP(t, hoverRegistry(t))
	sess.initialize(t, `{}`)

	require.NoError(t, sess.server.LogTrace(context.Background(), "resolved", "3 items"))
	params := sess.expectCall(t, protocol.MethodLogTrace)
	assert.JSONEq(t, `{"message": "resolved", "verbose": "3 items"}`, string(params))

	require.NoError(t, sess.peer.Notify(context.Background(), protocol.MethodSetTrace, map[string]string{"value": "off"}))
	require.Eventually(t, func() bool {
		sess.server.mu.Lock()
		defer sess.server.mu.Unlock()
		return sess.server.trace == lsp.TraceOff
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sess.server.LogTrace(context.Background(), "quiet", ""))
}

// DAP

type dapClient struct {
	t   *testing.T
	in  *bufio.Reader
	out net.Conn
	seq int
}

func (c *dapClient) request(command string, args interface{}) int {
	c.t.Helper()
	c.seq++
	data, err := json.Marshal(map[string]interface{}{"seq": c.seq, "type": "request", "command": command, "arguments": args})
	require.NoError(c.t, err)
	require.NoError(c.t, dap.WriteBaseMessage(c.out, data))
	return c.seq
}

func (c *dapClient) read() *protocol.DAPMessage {
	c.t.Helper()
	require.NoError(c.t, c.out.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, err := dap.ReadBaseMessage(c.in)
	require.NoError(c.t, err)
	msg, err := protocol.DecodeDAPMessage(data)
	require.NoError(c.t, err)
	return msg
}

func startDAP(t *testing.T, reg *registry.Registry) (*Server, *dapClient, chan error) {
	t.Helper()
	s, err := New(reg, WithLogger(logging.NewNop()))
	require.NoError(t, err)

	a, b := net.Pipe()
	conn, err := transport.NewConn(a, transport.TransportConfig{Protocol: transport.ProtocolDAP})
	require.NoError(t, err)

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- s.Serve(ctx, conn) }()
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
	})
	return s, &dapClient{t: t, in: bufio.NewReader(b), out: b}, done
}

func TestDAPSession(t *testing.T) {
	reg := registry.New(protocol.DAP())
	noop := registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, nil
	})
	_, err := reg.Register(noop, protocol.CommandConfigurationDone, protocol.ClientToServer)
	require.NoError(t, err)
	_, err = reg.Register(noop, protocol.CommandEvaluate, protocol.ClientToServer)
	require.NoError(t, err)

	s, client, done := startDAP(t, reg)

	seq := client.request(protocol.CommandThreads, nil)
	resp := client.read()
	assert.Equal(t, seq, resp.RequestSeq)
	assert.False(t, resp.Success)

	seq = client.request(protocol.CommandInitialize, dap.InitializeRequestArguments{
		ClientName: "test-ide",
		AdapterID:  "go",
	})
	resp = client.read()
	require.Equal(t, seq, resp.RequestSeq)
	require.True(t, resp.Success)
	var caps dap.Capabilities
	require.NoError(t, json.Unmarshal(resp.Body, &caps))
	assert.True(t, caps.SupportsConfigurationDoneRequest)
	// evaluate needs supportsVariableType from the client
	assert.False(t, caps.SupportsEvaluateForHovers)

	ev := client.read()
	assert.Equal(t, "event", ev.Type)
	assert.Equal(t, protocol.EventInitialized, ev.Event)

	_, err = reg.Register(noop, protocol.CommandTerminate, protocol.ClientToServer)
	require.NoError(t, err)
	syncErr := make(chan error, 1)
	go func() { syncErr <- s.SyncRegistrations(context.Background()) }()
	ev = client.read()
	require.NoError(t, <-syncErr)
	assert.Equal(t, protocol.EventCapabilities, ev.Event)
	assert.JSONEq(t, `{"capabilities": {"supportsTerminateRequest": true}}`, string(ev.Body))

	seq = client.request(protocol.CommandDisconnect, map[string]bool{"terminateDebuggee": true})
	resp = client.read()
	assert.Equal(t, seq, resp.RequestSeq)
	assert.True(t, resp.Success)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect did not end the session")
	}
	assert.Equal(t, 0, s.ExitCode())
}

func TestHandlerPanicIsAnswered(t *testing.T) {
	reg := registry.New(protocol.LSP())
	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		panic("boom")
	}), protocol.MethodHover, protocol.ClientToServer)
	require.NoError(t, err)

	sess := startLSP(t, reg)
	sess.initialize(t, `{}`)

	_, err = sess.peer.Call(context.Background(), protocol.MethodHover, hoverParams(), nil)
	assert.Equal(t, protocol.InternalError, wireCode(t, err))
	var wireErr *jsonrpc2.Error
	require.True(t, errors.As(err, &wireErr))
	assert.Equal(t, "handler panicked", wireErr.Message)

	// the session survives
	_, err = sess.peer.Call(context.Background(), protocol.MethodShutdown, nil, nil)
	assert.NoError(t, err)
}

func TestSessionLeavesNoGoroutines(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t).SetStabilizeDelay(2 * time.Second)
	detector.Start()

	s, err := New(hoverRegistry(t), WithLogger(logging.NewNop()))
	require.NoError(t, err)
	a, b := net.Pipe()
	conn, err := transport.NewConn(a, transport.TransportConfig{Protocol: transport.ProtocolLSP})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), conn) }()

	ctx, cancel := context.WithCancel(context.Background())
	peer := jsonrpc2.NewConn(jsonrpc2.NewStream(b))
	peer.Go(ctx, jsonrpc2.MethodNotFoundHandler)

	_, err = peer.Call(ctx, protocol.MethodInitialize, map[string]interface{}{"capabilities": map[string]interface{}{}}, nil)
	require.NoError(t, err)
	require.NoError(t, peer.Notify(ctx, protocol.MethodInitialized, map[string]interface{}{}))
	_, err = peer.Call(ctx, protocol.MethodHover, hoverParams(), nil)
	require.NoError(t, err)
	_, err = peer.Call(ctx, protocol.MethodShutdown, nil, nil)
	require.NoError(t, err)
	require.NoError(t, peer.Notify(ctx, protocol.MethodExit, nil))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("exit did not end the session")
	}
	cancel()
	_ = peer.Close()
	<-peer.Done()

	detector.Check()
}
