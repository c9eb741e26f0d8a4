package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/jsonrpc2"

	"github.com/ajitpratap0/langrpc-go/pkg/dispatch"
	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/registry"
	"github.com/ajitpratap0/langrpc-go/pkg/utils"
)

func hoverParams() map[string]interface{} {
	return map[string]interface{}{
		"textDocument": map[string]string{"uri": "file:///a.go"},
		"position":     map[string]int{"line": 1, "character": 2},
	}
}

// startLSP runs a framed LSP connection over one end of a pipe and returns
// a raw jsonrpc2 peer on the other end.
func startLSP(t *testing.T, reg *registry.Registry, peerHandler jsonrpc2.Handler) (Conn, jsonrpc2.Conn) {
	t.Helper()
	a, b := net.Pipe()

	conn, err := NewConn(a, TransportConfig{Protocol: ProtocolLSP, CallTimeout: 5 * time.Second})
	require.NoError(t, err)
	d := dispatch.New(reg, protocol.ClientToServer)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx, d) }()

	if peerHandler == nil {
		peerHandler = jsonrpc2.MethodNotFoundHandler
	}
	peer := jsonrpc2.NewConn(jsonrpc2.NewStream(b))
	peer.Go(ctx, peerHandler)

	t.Cleanup(func() {
		cancel()
		<-conn.Done()
		_ = peer.Close()
		<-peer.Done()
		_ = d.Close(context.Background())
		assert.ErrorIs(t, <-runErr, context.Canceled)
	})
	return conn, peer
}

func TestLSPRequestRoundTrip(t *testing.T) {
	reg := registry.New(protocol.LSP())
	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p struct {
			Position struct{ Line int } `json:"position"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return map[string]interface{}{"contents": "line", "line": p.Position.Line}, nil
	}), protocol.MethodHover, protocol.ClientToServer)
	require.NoError(t, err)

	_, peer := startLSP(t, reg, nil)

	var result struct {
		Contents string `json:"contents"`
		Line     int    `json:"line"`
	}
	_, err = peer.Call(context.Background(), protocol.MethodHover, hoverParams(), &result)
	require.NoError(t, err)
	assert.Equal(t, "line", result.Contents)
	assert.Equal(t, 1, result.Line)
}

func TestLSPErrorCodes(t *testing.T) {
	reg := registry.New(protocol.LSP())
	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, rpcerrors.ContentModified(protocol.MethodHover)
	}), protocol.MethodHover, protocol.ClientToServer)
	require.NoError(t, err)

	_, peer := startLSP(t, reg, nil)

	_, err = peer.Call(context.Background(), protocol.MethodHover, hoverParams(), nil)
	var wireErr *jsonrpc2.Error
	require.True(t, errors.As(err, &wireErr))
	assert.Equal(t, jsonrpc2.Code(protocol.ContentModified), wireErr.Code)

	_, err = peer.Call(context.Background(), protocol.MethodDefinition, hoverParams(), nil)
	require.True(t, errors.As(err, &wireErr))
	assert.Equal(t, jsonrpc2.Code(protocol.MethodNotFound), wireErr.Code)
}

func TestLSPOutgoingCall(t *testing.T) {
	peerHandler := func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		switch req.Method() {
		case protocol.MethodWorkspaceConfiguration:
			return reply(ctx, []interface{}{map[string]bool{"gofumpt": true}}, nil)
		default:
			return reply(ctx, nil, jsonrpc2.NewError(jsonrpc2.MethodNotFound, "no "+req.Method()))
		}
	}
	conn, _ := startLSP(t, registry.New(protocol.LSP()), peerHandler)

	raw, err := conn.Call(context.Background(), protocol.MethodWorkspaceConfiguration, map[string]interface{}{
		"items": []map[string]string{{"section": "gopls"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"gofumpt": true}]`, string(raw))

	_, err = conn.Call(context.Background(), protocol.MethodWorkspaceApplyEdit, map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, rpcerrors.IsKind(err, rpcerrors.KindMethodNotFound))
}

func TestLSPOutgoingCallCancelsPeer(t *testing.T) {
	cancelled := make(chan json.RawMessage, 1)
	var (
		mu      sync.Mutex
		pending jsonrpc2.Replier
	)
	peerHandler := func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		switch req.Method() {
		case protocol.MethodCancelRequest:
			cancelled <- req.Params()
			mu.Lock()
			defer mu.Unlock()
			if pending != nil {
				return pending(ctx, nil, jsonrpc2.NewError(jsonrpc2.Code(protocol.RequestCancelled), "cancelled"))
			}
			return nil
		default:
			// leave the call open so the read loop keeps going
			mu.Lock()
			pending = reply
			mu.Unlock()
			return nil
		}
	}
	conn, _ := startLSP(t, registry.New(protocol.LSP()), peerHandler)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := conn.Call(ctx, protocol.MethodShowMessageRequest, map[string]interface{}{"type": 1, "message": "hi"})
	require.Error(t, err)
	assert.True(t, rpcerrors.IsKind(err, rpcerrors.KindCancelled))

	select {
	case params := <-cancelled:
		assert.JSONEq(t, `{"id": 1}`, string(params))
	case <-time.After(2 * time.Second):
		t.Fatal("peer never saw $/cancelRequest")
	}
}

func TestLSPIncomingCancel(t *testing.T) {
	started := make(chan struct{})
	reg := registry.New(protocol.LSP())
	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}), protocol.MethodHover, protocol.ClientToServer)
	require.NoError(t, err)

	_, peer := startLSP(t, reg, nil)

	callErr := make(chan error, 1)
	go func() {
		_, err := peer.Call(context.Background(), protocol.MethodHover, hoverParams(), nil)
		callErr <- err
	}()

	<-started
	// jsonrpc2 numbers calls from 1
	require.NoError(t, peer.Notify(context.Background(), protocol.MethodCancelRequest, map[string]int{"id": 1}))

	select {
	case err := <-callErr:
		var wireErr *jsonrpc2.Error
		require.True(t, errors.As(err, &wireErr))
		assert.Equal(t, jsonrpc2.Code(protocol.RequestCancelled), wireErr.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled request never answered")
	}
}

func TestLSPRunEndsWithPeer(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t)
	detector.Start()
	defer detector.Check()

	a, b := net.Pipe()
	conn, err := NewConn(a, TransportConfig{Protocol: ProtocolLSP})
	require.NoError(t, err)
	d := dispatch.New(registry.New(protocol.LSP()), protocol.ClientToServer)

	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(context.Background(), d) }()

	require.NoError(t, b.Close())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the peer hung up")
	}
	<-conn.Done()
	assert.Error(t, conn.Run(context.Background(), d))
	require.NoError(t, d.Close(context.Background()))
}

// dapPeer is the development tool side of a DAP connection.
type dapPeer struct {
	t   *testing.T
	in  *bufio.Reader
	out net.Conn
	seq int
}

func (p *dapPeer) send(v interface{}) {
	p.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(p.t, err)
	require.NoError(p.t, dap.WriteBaseMessage(p.out, data))
}

func (p *dapPeer) request(command string, args interface{}) int {
	p.t.Helper()
	p.seq++
	p.send(map[string]interface{}{"seq": p.seq, "type": "request", "command": command, "arguments": args})
	return p.seq
}

func (p *dapPeer) read() *protocol.DAPMessage {
	p.t.Helper()
	require.NoError(p.t, p.out.SetReadDeadline(time.Now().Add(2*time.Second)))
	data, err := dap.ReadBaseMessage(p.in)
	require.NoError(p.t, err)
	msg, err := protocol.DecodeDAPMessage(data)
	require.NoError(p.t, err)
	return msg
}

func startDAP(t *testing.T, reg *registry.Registry) (Conn, *dapPeer) {
	t.Helper()
	a, b := net.Pipe()

	conn, err := NewConn(a, TransportConfig{Protocol: ProtocolDAP, CallTimeout: 5 * time.Second})
	require.NoError(t, err)
	d := dispatch.New(reg, protocol.ClientToServer)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx, d) }()

	t.Cleanup(func() {
		cancel()
		<-conn.Done()
		_ = b.Close()
		_ = d.Close(context.Background())
		assert.ErrorIs(t, <-runErr, context.Canceled)
	})
	return conn, &dapPeer{t: t, in: bufio.NewReader(b), out: b}
}

func TestDAPRequestResponse(t *testing.T) {
	reg := registry.New(protocol.DAP())
	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var args dap.EvaluateArguments
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, err
		}
		if args.Expression == "boom" {
			return nil, errors.New("cannot evaluate")
		}
		return dap.EvaluateResponseBody{Result: args.Expression + "=42", Type: "int"}, nil
	}), protocol.CommandEvaluate, protocol.ClientToServer)
	require.NoError(t, err)

	_, peer := startDAP(t, reg)

	seq := peer.request(protocol.CommandEvaluate, dap.EvaluateArguments{Expression: "x"})
	resp := peer.read()
	assert.Equal(t, "response", resp.Type)
	assert.Equal(t, seq, resp.RequestSeq)
	assert.Equal(t, protocol.CommandEvaluate, resp.Command)
	assert.True(t, resp.Success)
	var body dap.EvaluateResponseBody
	require.NoError(t, json.Unmarshal(resp.Body, &body))
	assert.Equal(t, "x=42", body.Result)

	seq = peer.request(protocol.CommandEvaluate, dap.EvaluateArguments{Expression: "boom"})
	resp = peer.read()
	assert.Equal(t, seq, resp.RequestSeq)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
	var errBody dap.ErrorResponseBody
	require.NoError(t, json.Unmarshal(resp.Body, &errBody))
	require.NotNil(t, errBody.Error)
	assert.Equal(t, resp.Message, errBody.Error.Format)

	seq = peer.request(protocol.CommandThreads, nil)
	resp = peer.read()
	assert.Equal(t, seq, resp.RequestSeq)
	assert.False(t, resp.Success)
}

func TestDAPCancel(t *testing.T) {
	started := make(chan struct{})
	reg := registry.New(protocol.DAP())
	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}), protocol.CommandStackTrace, protocol.ClientToServer)
	require.NoError(t, err)

	_, peer := startDAP(t, reg)

	slow := peer.request(protocol.CommandStackTrace, map[string]int{"threadId": 1})
	<-started
	cancelSeq := peer.request(protocol.CommandCancel, map[string]int{"requestId": slow})

	got := map[int]*protocol.DAPMessage{}
	for i := 0; i < 2; i++ {
		msg := peer.read()
		got[msg.RequestSeq] = msg
	}
	require.Contains(t, got, slow)
	require.Contains(t, got, cancelSeq)
	assert.False(t, got[slow].Success)
	assert.True(t, got[cancelSeq].Success)
}

func TestDAPReverseRequestAndEvents(t *testing.T) {
	conn, peer := startDAP(t, registry.New(protocol.DAP()))

	type result struct {
		raw json.RawMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := conn.Call(context.Background(), protocol.CommandRunInTerminal, dap.RunInTerminalRequestArguments{
			Kind: "integrated",
			Args: []string{"dlv"},
		})
		done <- result{raw, err}
	}()

	req := peer.read()
	assert.Equal(t, "request", req.Type)
	assert.Equal(t, protocol.CommandRunInTerminal, req.Command)
	peer.send(map[string]interface{}{
		"seq": 100, "type": "response", "request_seq": req.Seq, "command": req.Command,
		"success": true, "body": map[string]int{"processId": 7},
	})

	r := <-done
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"processId": 7}`, string(r.raw))

	go func() {
		raw, err := conn.Call(context.Background(), protocol.CommandStartDebugging, map[string]interface{}{"request": "launch"})
		done <- result{raw, err}
	}()
	req = peer.read()
	peer.send(map[string]interface{}{
		"seq": 101, "type": "response", "request_seq": req.Seq, "command": req.Command,
		"success": false, "message": "not supported",
	})
	r = <-done
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "not supported")

	notifyErr := make(chan error, 1)
	go func() {
		notifyErr <- conn.Notify(context.Background(), protocol.EventStopped, dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1})
	}()
	ev := peer.read()
	require.NoError(t, <-notifyErr)
	assert.Equal(t, "event", ev.Type)
	assert.Equal(t, protocol.EventStopped, ev.Event)
	var stopped dap.StoppedEventBody
	require.NoError(t, json.Unmarshal(ev.Body, &stopped))
	assert.Equal(t, "breakpoint", stopped.Reason)
	assert.Equal(t, 1, stopped.ThreadId)
}

func TestDAPMalformedMessageIsDropped(t *testing.T) {
	reg := registry.New(protocol.DAP())
	_, err := reg.Register(registry.HandlerFunc(func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: 1, Name: "main"}}}, nil
	}), protocol.CommandThreads, protocol.ClientToServer)
	require.NoError(t, err)

	_, peer := startDAP(t, reg)

	require.NoError(t, dap.WriteBaseMessage(peer.out, []byte(`{"seq": 1, "type": "bogus"}`)))
	seq := peer.request(protocol.CommandThreads, nil)
	resp := peer.read()
	assert.Equal(t, seq, resp.RequestSeq)
	assert.True(t, resp.Success)
}

func TestNewTransportValidation(t *testing.T) {
	_, err := NewTransport(context.Background(), TransportConfig{Protocol: "grpc", Type: TransportTypeStdio})
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)

	_, err = NewTransport(context.Background(), TransportConfig{Protocol: ProtocolLSP, Type: "http"})
	assert.ErrorIs(t, err, ErrUnsupportedTransportType)

	_, err = NewTransport(context.Background(), TransportConfig{Protocol: ProtocolDAP, Type: TransportTypeTCP})
	assert.Error(t, err)

	cfg := DefaultTransportConfig(ProtocolDAP)
	assert.Equal(t, TransportTypeStdio, cfg.Type)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
}

func TestTCPTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	conn, err := NewTransport(context.Background(), TransportConfig{
		Protocol: ProtocolLSP,
		Type:     TransportTypeTCP,
		Address:  ln.Addr().String(),
	})
	require.NoError(t, err)
	server := <-accepted
	defer server.Close()

	peer := jsonrpc2.NewConn(jsonrpc2.NewStream(server))
	got := make(chan string, 1)
	peer.Go(context.Background(), func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		got <- req.Method()
		return nil
	})

	require.NoError(t, conn.Notify(context.Background(), protocol.MethodLogMessage, map[string]interface{}{"type": 3, "message": "hi"}))
	select {
	case m := <-got:
		assert.Equal(t, protocol.MethodLogMessage, m)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	require.NoError(t, conn.Close())
	_ = peer.Close()
}
