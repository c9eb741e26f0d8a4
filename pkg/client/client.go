package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	lsp "go.lsp.dev/protocol"

	"github.com/ajitpratap0/langrpc-go/pkg/capability"
	"github.com/ajitpratap0/langrpc-go/pkg/dispatch"
	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/logging"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/registry"
	"github.com/ajitpratap0/langrpc-go/pkg/transport"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// Client is the client role of a session: an editor talking to a language
// server or a debug adapter. Requests the server sends to the client are
// dispatched to the handlers of its registry.
type Client struct {
	name          string
	version       string
	adapterID     string
	extraCaps     json.RawMessage
	schema        *protocol.Schema
	dap           bool
	registry      *registry.Registry
	dispatcher    *dispatch.Dispatcher
	logger        logging.Logger
	callTimeout   time.Duration
	maxConcurrent int

	connMu sync.RWMutex
	conn   transport.Conn

	mu            sync.RWMutex
	ownCaps       json.RawMessage
	serverCaps    json.RawMessage
	serverInfo    *lsp.ServerInfo
	registrations map[string]lsp.Registration

	initialized atomic.Bool
	// initializedEvent is closed when a debug adapter sends initialized
	initializedEvent chan struct{}
	initializedOnce  sync.Once
}

// ClientOption defines options for creating a client
type ClientOption func(*Client)

// WithName sets the client name sent with initialize
func WithName(name string) ClientOption {
	return func(c *Client) {
		c.name = name
	}
}

// WithVersion sets the client version sent with initialize
func WithVersion(version string) ClientOption {
	return func(c *Client) {
		c.version = version
	}
}

// WithCapabilities merges caps into the capabilities derived from the
// registry, for the parts that have no handler of their own, like
// textDocument.hover.dynamicRegistration. caps is a JSON merge patch.
func WithCapabilities(caps json.RawMessage) ClientOption {
	return func(c *Client) {
		c.extraCaps = caps
	}
}

// WithAdapterID sets the adapterID sent to debug adapters
func WithAdapterID(id string) ClientOption {
	return func(c *Client) {
		c.adapterID = id
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithCallTimeout bounds Initialize and Shutdown when their context has no
// deadline.
func WithCallTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = d
	}
}

// WithMaxConcurrency bounds concurrently running server requests
func WithMaxConcurrency(n int) ClientOption {
	return func(c *Client) {
		c.maxConcurrent = n
	}
}

// New creates a client whose registry answers server requests. The schema
// of reg selects the protocol.
func New(reg *registry.Registry, options ...ClientOption) (*Client, error) {
	c := &Client{
		name:             "langrpc-client",
		version:          "0.1.0",
		registry:         reg,
		schema:           reg.Schema(),
		callTimeout:      30 * time.Second,
		registrations:    make(map[string]lsp.Registration),
		initializedEvent: make(chan struct{}),
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	c.logger = c.logger.WithFields(
		logging.String("component", "client"),
		logging.String("protocol", c.schema.Name()),
	)

	switch c.schema.Name() {
	case protocol.LSP().Name():
		if err := c.registerHandlers(); err != nil {
			return nil, err
		}
	case protocol.DAP().Name():
		c.dap = true
	default:
		return nil, rpcerrors.ConfigurationError("no client role for schema %q", c.schema.Name())
	}

	c.dispatcher = dispatch.New(reg, protocol.ServerToClient,
		dispatch.WithLogger(c.logger),
		dispatch.WithNotifier(notifier{c}),
		dispatch.WithMaxConcurrency(c.maxConcurrent),
	)
	return c, nil
}

func (c *Client) registerHandlers() error {
	handlers := map[string]registry.HandlerFunc{
		protocol.MethodRegisterCapability:   c.handleRegisterCapability,
		protocol.MethodUnregisterCapability: c.handleUnregisterCapability,
	}
	for method, h := range handlers {
		if len(c.registry.Snapshot().Registered(method)) > 0 {
			return rpcerrors.ConfigurationError("%s is handled by the client and cannot be registered", method)
		}
		if _, err := c.registry.Register(h, method, protocol.ServerToClient); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the registry server requests are dispatched to.
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// Connect starts reading from conn in the background. The returned channel
// yields the result of conn.Run once the session ends.
func (c *Client) Connect(ctx context.Context, conn transport.Conn) (<-chan error, error) {
	c.connMu.Lock()
	if c.conn != nil {
		c.connMu.Unlock()
		return nil, errors.New("client: already connected")
	}
	c.conn = conn
	c.connMu.Unlock()

	errc := make(chan error, 1)
	go func() {
		err := conn.Run(ctx, c)
		closeCtx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
		defer cancel()
		if cerr := c.dispatcher.Close(closeCtx); cerr != nil {
			c.logger.Warn("In-flight requests outlived the session", logging.ErrorField(cerr))
		}
		errc <- err
	}()
	return errc, nil
}

// Submit hands server messages to the dispatcher. It makes the client a
// transport.Handler.
func (c *Client) Submit(ctx context.Context, msg interface{}, reply dispatch.ReplyFunc) error {
	if n, ok := msg.(*protocol.Notification); ok && c.dap {
		switch n.Method {
		case protocol.EventInitialized:
			c.initializedOnce.Do(func() { close(c.initializedEvent) })
		case protocol.EventCapabilities:
			c.applyCapabilitiesEvent(n.Params)
		}
		if len(c.registry.Snapshot().Registered(n.Method)) == 0 {
			return nil
		}
	}
	return c.dispatcher.Submit(ctx, msg, reply)
}

// Cancel cancels an in-flight server request.
func (c *Client) Cancel(id interface{}) bool {
	return c.dispatcher.Cancel(id)
}

// Initialize performs the initialize handshake and returns the server's
// capabilities. Language servers then receive initialized. Debug adapters
// are expected to follow with the initialized event; see WaitInitialized.
func (c *Client) Initialize(ctx context.Context) (json.RawMessage, error) {
	if c.initialized.Load() {
		return nil, rpcerrors.ProtocolError("client already initialized")
	}
	own, err := c.capabilities()
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if c.dap {
		return c.initializeDAP(ctx, own)
	}

	params := map[string]interface{}{
		"processId":    os.Getpid(),
		"clientInfo":   lsp.ClientInfo{Name: c.name, Version: c.version},
		"capabilities": own,
	}
	var result struct {
		Capabilities json.RawMessage `json:"capabilities"`
		ServerInfo   *lsp.ServerInfo `json:"serverInfo,omitempty"`
	}
	if err := c.Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.ownCaps = own
	c.serverCaps = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()
	c.initialized.Store(true)

	if err := c.Send(ctx, protocol.MethodInitialized, struct{}{}); err != nil {
		return nil, err
	}
	if result.ServerInfo != nil {
		c.logger.Info("Connected to server",
			logging.String("server", result.ServerInfo.Name),
			logging.String("server_version", result.ServerInfo.Version),
		)
	}
	return result.Capabilities, nil
}

func (c *Client) initializeDAP(ctx context.Context, own json.RawMessage) (json.RawMessage, error) {
	var caps json.RawMessage
	if err := c.Call(ctx, protocol.CommandInitialize, own, &caps); err != nil {
		return nil, err
	}
	if len(caps) == 0 || string(caps) == "null" {
		caps = json.RawMessage("{}")
	}
	c.mu.Lock()
	c.ownCaps = own
	c.serverCaps = caps
	c.mu.Unlock()
	c.initialized.Store(true)
	return caps, nil
}

// capabilities derives what the client announces from its registry.
func (c *Client) capabilities() (json.RawMessage, error) {
	var own json.RawMessage
	if c.dap {
		snap := c.registry.Snapshot()
		args := map[string]interface{}{
			"clientID":                      c.name,
			"clientName":                    c.name,
			"adapterID":                     c.adapterID,
			"linesStartAt1":                 true,
			"columnsStartAt1":               true,
			"pathFormat":                    "path",
			"supportsRunInTerminalRequest":  len(snap.Lookup(protocol.CommandRunInTerminal, protocol.ServerToClient)) > 0,
			"supportsStartDebuggingRequest": len(snap.Lookup(protocol.CommandStartDebugging, protocol.ServerToClient)) > 0,
		}
		raw, err := wire.Marshal(args)
		if err != nil {
			return nil, err
		}
		own = raw
	} else {
		snap := capability.LSPClient().Negotiate(json.RawMessage("{}"), c.registry.Snapshot())
		raw, err := snap.MarshalJSON()
		if err != nil {
			return nil, err
		}
		own = raw
	}
	if len(c.extraCaps) == 0 {
		return own, nil
	}
	merged, err := capability.Apply(own, c.extraCaps)
	if err != nil {
		return nil, rpcerrors.ConfigurationError("client capabilities: %v", err)
	}
	return merged, nil
}

// WaitInitialized blocks until a debug adapter sends the initialized
// event, after which it accepts configuration requests.
func (c *Client) WaitInitialized(ctx context.Context) error {
	select {
	case <-c.initializedEvent:
		return nil
	case <-ctx.Done():
		return rpcerrors.FromContext(ctx, protocol.EventInitialized)
	}
}

// Capabilities returns the capabilities the client announced.
func (c *Client) Capabilities() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ownCaps
}

// ServerCapabilities returns the capabilities the server announced,
// including later changes from a debug adapter's capabilities events.
func (c *Client) ServerCapabilities() json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

// ServerInfo returns the server's self description, if it sent one.
func (c *Client) ServerInfo() *lsp.ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Registrations returns the capabilities the server registered dynamically.
func (c *Client) Registrations() []lsp.Registration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]lsp.Registration, 0, len(c.registrations))
	for _, r := range c.registrations {
		out = append(out, r)
	}
	return out
}

// Supports reports whether the server offers method, statically at
// initialize or through a dynamic registration.
func (c *Client) Supports(method string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, r := range c.registrations {
		if r.Method == method {
			return true
		}
	}
	var entry capability.Entry
	var ok bool
	if c.dap {
		entry, ok = capability.DebugAdapter().Entry(method)
	} else {
		entry, ok = capability.LSPServer().Entry(method)
	}
	if !ok || entry.Key == "" {
		return false
	}
	path := entry.Key
	if entry.Flag != "" {
		path += "." + entry.Flag
	}
	r := gjson.GetBytes(c.serverCaps, path)
	return r.Exists() && r.Type != gjson.Null && r.Type != gjson.False
}

// Send sends a notification to the server. The method must be one the
// client may send.
func (c *Client) Send(ctx context.Context, method string, params interface{}) error {
	info, err := c.outgoing(method)
	if err != nil {
		return err
	}
	if info.IsRequest() {
		return rpcerrors.ProtocolError(method + " is a request; use Call")
	}
	conn, err := c.connection(method)
	if err != nil {
		return err
	}
	return conn.Notify(ctx, method, params)
}

// Call sends a request to the server and decodes its result into result,
// which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result interface{}) error {
	info, err := c.outgoing(method)
	if err != nil {
		return err
	}
	if !info.IsRequest() {
		return rpcerrors.ProtocolError(method + " is a notification; use Send")
	}
	conn, err := c.connection(method)
	if err != nil {
		return err
	}
	raw, err := conn.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := wire.Unmarshal(raw, result); err != nil {
		return rpcerrors.DecodeError(fmt.Sprintf("%s result", method), err)
	}
	return nil
}

// Shutdown ends the session politely: shutdown then exit for language
// servers, disconnect for debug adapters. The connection is closed
// afterwards.
func (c *Client) Shutdown(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var err error
	if c.dap {
		err = c.Call(ctx, protocol.CommandDisconnect, map[string]bool{"terminateDebuggee": true}, nil)
	} else if err = c.Call(ctx, protocol.MethodShutdown, nil, nil); err == nil {
		err = c.Send(ctx, protocol.MethodExit, nil)
	}
	c.initialized.Store(false)

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn != nil {
		_ = conn.Close()
	}
	return err
}

func (c *Client) outgoing(method string) (protocol.MethodInfo, error) {
	info, ok := c.schema.Lookup(method)
	if !ok {
		return info, rpcerrors.MethodNotFound(method)
	}
	if !info.Direction.Accepts(protocol.ClientToServer) {
		return info, rpcerrors.ProtocolError(method + " cannot be sent by the client")
	}
	return info, nil
}

func (c *Client) connection(method string) (transport.Conn, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.conn == nil {
		return nil, rpcerrors.TransportError(method, transport.ErrClosed)
	}
	select {
	case <-c.conn.Done():
		return nil, rpcerrors.TransportError(method, transport.ErrClosed)
	default:
	}
	return c.conn, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func (c *Client) handleRegisterCapability(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p lsp.RegistrationParams
	if err := wire.Unmarshal(params, &p); err != nil {
		return nil, rpcerrors.InvalidParams(protocol.MethodRegisterCapability, "malformed registration params")
	}
	c.mu.Lock()
	for _, r := range p.Registrations {
		c.registrations[r.ID] = r
	}
	c.mu.Unlock()
	for _, r := range p.Registrations {
		c.logger.Debug("Capability registered", logging.String("method", r.Method), logging.String("id", r.ID))
	}
	return nil, nil
}

func (c *Client) handleUnregisterCapability(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p lsp.UnregistrationParams
	if err := wire.Unmarshal(params, &p); err != nil {
		return nil, rpcerrors.InvalidParams(protocol.MethodUnregisterCapability, "malformed unregistration params")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range p.Unregisterations {
		if _, ok := c.registrations[u.ID]; !ok {
			c.logger.Warn("Unknown registration", logging.String("id", u.ID), logging.String("method", u.Method))
			continue
		}
		delete(c.registrations, u.ID)
	}
	return nil, nil
}

// applyCapabilitiesEvent merges the body of a DAP capabilities event into
// the server capabilities.
func (c *Client) applyCapabilitiesEvent(body json.RawMessage) {
	changed := gjson.GetBytes(body, "capabilities")
	if !changed.IsObject() {
		c.logger.Warn("Capabilities event without capabilities")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	merged, err := capability.Apply(c.serverCaps, []byte(changed.Raw))
	if err != nil {
		c.logger.Warn("Failed to apply capabilities event", logging.ErrorField(err))
		return
	}
	c.serverCaps = merged
}

// notifier routes dispatcher notifications through Send.
type notifier struct {
	c *Client
}

func (n notifier) Notify(ctx context.Context, method string, params interface{}) error {
	return n.c.Send(ctx, method, params)
}
