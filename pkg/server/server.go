package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"
	lsp "go.lsp.dev/protocol"

	"github.com/ajitpratap0/langrpc-go/pkg/capability"
	"github.com/ajitpratap0/langrpc-go/pkg/dispatch"
	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/logging"
	"github.com/ajitpratap0/langrpc-go/pkg/observability"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/registry"
	"github.com/ajitpratap0/langrpc-go/pkg/resolve"
	"github.com/ajitpratap0/langrpc-go/pkg/selector"
	"github.com/ajitpratap0/langrpc-go/pkg/transport"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

// Session states
const (
	stateCreated int32 = iota
	stateInitialized
	stateShutdown
	stateExited
)

// Server is the server role of a session: a language server or a debug
// adapter, depending on the schema of its registry. It owns the lifecycle
// methods and hands everything else to the dispatcher.
type Server struct {
	config     Config
	schema     *protocol.Schema
	dap        bool
	registry   *registry.Registry
	table      *capability.Table
	dispatcher *dispatch.Dispatcher
	correlator *resolve.Correlator
	tracker    *selector.Tracker
	obs        *observability.Observability
	logger     logging.Logger

	state  atomic.Int32
	connMu sync.RWMutex
	conn   transport.Conn

	mu          sync.Mutex
	peerCaps    json.RawMessage
	clientInfo  *lsp.ClientInfo
	negotiated  *capability.Snapshot
	trace       lsp.TraceValue
	unsubscribe func()
	debounced   func(func())

	// syncMu serializes SyncRegistrations and guards registrations
	syncMu        sync.Mutex
	registrations map[string]string

	exited   chan struct{}
	exitOnce sync.Once
	exitCode atomic.Int32
}

// ServerOption defines options for creating a server
type ServerOption func(*Server)

// WithConfig replaces the whole configuration. Options after it still apply.
func WithConfig(config Config) ServerOption {
	return func(s *Server) {
		s.config = config
	}
}

// WithName sets the server name reported to the peer
func WithName(name string) ServerOption {
	return func(s *Server) {
		s.config.Name = name
	}
}

// WithVersion sets the server version reported to the peer
func WithVersion(version string) ServerOption {
	return func(s *Server) {
		s.config.Version = version
	}
}

// WithMaxConcurrency bounds concurrently running handlers. n <= 0 keeps
// dispatch.DefaultMaxConcurrency.
func WithMaxConcurrency(n int) ServerOption {
	return func(s *Server) {
		s.config.MaxConcurrency = n
	}
}

// WithLogger sets the logger. Without it one is built from Config.Log.
func WithLogger(logger logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithObservability sets the metrics and tracing providers. Without it they
// are built from Config.Observability.
func WithObservability(o *observability.Observability) ServerOption {
	return func(s *Server) {
		s.obs = o
	}
}

// New creates a server dispatching to the handlers in reg. The schema of reg
// selects the protocol: LSP registries make a language server, DAP
// registries a debug adapter.
func New(reg *registry.Registry, options ...ServerOption) (*Server, error) {
	s := &Server{
		config:        DefaultConfig(),
		registry:      reg,
		schema:        reg.Schema(),
		registrations: make(map[string]string),
		exited:        make(chan struct{}),
	}
	for _, option := range options {
		option(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	if s.logger == nil {
		logger, err := s.config.Log.NewLogger()
		if err != nil {
			return nil, rpcerrors.ConfigurationError("log: %v", err)
		}
		s.logger = logger
	}
	s.logger = s.logger.WithFields(
		logging.String("component", "server"),
		logging.String("protocol", s.schema.Name()),
	)

	switch s.schema.Name() {
	case protocol.LSP().Name():
		s.table = capability.LSPServer()
	case protocol.DAP().Name():
		s.table = capability.DebugAdapter()
		s.dap = true
	default:
		return nil, rpcerrors.ConfigurationError("no server capability table for schema %q", s.schema.Name())
	}

	if s.obs == nil {
		obsConfig := s.config.Observability
		if obsConfig.TracingConfig.System == "" {
			obsConfig.TracingConfig.System = s.schema.Name()
		}
		obs, err := observability.New(obsConfig)
		if err != nil {
			return nil, rpcerrors.ConfigurationError("observability: %v", err)
		}
		s.obs = obs
	}

	s.correlator = resolve.New(s.config.ResolveCacheSize,
		resolve.WithLogger(s.logger),
		resolve.WithObserver(s.obs.Observer()),
	)
	s.tracker = selector.NewTracker()
	s.dispatcher = dispatch.New(reg, protocol.ClientToServer,
		dispatch.WithLogger(s.logger),
		dispatch.WithHooks(s.obs.Hooks()),
		dispatch.WithNotifier(notifier{s}),
		dispatch.WithCorrelator(s.correlator),
		dispatch.WithTracker(s.tracker),
		dispatch.WithMaxConcurrency(s.config.MaxConcurrency),
	)
	s.debounced = debounce.New(s.config.RegistrationDebounce)

	if err := s.registerLifecycle(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) registerLifecycle() error {
	var handlers map[string]registry.HandlerFunc
	if s.dap {
		handlers = map[string]registry.HandlerFunc{
			protocol.CommandInitialize: s.handleDAPInitialize,
		}
		if len(s.registry.Snapshot().Registered(protocol.CommandDisconnect)) == 0 {
			handlers[protocol.CommandDisconnect] = s.handleDisconnect
		}
	} else {
		handlers = map[string]registry.HandlerFunc{
			protocol.MethodInitialize:  s.handleInitialize,
			protocol.MethodInitialized: s.handleInitialized,
			protocol.MethodShutdown:    s.handleShutdown,
			protocol.MethodExit:        s.handleExit,
			protocol.MethodSetTrace:    s.handleSetTrace,
		}
	}

	for method, h := range handlers {
		if len(s.registry.Snapshot().Registered(method)) > 0 {
			return rpcerrors.ConfigurationError("%s is handled by the server and cannot be registered", method)
		}
		if _, err := s.registry.Register(h, method, protocol.ClientToServer); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the registry the server dispatches to.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Dispatcher returns the server's dispatcher.
func (s *Server) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// Capabilities returns the capabilities last announced to the peer, nil
// before initialize.
func (s *Server) Capabilities() *capability.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiated
}

// PeerCapabilities returns the capabilities the peer sent with initialize.
func (s *Server) PeerCapabilities() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerCaps
}

// ClientInfo returns the client's self description, if it sent one.
func (s *Server) ClientInfo() *lsp.ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// Initialized reports whether initialize has completed and shutdown has
// not been requested.
func (s *Server) Initialized() bool {
	return s.state.Load() == stateInitialized
}

// ExitCode is the process exit code the session asks for: 0 when exit
// followed shutdown, 1 otherwise.
func (s *Server) ExitCode() int {
	return int(s.exitCode.Load())
}

// Start opens the transport from the configuration and serves it until the
// session ends (blocking).
func (s *Server) Start(ctx context.Context) error {
	if err := s.obs.Start(ctx); err != nil {
		return rpcerrors.ConfigurationError("observability: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.obs.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Failed to shut down observability", logging.ErrorField(err))
		}
	}()

	tc := s.config.Transport
	tc.Protocol = transport.ProtocolLSP
	if s.dap {
		tc.Protocol = transport.ProtocolDAP
	}
	if tc.Logger == nil {
		tc.Logger = s.logger
	}
	conn, err := transport.NewTransport(ctx, tc)
	if err != nil {
		return err
	}

	s.logger.Info("Server starting", logging.String("config", s.config.String()))
	return s.Serve(ctx, conn)
}

// Serve runs the session over conn until exit, disconnect, the end of the
// stream or ctx.
func (s *Server) Serve(ctx context.Context, conn transport.Conn) error {
	s.connMu.Lock()
	if s.conn != nil {
		s.connMu.Unlock()
		return errors.New("server: already serving")
	}
	s.conn = conn
	s.connMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- conn.Run(runCtx, s) }()

	var err error
	select {
	case err = <-errc:
	case <-s.exited:
		cancel()
		<-errc
	}
	s.teardown(conn)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) teardown(conn transport.Conn) {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.dispatcher.Close(ctx); err != nil {
		s.logger.Warn("In-flight requests outlived the session", logging.ErrorField(err))
	}
	_ = conn.Close()
	// a session that ends without exit or disconnect is abnormal
	s.exit(1)
	s.state.Store(stateExited)
	s.logger.Info("Session ended", logging.Int("exit_code", s.ExitCode()))
}

// Submit gates messages on the session state before dispatching them. It
// makes the server a transport.Handler.
func (s *Server) Submit(ctx context.Context, msg interface{}, reply dispatch.ReplyFunc) error {
	switch m := msg.(type) {
	case *protocol.Request:
		if err := s.admitRequest(m.Method); err != nil {
			reply(rpcerrors.ToResponse(err, m.ID))
			return nil
		}
		if s.dap {
			switch m.Method {
			case protocol.CommandInitialize:
				reply = s.afterInitialize(reply)
			case protocol.CommandDisconnect:
				reply = s.afterDisconnect(reply)
			}
		}
	case *protocol.Notification:
		if !s.admitNotification(m.Method) {
			s.logger.Debug("Dropping notification", logging.String("method", m.Method))
			return nil
		}
	}
	return s.dispatcher.Submit(ctx, msg, reply)
}

// Cancel cancels an in-flight request.
func (s *Server) Cancel(id interface{}) bool {
	return s.dispatcher.Cancel(id)
}

func (s *Server) admitRequest(method string) error {
	switch s.state.Load() {
	case stateCreated:
		if method == protocol.MethodInitialize {
			return nil
		}
		return rpcerrors.NotInitialized(method)
	case stateInitialized:
		if method == protocol.MethodInitialize {
			return rpcerrors.ProtocolError("initialize sent twice")
		}
		return nil
	default:
		return rpcerrors.ProtocolError(fmt.Sprintf("%s received after shutdown", method))
	}
}

func (s *Server) admitNotification(method string) bool {
	if method == protocol.MethodExit {
		return true
	}
	return s.state.Load() == stateInitialized
}

// Send sends a notification, or a DAP event, to the peer. The method must
// be one the server may send.
func (s *Server) Send(ctx context.Context, method string, params interface{}) error {
	info, err := s.outgoing(method)
	if err != nil {
		return err
	}
	if info.IsRequest() {
		return rpcerrors.ProtocolError(method + " is a request; use Call")
	}
	conn, err := s.connection(method)
	if err != nil {
		return err
	}
	return conn.Notify(ctx, method, params)
}

// Call sends a request to the peer and decodes its result into result,
// which may be nil.
func (s *Server) Call(ctx context.Context, method string, params, result interface{}) error {
	info, err := s.outgoing(method)
	if err != nil {
		return err
	}
	if !info.IsRequest() {
		return rpcerrors.ProtocolError(method + " is a notification; use Send")
	}
	conn, err := s.connection(method)
	if err != nil {
		return err
	}
	raw, err := conn.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := wire.Unmarshal(raw, result); err != nil {
		return rpcerrors.DecodeError(fmt.Sprintf("%s result", method), err)
	}
	return nil
}

func (s *Server) outgoing(method string) (protocol.MethodInfo, error) {
	info, ok := s.schema.Lookup(method)
	if !ok {
		return info, rpcerrors.MethodNotFound(method)
	}
	if !info.Direction.Accepts(protocol.ServerToClient) {
		return info, rpcerrors.ProtocolError(method + " cannot be sent by the server")
	}
	return info, nil
}

func (s *Server) connection(method string) (transport.Conn, error) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	if s.conn == nil || s.state.Load() == stateExited {
		return nil, rpcerrors.TransportError(method, transport.ErrClosed)
	}
	return s.conn, nil
}

// LogTrace sends $/logTrace when the client asked for tracing.
func (s *Server) LogTrace(ctx context.Context, message, verbose string) error {
	s.mu.Lock()
	trace := s.trace
	s.mu.Unlock()

	switch trace {
	case lsp.TraceMessage:
		return s.Send(ctx, protocol.MethodLogTrace, map[string]string{"message": message})
	case lsp.TraceVerbose:
		params := map[string]string{"message": message}
		if verbose != "" {
			params["verbose"] = verbose
		}
		return s.Send(ctx, protocol.MethodLogTrace, params)
	default:
		return nil
	}
}

// notifier routes dispatcher notifications, such as partial results,
// through Send.
type notifier struct {
	s *Server
}

func (n notifier) Notify(ctx context.Context, method string, params interface{}) error {
	return n.s.Send(ctx, method, params)
}

// Lifecycle handlers

type initializeParams struct {
	ClientInfo   *lsp.ClientInfo `json:"clientInfo,omitempty"`
	Capabilities json.RawMessage `json:"capabilities"`
	Trace        lsp.TraceValue  `json:"trace,omitempty"`
}

type initializeResult struct {
	Capabilities *capability.Snapshot `json:"capabilities"`
	ServerInfo   *lsp.ServerInfo      `json:"serverInfo,omitempty"`
}

func (s *Server) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p initializeParams
	if len(params) > 0 {
		if err := wire.Unmarshal(params, &p); err != nil {
			return nil, rpcerrors.InvalidParams(protocol.MethodInitialize, "malformed initialize params")
		}
	}

	snap := s.negotiate(p.Capabilities)
	s.mu.Lock()
	s.clientInfo = p.ClientInfo
	s.trace = p.Trace
	s.mu.Unlock()
	s.state.CompareAndSwap(stateCreated, stateInitialized)

	if p.ClientInfo != nil {
		s.logger.Info("Initializing session",
			logging.String("client", p.ClientInfo.Name),
			logging.String("client_version", p.ClientInfo.Version),
		)
	}

	return &initializeResult{
		Capabilities: snap,
		ServerInfo:   &lsp.ServerInfo{Name: s.config.Name, Version: s.config.Version},
	}, nil
}

func (s *Server) handleDAPInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	snap := s.negotiate(params)
	caps, err := capability.DAP(snap)
	if err != nil {
		return nil, err
	}
	s.state.CompareAndSwap(stateCreated, stateInitialized)
	if name := gjson.GetBytes(params, "clientName"); name.Exists() {
		s.logger.Info("Initializing debug session", logging.String("client", name.String()))
	}
	return caps, nil
}

func (s *Server) negotiate(peer json.RawMessage) *capability.Snapshot {
	if len(peer) == 0 {
		peer = json.RawMessage("{}")
	}
	snap := s.table.Negotiate(peer, s.registry.Snapshot())
	for _, err := range snap.Mismatches() {
		s.logger.Info("Capability withheld", logging.ErrorField(err))
	}

	s.mu.Lock()
	s.peerCaps = peer
	s.negotiated = snap
	s.mu.Unlock()

	if m := s.obs.Metrics(); m != nil {
		m.RecordCapabilityChange(len(snap.Methods()), 0)
	}
	return snap
}

// afterInitialize sends the DAP initialized event once the initialize
// response is out, and starts following registry changes.
func (s *Server) afterInitialize(reply dispatch.ReplyFunc) dispatch.ReplyFunc {
	return func(resp *protocol.Response) {
		reply(resp)
		if resp.Error != nil {
			return
		}
		s.follow()
		if err := s.Send(context.Background(), protocol.EventInitialized, nil); err != nil {
			s.logger.Warn("Failed to send initialized event", logging.ErrorField(err))
		}
	}
}

func (s *Server) afterDisconnect(reply dispatch.ReplyFunc) dispatch.ReplyFunc {
	return func(resp *protocol.Response) {
		reply(resp)
		s.exit(0)
	}
}

func (s *Server) handleInitialized(ctx context.Context, params json.RawMessage) (interface{}, error) {
	s.follow()
	s.logger.Debug("Client initialized")
	return nil, nil
}

// follow subscribes to registry changes. Each burst of changes is
// renegotiated once the debounce interval passes.
func (s *Server) follow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.registry.Subscribe(func(registry.Change) {
		s.debounced(func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout())
			defer cancel()
			if err := s.SyncRegistrations(ctx); err != nil {
				s.logger.Warn("Failed to update registrations", logging.ErrorField(err))
			}
		})
	})
}

func (s *Server) callTimeout() time.Duration {
	if d := s.config.Transport.CallTimeout; d > 0 {
		return d
	}
	return 30 * time.Second
}

func (s *Server) handleShutdown(ctx context.Context, params json.RawMessage) (interface{}, error) {
	s.state.Store(stateShutdown)
	s.logger.Info("Shutdown requested")
	return nil, nil
}

func (s *Server) handleExit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	code := 1
	if s.state.Load() == stateShutdown {
		code = 0
	}
	s.exit(code)
	return nil, nil
}

func (s *Server) handleDisconnect(ctx context.Context, params json.RawMessage) (interface{}, error) {
	s.state.Store(stateShutdown)
	return nil, nil
}

func (s *Server) exit(code int) {
	s.exitOnce.Do(func() {
		s.exitCode.Store(int32(code))
		close(s.exited)
	})
}

func (s *Server) handleSetTrace(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p lsp.SetTraceParams
	if err := wire.Unmarshal(params, &p); err != nil {
		return nil, rpcerrors.InvalidParams(protocol.MethodSetTrace, "malformed trace value")
	}
	s.mu.Lock()
	s.trace = p.Value
	s.mu.Unlock()
	return nil, nil
}
