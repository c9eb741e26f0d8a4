package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ajitpratap0/langrpc-go/pkg/dispatch"
	"github.com/ajitpratap0/langrpc-go/pkg/logging"
)

// Handler receives decoded messages. *dispatch.Dispatcher implements it.
type Handler interface {
	// Submit hands over a *protocol.Request or *protocol.Notification.
	// Requests are answered through reply.
	Submit(ctx context.Context, msg interface{}, reply dispatch.ReplyFunc) error
	// Cancel cancels the in-flight request with the given id.
	Cancel(id interface{}) bool
}

// Conn is one framed, bidirectional connection to a peer.
type Conn interface {
	// Call sends a request and waits for its result. When ctx ends first
	// the peer is told to cancel.
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	// Notify sends a notification, or a DAP event.
	Notify(ctx context.Context, method string, params interface{}) error
	// Run reads messages and hands them to h until the stream ends or ctx
	// is done. It must be called once.
	Run(ctx context.Context, h Handler) error
	// Close closes the underlying stream.
	Close() error
	// Done is closed once Run has returned.
	Done() <-chan struct{}
}

// Protocol selects the framing and envelope of a connection.
type Protocol string

const (
	ProtocolLSP Protocol = "lsp"
	ProtocolDAP Protocol = "dap"
)

// TransportType identifies the byte stream under a connection.
type TransportType string

const (
	TransportTypeStdio TransportType = "stdio"
	TransportTypeTCP   TransportType = "tcp"
)

// TransportConfig configures NewTransport.
type TransportConfig struct {
	Protocol Protocol      `json:"protocol" yaml:"protocol"`
	Type     TransportType `json:"type" yaml:"type"`

	// Address is dialed for TCP transports.
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	// CallTimeout bounds outgoing calls whose context has no deadline.
	// Zero means no bound.
	CallTimeout time.Duration `json:"call_timeout,omitempty" yaml:"call_timeout,omitempty"`

	// Testing support (for custom readers/writers in stdio)
	StdioReader io.Reader `json:"-" yaml:"-"`
	StdioWriter io.Writer `json:"-" yaml:"-"`

	Logger logging.Logger `json:"-" yaml:"-"`
}

// Errors
var (
	ErrUnsupportedProtocol      = errors.New("unsupported protocol")
	ErrUnsupportedTransportType = errors.New("unsupported transport type")
	ErrClosed                   = errors.New("connection closed")
)

// DefaultTransportConfig returns a stdio configuration for protocol.
func DefaultTransportConfig(protocol Protocol) TransportConfig {
	return TransportConfig{
		Protocol:    protocol,
		Type:        TransportTypeStdio,
		CallTimeout: 30 * time.Second,
	}
}

// NewTransport opens the byte stream described by config and frames it.
func NewTransport(ctx context.Context, config TransportConfig) (Conn, error) {
	if err := validateTransportConfig(config); err != nil {
		return nil, err
	}

	var rwc io.ReadWriteCloser
	switch config.Type {
	case TransportTypeStdio:
		rwc = newStdio(config.StdioReader, config.StdioWriter)
	case TransportTypeTCP:
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", config.Address)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", config.Address, err)
		}
		rwc = c
	}
	return NewConn(rwc, config)
}

// NewConn frames an open stream according to config.Protocol.
func NewConn(rwc io.ReadWriteCloser, config TransportConfig) (Conn, error) {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	switch config.Protocol {
	case ProtocolLSP:
		return newLSPConn(rwc, config.CallTimeout, logger), nil
	case ProtocolDAP:
		return newDAPConn(rwc, config.CallTimeout, logger), nil
	default:
		return nil, ErrUnsupportedProtocol
	}
}

func validateTransportConfig(config TransportConfig) error {
	switch config.Protocol {
	case ProtocolLSP, ProtocolDAP:
	default:
		return ErrUnsupportedProtocol
	}
	switch config.Type {
	case TransportTypeStdio:
		return nil
	case TransportTypeTCP:
		if config.Address == "" {
			return errors.New("address is required for TCP transports")
		}
		return nil
	default:
		return ErrUnsupportedTransportType
	}
}

func withCallTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
