package langrpc

import (
	"github.com/ajitpratap0/langrpc-go/pkg/client"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/registry"
	"github.com/ajitpratap0/langrpc-go/pkg/server"
	"github.com/ajitpratap0/langrpc-go/pkg/transport"
)

// Version represents the current version of the runtime
const Version = "0.1.0"

// These exports provide direct access to the core components
var (
	// NewRegistry creates a handler registry for a protocol schema
	NewRegistry = registry.New

	// NewServer creates a language server or debug adapter
	NewServer = server.New

	// NewClient creates a language or debug client
	NewClient = client.New

	// NewTransport opens a stdio or TCP connection
	NewTransport = transport.NewTransport

	// LoadConfig reads a server configuration file
	LoadConfig = server.LoadConfig
)

// Schemas
var (
	LSP = protocol.LSP
	DAP = protocol.DAP
)

// Directions
const (
	ClientToServer = protocol.ClientToServer
	ServerToClient = protocol.ServerToClient
)

// Server options
var (
	WithServerName     = server.WithName
	WithServerVersion  = server.WithVersion
	WithServerConfig   = server.WithConfig
	WithServerLogger   = server.WithLogger
	WithMaxConcurrency = server.WithMaxConcurrency
	WithObservability  = server.WithObservability
)

// Client options
var (
	WithClientName         = client.WithName
	WithClientVersion      = client.WithVersion
	WithClientCapabilities = client.WithCapabilities
	WithClientLogger       = client.WithLogger
)

// Registration options
var (
	WithSelector   = registry.WithSelector
	WithMode       = registry.WithMode
	WithOptions    = registry.WithOptions
	WithCapability = registry.WithCapability
)
