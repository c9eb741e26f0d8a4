package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/go-dap"
)

// Debug adapter protocol requests sent by the client (development tool).
const (
	CommandInitialize              = "initialize"
	CommandLaunch                  = "launch"
	CommandAttach                  = "attach"
	CommandConfigurationDone       = "configurationDone"
	CommandDisconnect              = "disconnect"
	CommandTerminate               = "terminate"
	CommandRestart                 = "restart"
	CommandSetBreakpoints          = "setBreakpoints"
	CommandSetFunctionBreakpoints  = "setFunctionBreakpoints"
	CommandSetExceptionBreakpoints = "setExceptionBreakpoints"
	CommandContinue                = "continue"
	CommandNext                    = "next"
	CommandStepIn                  = "stepIn"
	CommandStepOut                 = "stepOut"
	CommandPause                   = "pause"
	CommandStackTrace              = "stackTrace"
	CommandScopes                  = "scopes"
	CommandVariables               = "variables"
	CommandEvaluate                = "evaluate"
	CommandThreads                 = "threads"
	CommandSource                  = "source"
	CommandCompletions             = "completions"
	CommandCancel                  = "cancel"
)

// Reverse requests sent by the debug adapter.
const (
	CommandRunInTerminal  = "runInTerminal"
	CommandStartDebugging = "startDebugging"
)

// Events sent by the debug adapter. They are notifications in dispatch terms.
const (
	EventInitialized  = "initialized"
	EventStopped      = "stopped"
	EventContinued    = "continued"
	EventExited       = "exited"
	EventTerminated   = "terminated"
	EventThread       = "thread"
	EventOutput       = "output"
	EventBreakpoint   = "breakpoint"
	EventModule       = "module"
	EventProcess      = "process"
	EventCapabilities = "capabilities"
)

func dapRequest(name string) MethodInfo {
	return request(name, ClientToServer)
}

func dapEvent(name string) MethodInfo {
	return notification(name, ServerToClient)
}

var dapSchema = NewSchema("dap",
	dapRequest(CommandInitialize),
	dapRequest(CommandLaunch),
	dapRequest(CommandAttach),
	dapRequest(CommandConfigurationDone),
	dapRequest(CommandDisconnect),
	dapRequest(CommandTerminate),
	dapRequest(CommandRestart),
	dapRequest(CommandSetBreakpoints),
	dapRequest(CommandSetFunctionBreakpoints),
	dapRequest(CommandSetExceptionBreakpoints),
	dapRequest(CommandContinue),
	dapRequest(CommandNext),
	dapRequest(CommandStepIn),
	dapRequest(CommandStepOut),
	dapRequest(CommandPause),
	dapRequest(CommandStackTrace),
	dapRequest(CommandScopes),
	dapRequest(CommandVariables),
	dapRequest(CommandEvaluate),
	dapRequest(CommandThreads),
	dapRequest(CommandSource),
	MethodInfo{Name: CommandCompletions, Direction: ClientToServer, Kind: KindRequest, Mode: Parallel},
	dapRequest(CommandCancel),

	request(CommandRunInTerminal, ServerToClient),
	request(CommandStartDebugging, ServerToClient),

	dapEvent(EventInitialized),
	dapEvent(EventStopped),
	dapEvent(EventContinued),
	dapEvent(EventExited),
	dapEvent(EventTerminated),
	dapEvent(EventThread),
	dapEvent(EventOutput),
	dapEvent(EventBreakpoint),
	dapEvent(EventModule),
	dapEvent(EventProcess),
	dapEvent(EventCapabilities),
)

// DAP returns the debug adapter protocol schema.
func DAP() *Schema {
	return dapSchema
}

// DAPMessage is the decoded header of any debug adapter protocol message.
// Only one of the request, event or response field groups is populated,
// according to Type.
type DAPMessage struct {
	dap.ProtocolMessage

	Command   string          `json:"command,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	Event string `json:"event,omitempty"`

	RequestSeq int             `json:"request_seq,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// DecodeDAPMessage parses a DAP message body.
func DecodeDAPMessage(data []byte) (*DAPMessage, error) {
	var msg DAPMessage
	if err := wire.Unmarshal(data, &msg); err != nil {
		return nil, &ParseFailure{Code: ParseError, Reason: "invalid JSON"}
	}
	switch msg.Type {
	case "request", "event", "response":
		return &msg, nil
	default:
		return nil, &ParseFailure{Code: InvalidRequest, Reason: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}

// Envelope maps a DAP request or event onto the JSON-RPC envelope types the
// dispatcher works with. Sequence numbers become request ids.
func (m *DAPMessage) Envelope() interface{} {
	switch m.Type {
	case "request":
		return &Request{
			JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
			ID:             float64(m.Seq),
			Method:         m.Command,
			Params:         m.Arguments,
		}
	case "event":
		return &Notification{
			JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
			Method:         m.Event,
			Params:         m.Body,
		}
	default:
		var errObj *Error
		if !m.Success {
			errObj = &Error{Code: InternalError, Message: m.Message}
		}
		return &Response{
			JSONRPCMessage: JSONRPCMessage{JSONRPC: JSONRPCVersion},
			ID:             float64(m.RequestSeq),
			Result:         m.Body,
			Error:          errObj,
		}
	}
}
