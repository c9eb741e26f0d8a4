package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-dap"
	jsoniter "github.com/json-iterator/go"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/logging"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
)

var wire = jsoniter.ConfigCompatibleWithStandardLibrary

type dapRequest struct {
	dap.Request
	Arguments interface{} `json:"arguments,omitempty"`
}

type dapEvent struct {
	dap.Event
	Body interface{} `json:"body,omitempty"`
}

type dapResponse struct {
	dap.Response
	Body json.RawMessage `json:"body,omitempty"`
}

type dapErrorResponse struct {
	dap.Response
	Body dap.ErrorResponseBody `json:"body"`
}

// dapConn speaks the debug adapter protocol: Content-Length framed
// messages with sequence numbers instead of JSON-RPC ids.
type dapConn struct {
	rwc         io.ReadWriteCloser
	in          *bufio.Reader
	callTimeout time.Duration
	logger      logging.Logger

	writeMu sync.Mutex
	seq     atomic.Int64
	pending cmap.ConcurrentMap[string, chan *protocol.DAPMessage]

	started   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newDAPConn(rwc io.ReadWriteCloser, callTimeout time.Duration, logger logging.Logger) *dapConn {
	return &dapConn{
		rwc:         rwc,
		in:          bufio.NewReader(rwc),
		callTimeout: callTimeout,
		logger:      logger.WithFields(logging.String("protocol", string(ProtocolDAP))),
		pending:     cmap.New[chan *protocol.DAPMessage](),
		done:        make(chan struct{}),
	}
}

func (c *dapConn) nextSeq() int {
	return int(c.seq.Add(1))
}

func (c *dapConn) write(v interface{}) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return rpcerrors.TransportError("encode", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := dap.WriteBaseMessage(c.rwc, data); err != nil {
		return rpcerrors.TransportError("write", err)
	}
	return nil
}

func (c *dapConn) Call(ctx context.Context, command string, arguments interface{}) (json.RawMessage, error) {
	ctx, cancel := withCallTimeout(ctx, c.callTimeout)
	defer cancel()

	seq := c.nextSeq()
	key := strconv.Itoa(seq)
	ch := make(chan *protocol.DAPMessage, 1)
	c.pending.Set(key, ch)
	defer c.pending.Remove(key)

	req := &dapRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
			Command:         command,
		},
		Arguments: arguments,
	}
	if err := c.write(req); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if !resp.Success {
			perr := &protocol.Error{Code: protocol.InternalError, Message: resp.Message}
			if len(resp.Body) > 0 {
				perr.Data = resp.Body
			}
			return nil, rpcerrors.FromWire(perr)
		}
		if len(resp.Body) == 0 {
			return json.RawMessage("null"), nil
		}
		return resp.Body, nil
	case <-ctx.Done():
		cancelReq := &dapRequest{
			Request: dap.Request{
				ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "request"},
				Command:         protocol.CommandCancel,
			},
			Arguments: map[string]int{"requestId": seq},
		}
		if err := c.write(cancelReq); err != nil {
			c.logger.Debug("Failed to cancel outgoing request", logging.String("command", command), logging.ErrorField(err))
		}
		return nil, rpcerrors.FromContext(ctx, command)
	case <-c.done:
		return nil, rpcerrors.TransportError("call "+command, ErrClosed)
	}
}

func (c *dapConn) Notify(ctx context.Context, event string, body interface{}) error {
	if ctx.Err() != nil {
		return rpcerrors.FromContext(ctx, event)
	}
	return c.write(&dapEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "event"},
			Event:           event,
		},
		Body: body,
	})
}

func (c *dapConn) Run(ctx context.Context, h Handler) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("transport: Run called twice")
	}
	defer close(c.done)

	g, gctx := errgroup.WithContext(ctx)
	readDone := make(chan struct{})

	g.Go(func() error {
		defer close(readDone)
		for {
			data, err := dap.ReadBaseMessage(c.in)
			if err != nil {
				if isClosedErr(err) || gctx.Err() != nil {
					return nil
				}
				return rpcerrors.TransportError("read", err)
			}
			c.receive(gctx, h, data)
		}
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			// Close the stream to unblock the reader
			_ = c.Close()
			return gctx.Err()
		case <-readDone:
			return nil
		}
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *dapConn) receive(ctx context.Context, h Handler, data []byte) {
	msg, err := protocol.DecodeDAPMessage(data)
	if err != nil {
		c.logger.Warn("Dropping malformed message", logging.ErrorField(err))
		return
	}

	switch msg.Type {
	case "response":
		if ch, ok := c.pending.Get(strconv.Itoa(msg.RequestSeq)); ok {
			select {
			case ch <- msg:
			default:
				c.logger.Warn("Dropping duplicate response", logging.Int("request_seq", msg.RequestSeq))
			}
		}
	case "request":
		if msg.Command == protocol.CommandCancel {
			if id := gjson.GetBytes(msg.Arguments, "requestId"); id.Exists() {
				h.Cancel(id.Float())
			}
		}
		env := msg.Envelope()
		err := h.Submit(ctx, env, func(resp *protocol.Response) {
			if werr := c.respond(msg, resp); werr != nil {
				c.logger.Warn("Failed to write response", logging.String("command", msg.Command), logging.ErrorField(werr))
			}
		})
		if err != nil {
			c.logger.Debug("Request rejected", logging.String("command", msg.Command), logging.ErrorField(err))
		}
	case "event":
		if err := h.Submit(ctx, msg.Envelope(), nil); err != nil {
			c.logger.Debug("Event rejected", logging.String("event", msg.Event), logging.ErrorField(err))
		}
	}
}

// respond turns a dispatcher response into a DAP response. A cancel request
// nobody registered a handler for still succeeds; the cancellation itself
// was applied on receipt.
func (c *dapConn) respond(req *protocol.DAPMessage, resp *protocol.Response) error {
	base := dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: c.nextSeq(), Type: "response"},
		RequestSeq:      req.Seq,
		Command:         req.Command,
	}

	if resp.Error != nil && !(req.Command == protocol.CommandCancel && resp.Error.Code == protocol.MethodNotFound) {
		base.Message = resp.Error.Message
		return c.write(&dapErrorResponse{
			Response: base,
			Body: dap.ErrorResponseBody{Error: &dap.ErrorMessage{
				Id:     int(resp.Error.Code),
				Format: resp.Error.Message,
			}},
		})
	}

	base.Success = true
	out := &dapResponse{Response: base}
	if resp.Error == nil && len(resp.Result) > 0 && string(resp.Result) != "null" {
		out.Body = resp.Result
	}
	return c.write(out)
}

func (c *dapConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
	})
	return c.closeErr
}

func (c *dapConn) Done() <-chan struct{} {
	return c.done
}
