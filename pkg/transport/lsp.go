package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"go.lsp.dev/jsonrpc2"

	rpcerrors "github.com/ajitpratap0/langrpc-go/pkg/errors"
	"github.com/ajitpratap0/langrpc-go/pkg/logging"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
)

// lspConn frames JSON-RPC with Content-Length headers.
type lspConn struct {
	conn        jsonrpc2.Conn
	callTimeout time.Duration
	logger      logging.Logger
	started     atomic.Bool
}

func newLSPConn(rwc io.ReadWriteCloser, callTimeout time.Duration, logger logging.Logger) *lspConn {
	return &lspConn{
		conn:        jsonrpc2.NewConn(jsonrpc2.NewStream(rwc)),
		callTimeout: callTimeout,
		logger:      logger.WithFields(logging.String("protocol", string(ProtocolLSP))),
	}
}

func (c *lspConn) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	ctx, cancel := withCallTimeout(ctx, c.callTimeout)
	defer cancel()

	var result json.RawMessage
	id, err := c.conn.Call(ctx, method, params, &result)
	if err == nil {
		if result == nil {
			result = json.RawMessage("null")
		}
		return result, nil
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// the request may still be running on the peer
		if nerr := c.conn.Notify(context.Background(), protocol.MethodCancelRequest, map[string]interface{}{"id": &id}); nerr != nil {
			c.logger.Debug("Failed to cancel outgoing request", logging.String("method", method), logging.ErrorField(nerr))
		}
		return nil, rpcerrors.FromContext(ctx, method)
	}
	var wireErr *jsonrpc2.Error
	if errors.As(err, &wireErr) {
		perr := &protocol.Error{Code: protocol.ErrorCode(wireErr.Code), Message: wireErr.Message}
		if wireErr.Data != nil {
			perr.Data = *wireErr.Data
		}
		return nil, rpcerrors.FromWire(perr)
	}
	return nil, rpcerrors.TransportError("call "+method, err)
}

func (c *lspConn) Notify(ctx context.Context, method string, params interface{}) error {
	if err := c.conn.Notify(ctx, method, params); err != nil {
		return rpcerrors.TransportError("notify "+method, err)
	}
	return nil
}

func (c *lspConn) Run(ctx context.Context, h Handler) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("transport: Run called twice")
	}
	c.conn.Go(ctx, c.handler(h))

	select {
	case <-ctx.Done():
		_ = c.conn.Close()
		<-c.conn.Done()
		return ctx.Err()
	case <-c.conn.Done():
	}
	if err := c.conn.Err(); err != nil && !isClosedErr(err) {
		return rpcerrors.TransportError("read", err)
	}
	return nil
}

// handler adapts jsonrpc2 requests to the envelope the dispatcher takes.
// It runs on the read loop, so Submit must not block on handler work.
func (c *lspConn) handler(h Handler) jsonrpc2.Handler {
	return func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		var msg interface{}
		call, isCall := req.(*jsonrpc2.Call)
		if isCall {
			id := call.ID()
			raw, err := wire.Marshal(&id)
			if err != nil {
				return reply(ctx, nil, jsonrpc2.ErrInvalidRequest)
			}
			var idValue interface{}
			if err := wire.Unmarshal(raw, &idValue); err != nil {
				return reply(ctx, nil, jsonrpc2.ErrInvalidRequest)
			}
			msg = &protocol.Request{
				JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
				ID:             idValue,
				Method:         req.Method(),
				Params:         req.Params(),
			}
		} else {
			msg = &protocol.Notification{
				JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
				Method:         req.Method(),
				Params:         req.Params(),
			}
		}

		err := h.Submit(ctx, msg, func(resp *protocol.Response) {
			if rerr := reply(ctx, resultOf(resp), wireError(resp)); rerr != nil {
				c.logger.Warn("Failed to write response",
					logging.String("method", req.Method()),
					logging.ErrorField(rerr),
				)
			}
		})
		if err != nil && !isCall {
			c.logger.Debug("Notification rejected", logging.String("method", req.Method()), logging.ErrorField(err))
		}
		return nil
	}
}

func (c *lspConn) Close() error {
	return c.conn.Close()
}

func (c *lspConn) Done() <-chan struct{} {
	return c.conn.Done()
}

func resultOf(resp *protocol.Response) interface{} {
	if resp.Error != nil {
		return nil
	}
	if resp.Result == nil {
		return json.RawMessage("null")
	}
	return resp.Result
}

func wireError(resp *protocol.Response) error {
	if resp.Error == nil {
		return nil
	}
	e := &jsonrpc2.Error{Code: jsonrpc2.Code(resp.Error.Code), Message: resp.Error.Message}
	if resp.Error.Data != nil {
		if raw, err := wire.Marshal(resp.Error.Data); err == nil {
			data := json.RawMessage(raw)
			e.Data = &data
		}
	}
	return e
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}
