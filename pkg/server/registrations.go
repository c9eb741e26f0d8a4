package server

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	lsp "go.lsp.dev/protocol"

	"github.com/ajitpratap0/langrpc-go/pkg/capability"
	"github.com/ajitpratap0/langrpc-go/pkg/logging"
	"github.com/ajitpratap0/langrpc-go/pkg/protocol"
	"github.com/ajitpratap0/langrpc-go/pkg/selector"
)

// SyncRegistrations renegotiates capabilities against the current registry
// and tells the peer what changed. Language servers send
// client/unregisterCapability and client/registerCapability for methods the
// client registers dynamically; debug adapters send a capabilities event.
// Registry changes after initialization trigger it automatically.
func (s *Server) SyncRegistrations(ctx context.Context) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	if s.state.Load() != stateInitialized {
		return nil
	}
	s.mu.Lock()
	prev, peer := s.negotiated, s.peerCaps
	s.mu.Unlock()

	next := s.table.Negotiate(peer, s.registry.Snapshot())
	delta := next.Diff(prev)
	if delta.Empty() {
		s.commit(next)
		return nil
	}

	var err error
	if s.dap {
		err = s.announceDAP(ctx, next, prev)
	} else {
		err = s.announceLSP(ctx, next, peer, delta)
	}
	if err != nil {
		return err
	}

	s.commit(next)
	if m := s.obs.Metrics(); m != nil {
		m.RecordCapabilityChange(len(delta.Added), len(delta.Removed))
	}
	s.logger.Debug("Capabilities updated",
		logging.Any("added", delta.Added),
		logging.Any("removed", delta.Removed),
		logging.Any("changed", delta.Changed),
	)
	return nil
}

func (s *Server) commit(next *capability.Snapshot) {
	s.mu.Lock()
	s.negotiated = next
	s.mu.Unlock()
}

func (s *Server) announceLSP(ctx context.Context, next *capability.Snapshot, peer json.RawMessage, delta capability.Delta) error {
	var (
		regs   []lsp.Registration
		unregs []lsp.Unregistration
		added  = make(map[string]string)
	)

	withdraw := func(method string) bool {
		id, ok := s.registrations[method]
		if ok {
			unregs = append(unregs, lsp.Unregistration{ID: id, Method: method})
		}
		return ok
	}
	register := func(method string) {
		if !s.dynamic(method, peer) {
			s.logger.Info("Client cannot register capability dynamically", logging.String("method", method))
			return
		}
		reg := s.registration(next, method)
		regs = append(regs, reg)
		added[method] = reg.ID
	}

	for _, method := range delta.Removed {
		if !withdraw(method) {
			s.logger.Warn("Capability was announced at initialize and cannot be withdrawn", logging.String("method", method))
		}
	}
	for _, method := range delta.Changed {
		withdraw(method)
		register(method)
	}
	for _, method := range delta.Added {
		register(method)
	}

	if len(unregs) > 0 {
		params := lsp.UnregistrationParams{Unregisterations: unregs}
		if err := s.Call(ctx, protocol.MethodUnregisterCapability, params, nil); err != nil {
			return err
		}
		for _, u := range unregs {
			delete(s.registrations, u.Method)
		}
	}
	if len(regs) > 0 {
		params := lsp.RegistrationParams{Registrations: regs}
		if err := s.Call(ctx, protocol.MethodRegisterCapability, params, nil); err != nil {
			return err
		}
		for method, id := range added {
			s.registrations[method] = id
		}
	}
	return nil
}

// announceDAP sends the capabilities that changed in a capabilities event.
func (s *Server) announceDAP(ctx context.Context, next, prev *capability.Snapshot) error {
	patch, err := next.MergePatch(prev)
	if err != nil {
		return err
	}
	var changed map[string]interface{}
	if err := wire.Unmarshal(patch, &changed); err != nil {
		return err
	}
	// absent capabilities read as unsupported
	for k, v := range changed {
		if v == nil {
			changed[k] = false
		}
	}
	return s.Send(ctx, protocol.EventCapabilities, map[string]interface{}{"capabilities": changed})
}

// dynamic reports whether the peer registers method dynamically.
func (s *Server) dynamic(method string, peer json.RawMessage) bool {
	entry, ok := s.table.Entry(method)
	if !ok || entry.Dynamic == "" {
		return false
	}
	return gjson.GetBytes(peer, entry.Dynamic+".dynamicRegistration").Bool()
}

func (s *Server) registration(next *capability.Snapshot, method string) lsp.Registration {
	opts, _ := next.Options(method)
	if sel := s.documentSelector(method); sel != nil {
		if opts == nil {
			opts = make(map[string]interface{})
		}
		opts["documentSelector"] = sel
	}
	reg := lsp.Registration{ID: uuid.NewString(), Method: method}
	if len(opts) > 0 {
		reg.RegisterOptions = opts
	}
	return reg
}

// documentSelector joins the selectors of the method's handlers. A single
// global handler makes the registration global.
func (s *Server) documentSelector(method string) selector.Selector {
	var out selector.Selector
	for _, d := range s.registry.Snapshot().Lookup(method, protocol.ClientToServer) {
		sel := d.DocumentSelector()
		if sel.IsGlobal() {
			return nil
		}
		out = append(out, sel...)
	}
	return out
}
