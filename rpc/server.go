// Package rpc serves the node's operator surface as JSON-RPC 2.0 over
// HTTP, the same method table as original_source/src/rpc/channel.rs's
// jsonrpsee service but carried over net/http and encoding/json instead
// of a generated gRPC stack (the teacher's own rpcserver.go binds to
// protoc-generated lnrpc stubs this module doesn't reproduce). Amount,
// Hash256 and Pubkey already marshal to the hex/string conventions the
// original server uses for its params and results, so request/response
// structs here embed them directly with no extra encoding layer.
package rpc

import (
	"encoding/json"
	"net/http"

	"github.com/EthanYuan/fiber/ferrors"
	"github.com/EthanYuan/fiber/network"
	"github.com/EthanYuan/fiber/payment"
)

// request is one call in the JSON-RPC 2.0 envelope.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// response is the envelope returned for one request. Result and Error
// are mutually exclusive per the JSON-RPC 2.0 spec.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handlerFunc decodes its own params from raw JSON and returns a result
// value to be marshaled back, or an error.
type handlerFunc func(raw json.RawMessage) (interface{}, error)

// Server dispatches JSON-RPC calls against one node's Node and payment
// Manager. Logf receives one line per malformed request or handler
// error, defaulting to a no-op like network.Node.Logf.
type Server struct {
	node    *network.Node
	payment *payment.Manager
	methods map[string]handlerFunc

	Logf func(format string, args ...interface{})
}

// NewServer builds a Server and registers the spec's full method table.
func NewServer(node *network.Node, paymentManager *payment.Manager) *Server {
	s := &Server{
		node:    node,
		payment: paymentManager,
		methods: make(map[string]handlerFunc),
		Logf:    func(string, ...interface{}) {},
	}
	s.registerChannelMethods()
	s.registerPaymentMethods()
	return s
}

func (s *Server) register(name string, h handlerFunc) {
	s.methods[name] = h
}

// ServeHTTP implements http.Handler, accepting a single JSON-RPC 2.0
// request per POST body (batch requests are not supported).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error: " + err.Error()}})
		return
	}

	h, ok := s.methods[req.Method]
	if !ok {
		writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found: " + req.Method}})
		return
	}

	result, err := h(req.Params)
	if err != nil {
		s.Logf("rpc: %s failed: %v", req.Method, err)
		writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Error: toRPCError(err)})
		return
	}

	writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func writeResponse(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// toRPCError maps a FiberError onto its numeric taxonomy code (spec.md
// 7), falling back to a generic internal-error code for anything else.
func toRPCError(err error) *rpcError {
	if fe, ok := err.(*ferrors.FiberError); ok {
		return &rpcError{Code: int(fe.Code), Message: fe.Error()}
	}
	return &rpcError{Code: -32603, Message: err.Error()}
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return ferrors.New(ferrors.CodeInvalidParameter, "invalid params: %v", err)
	}
	return nil
}
