package rpc

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"codice/core"
	"codice/observability/metrics"
	"codice/services/indexer"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

// ProvenanceSource serves indexed event history.
type ProvenanceSource interface {
	Events(ctx context.Context, ledger [20]byte, tokenID uint64) ([]indexer.Event, error)
	Provenance(ctx context.Context, ledger [20]byte, tokenID uint64) ([]indexer.Transfer, error)
}

// ServerConfig configures the JSON-RPC server.
type ServerConfig struct {
	// AuthToken, when set, is required as a bearer token on
	// coa_sendTransaction.
	AuthToken string
	Indexer   ProvenanceSource
	Logger    *slog.Logger
	Metrics   *metrics.LedgerMetrics
}

type Server struct {
	node      *core.Node
	indexer   ProvenanceSource
	authToken string
	logger    *slog.Logger
	metrics   *metrics.LedgerMetrics
}

func NewServer(node *core.Node, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:      node,
		indexer:   cfg.Indexer,
		authToken: strings.TrimSpace(cfg.AuthToken),
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`

	status int
}

func (e *RPCError) Error() string { return e.Message }

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type handlerFunc func(ctx context.Context, req *RPCRequest) (interface{}, error)

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"coa_chainId":                  s.handleChainID,
		"coa_sendTransaction":          s.handleSendTransaction,
		"coa_getAccount":               s.handleGetAccount,
		"coa_getReceipt":               s.handleGetReceipt,
		"certificate_collection":       s.handleCollection,
		"certificate_tokenInfo":        s.handleTokenInfo,
		"certificate_valueHistory":     s.handleValueHistory,
		"certificate_mintedTokens":     s.handleMintedTokens,
		"certificate_ownerOf":          s.handleOwnerOf,
		"certificate_balanceOf":        s.handleBalanceOf,
		"certificate_getApproved":      s.handleGetApproved,
		"certificate_isApprovedForAll": s.handleIsApprovedForAll,
		"certificate_roles":            s.handleRoles,
		"certificate_hasRole":          s.handleHasRole,
		"certificate_authenticate":     s.handleAuthenticate,
		"listing_get":                  s.handleListingGet,
		"listing_count":                s.handleListingCount,
		"listing_fees":                 s.handleListingFees,
		"provenance_events":            s.handleProvenanceEvents,
		"provenance_transfers":         s.handleProvenanceTransfers,
	}
}

// ServeHTTP handles a single JSON-RPC request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if req.Method == "coa_sendTransaction" {
		if authErr := s.requireAuth(r); authErr != nil {
			s.metrics.ObserveRPC(req.Method, authErr)
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	result, err := handler(r.Context(), req)
	s.metrics.ObserveRPC(req.Method, err)
	if err != nil {
		rpcErr := toRPCError(err)
		s.logger.Debug("rpc request failed",
			slog.String("method", req.Method),
			slog.Int("code", rpcErr.Code),
			slog.String("error", err.Error()))
		writeError(w, rpcErr.status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	writeResult(w, req.ID, result)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

// decodeParam unmarshals the positional parameter at index into out.
func decodeParam(req *RPCRequest, index int, out interface{}) error {
	if len(req.Params) <= index {
		return invalidParams(fmt.Sprintf("parameter %d required", index), nil)
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[index]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams("invalid parameter", err.Error())
	}
	return nil
}
