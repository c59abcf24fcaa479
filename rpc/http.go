package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"auctionchain/core"
	"auctionchain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeTxRejected     = -32010
)

// Server is the JSON-RPC facade over the node: reads answer from the latest
// committed state, submissions feed the mempool.
type Server struct {
	node   *core.Node
	logger *slog.Logger
}

func NewServer(node *core.Node, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{node: node, logger: logger}
}

// Handler returns the HTTP handler serving the RPC endpoint and Prometheus
// metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves the RPC endpoint on addr and blocks until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

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

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

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

	started := time.Now()
	var handlerErr error
	switch req.Method {
	case "auction_getWallet":
		handlerErr = s.handleGetWallet(w, req)
	case "auction_getLot":
		handlerErr = s.handleGetLot(w, req)
	case "auction_getBidHistory":
		handlerErr = s.handleGetBidHistory(w, req)
	case "auction_getHeight":
		handlerErr = s.handleGetHeight(w, req)
	case "auction_getTransactionResult":
		handlerErr = s.handleGetTransactionResult(w, req)
	case "auction_sendTransaction":
		handlerErr = s.handleSendTransaction(w, req)
	case "auction_sendTransactionSync":
		handlerErr = s.handleSendTransactionSync(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %s not found", req.Method), nil)
		handlerErr = fmt.Errorf("method not found")
	}
	observability.RPC().Observe(req.Method, time.Since(started), handlerErr)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, req *RPCRequest) error {
	addr, err := parseAddressParam(req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	wallet, err := s.node.GetWallet(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load wallet", err.Error())
		return err
	}
	if wallet == nil {
		writeResult(w, req.ID, nil)
		return nil
	}
	writeResult(w, req.ID, formatWallet(wallet))
	return nil
}

func (s *Server) handleGetLot(w http.ResponseWriter, req *RPCRequest) error {
	id, err := parseHashParam(req.Params, "lot")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	lot, err := s.node.GetLot(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load lot", err.Error())
		return err
	}
	if lot == nil {
		writeResult(w, req.ID, nil)
		return nil
	}
	writeResult(w, req.ID, formatLot(lot))
	return nil
}

func (s *Server) handleGetBidHistory(w http.ResponseWriter, req *RPCRequest) error {
	id, err := parseHashParam(req.Params, "lot")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	history, err := s.node.GetBidHistory(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load bid history", err.Error())
		return err
	}
	bids := make([]BidResult, 0, len(history))
	for i := range history {
		bids = append(bids, formatBid(&history[i]))
	}
	writeResult(w, req.ID, bids)
	return nil
}

func (s *Server) handleGetHeight(w http.ResponseWriter, req *RPCRequest) error {
	writeResult(w, req.ID, s.node.GetHeight())
	return nil
}

func (s *Server) handleGetTransactionResult(w http.ResponseWriter, req *RPCRequest) error {
	hash, err := parseHashParam(req.Params, "transaction")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	result, err := s.node.GetTransactionResult(hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load transaction result", err.Error())
		return err
	}
	if result == nil {
		writeResult(w, req.ID, nil)
		return nil
	}
	writeResult(w, req.ID, formatTxResult(hash, result))
	return nil
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, req *RPCRequest) error {
	tx, err := parseTransactionParam(req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	hash, err := s.node.SubmitTransaction(tx)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTxRejected, "transaction rejected", err.Error())
		return err
	}
	writeResult(w, req.ID, SendTransactionResult{Hash: formatHash(hash)})
	return nil
}

func (s *Server) handleSendTransactionSync(w http.ResponseWriter, r *http.Request, req *RPCRequest) error {
	tx, err := parseTransactionParam(req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}

	// The wait is bounded only by the client: dropping the connection
	// cancels r.Context() and releases the subscription.
	height, err := s.node.SubmitTransactionSync(r.Context(), tx)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeTxRejected, "transaction rejected", err.Error())
		return err
	}

	hash, err := tx.Hash()
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to hash transaction", err.Error())
		return err
	}
	result, err := s.node.GetTransactionResult(hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load transaction result", err.Error())
		return err
	}

	out := SendTransactionSyncResult{Hash: formatHash(hash), Height: height}
	if result != nil {
		out.OK = result.OK
		out.Code = result.Code
		out.Description = result.Description
	}
	writeResult(w, req.ID, out)
	return nil
}
