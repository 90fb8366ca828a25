package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/luxfi/log"

	"github.com/openfund/fund/pkg/fund"
)

// JSONRPCServer handles JSON-RPC 2.0 requests against one fund.
type JSONRPCServer struct {
	hub    *fund.Hub
	engine *fund.Engine // nil when the fund runs without an engine
	logger log.Logger
}

// NewJSONRPCServer creates a new JSON-RPC server
func NewJSONRPCServer(h *fund.Hub, engine *fund.Engine, logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{
		hub:    h,
		engine: engine,
		logger: logger,
	}
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	// Route to method handler
	result, err := s.handleMethod(req.Method, req.Params)
	if err != nil {
		s.sendError(w, req.ID, err.(*RPCError).Code, err.(*RPCError).Message)
		return
	}

	// Send success response
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, error) {
	switch method {
	// Investment methods
	case "fund_requestInvestment":
		return s.requestInvestment(params)
	case "fund_cancelRequest":
		return s.cancelRequest(params)
	case "fund_executeRequest":
		return s.executeRequest(params)
	case "fund_hasRequest":
		return s.hasRequest(params)
	case "fund_pendingRequest":
		return s.pendingRequest(params)
	case "fund_redeemShares":
		return s.redeemShares(params)

	// Trading methods
	case "fund_callOnIntegration":
		return s.callOnIntegration(params)
	case "fund_venues":
		return s.hub.Registry().Venues(), nil

	// State methods
	case "fund_vaultHoldings":
		return s.vaultHoldings(params)
	case "fund_shareBalance":
		return s.shareBalance(params)
	case "fund_shareSupply":
		return map[string]interface{}{"supply": s.hub.Shares().TotalSupply().String()}, nil
	case "fund_engineState":
		return s.engineState(params)
	case "fund_events":
		return s.events(params)

	// Admin methods
	case "fund_shutDown":
		return s.shutDown(params)
	case "fund_resume":
		return s.resume(params)

	// Info methods
	case "fund_getInfo":
		return s.getInfo(params)
	case "fund_ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid amount"}
	}
	return amount, nil
}

// Open or replace an investment request
func (s *JSONRPCServer) requestInvestment(params json.RawMessage) (interface{}, error) {
	var p struct {
		Investor  string `json:"investor"`
		Asset     string `json:"asset"`
		Amount    string `json:"amount"`
		MinShares string `json:"minShares"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if p.MinShares == "" {
		p.MinShares = "0"
	}

	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, err
	}
	minShares, err := parseAmount(p.MinShares)
	if err != nil {
		return nil, err
	}

	if err := s.hub.Participation().RequestInvestment(p.Investor, amount, minShares, p.Asset); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"investor": p.Investor,
		"status":   "pending",
	}, nil
}

// Cancel a pending request
func (s *JSONRPCServer) cancelRequest(params json.RawMessage) (interface{}, error) {
	var p struct {
		Investor string `json:"investor"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.hub.Participation().CancelRequest(p.Investor); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"investor": p.Investor,
		"status":   "cancelled",
	}, nil
}

// Execute a pending request into shares
func (s *JSONRPCServer) executeRequest(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller   string `json:"caller"`
		Investor string `json:"investor"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	if p.Caller == "" {
		p.Caller = p.Investor
	}

	shares, err := s.hub.Participation().ExecuteRequestFor(p.Caller, p.Investor)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	return map[string]interface{}{
		"investor": p.Investor,
		"shares":   shares.String(),
		"status":   "executed",
	}, nil
}

// Report whether an executable request is pending
func (s *JSONRPCServer) hasRequest(params json.RawMessage) (interface{}, error) {
	var p struct {
		Investor string `json:"investor"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	return map[string]interface{}{
		"investor":   p.Investor,
		"hasRequest": s.hub.Participation().HasRequest(p.Investor),
	}, nil
}

// Fetch the pending request, if any
func (s *JSONRPCServer) pendingRequest(params json.RawMessage) (interface{}, error) {
	var p struct {
		Investor string `json:"investor"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	req, ok := s.hub.Participation().PendingRequest(p.Investor)
	if !ok {
		return nil, &RPCError{Code: InternalError, Message: "No request for this address"}
	}
	return req, nil
}

// Redeem all of an investor's shares
func (s *JSONRPCServer) redeemShares(params json.RawMessage) (interface{}, error) {
	var p struct {
		Investor string `json:"investor"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	payouts, err := s.hub.Participation().RedeemShares(p.Investor)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	out := make(map[string]string, len(payouts))
	for asset, amount := range payouts {
		out[asset] = amount.String()
	}
	return map[string]interface{}{
		"investor": p.Investor,
		"payouts":  out,
	}, nil
}

// Execute a take-order through the vault
func (s *JSONRPCServer) callOnIntegration(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller      string `json:"caller"`
		Venue       string `json:"venue"`
		EncodedArgs string `json:"encodedArgs"` // hex
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}
	encoded, err := hex.DecodeString(p.EncodedArgs)
	if err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid encoded args"}
	}

	fill, err := s.hub.Vault().CallOnIntegration(p.Caller, p.Venue, encoded)
	if err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}

	fees := make(map[string]string, len(fill.FeeAssets))
	for i, asset := range fill.FeeAssets {
		fees[asset] = fill.FeeAmounts[i].String()
	}
	return map[string]interface{}{
		"venue":      p.Venue,
		"buyAsset":   fill.BuyAsset,
		"buyAmount":  fill.BuyAmount.String(),
		"sellAsset":  fill.SellAsset,
		"sellAmount": fill.SellAmount.String(),
		"fees":       fees,
	}, nil
}

// Get vault holdings
func (s *JSONRPCServer) vaultHoldings(params json.RawMessage) (interface{}, error) {
	holdings := make(map[string]string)
	for asset, bal := range s.hub.Vault().Holdings() {
		holdings[asset] = bal.String()
	}
	return map[string]interface{}{
		"vault":    s.hub.Vault().Address(),
		"holdings": holdings,
	}, nil
}

// Get an investor's share balance
func (s *JSONRPCServer) shareBalance(params json.RawMessage) (interface{}, error) {
	var p struct {
		Investor string `json:"investor"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	return map[string]interface{}{
		"investor": p.Investor,
		"balance":  s.hub.Shares().BalanceOf(p.Investor).String(),
	}, nil
}

// Get the engine's liquidity state
func (s *JSONRPCServer) engineState(params json.RawMessage) (interface{}, error) {
	if s.engine == nil {
		return nil, &RPCError{Code: InternalError, Message: "fund has no engine"}
	}

	state := map[string]interface{}{
		"nativeAsset":     s.engine.NativeAsset(),
		"settlementAsset": s.engine.SettlementAsset(),
		"frozen":          s.engine.Frozen().String(),
		"liquid":          s.engine.Liquid().String(),
	}
	if price, err := s.engine.Price(); err == nil {
		state["price"] = price.String()
	}
	return state, nil
}

// Get recent events, optionally filtered by type
func (s *JSONRPCServer) events(params json.RawMessage) (interface{}, error) {
	var p struct {
		Type  string `json:"type"`
		Limit int    `json:"limit"`
	}
	p.Limit = 100
	json.Unmarshal(params, &p)

	var events []fund.Event
	if p.Type != "" {
		events = s.hub.Events().EventsByType(fund.EventType(p.Type))
	} else {
		events = s.hub.Events().Events()
	}

	if p.Limit > 0 && len(events) > p.Limit {
		events = events[len(events)-p.Limit:]
	}
	return events, nil
}

// Engage the emergency stop
func (s *JSONRPCServer) shutDown(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.hub.ShutDown(p.Caller); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"status": "shut down"}, nil
}

// Clear the emergency stop
func (s *JSONRPCServer) resume(params json.RawMessage) (interface{}, error) {
	var p struct {
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	if err := s.hub.Resume(p.Caller); err != nil {
		return nil, &RPCError{Code: InternalError, Message: err.Error()}
	}
	return map[string]interface{}{"status": "active"}, nil
}

// Get fund info
func (s *JSONRPCServer) getInfo(params json.RawMessage) (interface{}, error) {
	return map[string]interface{}{
		"version":      "1.0.0",
		"fund":         s.hub.Name(),
		"manager":      s.hub.Manager(),
		"denomination": s.hub.DenominationAsset(),
		"shutDown":     s.hub.IsShutDown(),
		"shareSupply":  s.hub.Shares().TotalSupply().String(),
		"venues":       s.hub.Registry().Venues(),
		"timestamp":    time.Now().Unix(),
	}, nil
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StartJSONRPCServer starts the JSON-RPC server
func StartJSONRPCServer(ctx context.Context, port int, h *fund.Hub, engine *fund.Engine, logger log.Logger) error {
	server := NewJSONRPCServer(h, engine, logger)

	mux := http.NewServeMux()
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	logger.Info("JSON-RPC server started", "port", port)
	return httpServer.ListenAndServe()
}
