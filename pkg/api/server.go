// Package api exposes the brokerage over REST and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/paperledger/brokerd/pkg/broker"
)

// Server handles REST API and WebSocket connections.
type Server struct {
	engine    *broker.Engine
	analytics *broker.Analytics
	router    *mux.Router
	hub       *Hub
	log       *zap.SugaredLogger
	origins   []string
	srv       *http.Server
}

func NewServer(engine *broker.Engine, analytics *broker.Analytics, origins []string, logger *zap.SugaredLogger) *Server {
	s := &Server{
		engine:    engine,
		analytics: analytics,
		router:    mux.NewRouter(),
		hub:       NewHub(logger),
		log:       logger,
		origins:   origins,
	}
	// Every committed trade is fanned out to WebSocket subscribers.
	engine.OnTrade = s.broadcastTrade
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/accounts", s.handleOpenAccount).Methods("POST")
	api.HandleFunc("/accounts/{id}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{id}/trades", s.handleExecuteTrade).Methods("POST")
	api.HandleFunc("/accounts/{id}/transactions", s.handleGetTransactions).Methods("GET")
	api.HandleFunc("/accounts/{id}/portfolio", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/accounts/{id}/equity", s.handleGetEquityCurve).Methods("GET")
	api.HandleFunc("/accounts/{id}/snapshot", s.handleGetSnapshot).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.srv = &http.Server{Addr: addr, Handler: c.Handler(s.router)}
	s.log.Infow("api_listening", "addr", addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	acct, err := s.engine.OpenAccount(r.Context(), req.UserID, req.StartingBalance)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondStatusJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.engine.Account(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, acct)
}

func (s *Server) handleExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	side, ok := broker.ParseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid input", "side must be BUY or SELL")
		return
	}

	receipt, err := s.engine.ExecuteTrade(r.Context(), mux.Vars(r)["id"], req.Symbol, side, req.Quantity)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondStatusJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if _, err := s.engine.Account(r.Context(), userID); err != nil {
		s.respondDomainError(w, err)
		return
	}
	txs, err := s.engine.Transactions(r.Context(), userID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []broker.Transaction{}
	}
	respondJSON(w, txs)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, err := s.analytics.Portfolio(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, portfolio)
}

func (s *Server) handleGetEquityCurve(w http.ResponseWriter, r *http.Request) {
	curve, err := s.analytics.EquityCurve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, curve)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.analytics.Snapshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, snapshot)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast
// ==============================

func (s *Server) broadcastTrade(tx broker.Transaction) {
	event := TradeEvent{
		Type:        "trade",
		UserID:      tx.UserID,
		TxID:        tx.ID,
		Symbol:      tx.Symbol,
		Side:        string(tx.Side),
		Quantity:    tx.Quantity,
		Price:       tx.Price,
		TotalAmount: tx.TotalAmount,
		Timestamp:   tx.CreatedAt.UnixMilli(),
	}
	s.hub.BroadcastToChannel("trades", event)
	s.hub.BroadcastToChannel("trades:"+tx.UserID, event)
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatusJSON(w, http.StatusOK, data)
}

func respondStatusJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondDomainError maps the broker error taxonomy onto HTTP statuses.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid input", err.Error())
	case errors.Is(err, broker.ErrAccountNotFound):
		respondError(w, http.StatusNotFound, "account not found", err.Error())
	case errors.Is(err, broker.ErrAccountExists):
		respondError(w, http.StatusConflict, "account already exists", err.Error())
	case errors.Is(err, broker.ErrInsufficientBalance):
		respondError(w, http.StatusUnprocessableEntity, "insufficient balance", err.Error())
	case errors.Is(err, broker.ErrInsufficientHoldings):
		respondError(w, http.StatusUnprocessableEntity, "insufficient holdings", err.Error())
	case errors.Is(err, broker.ErrPriceUnavailable):
		respondError(w, http.StatusServiceUnavailable, "price unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		respondError(w, http.StatusRequestTimeout, "request aborted", err.Error())
	default:
		s.log.Errorw("internal_error", "err", err)
		respondError(w, http.StatusInternalServerError, "internal error", "")
	}
}
