package api

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/predictx/predictx/pkg/engine"
	"github.com/predictx/predictx/pkg/relayer"
)

// Server is the REST/WebSocket glue over the matching engine and relayer.
// It holds no trading state of its own: every handler maps one request to
// one engine or relayer call.
type Server struct {
	engine  *engine.Engine
	relayer *relayer.Relayer
	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
}

func NewServer(e *engine.Engine, r *relayer.Relayer, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		engine:  e,
		relayer: r,
		router:  mux.NewRouter(),
		hub:     NewHub(),
		log:     log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/{id}", s.handleOrderStatus).Methods("GET")
	api.HandleFunc("/markets/{marketId}/{outcome}/orderbook", s.handleOrderbook).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// BroadcastMatches pushes trade prints and a fresh book snapshot to
// websocket subscribers after a matching pass. Wired as the matching loop's
// OnMatches observer.
func (s *Server) BroadcastMatches(bookKey string, matches []engine.Match) {
	now := time.Now().UnixMilli()
	for _, m := range matches {
		s.hub.BroadcastToChannel("trades:"+bookKey, WSMessage{
			Channel: "trades:" + bookKey,
			Data: TradeUpdate{
				Book:      bookKey,
				Price:     m.Price,
				Amount:    m.Amount.String(),
				Timestamp: now,
			},
		})
	}
	if len(matches) > 0 {
		m := matches[0]
		snap := s.engine.BookSnapshot(m.Sell.Order.MarketID, m.Sell.Order.Outcome)
		s.hub.BroadcastToChannel("book:"+bookKey, WSMessage{
			Channel: "book:" + bookKey,
			Data:    bookResponse(m.Sell.Order.MarketID.String(), m.Sell.Order.Outcome, snap),
		})
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SubmitOrderResponse{Error: "invalid JSON body"})
		return
	}

	order, err := req.Order.ToOrder()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, SubmitOrderResponse{Error: err.Error()})
		return
	}
	sig, err := parseSignature(req.Signature)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, SubmitOrderResponse{Error: err.Error()})
		return
	}

	var side engine.Side
	switch req.Side {
	case string(engine.Buy):
		side = engine.Buy
	case string(engine.Sell):
		side = engine.Sell
	default:
		writeJSON(w, http.StatusBadRequest, SubmitOrderResponse{Error: "side must be BUY or SELL"})
		return
	}

	id, err := s.engine.Admit(order, sig, side)
	if err != nil {
		status := http.StatusBadRequest
		if !isAdmissionError(err) {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, SubmitOrderResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, SubmitOrderResponse{Success: true, OrderID: id.Hex()})
}

func isAdmissionError(err error) bool {
	return errors.Is(err, engine.ErrInvalidAmount) ||
		errors.Is(err, engine.ErrOrderExpired) ||
		errors.Is(err, engine.ErrInvalidOutcome) ||
		errors.Is(err, engine.ErrInvalidSignature) ||
		errors.Is(err, engine.ErrAlreadyFilled)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, CancelOrderResponse{})
		return
	}
	marketID, err := parseBig(req.MarketID, "marketId")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, CancelOrderResponse{})
		return
	}

	removed := s.engine.Cancel(common.HexToHash(req.OrderID), marketID, req.Outcome)
	writeJSON(w, http.StatusOK, CancelOrderResponse{Success: removed})
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := common.HexToHash(mux.Vars(r)["id"])
	writeJSON(w, http.StatusOK, statusResponse(s.engine.Status(id)))
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	marketID, ok := new(big.Int).SetString(vars["marketId"], 10)
	if !ok {
		http.Error(w, "invalid market id", http.StatusBadRequest)
		return
	}
	outcome, err := strconv.ParseUint(vars["outcome"], 10, 8)
	if err != nil || outcome > 1 {
		http.Error(w, "invalid outcome", http.StatusBadRequest)
		return
	}

	snap := s.engine.BookSnapshot(marketID, uint8(outcome))
	writeJSON(w, http.StatusOK, bookResponse(vars["marketId"], uint8(outcome), snap))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":  s.engine.Stats(),
		"relayer": s.relayer.Stats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
