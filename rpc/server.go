package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"otcledger/native/credit"
	"otcledger/native/otc"
)

// Server exposes the order lifecycle, the read queries and /metrics over
// HTTP. It is a thin shell: every decision happens inside the engines.
type Server struct {
	orders *otc.Engine
	credit *credit.Engine
	log    *slog.Logger
	router chi.Router
}

// NewServer wires the HTTP routes around the engines.
func NewServer(orders *otc.Engine, creditEngine *credit.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{orders: orders, credit: creditEngine, log: log}
	r := chi.NewRouter()
	r.Use(s.requestID)

	r.Post("/v1/orders", s.handleOpen)
	r.Post("/v1/orders/first-purchase", s.handleOpenFirstPurchase)
	r.Post("/v1/orders/{id}/pay", s.handleMarkPaid)
	r.Post("/v1/orders/{id}/release", s.handleRelease)
	r.Post("/v1/orders/{id}/cancel", s.handleCancel)
	r.Post("/v1/orders/{id}/dispute", s.handleDispute)
	r.Post("/v1/orders/{id}/resolve", s.handleResolve)
	r.Post("/v1/orders/{id}/reveal-payment", s.handleReveal(true))
	r.Post("/v1/orders/{id}/reveal-contact", s.handleReveal(false))
	r.Post("/v1/orders/{id}/timeout", s.handleTimeout)
	r.Post("/v1/violations", s.handleViolation)

	r.Get("/v1/orders/{id}", s.handleOrderByID)
	r.Get("/v1/orders", s.handleOrderList)
	r.Get("/v1/orders/{id}/escrow", s.handleEscrowBalance)
	r.Get("/v1/quota/{addr}", s.handleQuotaProfile)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("http request",
			"requestId", id,
			"method", r.Method,
			"path", r.URL.Path,
			"elapsedMs", time.Since(start).Milliseconds(),
		)
	})
}

// --- request decoding ---

func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	cleaned := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(cleaned)
	if err != nil || len(decoded) != len(addr) {
		return addr, fmt.Errorf("invalid address %q", raw)
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseCommit(raw string) ([32]byte, error) {
	var commit [32]byte
	if strings.TrimSpace(raw) == "" {
		return commit, nil
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil || len(decoded) != len(commit) {
		return commit, fmt.Errorf("invalid commitment %q", raw)
	}
	copy(commit[:], decoded)
	return commit, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func orderIDParam(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func decode(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// --- responses ---

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps engine errors onto HTTP statuses. Admission and state errors
// surface as client errors; anything unrecognized is a server fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, otc.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, otc.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, otc.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, otc.ErrInvalidStateTransition),
		errors.Is(err, otc.ErrPaymentWindowExpired),
		errors.Is(err, otc.ErrCommitmentMismatch),
		errors.Is(err, otc.ErrFirstPurchaseUsed),
		errors.Is(err, otc.ErrFirstPurchaseMakerBusy):
		return http.StatusConflict
	case errors.Is(err, otc.ErrMakerUnavailable),
		errors.Is(err, otc.ErrOrderListFull),
		errors.Is(err, otc.ErrInvalidAmount),
		errors.Is(err, otc.ErrInvalidResolution),
		errors.Is(err, otc.ErrFirstPurchaseOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, credit.ErrQuotaExceeded),
		errors.Is(err, credit.ErrConcurrentOrderLimitExceeded),
		errors.Is(err, credit.ErrAccountSuspended),
		errors.Is(err, credit.ErrAccountBlacklisted):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

type orderView struct {
	ID              uint64 `json:"id"`
	MakerID         string `json:"makerId"`
	Maker           string `json:"maker"`
	Taker           string `json:"taker"`
	Qty             string `json:"qty"`
	AmountUSD       uint64 `json:"amountUsd"`
	State           string `json:"state"`
	CreatedAt       int64  `json:"createdAt"`
	ExpireAt        int64  `json:"expireAt"`
	EvidenceUntil   int64  `json:"evidenceUntil"`
	CompletedAt     int64  `json:"completedAt,omitempty"`
	IsFirstPurchase bool   `json:"isFirstPurchase"`
}

func viewOf(order *otc.Order) orderView {
	qty := "0"
	if order.Qty != nil {
		qty = order.Qty.String()
	}
	return orderView{
		ID:              order.ID,
		MakerID:         order.MakerID,
		Maker:           hex.EncodeToString(order.Maker[:]),
		Taker:           hex.EncodeToString(order.Taker[:]),
		Qty:             qty,
		AmountUSD:       order.AmountUSD,
		State:           order.State.String(),
		CreatedAt:       order.CreatedAt,
		ExpireAt:        order.ExpireAt,
		EvidenceUntil:   order.EvidenceUntil,
		CompletedAt:     order.CompletedAt,
		IsFirstPurchase: order.IsFirstPurchase,
	}
}

// --- lifecycle handlers ---

type openRequest struct {
	MakerID       string `json:"makerId"`
	Maker         string `json:"maker"`
	Taker         string `json:"taker"`
	Qty           string `json:"qty"`
	PaymentCommit string `json:"paymentCommit"`
	ContactCommit string `json:"contactCommit"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	s.open(w, r, s.orders.Open)
}

func (s *Server) handleOpenFirstPurchase(w http.ResponseWriter, r *http.Request) {
	s.open(w, r, s.orders.OpenFirstPurchase)
}

func (s *Server) open(w http.ResponseWriter, r *http.Request, openFn func(string, [20]byte, [20]byte, *big.Int, [32]byte, [32]byte) (*otc.Order, error)) {
	var req openRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	maker, err := parseAddress(req.Maker)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	taker, err := parseAddress(req.Taker)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	qty, err := parseAmount(req.Qty)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	paymentCommit, err := parseCommit(req.PaymentCommit)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	contactCommit, err := parseCommit(req.ContactCommit)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	order, err := openFn(req.MakerID, maker, taker, qty, paymentCommit, contactCommit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, viewOf(order))
}

type callerRequest struct {
	Caller        string `json:"caller"`
	PaymentCommit string `json:"paymentCommit,omitempty"`
}

func (s *Server) callerTransition(w http.ResponseWriter, r *http.Request, apply func(uint64, [20]byte, [32]byte) error) {
	id, err := orderIDParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}
	var req callerRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	commit, err := parseCommit(req.PaymentCommit)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := apply(id, caller, commit); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleMarkPaid(w http.ResponseWriter, r *http.Request) {
	s.callerTransition(w, r, s.orders.MarkPaid)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	s.callerTransition(w, r, func(id uint64, caller [20]byte, _ [32]byte) error {
		return s.orders.Release(id, caller)
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.callerTransition(w, r, func(id uint64, caller [20]byte, _ [32]byte) error {
		return s.orders.Cancel(id, caller)
	})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	s.callerTransition(w, r, func(id uint64, caller [20]byte, _ [32]byte) error {
		return s.orders.Dispute(id, caller)
	})
}

type resolveRequest struct {
	Outcome  string `json:"outcome"`
	TakerBps uint16 `json:"takerBps,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var resolution otc.Resolution
	switch strings.ToLower(strings.TrimSpace(req.Outcome)) {
	case "release_to_taker":
		resolution = otc.Resolution{Kind: otc.ResolutionReleaseToTaker}
	case "refund_to_maker":
		resolution = otc.Resolution{Kind: otc.ResolutionRefundToMaker}
	case "split":
		resolution = otc.Resolution{Kind: otc.ResolutionSplit, TakerBps: req.TakerBps}
	default:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown outcome %q", req.Outcome)})
		return
	}
	if err := s.orders.Resolve(id, resolution); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type revealRequest struct {
	Caller  string `json:"caller"`
	Payload string `json:"payload"`
	Salt    string `json:"salt"`
}

func (s *Server) handleReveal(payment bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := orderIDParam(r)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
			return
		}
		var req revealRequest
		if err := decode(r, &req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		caller, err := parseAddress(req.Caller)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		payload, err := hex.DecodeString(strings.TrimPrefix(req.Payload, "0x"))
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
			return
		}
		salt, err := hex.DecodeString(strings.TrimPrefix(req.Salt, "0x"))
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid salt"})
			return
		}
		reveal := s.orders.RevealContact
		if payment {
			reveal = s.orders.RevealPayment
		}
		if err := reveal(id, caller, payload, salt); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, nil)
	}
}

func (s *Server) handleTimeout(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}
	if err := s.orders.RecordPaymentTimeout(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

type violationRequest struct {
	Taker       string `json:"taker"`
	Kind        string `json:"kind"`
	OrderID     uint64 `json:"orderId,omitempty"`
	AmountUSD   uint64 `json:"amountUsd,omitempty"`
	Occurrences uint32 `json:"occurrences,omitempty"`
}

func (s *Server) handleViolation(w http.ResponseWriter, r *http.Request) {
	var req violationRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	taker, err := parseAddress(req.Taker)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var kind credit.ViolationKind
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case "payment_timeout":
		kind = credit.ViolationPaymentTimeout
	case "dispute_loss":
		kind = credit.ViolationDisputeLoss
	case "malicious_behavior":
		kind = credit.ViolationMaliciousBehavior
	default:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown violation kind %q", req.Kind)})
		return
	}
	violation := credit.Violation{
		Kind:        kind,
		OrderID:     req.OrderID,
		AmountUSD:   req.AmountUSD,
		Occurrences: req.Occurrences,
	}
	if err := s.credit.RecordViolation(taker, violation); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nil)
}

// --- read handlers ---

func (s *Server) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}
	order, err := s.orders.OrderByID(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(order))
}

func (s *Server) handleOrderList(w http.ResponseWriter, r *http.Request) {
	makerParam := r.URL.Query().Get("maker")
	takerParam := r.URL.Query().Get("taker")
	var (
		orders []*otc.Order
		err    error
	)
	switch {
	case makerParam != "":
		maker, addrErr := parseAddress(makerParam)
		if addrErr != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: addrErr.Error()})
			return
		}
		orders, err = s.orders.OrdersByMaker(maker)
	case takerParam != "":
		taker, addrErr := parseAddress(takerParam)
		if addrErr != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: addrErr.Error()})
			return
		}
		orders, err = s.orders.OrdersByTaker(taker)
	default:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "maker or taker query parameter required"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, viewOf(order))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleEscrowBalance(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"orderId": strconv.FormatUint(id, 10),
		"balance": s.orders.EscrowBalanceOf(id).String(),
	})
}

func (s *Server) handleQuotaProfile(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	profile, err := s.credit.Profile(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}
