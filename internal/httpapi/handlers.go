package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/meshrouter/internal/addressbook"
	"github.com/rmacdonaldsmith/meshrouter/internal/auth"
	"github.com/rmacdonaldsmith/meshrouter/internal/multicast"
	"github.com/rmacdonaldsmith/meshrouter/pkg/address"
	"github.com/rmacdonaldsmith/meshrouter/pkg/message"
	"github.com/rmacdonaldsmith/meshrouter/pkg/routing"
)

// DefaultMessageTTL is used for injected messages without ttlMs
const DefaultMessageTTL = time.Minute

// Backend is the node the admin API operates on
type Backend interface {
	Health(ctx context.Context) HealthResponse
	Routes() []addressbook.Entry
	Lookup(participantID string) (address.Address, bool)
	AddNextHop(ctx context.Context, participantID string, addr address.Address, isGloballyVisible bool) *routing.Completion
	RemoveNextHop(ctx context.Context, participantID string) *routing.Completion
	MulticastPatterns() []multicast.Pattern
	Route(ctx context.Context, msg *message.Message) routing.Outcome
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	backend   Backend
	jwtAuth   *auth.JWTAuth
	secretKey string
	logger    *zap.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(backend Backend, jwtAuth *auth.JWTAuth, secretKey string, logger *zap.Logger) *Handlers {
	return &Handlers{
		backend:   backend,
		jwtAuth:   jwtAuth,
		secretKey: secretKey,
		logger:    logger,
	}
}

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if h.secretKey == "" || subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.secretKey)) != 1 {
		writeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	subject := req.Subject
	if subject == "" {
		subject = "admin"
	}
	token, expiresAt, err := h.jwtAuth.GenerateToken(subject, auth.RoleAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.logger.Info("admin login", zap.String("subject", subject))
	writeJSON(w, LoginResponse{Token: token, Subject: subject, ExpiresAt: expiresAt}, http.StatusOK)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.backend.Health(r.Context())

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, health, statusCode)
}

// ListRoutes handles GET /api/v1/routes
func (h *Handlers) ListRoutes(w http.ResponseWriter, r *http.Request) {
	entries := h.backend.Routes()
	resp := RoutesListResponse{Routes: make([]RouteResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Routes = append(resp.Routes, routeResponse(e.ParticipantID, e.Address))
	}
	writeJSON(w, resp, http.StatusOK)
}

// GetRoute handles GET /api/v1/routes/{participantId}
func (h *Handlers) GetRoute(w http.ResponseWriter, r *http.Request, participantID string) {
	addr, ok := h.backend.Lookup(participantID)
	if !ok {
		writeError(w, "No route for participant "+participantID, http.StatusNotFound)
		return
	}
	writeJSON(w, routeResponse(participantID, addr), http.StatusOK)
}

// PutRoute handles PUT /api/v1/routes/{participantId}
func (h *Handlers) PutRoute(w http.ResponseWriter, r *http.Request, participantID string) {
	var req AddRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	addr, err := address.Parse(req.Address)
	if err != nil {
		writeError(w, "Invalid address: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.backend.AddNextHop(r.Context(), participantID, addr, req.IsGloballyVisible).Wait(r.Context()); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	h.logger.Info("route added via admin API",
		zap.String("participant_id", participantID),
		zap.Stringer("address", addr),
		zap.String("subject", GetSubject(r)))
	writeJSON(w, routeResponse(participantID, addr), http.StatusOK)
}

// DeleteRoute handles DELETE /api/v1/routes/{participantId}
func (h *Handlers) DeleteRoute(w http.ResponseWriter, r *http.Request, participantID string) {
	if err := h.backend.RemoveNextHop(r.Context(), participantID).Wait(r.Context()); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	h.logger.Info("route removed via admin API",
		zap.String("participant_id", participantID),
		zap.String("subject", GetSubject(r)))
	w.WriteHeader(http.StatusNoContent)
}

// ListMulticast handles GET /api/v1/multicast
func (h *Handlers) ListMulticast(w http.ResponseWriter, r *http.Request) {
	patterns := h.backend.MulticastPatterns()
	resp := MulticastListResponse{Patterns: make([]MulticastPatternResponse, 0, len(patterns))}
	for _, p := range patterns {
		receivers := append([]string(nil), p.Receivers...)
		sort.Strings(receivers)
		resp.Patterns = append(resp.Patterns, MulticastPatternResponse{MulticastID: p.MulticastID, Receivers: receivers})
	}
	writeJSON(w, resp, http.StatusOK)
}

// SendMessage handles POST /api/v1/messages
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.To) == "" {
		writeError(w, "to is required", http.StatusBadRequest)
		return
	}
	typ := message.TypeRequest
	if req.Type != "" {
		var ok bool
		if typ, ok = message.ParseType(req.Type); !ok {
			writeError(w, "Unknown message type "+req.Type, http.StatusBadRequest)
			return
		}
	}
	ttl := DefaultMessageTTL
	if req.TTLMS > 0 {
		ttl = time.Duration(req.TTLMS) * time.Millisecond
	}

	msg := message.New(message.Params{
		ID:      req.ID,
		From:    req.From,
		To:      req.To,
		Type:    typ,
		Expiry:  time.Now().Add(ttl),
		ReplyTo: req.ReplyTo,
		Payload: req.Payload,
		Headers: req.Headers,
	})
	outcome := h.backend.Route(r.Context(), msg)

	statusCode := http.StatusAccepted
	if outcome == routing.OutcomeShutDown {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, SendMessageResponse{MessageID: msg.ID(), Outcome: outcome.String()}, statusCode)
}

func routeResponse(participantID string, addr address.Address) RouteResponse {
	return RouteResponse{
		ParticipantID: participantID,
		Kind:          addr.Kind().String(),
		Address:       addr.String(),
	}
}

// statusFor maps router errors onto HTTP status codes
func statusFor(err error) int {
	switch routing.KindOf(err) {
	case routing.KindAlreadyShutDown:
		return http.StatusServiceUnavailable
	case routing.KindInvalidAddressType:
		return http.StatusBadRequest
	case routing.KindNotReachable, routing.KindUnknownRecipient:
		return http.StatusNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}
