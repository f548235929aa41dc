package http

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/zsmatrix62/emtl/internal/config"
	"github.com/zsmatrix62/emtl/internal/domain"
	"github.com/zsmatrix62/emtl/internal/emt"
	"github.com/zsmatrix62/emtl/internal/integrations/telegram"
	"github.com/zsmatrix62/emtl/internal/manager"
)

type contextKey string

const contextKeyAdminSubject contextKey = "admin_subject"

// Server exposes the client cache manager and the portal operations over
// REST. Account secrets live in process memory only; they are required
// once per identity (on account login) and reused for expiry-driven
// rebuilds afterwards.
type Server struct {
	cfg      config.Config
	manager  *manager.Manager
	notifier *telegram.Notifier

	mu      sync.Mutex
	secrets map[string]string
}

func NewServer(cfg config.Config, mgr *manager.Manager, notifier *telegram.Notifier) *Server {
	return &Server{
		cfg:      cfg,
		manager:  mgr,
		notifier: notifier,
		secrets:  make(map[string]string),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/admin/login", s.handleAdminLogin)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)
		protected.Get("/accounts", s.handleListAccounts)
		protected.Post("/accounts/{identity}/login", s.handleAccountLogin)
		protected.Delete("/accounts/{identity}", s.handleInvalidate)
		protected.Get("/accounts/{identity}/positions", s.handlePositions)
		protected.Get("/accounts/{identity}/orders", s.handleOrders)
		protected.Get("/accounts/{identity}/trades", s.handleTrades)
		protected.Get("/accounts/{identity}/history/orders", s.handleHistoryOrders)
		protected.Get("/accounts/{identity}/history/trades", s.handleHistoryTrades)
		protected.Get("/accounts/{identity}/funds-flow", s.handleFundsFlow)
		protected.Post("/accounts/{identity}/orders", s.handleCreateOrder)
		protected.Post("/accounts/{identity}/orders/cancel", s.handleCancelOrder)
		protected.Get("/accounts/{identity}/quote", s.handleQuote)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

// handleAccountLogin authenticates an identity against the portal through
// the cache manager and remembers the secret for later rebuilds.
func (s *Server) handleAccountLogin(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	var req struct {
		Password   string `json:"password"`
		TTLSeconds int    `json:"ttl_seconds,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if identity == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "identity and password are required")
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	client, err := s.manager.GetClientTTL(r.Context(), identity, req.Password, s.cfg.MaxLoginRetries, ttl)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	s.mu.Lock()
	s.secrets[identity] = req.Password
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identity":      client.Identity(),
		"authenticated": client.Token() != "",
		"event_id":      uuid.NewString(),
	})
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	identities, err := s.manager.ListCachedIdentities()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"identities": identities,
		"count":      len(identities),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	existed, err := s.manager.Invalidate(identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	delete(s.secrets, identity)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": existed})
}

// clientFor resolves an authenticated client for an identity the gateway
// holds a secret for.
func (s *Server) clientFor(r *http.Request) (*emt.Client, string, error) {
	identity := chi.URLParam(r, "identity")
	s.mu.Lock()
	secret, ok := s.secrets[identity]
	s.mu.Unlock()
	if !ok {
		return nil, identity, errors.New("no credentials held for identity, login first")
	}
	client, err := s.manager.GetClient(r.Context(), identity, secret, s.cfg.MaxLoginRetries)
	if err != nil {
		return nil, identity, err
	}
	return client, identity, nil
}

func (s *Server) handleQueryResult(w http.ResponseWriter, result map[string]interface{}, err error) {
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.clientFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	result, err := client.QueryAssetAndPosition(r.Context())
	s.handleQueryResult(w, result, err)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.clientFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	result, err := client.QueryOrders(r.Context())
	s.handleQueryResult(w, result, err)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.clientFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	result, err := client.QueryTrades(r.Context())
	s.handleQueryResult(w, result, err)
}

func rangeParams(r *http.Request) (int, string, string) {
	size := parseInt(r.URL.Query().Get("size"), 100)
	return size, r.URL.Query().Get("start"), r.URL.Query().Get("end")
}

func (s *Server) handleHistoryOrders(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.clientFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	size, start, end := rangeParams(r)
	result, err := client.QueryHistoryOrders(r.Context(), size, start, end)
	s.handleQueryResult(w, result, err)
}

func (s *Server) handleHistoryTrades(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.clientFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	size, start, end := rangeParams(r)
	result, err := client.QueryHistoryTrades(r.Context(), size, start, end)
	s.handleQueryResult(w, result, err)
}

func (s *Server) handleFundsFlow(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.clientFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	size, start, end := rangeParams(r)
	result, err := client.QueryFundsFlow(r.Context(), size, start, end)
	s.handleQueryResult(w, result, err)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	client, identity, err := s.clientFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var order domain.OrderRequest
	if err := decodeJSON(r, &order); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if order.Side != domain.TradeSideBuy && order.Side != domain.TradeSideSell {
		writeError(w, http.StatusBadRequest, "side must be B or S")
		return
	}
	result, err := client.CreateOrder(r.Context(), order)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	_ = s.notifier.NotifyOrderPlaced(r.Context(), identity, order.StockCode, string(order.Side), order.Price, order.Amount)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": uuid.NewString(),
		"result":   result,
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	client, identity, err := s.clientFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req struct {
		OrderRef string `json:"order_ref"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OrderRef == "" {
		writeError(w, http.StatusBadRequest, "order_ref is required")
		return
	}
	text, err := client.CancelOrder(r.Context(), req.OrderRef)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	_ = s.notifier.NotifyOrderCanceled(r.Context(), identity, req.OrderRef)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": uuid.NewString(),
		"response": text,
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	client, _, err := s.clientFor(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	symbol := r.URL.Query().Get("symbol")
	market := r.URL.Query().Get("market")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	price := client.GetLastPrice(r.Context(), symbol, market)
	var priceField *float64
	if !math.IsNaN(price) {
		priceField = &price
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol": symbol,
		"market": market,
		"price":  priceField,
	})
}

// statusForError maps the client error taxonomy onto gateway responses.
func statusForError(err error) int {
	var apiErr *emt.APIError
	var httpErr *emt.HTTPError
	var loginErr *emt.LoginFailedError
	switch {
	case errors.Is(err, emt.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.As(err, &loginErr):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &httpErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid admin claims")
			return
		}
		sub, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), contextKeyAdminSubject, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
