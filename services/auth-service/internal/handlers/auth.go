package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agendei/agendei-server/libs/auth"
	"github.com/agendei/agendei-server/libs/db"
	"github.com/agendei/agendei-server/libs/outbox"
	"github.com/agendei/agendei-server/services/auth-service/internal/audit"
	"github.com/agendei/agendei-server/services/auth-service/internal/sessions"
	"github.com/agendei/agendei-server/services/auth-service/internal/storage"
)

type AuthHandler struct {
	signer      TokenSigner
	pool        *db.Pool
	users       *storage.UserRepository
	audit       *audit.Repository
	outbox      *outbox.Repository
	refreshRepo *sessions.RefreshRepository
	refreshTTL  time.Duration
	logger      *slog.Logger
}

func NewAuthHandler(
	signer TokenSigner,
	pool *db.Pool,
	users *storage.UserRepository,
	auditRepo *audit.Repository,
	outboxRepo *outbox.Repository,
	refreshRepo *sessions.RefreshRepository,
	refreshTTL time.Duration,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		signer:      signer,
		pool:        pool,
		users:       users,
		audit:       auditRepo,
		outbox:      outboxRepo,
		refreshRepo: refreshRepo,
		refreshTTL:  refreshTTL,
		logger:      logger,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type meResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Password = strings.TrimSpace(req.Password)
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Role = strings.TrimSpace(req.Role)
	if req.Role == "" {
		req.Role = auth.RoleClient
	}

	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		writeError(w, http.StatusBadRequest, "validation_error", "a valid email is required")
		return
	case len(req.Password) < 8:
		writeError(w, http.StatusBadRequest, "validation_error", "password must be at least 8 characters")
		return
	case req.Role != auth.RoleClient && req.Role != auth.RoleProvider:
		writeError(w, http.StatusBadRequest, "validation_error", "role must be client or provider")
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}

	user := storage.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		Name:         req.Name,
		Phone:        req.Phone,
	}
	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.users.CreateTx(ctx, tx, user); err != nil {
		if storage.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "conflict", "email already registered")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"user_id":    user.ID,
		"email":      user.Email,
		"role":       user.Role,
		"name":       user.Name,
		"phone":      user.Phone,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "user",
		AggregateID:   user.ID,
		EventType:     "auth.user.created.v1",
		Payload:       payload,
	}); err != nil {
		writeInternal(w, h.logger, err)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		writeInternal(w, h.logger, err)
		return
	}

	h.issueTokenPair(w, r.Context(), user, http.StatusCreated)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Password = strings.TrimSpace(req.Password)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "email and password required")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}
	if err := verifyPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}

	h.issueTokenPair(w, r.Context(), user, http.StatusOK)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "refreshToken required")
		return
	}

	record, err := h.refreshRepo.GetByHash(r.Context(), sessions.HashToken(req.RefreshToken))
	if err != nil {
		if sessions.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}
	if record.RevokedAt != nil || record.ExpiresAt.Before(time.Now()) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "refresh token expired")
		return
	}

	user, err := h.users.GetByID(r.Context(), record.UserID)
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}

	// Rotation: the presented token dies the moment a new pair is minted.
	if err := h.refreshRepo.Revoke(r.Context(), record.ID); err != nil {
		writeInternal(w, h.logger, err)
		return
	}

	h.issueTokenPair(w, r.Context(), user, http.StatusOK)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "refreshToken required")
		return
	}

	record, err := h.refreshRepo.GetByHash(r.Context(), sessions.HashToken(req.RefreshToken))
	if err != nil {
		if sessions.IsNotFound(err) {
			// Logout of an unknown token is a no-op, not an error.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeInternal(w, h.logger, err)
		return
	}

	if record.RevokedAt == nil {
		if err := h.refreshRepo.Revoke(r.Context(), record.ID); err != nil {
			writeInternal(w, h.logger, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.verifyBearer(w, r)
	if !ok {
		return
	}
	user, err := h.users.GetByID(r.Context(), claims.Sub)
	if err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Name:   user.Name,
		Phone:  user.Phone,
	})
}

func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.verifyBearer(w, r)
	if !ok {
		return
	}

	var req struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)

	if err := h.users.UpdateProfile(r.Context(), claims.Sub, req.Name, req.Phone); err != nil {
		if storage.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		writeInternal(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	jwks := h.signer.JWKS()
	if len(jwks) == 0 {
		writeError(w, http.StatusNotFound, "not_found", "jwks not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": jwks})
}

func (h *AuthHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	if !h.signer.CanRotate() {
		writeError(w, http.StatusBadRequest, "validation_error", "rotation not enabled")
		return
	}

	reqKey := r.Header.Get("X-Rotate-Key")
	if reqKey == "" || reqKey != h.signer.RotateKey() {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid rotate key")
		return
	}

	var req struct {
		ActiveKid string `json:"activeKid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid json body")
		return
	}
	if req.ActiveKid == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "activeKid is required")
		return
	}
	if err := h.signer.SetActiveKid(req.ActiveKid); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid activeKid")
		return
	}

	if h.audit != nil {
		_ = h.audit.RecordWithOutbox(r.Context(), h.outbox, "jwt.rotate", "", map[string]any{
			"active_kid": req.ActiveKid,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "not_found", "audit not available")
		return
	}
	reqKey := r.Header.Get("X-Rotate-Key")
	if reqKey == "" || reqKey != h.signer.RotateKey() {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid rotate key")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	events, err := h.audit.ListRecent(r.Context(), limit)
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *AuthHandler) verifyBearer(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	authHeader := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if !strings.HasPrefix(authHeader, "Bearer ") || token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid Authorization header")
		return nil, false
	}
	claims, err := h.signer.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return nil, false
	}
	return claims, true
}

func (h *AuthHandler) issueTokenPair(w http.ResponseWriter, ctx context.Context, user storage.User, status int) {
	now := time.Now()
	accessToken, err := h.signer.Sign(auth.Claims{
		Sub:  user.ID,
		Role: user.Role,
		Iat:  now.Unix(),
		Exp:  now.Add(time.Hour).Unix(),
	})
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}

	raw, err := newRefreshToken()
	if err != nil {
		writeInternal(w, h.logger, err)
		return
	}
	if _, err := h.refreshRepo.Create(ctx, user.ID, raw, now.Add(h.refreshTTL)); err != nil {
		writeInternal(w, h.logger, err)
		return
	}

	writeJSON(w, status, tokenResponse{
		AccessToken:  accessToken,
		RefreshToken: raw,
		TokenType:    "Bearer",
	})
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash string, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}
