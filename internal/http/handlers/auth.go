package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bazarhub/server/internal/auth"
	"github.com/bazarhub/server/internal/middleware"
	"github.com/bazarhub/server/internal/model"
	"github.com/bazarhub/server/internal/ratelimit"
	"github.com/bazarhub/server/internal/repo"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	service   *auth.Service
	accounts  repo.AccountRepo
	devMode   bool
	ipLimiter *ratelimit.Limiter
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(service *auth.Service, accounts repo.AccountRepo, devMode bool) *AuthHandler {
	// Per-IP limit on the OTP endpoints; per-phone limits are DB-based.
	return &AuthHandler{
		service:   service,
		accounts:  accounts,
		devMode:   devMode,
		ipLimiter: ratelimit.New(10*time.Minute, 20),
	}
}

// accountResponse is the public account view in API responses
type accountResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// tokenResponse is the JSON body of every successful login/refresh
type tokenResponse struct {
	AccessToken  string           `json:"access_token"`
	RefreshToken string           `json:"refresh_token"`
	TokenType    string           `json:"token_type"`
	Account      *accountResponse `json:"account,omitempty"`
}

// errorResponse is the structured failure body
type errorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message"`
	RetryAfter   int64  `json:"retry_after,omitempty"`
	AttemptsLeft *int   `json:"attempts_left,omitempty"`
}

func accountView(a model.Account) *accountResponse {
	return &accountResponse{
		ID:          a.ID.String(),
		DisplayName: a.DisplayName,
		AvatarURL:   a.AvatarURL,
	}
}

// HandleProviders handles GET /auth/providers
func (h *AuthHandler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	methods := h.service.Providers()
	names := make([]string, 0, len(methods))
	for _, m := range methods {
		names = append(names, string(m))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"providers": names})
}

// requestOTPRequest is the request body for POST /auth/otp/request
type requestOTPRequest struct {
	PhoneNumber string `json:"phone_number"`
	Purpose     string `json:"purpose"`
}

// requestOTPResponse is the JSON response for otp/request
type requestOTPResponse struct {
	Message   string `json:"message"`
	ExpiresIn int64  `json:"expires_in"`
	DevOTP    string `json:"dev_otp,omitempty"`
}

// HandleRequestOTP handles POST /auth/otp/request
func (h *AuthHandler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var req requestOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "invalid request body"))
		return
	}

	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "phone_number is required"))
		return
	}
	purpose := model.Purpose(strings.ToUpper(strings.TrimSpace(req.Purpose)))
	if purpose == "" {
		purpose = model.PurposeLogin
	}

	if ok, retryAfter := h.ipLimiter.Allow(getClientIP(r)); !ok {
		respondError(w, http.StatusTooManyRequests,
			auth.E(auth.KindRateLimited, "rate limit exceeded").WithRetryAfter(retryAfter))
		return
	}

	code, expiresIn, err := h.service.RequestOTP(r.Context(), req.PhoneNumber, purpose)
	if err != nil {
		logMaskedPhone(req.PhoneNumber, "failed to request OTP: %v", err)
		h.respondAuthError(w, err)
		return
	}

	resp := requestOTPResponse{Message: "otp_sent", ExpiresIn: int64(expiresIn.Seconds())}
	if h.devMode {
		resp.DevOTP = code
	}
	writeJSON(w, http.StatusOK, resp)
}

// phoneLoginRequest is the request body for POST /auth/login/phone
type phoneLoginRequest struct {
	PhoneNumber string `json:"phone_number"`
	Purpose     string `json:"purpose"`
	Code        string `json:"code"`
}

// HandlePhoneLogin handles POST /auth/login/phone
func (h *AuthHandler) HandlePhoneLogin(w http.ResponseWriter, r *http.Request) {
	var req phoneLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "invalid request body"))
		return
	}

	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.Code = strings.TrimSpace(req.Code)
	if req.PhoneNumber == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "phone_number and code are required"))
		return
	}
	purpose := model.Purpose(strings.ToUpper(strings.TrimSpace(req.Purpose)))
	if purpose == "" {
		purpose = model.PurposeLogin
	}

	h.login(w, r, auth.LoginRequest{
		Method: auth.MethodPhoneOTP,
		Phone: auth.PhonePayload{
			PhoneNumber: req.PhoneNumber,
			Purpose:     purpose,
			Code:        req.Code,
		},
	})
}

// HandleTelegramLogin handles POST /auth/login/telegram
func (h *AuthHandler) HandleTelegramLogin(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeTelegramPayload(w, r)
	if !ok {
		return
	}
	h.login(w, r, auth.LoginRequest{Method: auth.MethodTelegram, Telegram: payload})
}

// googleLoginRequest is the request body for POST /auth/login/google
type googleLoginRequest struct {
	Code string `json:"code"`
}

// HandleGoogleLogin handles POST /auth/login/google
func (h *AuthHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "code is required"))
		return
	}
	h.login(w, r, auth.LoginRequest{Method: auth.MethodGoogle, Google: auth.GooglePayload{Code: req.Code}})
}

// passwordLoginRequest is the request body for POST /auth/login/password
type passwordLoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// HandlePasswordLogin handles POST /auth/login/password
func (h *AuthHandler) HandlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req passwordLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "invalid request body"))
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "identifier and password are required"))
		return
	}
	h.login(w, r, auth.LoginRequest{
		Method:   auth.MethodPassword,
		Password: auth.PasswordPayload{Identifier: req.Identifier, Password: req.Password},
	})
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request, req auth.LoginRequest) {
	result, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    "bearer",
		Account:      accountView(result.Account),
	})
}

// refreshRequest is the request body for POST /auth/refresh and /auth/logout
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh handles POST /auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "invalid request body"))
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "refresh_token is required"))
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "bearer",
	})
}

// HandleLogout handles POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "invalid request body"))
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "refresh_token is required"))
		return
	}
	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		h.respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe handles GET /me (protected)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, auth.E(auth.KindInvalidProof, "unauthorized"))
		return
	}
	acct, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		respondError(w, http.StatusUnauthorized, auth.E(auth.KindNotFound, "account not found"))
		return
	}
	writeJSON(w, http.StatusOK, accountView(acct))
}

// HandleLinkTelegram handles POST /auth/link/telegram (protected)
func (h *AuthHandler) HandleLinkTelegram(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeTelegramPayload(w, r)
	if !ok {
		return
	}
	h.link(w, r, auth.LoginRequest{Method: auth.MethodTelegram, Telegram: payload})
}

// HandleLinkGoogle handles POST /auth/link/google (protected)
func (h *AuthHandler) HandleLinkGoogle(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "code is required"))
		return
	}
	h.link(w, r, auth.LoginRequest{Method: auth.MethodGoogle, Google: auth.GooglePayload{Code: req.Code}})
}

func (h *AuthHandler) link(w http.ResponseWriter, r *http.Request, req auth.LoginRequest) {
	accountID, ok := middleware.GetAccountID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, auth.E(auth.KindInvalidProof, "unauthorized"))
		return
	}
	acct, err := h.service.LinkProvider(r.Context(), accountID, req)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(acct))
}

// HandleUnlink handles DELETE /auth/link/{provider} (protected)
func (h *AuthHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.GetAccountID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, auth.E(auth.KindInvalidProof, "unauthorized"))
		return
	}
	provider := model.Provider(strings.ToUpper(chi.URLParam(r, "provider")))
	switch provider {
	case model.ProviderPhone, model.ProviderTelegram, model.ProviderGoogle, model.ProviderPassword:
	default:
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "unknown provider"))
		return
	}
	if err := h.service.UnlinkProvider(r.Context(), accountID, provider); err != nil {
		h.respondAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "unlinked"})
}

func decodeTelegramPayload(w http.ResponseWriter, r *http.Request) (auth.TelegramPayload, bool) {
	var payload auth.TelegramPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "invalid request body"))
		return auth.TelegramPayload{}, false
	}
	if payload.ID == 0 || payload.Hash == "" {
		respondError(w, http.StatusBadRequest, auth.E(auth.KindInvalidProof, "id and hash are required"))
		return auth.TelegramPayload{}, false
	}
	return payload, true
}

// respondAuthError maps an auth error kind to an HTTP status and writes the
// structured failure body.
func (h *AuthHandler) respondAuthError(w http.ResponseWriter, err error) {
	ae, ok := auth.AsError(err)
	if !ok {
		log.Printf("internal error: %v", err)
		respondError(w, http.StatusInternalServerError, auth.E(auth.KindProviderUnavailable, "internal error"))
		return
	}
	respondError(w, statusForKind(ae.Kind), ae)
}

func statusForKind(kind string) int {
	switch kind {
	case auth.KindRateLimited:
		return http.StatusTooManyRequests
	case auth.KindAlreadyLinked:
		return http.StatusConflict
	case auth.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		// invalid_proof, expired_proof, invalid_credentials, not_found,
		// security_violation: all are authentication failures to the client.
		return http.StatusUnauthorized
	}
}

func respondError(w http.ResponseWriter, statusCode int, ae *auth.Error) {
	resp := errorResponse{Error: ae.Kind, Message: ae.Message}
	if ae.RetryAfter > 0 {
		resp.RetryAfter = int64(ae.RetryAfter.Seconds() + 0.5)
		if resp.RetryAfter == 0 {
			resp.RetryAfter = 1
		}
	}
	if ae.AttemptsLeft >= 0 {
		n := ae.AttemptsLeft
		resp.AttemptsLeft = &n
	}
	writeJSON(w, statusCode, resp)
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		// Take first IP if multiple
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return r.RemoteAddr
}

// logMaskedPhone logs a message with masked phone number
func logMaskedPhone(phone, format string, args ...interface{}) {
	log.Printf("phone "+auth.MaskPhone(phone)+": "+format, args...)
}
