package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/middleware"
)

const maxBodyBytes = 64 << 10

type loginRequest struct {
	UsernameOrEmail    string `json:"username_or_email" validate:"required,max=254"`
	Password           string `json:"password" validate:"required,max=1024"`
	TrustedDeviceToken string `json:"trusted_device_token" validate:"max=512"`
	Altcha             string `json:"altcha" validate:"max=4096"`
}

type verifyMFARequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required,max=512"`
	Code           string `json:"code" validate:"required,max=64"`
	Method         string `json:"method" validate:"max=32"`
	TrustDevice    bool   `json:"trust_device"`
	DeviceName     string `json:"device_name" validate:"max=100"`
}

type resendRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required,max=512"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=512"`
}

type totpConfirmRequest struct {
	Secret string `json:"secret" validate:"required,max=128"`
	Code   string `json:"code" validate:"required,numeric,len=6"`
}

// TokenPair is the session part of login, MFA and refresh responses.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type loginResponse struct {
	*TokenPair
	MFARequired        bool       `json:"mfa_required"`
	ChallengeToken     string     `json:"challenge_token,omitempty"`
	Method             string     `json:"method,omitempty"`
	AvailableMethods   []string   `json:"available_methods,omitempty"`
	ChallengeExpiresAt *time.Time `json:"challenge_expires_at,omitempty"`
	TrustedDeviceUsed  bool       `json:"trusted_device_used,omitempty"`
}

type verifyMFAResponse struct {
	*TokenPair
	Method             string `json:"method"`
	TrustedDeviceToken string `json:"trusted_device_token,omitempty"`
}

type deviceResponse struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func tokensFrom(t *identity.SessionTokens) *TokenPair {
	if t == nil {
		return nil
	}
	return &TokenPair{
		AccessToken:      t.AccessToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshToken:     t.RefreshToken,
		RefreshExpiresAt: t.RefreshExpiresAt,
	}
}

func (s *Server) handleAltcha(w http.ResponseWriter, r *http.Request) {
	if !s.engine.PowEnabled() {
		writeJSON(w, http.StatusNotFound, errorBody{Error: identity.CodeNotFound})
		return
	}
	ch, err := s.engine.NewPowChallenge()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.Login(r.Context(), identity.LoginRequest{
		UsernameOrEmail:    req.UsernameOrEmail,
		Password:           req.Password,
		TrustedDeviceToken: req.TrustedDeviceToken,
		PowPayload:         req.Altcha,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := loginResponse{
		TokenPair:         tokensFrom(res.Tokens),
		MFARequired:       res.MFARequired,
		TrustedDeviceUsed: res.TrustedDeviceUsed,
	}
	if res.MFARequired {
		out.ChallengeToken = res.ChallengeToken
		out.Method = string(res.Method)
		for _, m := range res.AvailableMethods {
			out.AvailableMethods = append(out.AvailableMethods, string(m))
		}
		exp := res.ChallengeExpiresAt
		out.ChallengeExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleVerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req verifyMFARequest
	if !s.decode(w, r, &req) {
		return
	}
	method, ok := identity.ParseMFAMethod(req.Method)
	if !ok {
		s.writeError(w, r, identity.NewValidationError("method", "oneof"))
		return
	}
	res, err := s.engine.VerifyMFA(r.Context(), identity.VerifyMFARequest{
		ChallengeToken: req.ChallengeToken,
		Code:           req.Code,
		Method:         method,
		TrustDevice:    req.TrustDevice,
		DeviceName:     req.DeviceName,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyMFAResponse{
		TokenPair:          tokensFrom(res.Tokens),
		Method:             string(res.Method),
		TrustedDeviceToken: res.TrustedDeviceToken,
	})
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.ResendEmailChallenge(r.Context(), req.ChallengeToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	tokens, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokensFrom(tokens))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	n, err := s.engine.LogoutAll(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	devices, err := s.engine.ListTrustedDevices(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse{
			ID:         d.ID,
			Name:       d.Name,
			ExpiresAt:  d.ExpiresAt,
			LastUsedAt: d.LastUsedAt,
			CreatedAt:  d.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeError(w, r, identity.NewValidationError("id", "numeric"))
		return
	}
	if err := s.engine.RevokeTrustedDevice(r.Context(), userID, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeAllDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	n, err := s.engine.RevokeAllTrustedDevices(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (s *Server) handleTOTPSetup(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	enr, err := s.engine.BeginTOTPEnrollment(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": enr.Secret, "uri": enr.URI})
}

func (s *Server) handleTOTPConfirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req totpConfirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.ConfirmTOTPEnrollment(r.Context(), userID, req.Secret, req.Code); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.caller(w, r)
	if !ok {
		return
	}
	codes, err := s.engine.GenerateBackupCodes(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"codes": codes})
}

// caller returns the user id the bearer guard authenticated.
func (s *Server) caller(w http.ResponseWriter, r *http.Request) (int64, bool) {
	res, ok := middleware.AuthResultFromContext(r.Context())
	if !ok || res == nil || res.UserID <= 0 {
		s.writeError(w, r, identity.ErrUnauthorized)
		return 0, false
	}
	return res.UserID, true
}

// decode reads a bounded JSON body into dst and validates it. It writes
// the error response itself and reports whether the handler may proceed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, r, identity.NewValidationError("body", "invalid json"))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, r, validationError(err))
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return identity.NewValidationError("body", "invalid")
	}
	kv := make([]string, 0, len(verrs)*2)
	for _, fe := range verrs {
		kv = append(kv, fe.Field(), fe.Tag())
	}
	return identity.NewValidationError(kv...)
}
