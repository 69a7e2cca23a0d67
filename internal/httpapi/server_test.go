package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	identity "github.com/actionjacksonthegoat-debug/SeventySix-sub005"
	"github.com/actionjacksonthegoat-debug/SeventySix-sub005/internal/dbtest"
)

const password = "correct-password-123"

type mailbox struct {
	mu    sync.Mutex
	codes []string
}

func (m *mailbox) Enqueue(_ context.Context, _, _ string, _ int64, data map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, data["code"])
	return "id", nil
}

func (m *mailbox) last(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.codes) == 0 {
		t.Fatal("no mail queued")
	}
	return m.codes[len(m.codes)-1]
}

type fixture struct {
	engine *identity.Engine
	mail   *mailbox
	h      http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	cfg := identity.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = bytes.Repeat([]byte("k"), 32)
	cfg.JWT.Issuer = "httpapi-test"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	mail := &mailbox{}
	e, err := identity.New().
		WithConfig(cfg).
		WithDB(dbtest.Open(t)).
		WithEmailQueue(mail).
		WithLogger(func(string, ...any) {}).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(e.Close)

	if opts.IPRequestsPerMinute == 0 {
		opts.IPRequestsPerMinute = 6000
		opts.IPBurst = 1000
	}
	return &fixture{engine: e, mail: mail, h: New(e, opts).Handler()}
}

func (f *fixture) user(t *testing.T, name string, mfa bool) *identity.User {
	t.Helper()
	u, err := f.engine.CreateUser(context.Background(), identity.NewUser{
		Username:   name,
		Email:      name + "@example.com",
		Password:   password,
		MFAEnabled: mfa,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (f *fixture) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 Firefox/120.0")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (f *fixture) loginTokens(t *testing.T, name string) TokenPair {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/auth/login", map[string]string{"username_or_email": name, "password": password}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}
	var out TokenPair
	decodeBody(t, rec, &out)
	if out.AccessToken == "" || out.RefreshToken == "" {
		t.Fatalf("missing tokens: %+v", out)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{})
	if rec := f.do(t, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestLoginRefreshLogout(t *testing.T) {
	f := newFixture(t, Options{})
	f.user(t, "alice", false)

	tokens := f.loginTokens(t, "alice")

	rec := f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status %d: %s", rec.Code, rec.Body.String())
	}
	var rotated TokenPair
	decodeBody(t, rec, &rotated)

	rec = f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, "")
	var body errorBody
	decodeBody(t, rec, &body)
	if rec.Code != http.StatusUnauthorized || body.Error != identity.CodeTokenTheftDetected {
		t.Fatalf("replay: status %d code %q", rec.Code, body.Error)
	}

	fresh := f.loginTokens(t, "alice")
	if rec := f.do(t, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": fresh.RefreshToken}, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("logout status %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": fresh.RefreshToken}, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: %d", rec.Code)
	}
}

func TestLoginErrors(t *testing.T) {
	f := newFixture(t, Options{})
	f.user(t, "alice", false)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
		wantField  string
	}{
		{name: "wrong password", body: `{"username_or_email":"alice","password":"nope-nope"}`, wantStatus: http.StatusUnauthorized, wantCode: identity.CodeInvalidCredentials},
		{name: "unknown user", body: `{"username_or_email":"mallory","password":"nope-nope"}`, wantStatus: http.StatusUnauthorized, wantCode: identity.CodeInvalidCredentials},
		{name: "missing password", body: `{"username_or_email":"alice"}`, wantStatus: http.StatusBadRequest, wantCode: identity.CodeValidationFailed, wantField: "password"},
		{name: "not json", body: `{`, wantStatus: http.StatusBadRequest, wantCode: identity.CodeValidationFailed, wantField: "body"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			f.h.ServeHTTP(rec, req)

			var body errorBody
			decodeBody(t, rec, &body)
			if rec.Code != tc.wantStatus || body.Error != tc.wantCode {
				t.Fatalf("status %d code %q", rec.Code, body.Error)
			}
			if tc.wantField != "" && body.Fields[tc.wantField] == "" {
				t.Fatalf("expected field %s in %v", tc.wantField, body.Fields)
			}
		})
	}
}

func TestMFAAndTrustedDevices(t *testing.T) {
	f := newFixture(t, Options{})
	f.user(t, "alice", true)

	rec := f.do(t, http.MethodPost, "/auth/login", map[string]string{"username_or_email": "alice", "password": password}, "")
	var challenge loginResponse
	decodeBody(t, rec, &challenge)
	if !challenge.MFARequired || challenge.ChallengeToken == "" || challenge.TokenPair != nil {
		t.Fatalf("expected a challenge, got %+v", challenge)
	}
	if challenge.Method != string(identity.MFAMethodEmail) {
		t.Fatalf("unexpected method %q", challenge.Method)
	}

	if rec := f.do(t, http.MethodPost, "/auth/mfa/resend", map[string]string{"challenge_token": challenge.ChallengeToken}, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("resend status %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/auth/mfa/verify", map[string]any{
		"challenge_token": challenge.ChallengeToken,
		"code":            f.mail.last(t),
		"trust_device":    true,
		"device_name":     "laptop",
	}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verify status %d: %s", rec.Code, rec.Body.String())
	}
	var verified verifyMFAResponse
	decodeBody(t, rec, &verified)
	if verified.TokenPair == nil || verified.TrustedDeviceToken == "" {
		t.Fatalf("unexpected verify response %+v", verified)
	}
	access := verified.AccessToken

	rec = f.do(t, http.MethodPost, "/auth/login", map[string]string{
		"username_or_email":    "alice",
		"password":             password,
		"trusted_device_token": verified.TrustedDeviceToken,
	}, "")
	var bypass loginResponse
	decodeBody(t, rec, &bypass)
	if bypass.MFARequired || !bypass.TrustedDeviceUsed {
		t.Fatalf("trusted device should skip mfa: %+v", bypass)
	}

	rec = f.do(t, http.MethodGet, "/auth/trusted-devices", nil, access)
	var devices []deviceResponse
	decodeBody(t, rec, &devices)
	if len(devices) != 1 || devices[0].Name != "laptop" {
		t.Fatalf("unexpected devices %+v", devices)
	}

	if rec := f.do(t, http.MethodDelete, "/auth/trusted-devices/999", nil, access); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown device status %d", rec.Code)
	}
	path := "/auth/trusted-devices/" + jsonNumber(devices[0].ID)
	if rec := f.do(t, http.MethodDelete, path, nil, access); rec.Code != http.StatusNoContent {
		t.Fatalf("revoke status %d: %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodDelete, "/auth/trusted-devices", nil, access)
	var revoked map[string]int64
	decodeBody(t, rec, &revoked)
	if revoked["revoked"] != 0 {
		t.Fatalf("nothing left to revoke, got %v", revoked)
	}
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestBearerRoutes(t *testing.T) {
	f := newFixture(t, Options{})
	f.user(t, "alice", false)
	tokens := f.loginTokens(t, "alice")

	if rec := f.do(t, http.MethodPost, "/auth/logout-all", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing bearer status %d", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/auth/mfa/totp/setup", nil, "garbage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad bearer status %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/auth/mfa/totp/setup", nil, tokens.AccessToken)
	var enr map[string]string
	decodeBody(t, rec, &enr)
	if enr["secret"] == "" || !strings.HasPrefix(enr["uri"], "otpauth://totp/") {
		t.Fatalf("unexpected enrollment %v", enr)
	}

	rec = f.do(t, http.MethodPost, "/auth/mfa/totp/confirm", map[string]string{"secret": enr["secret"], "code": "12ab"}, tokens.AccessToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed code status %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/auth/mfa/backup-codes", nil, tokens.AccessToken)
	var codes map[string][]string
	decodeBody(t, rec, &codes)
	if len(codes["codes"]) == 0 {
		t.Fatalf("expected backup codes, got %v", codes)
	}

	rec = f.do(t, http.MethodPost, "/auth/logout-all", nil, tokens.AccessToken)
	var revoked map[string]int64
	decodeBody(t, rec, &revoked)
	if revoked["revoked"] != 1 {
		t.Fatalf("expected one revoked token, got %v", revoked)
	}
}

func TestIPRateLimit(t *testing.T) {
	f := newFixture(t, Options{IPRequestsPerMinute: 1, IPBurst: 2})

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": "x"}, "")
		if rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited too early", i)
		}
	}
	rec := f.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": "x"}, "")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/healthz", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("health must not be limited, got %d", rec.Code)
	}
}

func TestAltchaDisabled(t *testing.T) {
	f := newFixture(t, Options{})
	if rec := f.do(t, http.MethodGet, "/auth/altcha", nil, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t, Options{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})})
	rec := f.do(t, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("metrics: %d %q", rec.Code, rec.Body.String())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name  string
		trust bool
		xff   string
		want  string
	}{
		{name: "remote addr", want: "192.0.2.1"},
		{name: "ignores header by default", xff: "203.0.113.9", want: "192.0.2.1"},
		{name: "trusted proxy", trust: true, xff: "203.0.113.9, 10.0.0.1", want: "203.0.113.9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &Server{opts: Options{TrustProxyHeaders: tc.trust}}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := s.clientIP(req); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Options{AllowedOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("allowed origin header = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin allowed: %q", got)
	}
}
