package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-lm"

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestJWTAuth(t *testing.T, key *rsa.PrivateKey) *JWTAuth {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, 5*time.Second, testLogger())
}

// generateToken генерирует подписанный JWT с указанными claims.
func generateToken(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	token.Header["kid"] = testKeyID
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return tokenStr
}

func workerClaims(sub, scope string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"scope": scope,
		"exp":   jwt.NewNumericDate(exp),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
}

func TestJWTAuth_ValidToken(t *testing.T) {
	key := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			t.Fatal("claims не найдены в контексте")
		}
		if claims.Subject != "sa-ocr" {
			t.Errorf("sub: хотели sa-ocr, получили %s", claims.Subject)
		}
		if !claims.HasAnyScope(ScopeJobsWrite) || claims.HasAnyScope(ScopeLifecycleAdmin) {
			t.Errorf("scopes: получили %v", claims.Scopes)
		}
		if SubjectFromContext(r.Context()) != "sa-ocr" {
			t.Error("SubjectFromContext вернул другой субъект")
		}
		w.WriteHeader(http.StatusOK)
	}))

	tokenStr := generateToken(t, key, jwt.SigningMethodRS256,
		workerClaims("sa-ocr", "openid jobs:read jobs:write", time.Now().Add(time.Hour)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

func TestJWTAuth_Rejects(t *testing.T) {
	key := generateTestKey(t)
	otherKey := generateTestKey(t)
	auth := newTestJWTAuth(t, key)

	valid := workerClaims("sa-ocr", "jobs:write", time.Now().Add(time.Hour))
	noExp := jwt.MapClaims{"sub": "u1"}
	noSub := jwt.MapClaims{"exp": jwt.NewNumericDate(time.Now().Add(time.Hour))}

	tests := []struct {
		name   string
		header string
	}{
		{"нет заголовка", ""},
		{"не Bearer", "Basic dXNlcjpwYXNz"},
		{"пустой токен", "Bearer "},
		{"мусор", "Bearer not-a-jwt"},
		{"просрочен", "Bearer " + generateToken(t, key, jwt.SigningMethodRS256,
			workerClaims("sa-ocr", "jobs:write", time.Now().Add(-time.Hour)))},
		{"чужая подпись", "Bearer " + generateToken(t, otherKey, jwt.SigningMethodRS256, valid)},
		{"без exp", "Bearer " + generateToken(t, key, jwt.SigningMethodRS256, noExp)},
		{"без sub", "Bearer " + generateToken(t, key, jwt.SigningMethodRS256, noSub)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("хотели 401, получили %d", rec.Code)
			}
			if called {
				t.Error("обработчик не должен вызываться")
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name     string
		claims   *AuthClaims
		wantCode int
	}{
		{"нет claims", nil, http.StatusUnauthorized},
		{"нет scope", &AuthClaims{Subject: "u1"}, http.StatusForbidden},
		{"другой scope", &AuthClaims{Subject: "u1", Scopes: []string{ScopeJobsRead}}, http.StatusForbidden},
		{"есть scope", &AuthClaims{Subject: "w1", Scopes: []string{ScopeJobsRead, ScopeJobsWrite}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireScope(ScopeJobsWrite)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/j1/start", nil)
			if tt.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("хотели %d, получили %d", tt.wantCode, rec.Code)
			}
		})
	}
}

func TestDevAuth(t *testing.T) {
	var got *AuthClaims
	handler := DevAuth(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/matters/m1", nil)
	req.Header.Set(HeaderDebugSubject, "lawyer-1")
	req.Header.Set(HeaderDebugScopes, "jobs:read lifecycle:admin")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got == nil || got.Subject != "lawyer-1" {
		t.Fatalf("claims: получили %+v", got)
	}
	if !got.HasAnyScope(ScopeLifecycleAdmin) {
		t.Errorf("scopes: получили %v", got.Scopes)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/matters/m1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("без заголовка: хотели 401, получили %d", rec.Code)
	}
}

func TestJWKSReadinessChecker(t *testing.T) {
	key := generateTestKey(t)
	jwks := buildJWKSetJSON(&key.PublicKey, testKeyID)

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus string
	}{
		{"ok", http.StatusOK, string(jwks), "ok"},
		{"нет ключей", http.StatusOK, `{"keys":[]}`, "degraded"},
		{"не JSON", http.StatusOK, "<html>", "degraded"},
		{"ошибка сервера", http.StatusBadGateway, "", "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			checker, err := NewJWKSReadinessChecker(srv.URL, "", false, time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if status, msg := checker.CheckReady(); status != tt.wantStatus {
				t.Errorf("хотели %s, получили %s (%s)", tt.wantStatus, status, msg)
			}
		})
	}
}
