package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken("ops", testSecret, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	subject, err := ValidateToken(token, testSecret)
	if err != nil {
		t.Fatalf("ValidateToken returned error: %v", err)
	}
	if subject != "ops" {
		t.Errorf("expected subject ops, got %q", subject)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	valid, _ := GenerateToken("ops", testSecret, time.Now(), time.Hour)
	expired, _ := GenerateToken("ops", testSecret, time.Now().Add(-2*time.Hour), time.Hour)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	foreignToken, _ := foreign.SignedString([]byte(testSecret))

	viewer := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	viewerToken, _ := viewer.SignedString([]byte(testSecret))

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{name: "wrong secret", token: valid, secret: "other"},
		{name: "expired", token: expired, secret: testSecret},
		{name: "foreign issuer", token: foreignToken, secret: testSecret},
		{name: "not admin", token: viewerToken, secret: testSecret},
		{name: "garbage", token: "not.a.token", secret: testSecret},
		{name: "no secret", token: valid, secret: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ValidateToken(tt.token, tt.secret); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	token, _ := GenerateToken("ops", testSecret, time.Now(), time.Hour)

	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{name: "valid", secret: testSecret, header: "Bearer " + token, want: http.StatusNoContent},
		{name: "missing header", secret: testSecret, want: http.StatusUnauthorized},
		{name: "wrong scheme", secret: testSecret, header: "Basic " + token, want: http.StatusUnauthorized},
		{name: "bad token", secret: testSecret, header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "disabled", secret: "", header: "Bearer " + token, want: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodPost, "/api/admin/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			Middleware(Config{JWTSecret: tt.secret})(next).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rr.Code)
			}
			if tt.want == http.StatusNoContent && gotSubject != "ops" {
				t.Errorf("expected subject in context, got %q", gotSubject)
			}
		})
	}
}
