package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testSessionSigningSecret = "secret"
	testSessionCookieName    = "app_session"
	testSessionUsername      = "alice"
	testSessionUserEmail     = "alice@example.com"
)

func newTestValidator(t *testing.T, clock func() time.Time) *SessionValidator {
	t.Helper()
	validator, err := NewSessionValidator(SessionValidatorConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        DefaultSessionIssuer,
		CookieName:    testSessionCookieName,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	return validator
}

func signTestToken(t *testing.T, claims SessionClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestNewSessionValidatorRequiresConfiguration(t *testing.T) {
	testCases := []struct {
		name    string
		config  SessionValidatorConfig
		wantErr error
	}{
		{name: "secret", config: SessionValidatorConfig{Issuer: "x", CookieName: "c"}, wantErr: ErrMissingSessionSigningKey},
		{name: "issuer", config: SessionValidatorConfig{SigningSecret: []byte("s"), CookieName: "c"}, wantErr: ErrMissingSessionIssuer},
		{name: "cookie", config: SessionValidatorConfig{SigningSecret: []byte("s"), Issuer: "x"}, wantErr: ErrMissingSessionCookieName},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewSessionValidator(testCase.config); !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestSessionValidatorValidateToken(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	signed := signTestToken(t, SessionClaims{
		Username: testSessionUsername,
		Email:    testSessionUserEmail,
		IsAdmin:  true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultSessionIssuer,
			Subject:   testSessionUsername,
			IssuedAt:  jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(clockNow.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
		},
	})

	claims, err := validator.ValidateToken(signed)
	if err != nil {
		t.Fatalf("unexpected validation failure: %v", err)
	}
	if claims.Username != testSessionUsername || !claims.IsAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSessionValidatorRejectsBadTokens(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	validator := newTestValidator(t, func() time.Time { return clockNow })

	testCases := []struct {
		name    string
		claims  SessionClaims
		wantErr error
	}{
		{
			name: "expired",
			claims: SessionClaims{
				Username: testSessionUsername,
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    DefaultSessionIssuer,
					Subject:   testSessionUsername,
					IssuedAt:  jwt.NewNumericDate(clockNow.Add(-2 * time.Hour)),
					ExpiresAt: jwt.NewNumericDate(clockNow.Add(-time.Hour)),
				},
			},
			wantErr: ErrExpiredSessionToken,
		},
		{
			name: "foreign issuer",
			claims: SessionClaims{
				Username: testSessionUsername,
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "someone-else",
					Subject:   testSessionUsername,
					ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
				},
			},
			wantErr: ErrInvalidSessionToken,
		},
		{
			name: "subject mismatch",
			claims: SessionClaims{
				Username: testSessionUsername,
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    DefaultSessionIssuer,
					Subject:   "mallory",
					ExpiresAt: jwt.NewNumericDate(clockNow.Add(time.Hour)),
				},
			},
			wantErr: ErrMissingSessionSubject,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := validator.ValidateToken(signTestToken(t, testCase.claims))
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestSessionValidatorValidateRequest(t *testing.T) {
	validator := newTestValidator(t, nil)
	signed := signTestToken(t, SessionClaims{
		Username: testSessionUsername,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultSessionIssuer,
			Subject:   testSessionUsername,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	bearerRequest := httptest.NewRequest(http.MethodGet, "/users/alice/decks", http.NoBody)
	bearerRequest.Header.Set("Authorization", "Bearer "+signed)
	claims, err := validator.ValidateRequest(bearerRequest)
	if err != nil {
		t.Fatalf("bearer validation failed: %v", err)
	}
	if claims.Username != testSessionUsername {
		t.Fatalf("unexpected username: %s", claims.Username)
	}

	cookieRequest := httptest.NewRequest(http.MethodGet, "/users/alice/decks", http.NoBody)
	cookieRequest.AddCookie(&http.Cookie{Name: testSessionCookieName, Value: signed})
	if _, err := validator.ValidateRequest(cookieRequest); err != nil {
		t.Fatalf("cookie validation failed: %v", err)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/users/alice/decks", http.NoBody)
	if _, err := validator.ValidateRequest(anonymous); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}
