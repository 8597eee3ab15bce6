package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-jwt-signing"

func TestGenerateAndParseToken(t *testing.T) {
	token, err := GenerateToken("ops-laptop", RoleOperator, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if token == "" {
		t.Fatal("GenerateToken() returned empty token")
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "ops-laptop" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "ops-laptop")
	}
	if claims.Role != RoleOperator {
		t.Errorf("Role = %q, want %q", claims.Role, RoleOperator)
	}
	if claims.ID == "" {
		t.Error("JTI (ID) should not be empty")
	}
	if claims.Issuer != tokenIssuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, tokenIssuer)
	}
}

func TestGenerateToken_DefaultTTL(t *testing.T) {
	token, err := GenerateToken("dashboard", RoleViewer, testSecret, 0)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}

	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	if ttl != DefaultTokenTTL {
		t.Errorf("ttl = %v, want %v", ttl, DefaultTokenTTL)
	}
}

func TestGenerateToken_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		role    Role
		secret  string
		wantErr error
	}{
		{"missing secret", "a", RoleViewer, "", ErrSecretRequired},
		{"missing subject", "", RoleViewer, testSecret, ErrTokenInvalid},
		{"unknown role", "a", Role("root"), testSecret, ErrInvalidRole},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GenerateToken(tt.subject, tt.role, tt.secret, time.Minute)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("GenerateToken() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("a", RoleViewer, "correct-secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	_, err = ParseToken(token, "wrong-secret")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_Garbage(t *testing.T) {
	if _, err := ParseToken("not-a-valid-jwt", testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_EmptySecret(t *testing.T) {
	if _, err := ParseToken("x.y.z", ""); !errors.Is(err, ErrSecretRequired) {
		t.Errorf("ParseToken() error = %v, want ErrSecretRequired", err)
	}
}

// signClaims signs arbitrary claims so tests can craft tokens that
// GenerateToken refuses to produce.
func signClaims(t *testing.T, claims Claims, method jwt.SigningMethod, key any) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return signed
}

func TestParseToken_Expired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	token := signClaims(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "a",
			IssuedAt:  jwt.NewNumericDate(past.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(past),
		},
		Role: RoleViewer,
	}, jwt.SigningMethodHS256, []byte(testSecret))

	_, err := ParseToken(token, testSecret)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("ParseToken() error = %v, want jwt.ErrTokenExpired", err)
	}
}

func TestParseToken_MissingExpiry(t *testing.T) {
	token := signClaims(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: tokenIssuer, Subject: "a"},
		Role:             RoleViewer,
	}, jwt.SigningMethodHS256, []byte(testSecret))

	if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_WrongIssuer(t *testing.T) {
	token := signClaims(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "a",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleViewer,
	}, jwt.SigningMethodHS256, []byte(testSecret))

	if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}

func TestParseToken_UnknownRole(t *testing.T) {
	token := signClaims(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "a",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: Role("root"),
	}, jwt.SigningMethodHS256, []byte(testSecret))

	_, err := ParseToken(token, testSecret)
	if !errors.Is(err, ErrTokenInvalid) || !errors.Is(err, ErrInvalidRole) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid wrapping ErrInvalidRole", err)
	}
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	token := signClaims(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "a",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleOperator,
	}, jwt.SigningMethodHS512, []byte(testSecret))

	if _, err := ParseToken(token, testSecret); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("ParseToken() error = %v, want ErrTokenInvalid", err)
	}
}
