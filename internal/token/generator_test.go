package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestAPIKeyLengthAndCharset(t *testing.T) {
	g := NewGenerator([]byte("test-secret"))

	key, err := g.APIKey(48, "", "")
	if err != nil {
		t.Fatalf("APIKey: %v", err)
	}
	if len(key) != 48 {
		t.Fatalf("expected length 48, got %d", len(key))
	}
	for _, c := range key {
		if !strings.ContainsRune(apiKeyAlphabet, c) {
			t.Fatalf("unexpected character %q in key", c)
		}
	}
}

func TestAPIKeyAffixes(t *testing.T) {
	g := NewGenerator(nil)

	key, err := g.APIKey(10, "sk", "live")
	if err != nil {
		t.Fatalf("APIKey: %v", err)
	}
	if !strings.HasPrefix(key, "sk_") {
		t.Errorf("missing prefix: %s", key)
	}
	if !strings.HasSuffix(key, "_live") {
		t.Errorf("missing suffix: %s", key)
	}
	if len(key) != 10+len("sk_")+len("_live") {
		t.Errorf("unexpected total length %d", len(key))
	}
}

func TestAPIKeyInvalidLength(t *testing.T) {
	g := NewGenerator(nil)
	for _, length := range []int{0, -5} {
		_, err := g.APIKey(length, "", "")
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("length %d: expected ValidationError, got %v", length, err)
		}
	}
}

func TestJWTRoundTrip(t *testing.T) {
	secret := []byte("round-trip-secret")
	g := NewGenerator(secret)
	issuedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return issuedAt }

	signed, err := g.JWT(map[string]string{"user_id": "42", "role": "admin"}, 48)
	if err != nil {
		t.Fatalf("JWT: %v", err)
	}

	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return issuedAt }))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		t.Fatalf("unexpected claims type %T", parsed.Claims)
	}

	if claims["user_id"] != "42" || claims["role"] != "admin" {
		t.Errorf("custom claims not preserved: %v", claims)
	}
	if claims["iss"] != jwtIssuer || claims["sub"] != jwtSubject {
		t.Errorf("standard claims missing: %v", claims)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		t.Fatalf("expiration: %v", err)
	}
	if want := issuedAt.Add(48 * time.Hour); !exp.Time.Equal(want) {
		t.Errorf("expiry = %v, want %v", exp.Time, want)
	}
}

func TestJWTExpiryClamped(t *testing.T) {
	secret := []byte("clamp-secret")
	g := NewGenerator(secret)
	issuedAt := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return issuedAt }

	cases := []struct {
		hours int
		want  time.Duration
	}{
		{0, time.Hour},
		{-10, time.Hour},
		{10000, 720 * time.Hour},
		{24, 24 * time.Hour},
	}
	for _, tc := range cases {
		signed, err := g.JWT(nil, tc.hours)
		if err != nil {
			t.Fatalf("JWT(%d): %v", tc.hours, err)
		}
		parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithTimeFunc(func() time.Time { return issuedAt }))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		exp, _ := parsed.Claims.(jwt.MapClaims).GetExpirationTime()
		if want := issuedAt.Add(tc.want); !exp.Time.Equal(want) {
			t.Errorf("hours=%d: expiry = %v, want %v", tc.hours, exp.Time, want)
		}
	}
}

func TestJWTStandardClaimsNotOverridable(t *testing.T) {
	secret := []byte("override-secret")
	g := NewGenerator(secret)

	signed, err := g.JWT(map[string]string{"iss": "evil", "sub": "root"}, 1)
	if err != nil {
		t.Fatalf("JWT: %v", err)
	}
	parsed, err := jwt.Parse(signed, func(tok *jwt.Token) (any, error) { return secret, nil })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["iss"] != jwtIssuer {
		t.Errorf("issuer overridden: %v", claims["iss"])
	}
	if claims["sub"] != jwtSubject {
		t.Errorf("subject overridden: %v", claims["sub"])
	}
}

func TestUUIDVersions(t *testing.T) {
	g := NewGenerator(nil)

	v4, err := g.UUID(4)
	if err != nil {
		t.Fatalf("UUID(4): %v", err)
	}
	id, err := uuid.Parse(v4)
	if err != nil {
		t.Fatalf("parse v4: %v", err)
	}
	if id.Version() != 4 {
		t.Errorf("expected version 4, got %d", id.Version())
	}

	v1, err := g.UUID(1)
	if err != nil {
		t.Fatalf("UUID(1): %v", err)
	}
	id, err = uuid.Parse(v1)
	if err != nil {
		t.Fatalf("parse v1: %v", err)
	}
	if id.Version() != 1 {
		t.Errorf("expected version 1, got %d", id.Version())
	}

	// unknown versions fall back to v4
	other, err := g.UUID(7)
	if err != nil {
		t.Fatalf("UUID(7): %v", err)
	}
	id, err = uuid.Parse(other)
	if err != nil {
		t.Fatalf("parse fallback: %v", err)
	}
	if id.Version() != 4 {
		t.Errorf("expected fallback version 4, got %d", id.Version())
	}
}

func TestCustomCharsetSelection(t *testing.T) {
	g := NewGenerator(nil)

	tok, err := g.Custom(CustomParams{Length: 200, Digits: true})
	if err != nil {
		t.Fatalf("Custom: %v", err)
	}
	for _, c := range tok {
		if c < '0' || c > '9' {
			t.Fatalf("digits-only token contains %q", c)
		}
	}

	tok, err = g.Custom(CustomParams{Length: 200, Upper: true})
	if err != nil {
		t.Fatalf("Custom: %v", err)
	}
	if strings.ToUpper(tok) != tok {
		t.Errorf("uppercase-only token has lowercase: %s", tok)
	}
}

func TestCustomDefaultsToAlphanumeric(t *testing.T) {
	g := NewGenerator(nil)
	tok, err := g.Custom(CustomParams{Length: 100})
	if err != nil {
		t.Fatalf("Custom: %v", err)
	}
	for _, c := range tok {
		if strings.ContainsRune(specialChars, c) && c != '-' && c != '_' {
			t.Fatalf("default charset token contains special %q", c)
		}
		if !strings.ContainsRune(alphaUpper+alphaLower+digits, c) {
			t.Fatalf("default charset token contains %q", c)
		}
	}
}

func TestCustomAffixesAndValidation(t *testing.T) {
	g := NewGenerator(nil)

	tok, err := g.Custom(CustomParams{Length: 8, Lower: true, Prefix: "pk"})
	if err != nil {
		t.Fatalf("Custom: %v", err)
	}
	if !strings.HasPrefix(tok, "pk_") {
		t.Errorf("missing prefix: %s", tok)
	}

	_, err = g.Custom(CustomParams{Length: 0})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestBulkProducesTenKeys(t *testing.T) {
	g := NewGenerator(nil)
	batch, err := g.Bulk()
	if err != nil {
		t.Fatalf("Bulk: %v", err)
	}
	lines := strings.Split(batch, "\n")
	if len(lines) != BulkCount {
		t.Fatalf("expected %d keys, got %d", BulkCount, len(lines))
	}
	seen := make(map[string]bool)
	for _, l := range lines {
		if len(l) != DefaultLength {
			t.Errorf("key length %d, want %d", len(l), DefaultLength)
		}
		if seen[l] {
			t.Errorf("duplicate key in batch: %s", l)
		}
		seen[l] = true
	}
}
