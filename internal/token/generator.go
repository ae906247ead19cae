// Package token produces sample security tokens: API keys, JWTs, UUIDs
// and custom-format random strings. Output is educational; the only
// hard contract is that randomness comes from crypto/rand.
package token

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	alphaUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphaLower   = "abcdefghijklmnopqrstuvwxyz"
	digits       = "0123456789"
	specialChars = "_-!@#$%^&*"

	apiKeyAlphabet = alphaUpper + alphaLower + digits + "_-"

	// DefaultLength is the length used when a flow supplies none.
	DefaultLength = 32

	// BulkCount is the number of API keys in one bulk batch.
	BulkCount = 10

	minExpiryHours = 1
	maxExpiryHours = 720

	jwtIssuer   = "TokenGen Bot (educational)"
	jwtAudience = "learning-environment"
	jwtSubject  = "sample_user"
)

// ValidationError reports unusable generation parameters. It is returned
// before any ledger mutation happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Generator signs JWTs with a process-wide secret handed in at
// construction. All other operations are pure.
type Generator struct {
	jwtSecret []byte
	now       func() time.Time
}

func NewGenerator(jwtSecret []byte) *Generator {
	return &Generator{jwtSecret: jwtSecret, now: time.Now}
}

// APIKey returns a random key of the requested length drawn from
// letters, digits, underscore and dash. Prefix and suffix, when
// non-empty, are joined with underscores.
func (g *Generator) APIKey(length int, prefix, suffix string) (string, error) {
	if length <= 0 {
		return "", &ValidationError{Field: "length", Reason: "must be positive"}
	}
	key, err := randomString(apiKeyAlphabet, length)
	if err != nil {
		return "", err
	}
	return applyAffixes(key, prefix, suffix), nil
}

// JWT signs an HS256 token embedding the supplied claims plus the
// standard iat/exp/iss/aud/sub set. Expiry is clamped to [1, 720] hours.
func (g *Generator) JWT(claims map[string]string, expiryHours int) (string, error) {
	expiryHours = ClampExpiryHours(expiryHours)
	now := g.now().UTC()

	payload := jwt.MapClaims{
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(time.Duration(expiryHours) * time.Hour)),
		"iss": jwtIssuer,
		"aud": jwtAudience,
		"sub": jwtSubject,
	}
	for k, v := range claims {
		switch k {
		case "iat", "exp", "iss", "aud", "sub":
			// standard claims win over caller-supplied ones
		default:
			payload[k] = v
		}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(g.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// UUID returns a v4 identifier by default and a time-based v1 when
// version is 1. Any other version falls back to v4.
func (g *Generator) UUID(version int) (string, error) {
	if version == 1 {
		id, err := uuid.NewUUID()
		if err != nil {
			return "", fmt.Errorf("uuid v1: %w", err)
		}
		return id.String(), nil
	}
	return uuid.New().String(), nil
}

// CustomParams selects the character classes for a custom token.
type CustomParams struct {
	Length  int
	Upper   bool
	Lower   bool
	Digits  bool
	Special bool
	Prefix  string
	Suffix  string
}

// Custom returns a random string drawn from the selected classes. With
// no class selected the charset defaults to letters plus digits.
func (g *Generator) Custom(p CustomParams) (string, error) {
	if p.Length <= 0 {
		return "", &ValidationError{Field: "length", Reason: "must be positive"}
	}
	var charset strings.Builder
	if p.Upper {
		charset.WriteString(alphaUpper)
	}
	if p.Lower {
		charset.WriteString(alphaLower)
	}
	if p.Digits {
		charset.WriteString(digits)
	}
	if p.Special {
		charset.WriteString(specialChars)
	}
	set := charset.String()
	if set == "" {
		set = alphaUpper + alphaLower + digits
	}
	tok, err := randomString(set, p.Length)
	if err != nil {
		return "", err
	}
	return applyAffixes(tok, p.Prefix, p.Suffix), nil
}

// Bulk returns ten independent default-length API keys joined by
// newlines.
func (g *Generator) Bulk() (string, error) {
	keys := make([]string, 0, BulkCount)
	for i := 0; i < BulkCount; i++ {
		key, err := g.APIKey(DefaultLength, "", "")
		if err != nil {
			return "", err
		}
		keys = append(keys, key)
	}
	return strings.Join(keys, "\n"), nil
}

// ClampExpiryHours bounds a JWT expiry to [1, 720] hours.
func ClampExpiryHours(hours int) int {
	if hours < minExpiryHours {
		return minExpiryHours
	}
	if hours > maxExpiryHours {
		return maxExpiryHours
	}
	return hours
}

func applyAffixes(tok, prefix, suffix string) string {
	if prefix != "" {
		tok = prefix + "_" + tok
	}
	if suffix != "" {
		tok = tok + "_" + suffix
	}
	return tok
}

func randomString(charset string, length int) (string, error) {
	max := big.NewInt(int64(len(charset)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(charset[n.Int64()])
	}
	return b.String(), nil
}
