package attestation

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Token format errors.
var (
	ErrEmptyToken      = errors.New("attestation: token is empty")
	ErrMalformedToken  = errors.New("attestation: token must have three base64url segments")
	ErrNonceUnreadable = errors.New("attestation: token carries no readable nonce")
)

// CheckFormat verifies that token consists of exactly three non-empty,
// dot-separated base64url segments. Padding is optional.
func CheckFormat(token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrEmptyToken
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrMalformedToken
	}
	for _, p := range parts {
		p = strings.TrimRight(p, "=")
		if p == "" {
			return ErrMalformedToken
		}
		if _, err := base64.RawURLEncoding.DecodeString(p); err != nil {
			return ErrMalformedToken
		}
	}
	return nil
}

// integrityClaims is the payload layout of an integrity token.
type integrityClaims struct {
	Nonce          string `json:"nonce,omitempty"`
	RequestDetails struct {
		Nonce              string `json:"nonce"`
		RequestPackageName string `json:"requestPackageName"`
		TimestampMillis    string `json:"timestampMillis,omitempty"`
	} `json:"requestDetails"`
	AppIntegrity struct {
		AppRecognitionVerdict string `json:"appRecognitionVerdict"`
		PackageName           string `json:"packageName"`
	} `json:"appIntegrity"`
	DeviceIntegrity struct {
		DeviceRecognitionVerdict []string `json:"deviceRecognitionVerdict"`
	} `json:"deviceIntegrity"`
	jwt.RegisteredClaims
}

func (c *integrityClaims) nonce() string {
	if c.RequestDetails.Nonce != "" {
		return c.RequestDetails.Nonce
	}
	return c.Nonce
}

// ExtractNonce reads the request nonce from the token payload without
// verifying the signature.
func ExtractNonce(token string) (string, error) {
	var claims integrityClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", ErrNonceUnreadable
	}
	if n := claims.nonce(); n != "" {
		return n, nil
	}
	return "", ErrNonceUnreadable
}

// ValidateNonce compares nonces in constant time.
func ValidateNonce(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
