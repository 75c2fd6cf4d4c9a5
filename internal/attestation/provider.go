package attestation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSignatureRejected is returned by a provider that verified the token's
// signature and found it invalid.
var ErrSignatureRejected = errors.New("attestation: token signature rejected")

// Provider turns a structurally valid token into an integrity verdict.
// Implementations stand in for a real attestation backend; errors mean the
// backend could not produce a verdict.
type Provider interface {
	Name() string
	Verify(ctx context.Context, token string) (*Verdict, error)
}

// StructuralProvider accepts every well-formed token as meeting device and
// basic integrity. It performs no cryptographic verification.
type StructuralProvider struct{}

// Name implements Provider.
func (StructuralProvider) Name() string { return "structural" }

// Verify implements Provider.
func (StructuralProvider) Verify(ctx context.Context, token string) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Verdict{
		MeetsDeviceIntegrity: true,
		MeetsBasicIntegrity:  true,
		AppIntegrity:         VerdictPlayRecognized,
		DeviceRecognition:    VerdictMeetsDeviceIntegrity,
		EnvironmentDetails:   "Play Protect verified",
	}, nil
}

// ClaimsProvider reads the integrity verdict from the token's JWS payload.
// With an HMAC key the signature and registered claims (exp, nbf) are
// verified; without one the payload is read unverified.
type ClaimsProvider struct {
	key         []byte
	packageName string
	parser      *jwt.Parser
}

// ClaimsOption configures a ClaimsProvider.
type ClaimsOption func(*ClaimsProvider)

// WithHMACKey enables HS256/HS384/HS512 signature verification.
func WithHMACKey(key []byte) ClaimsOption {
	return func(p *ClaimsProvider) { p.key = key }
}

// WithPackageName requires the token to name this application package.
func WithPackageName(name string) ClaimsOption {
	return func(p *ClaimsProvider) { p.packageName = name }
}

// NewClaimsProvider creates a claims-reading provider.
func NewClaimsProvider(opts ...ClaimsOption) *ClaimsProvider {
	p := &ClaimsProvider{}
	for _, opt := range opts {
		opt(p)
	}
	p.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	return p
}

// Name implements Provider.
func (p *ClaimsProvider) Name() string { return "claims" }

// Verify implements Provider.
func (p *ClaimsProvider) Verify(ctx context.Context, token string) (*Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var claims integrityClaims
	verified := len(p.key) > 0
	if verified {
		_, err := p.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
			return p.key, nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignatureRejected, err)
		}
	} else {
		if _, _, err := p.parser.ParseUnverified(token, &claims); err != nil {
			return nil, fmt.Errorf("attestation: unreadable claims: %w", err)
		}
	}

	labels := claims.DeviceIntegrity.DeviceRecognitionVerdict
	v := &Verdict{
		MeetsDeviceIntegrity: slices.Contains(labels, VerdictMeetsDeviceIntegrity) || slices.Contains(labels, VerdictMeetsStrongIntegrity),
		AppIntegrity:         claims.AppIntegrity.AppRecognitionVerdict,
		DeviceRecognition:    strings.Join(labels, ","),
	}
	v.MeetsBasicIntegrity = v.MeetsDeviceIntegrity || slices.Contains(labels, VerdictMeetsBasicIntegrity)

	if v.AppIntegrity == "" {
		v.AppIntegrity = VerdictUnevaluated
	}
	if v.DeviceRecognition == "" {
		v.DeviceRecognition = VerdictUnevaluated
	}
	if p.packageName != "" && claims.RequestDetails.RequestPackageName != p.packageName {
		v.AppIntegrity = VerdictUnrecognizedPackage
	}

	if verified {
		v.EnvironmentDetails = "signature verified"
	} else {
		v.EnvironmentDetails = "claims unverified"
	}
	return v, nil
}
