// Package jwt authenticates signed JWT bearer tokens with a static key:
// an HMAC secret (HS256/384/512) or an RSA public key in PEM form
// (RS256/384/512).
//
// Claims map onto the identity: the subject claim, the service tier, the
// scopes (space separated string or list) and the models the token may
// address.
package jwt

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/rhuss/tensorgate/pkg/auth"
)

// Config holds the JWT authenticator configuration.
type Config struct {
	// Secret verifies HMAC-signed tokens.
	Secret []byte

	// PublicKeyPEM verifies RSA-signed tokens.
	PublicKeyPEM []byte

	// Issuer and Audience are validated when non-empty.
	Issuer   string
	Audience string

	// Claim names. Defaults: "sub", "tier", "scope", "models".
	UserClaim   string
	TierClaim   string
	ScopesClaim string
	ModelsClaim string

	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration
}

func (c *Config) applyDefaults() {
	if c.UserClaim == "" {
		c.UserClaim = "sub"
	}
	if c.TierClaim == "" {
		c.TierClaim = "tier"
	}
	if c.ScopesClaim == "" {
		c.ScopesClaim = "scope"
	}
	if c.ModelsClaim == "" {
		c.ModelsClaim = "models"
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	config  Config
	methods []string
	hmacKey []byte
	rsaKey  *rsa.PublicKey
}

// New creates a JWT authenticator. At least one of Secret and PublicKeyPEM
// must be set.
func New(cfg Config) (*Authenticator, error) {
	cfg.applyDefaults()
	a := &Authenticator{config: cfg}

	if len(cfg.Secret) > 0 {
		a.hmacKey = cfg.Secret
		a.methods = append(a.methods, "HS256", "HS384", "HS512")
	}
	if len(cfg.PublicKeyPEM) > 0 {
		key, err := jwtlib.ParseRSAPublicKeyFromPEM(cfg.PublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parsing RSA public key: %w", err)
		}
		a.rsaKey = key
		a.methods = append(a.methods, "RS256", "RS384", "RS512")
	}
	if len(a.methods) == 0 {
		return nil, errors.New("jwt authenticator needs a secret or a public key")
	}
	return a, nil
}

// Authenticate validates the bearer token.
//
// Decision outcomes:
//   - Abstain: no bearer token, or a token that is not a JWT
//   - No: a JWT that fails verification or lacks the subject claim
//   - Yes: a valid JWT
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	tokenStr, ok := auth.BearerToken(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if tokenStr == "" {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("empty bearer token")}
	}
	if strings.Count(tokenStr, ".") != 2 {
		// Leave opaque tokens to the API key authenticator.
		return auth.AuthResult{Decision: auth.Abstain}
	}

	token, err := jwtlib.Parse(tokenStr, a.keyFunc, a.parserOptions()...)
	if err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("invalid JWT: %w", err)}
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return auth.AuthResult{Decision: auth.No, Err: errors.New("invalid JWT claims")}
	}

	subject := claimString(claims, a.config.UserClaim)
	if subject == "" {
		return auth.AuthResult{Decision: auth.No, Err: fmt.Errorf("JWT missing %q claim", a.config.UserClaim)}
	}

	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     subject,
			ServiceTier: claimString(claims, a.config.TierClaim),
			Scopes:      claimList(claims, a.config.ScopesClaim),
			Models:      claimList(claims, a.config.ModelsClaim),
		},
	}
}

func (a *Authenticator) keyFunc(token *jwtlib.Token) (any, error) {
	switch token.Method.(type) {
	case *jwtlib.SigningMethodHMAC:
		if a.hmacKey != nil {
			return a.hmacKey, nil
		}
	case *jwtlib.SigningMethodRSA:
		if a.rsaKey != nil {
			return a.rsaKey, nil
		}
	}
	return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
}

func (a *Authenticator) parserOptions() []jwtlib.ParserOption {
	opts := []jwtlib.ParserOption{jwtlib.WithValidMethods(a.methods)}
	if a.config.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(a.config.Issuer))
	}
	if a.config.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(a.config.Audience))
	}
	if a.config.Leeway > 0 {
		opts = append(opts, jwtlib.WithLeeway(a.config.Leeway))
	}
	return opts
}

func claimString(claims jwtlib.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// claimList reads a space separated string or a list of strings.
func claimList(claims jwtlib.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if parts := strings.Fields(v); len(parts) > 0 {
			return parts
		}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
