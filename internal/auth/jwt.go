package auth

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/fx"

	"github.com/Additional-Code/caravel/internal/config"
)

// Roles recognized by the fulfillment endpoints. Identity issuance lives
// outside this service; tokens arrive already signed.
const (
	RoleAdmin    = "admin"
	RoleStaff    = "staff"
	RoleCustomer = "customer"
)

// ErrInvalidToken covers malformed, expired, or mis-signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Principal is the authenticated actor extracted from a bearer token.
type Principal struct {
	ActorID int64
	Role    string
}

// Elevated reports whether the principal may perform fulfillment mutations.
func (p Principal) Elevated() bool {
	return p.Role == RoleAdmin || p.Role == RoleStaff
}

// Verifier parses and validates bearer tokens.
type Verifier struct {
	secret []byte
}

// Module provides the token verifier to Fx.
var Module = fx.Provide(func(cfg config.Config) *Verifier {
	return NewVerifier(cfg.Auth.JWTSecret)
})

// NewVerifier builds a Verifier over an HMAC shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Parse validates the token signature and claims and extracts the principal.
func (v *Verifier) Parse(token string) (*Principal, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: verifier has no secret configured", ErrInvalidToken)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	actorID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: non-numeric subject", ErrInvalidToken)
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = RoleCustomer
	}

	return &Principal{ActorID: actorID, Role: role}, nil
}
