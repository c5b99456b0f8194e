// Package passport verifies the permit tokens that admit a purchaser into
// a place-order transaction. A token is scoped to one seller; replay is
// prevented downstream by a uniqueness constraint on the raw token.
package passport

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tokyo-tower/domain-sub000/internal/domain"
)

const scopePrefix = "placeOrderTransaction"

// Passport is the verified content of a permit token.
type Passport struct {
	Token  string
	Issuer string
	Scope  string
}

type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier builds a verifier for tokens signed with the given shared
// secret by the given issuer.
func NewVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer}
}

type claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Verify checks signature, issuer and expiry, and that the token's scope
// admits the given seller.
func (v *Verifier) Verify(token, sellerIdentifier string) (Passport, error) {
	if token == "" {
		return Passport{}, fmt.Errorf("passport token: %w", domain.ErrArgumentNull)
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Passport{}, fmt.Errorf("verify passport: %v: %w", err, domain.ErrArgument)
	}

	if c.Scope != scopePrefix+"."+sellerIdentifier {
		return Passport{}, fmt.Errorf("passport scope %q does not admit seller %q: %w", c.Scope, sellerIdentifier, domain.ErrForbidden)
	}

	return Passport{Token: token, Issuer: c.Issuer, Scope: c.Scope}, nil
}

// Issue signs a new permit token; used by tests and local tooling.
func Issue(secret []byte, issuer, sellerIdentifier string, expiresAt time.Time) (string, error) {
	c := claims{
		Scope: scopePrefix + "." + sellerIdentifier,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
}
