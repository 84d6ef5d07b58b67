package auth

import (
	"fmt"
	"time"

	"blind_relay/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
)

const issuer = "blind_relay"

// Claims carries the display name the token was issued to.
type Claims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewTokenIssuer(secret string, ttl time.Duration, clk clock.Clock) *TokenIssuer {
	if clk == nil {
		clk = clock.New()
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: clk}
}

// Issue signs an HS256 token for identity.
func (i *TokenIssuer) Issue(identity string) (string, error) {
	now := i.clock.Now()
	claims := &Claims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   model.NormalizeName(identity),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses a token and returns its claims.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, model.ErrUnauthorized
	}
	return claims, nil
}

// VerifyIdentity accepts the token only if it was issued to identity.
func (i *TokenIssuer) VerifyIdentity(identity, tokenString string) error {
	if tokenString == "" {
		return fmt.Errorf("%w: token required", model.ErrUnauthorized)
	}
	claims, err := i.Verify(tokenString)
	if err != nil {
		return err
	}
	if claims.Subject != model.NormalizeName(identity) {
		return fmt.Errorf("%w: token was issued to another identity", model.ErrUnauthorized)
	}
	return nil
}
