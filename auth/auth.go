/*
Package auth verifies identity tokens issued by the external identity
provider and exposes the claim set the ledger trusts.

The ledger never authenticates users itself; it consumes a signed claim
set {account id, role, admin flag} and fails closed when verification
fails or required claims are absent.
*/
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/token-ledger/ledger"
)

// Claims is the verified claim set carried by an identity token.
type Claims struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	IsAdmin   bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed identity tokens.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer}
}

// Verify parses and validates a token string. Any failure - bad
// signature, expiry, wrong issuer, missing account claim - yields the
// ledger's unauthorized error: the caller fails closed.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrUnauthorized, err)
	}
	if !token.Valid || claims.AccountID == "" {
		return nil, fmt.Errorf("%w: missing account claim", ledger.ErrUnauthorized)
	}
	return claims, nil
}

// Issue signs a claim set. Exists for local development and tests; in
// production tokens come from the identity provider.
func (v *Verifier) Issue(accountID, email, role string, isAdmin bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		AccountID: accountID,
		Email:     email,
		Role:      role,
		IsAdmin:   isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   accountID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
