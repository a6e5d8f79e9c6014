package tokengenerator

import (
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims are carried by the auth cookie. The subject is the local user
// id and the JWT id is the login session token.
type AuthClaims struct {
	jwt.RegisteredClaims
}

// JwtTokenGenerator signs auth cookie values with HS256. Verification is
// done by jwtauth with the same secret.
type JwtTokenGenerator struct {
	Secret string
	Issuer string
}

// NewJwtTokenGenerator creates a new JwtTokenGenerator
func NewJwtTokenGenerator(secret, issuer string) *JwtTokenGenerator {
	return &JwtTokenGenerator{
		Secret: secret,
		Issuer: issuer,
	}
}

// GenerateToken creates the auth cookie value for a login session
func (g *JwtTokenGenerator) GenerateToken(userID, sessionToken string, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
			Issuer:    g.Issuer,
			Subject:   userID,
			ID:        sessionToken,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(g.Secret))
	if err != nil {
		slog.Error("Failed sign JWT Claim string!", "err", err)
		return "", err
	}
	return ss, nil
}
