package auth

import (
	"errors"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	audience = "qr-attendance"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the sign-in identity. Scans resolve users from Name.
type Claims struct {
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool { return c != nil && c.Role == RoleAdmin }

func newToken(claims Claims, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Audience:  []string{audience},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func NewSession(name, image, secret string, ttl time.Duration) (string, error) {
	return newToken(Claims{Name: name, Image: image, Role: RoleUser}, secret, ttl)
}

// NewAdminSession carries no Name, so it never resolves to a user.
func NewAdminSession(secret string, ttl time.Duration) (string, error) {
	return newToken(Claims{Role: RoleAdmin}, secret, ttl)
}

func Parse(tokenString, secret string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
	)
	if err != nil {
		return nil, err
	}
	if claims, ok := tok.Claims.(*Claims); ok && tok.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// CheckAdminPassword compares password with an argon2id hash. An empty hash
// never matches.
func CheckAdminPassword(password, hash string) (bool, error) {
	if hash == "" || password == "" {
		return false, nil
	}
	return argon2id.ComparePasswordAndHash(password, hash)
}

func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2id.DefaultParams)
}
