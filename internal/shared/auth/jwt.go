package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents the identity contained in an access token. Token issuance
// lives in the identity service; this package only signs (for tooling and
// tests) and verifies.
type Claims struct {
	Sub   string `json:"sub"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Exp   int64  `json:"exp,omitempty"`
	Iat   int64  `json:"iat,omitempty"`
}

var ErrInvalidToken = errors.New("invalid token")

// SignJWT signs the given claims with HS256 using the provided secret.
func SignJWT(claims Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	if claims.Sub == "" {
		return "", errors.New("sub is required")
	}

	now := time.Now().UTC().Unix()
	if claims.Iat == 0 {
		claims.Iat = now
	}
	if claims.Exp == 0 {
		claims.Exp = now + int64(24*time.Hour/time.Second)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   claims.Sub,
		"email": claims.Email,
		"name":  claims.Name,
		"iat":   claims.Iat,
		"exp":   claims.Exp,
	})
	return token.SignedString(secret)
}

// VerifyJWT parses and validates an HS256 token and returns its claims.
func VerifyJWT(tokenString string, secret []byte) (Claims, error) {
	if len(secret) == 0 {
		return Claims{}, errors.New("jwt secret not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	var out Claims
	out.Sub, _ = mapClaims["sub"].(string)
	out.Email, _ = mapClaims["email"].(string)
	out.Name, _ = mapClaims["name"].(string)
	if exp, ok := mapClaims["exp"].(float64); ok {
		out.Exp = int64(exp)
	}
	if iat, ok := mapClaims["iat"].(float64); ok {
		out.Iat = int64(iat)
	}
	if out.Sub == "" {
		return Claims{}, ErrInvalidToken
	}
	return out, nil
}
