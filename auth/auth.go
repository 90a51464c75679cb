// auth/auth.go
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the stable user behind a connection. UserID zero marks an
// anonymous player, which the reservation lobby rejects at join time.
type Identity struct {
	UserID   int64
	Username string
}

// Authenticator resolves a transport credential to an identity.
type Authenticator interface {
	Authenticate(credential string) (Identity, error)
}

var ErrInvalidToken = errors.New("invalid token")

// JWTAuthenticator validates HS256 tokens carrying id/username claims.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrInvalidToken
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	id, ok := claims["id"].(float64)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	username, _ := claims["username"].(string)
	if username == "" {
		username = "Player"
	}

	return Identity{UserID: int64(id), Username: username}, nil
}
