package domain

import "github.com/golang-jwt/jwt/v5"

// TokenClaims is the payload of an access token. Subject carries the user ID.
type TokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}
