package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess marks a signed record as an access token.
const TokenTypeAccess = "access"

// AccessClaims is the signed access token payload. Field names are kept
// short because the token travels on every request.
type AccessClaims struct {
	Type          string  `json:"t"`
	SessionID     int64   `json:"s"`
	SessionKey    string  `json:"k"`
	UserID        int64   `json:"u"`
	RoleIDs       []int64 `json:"r"`
	EmailVerified bool    `json:"v"`
	// CreatedAt is the issue time in Unix milliseconds.
	CreatedAt int64 `json:"c"`
	jwt.RegisteredClaims
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse is returned after a successful login. The token itself travels
// in the X-Set-Auth-Token header and the token cookie.
type LoginResponse struct {
	Message string    `json:"message"`
	User    *Identity `json:"user"`
}

// CredentialQuery selects the user whose password is checked. Email wins when
// both fields are set.
type CredentialQuery struct {
	Email  string
	UserID int64
}

// IssuedToken is a freshly signed access token together with its claims.
type IssuedToken struct {
	Token  string
	Claims *AccessClaims
}
