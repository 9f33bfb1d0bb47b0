package api

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySkew refreshes tokens slightly before they actually expire.
const expirySkew = 10 * time.Second

// tokenExpired reports whether the JWT access token has an exp claim in the
// past. Tokens that cannot be parsed, or carry no exp, are treated as valid
// and left for the server to judge.
func tokenExpired(raw string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return !exp.Add(-expirySkew).After(now)
}

// TokenUserID extracts the user_id claim the backend embeds in access
// tokens. It returns "" when the token has no such claim.
func TokenUserID(raw string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}

	switch v := claims["user_id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
