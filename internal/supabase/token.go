package supabase

import (
	stderrors "errors"
	"fmt"

	"github.com/NomadCrew/nomad-crew-proximity/errors"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired is returned when the access token is past its expiry.
	ErrTokenExpired = stderrors.New("token expired")
	// ErrTokenInvalid is returned for malformed tokens or bad signatures.
	ErrTokenInvalid = stderrors.New("token invalid")
	// ErrTokenMissingClaim is returned when the token has no subject.
	ErrTokenMissingClaim = stderrors.New("token missing required claim")
)

// UserIDFromToken returns the subject of a Supabase access token. With a
// secret the HS256 signature and expiry are verified; without one the token
// is only decoded, which is enough for a device that got it from GoTrue.
func UserIDFromToken(token, secret string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	var err error
	if secret != "" {
		_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	} else {
		_, _, err = jwt.NewParser().ParseUnverified(token, claims)
	}
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.Wrap(fmt.Errorf("%w: %w", ErrTokenExpired, err), errors.AuthError, "access token expired")
		}
		return "", errors.Wrap(fmt.Errorf("%w: %w", ErrTokenInvalid, err), errors.AuthError, "invalid access token")
	}

	if claims.Subject == "" {
		return "", errors.Wrap(ErrTokenMissingClaim, errors.AuthError, "access token has no subject")
	}
	return claims.Subject, nil
}
