package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
)

// SessionClaim is the admin session credential. Id (jti) is the Redis session key.
type SessionClaim struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	jwt.StandardClaims
}

func getJwtSecret() []byte {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return []byte("VastraMandir-Secret")
	}
	return []byte(secret)
}

// TokenLifespan reads TOKEN_HOUR_LIFESPAN, default 12 hours.
func TokenLifespan() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil || hours <= 0 {
		hours = 12
	}
	return time.Duration(hours) * time.Hour
}

// JwtGenerate signs a new session token and returns it with its session id.
func JwtGenerate(username string, name string, now time.Time) (token string, sessionId string, err error) {
	sessionId = uuid.NewString()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &SessionClaim{
		Username: username,
		Name:     name,
		StandardClaims: jwt.StandardClaims{
			Id:        sessionId,
			ExpiresAt: now.Add(TokenLifespan()).Unix(),
			IssuedAt:  now.Unix(),
		},
	})

	token, err = t.SignedString(getJwtSecret())
	if err != nil {
		return "", "", err
	}
	return token, sessionId, nil
}

// JwtValidate checks signature and expiry. Revocation is checked by the caller.
func JwtValidate(token string) (*SessionClaim, error) {
	parsed, err := jwt.ParseWithClaims(token, &SessionClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return getJwtSecret(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claim, ok := parsed.Claims.(*SessionClaim)
	if !ok || !parsed.Valid || claim.Id == "" {
		return nil, ErrUnauthorized
	}
	if claim.Username == "" {
		return nil, errors.Join(ErrUnauthorized, errors.New("token has no username"))
	}
	return claim, nil
}
