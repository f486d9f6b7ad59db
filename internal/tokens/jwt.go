// Package tokens mints and validates the short-lived JWTs the dispatcher
// hands to the external analysis runner: a session token scoped to exactly
// one session_id, so a compromised or leaked token can only post events back
// for the session it was minted for.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims scopes the token to one session, camera, and location - the
// /internal/v1/events handlers take those ids from these claims, never from
// the request body.
type Claims struct {
	SessionID  string `json:"session_id"`
	CameraID   string `json:"camera_id"`
	LocationID string `json:"location_id"`
	jwt.RegisteredClaims
}

type Manager struct {
	signingKey []byte
}

func NewManager(signingKey string) *Manager {
	return &Manager{signingKey: []byte(signingKey)}
}

// GenerateSessionToken mints a token valid for ttl, scoped to sessionID.
// ttl should track the session's expected processing time plus a margin,
// not the video's duration - a slow analysis run must not have its token
// expire mid-session.
func (m *Manager) GenerateSessionToken(sessionID, cameraID, locationID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		SessionID:  sessionID,
		CameraID:   cameraID,
		LocationID: locationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Subject:   sessionID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	// Kid lets a future key-rotation story swap signing keys without
	// invalidating tokens already in flight.
	token.Header["kid"] = "v1"

	return token.SignedString(m.signingKey)
}

func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
