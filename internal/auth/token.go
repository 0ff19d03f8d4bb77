// Package auth issues and verifies the room-scoped session tokens
// for room-scoped sessions. There are no persistent accounts and no
// password machinery here; a token binds a player to exactly one room
// and session for its lifetime.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTTL    = 24 * time.Hour
	refreshWindow = 5 * time.Minute
)

var ErrForeignRoom = errors.New("auth: token is not scoped to this room")

// Claims binds a player to one room and session.
type Claims struct {
	PlayerID  string `json:"player_id"`
	RoomID    string `json:"room_id"`
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

type TokenManager struct {
	secret []byte
	TTL    time.Duration
}

func NewTokenManager(secret string) *TokenManager {
	return &TokenManager{secret: []byte(secret), TTL: defaultTTL}
}

// Issue mints a fresh token for (playerId, roomId, sessionId).
func (m *TokenManager) Issue(playerID, roomID, sessionID string) (string, error) {
	claims := Claims{
		PlayerID:  playerID,
		RoomID:    roomID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.TTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses and validates a token, and additionally rejects it if it
// is not scoped to roomID.
func (m *TokenManager) Verify(tokenStr, roomID string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.RoomID != roomID {
		return nil, ErrForeignRoom
	}
	return claims, nil
}

// NeedsRefresh reports whether the token's remaining lifetime has dropped
// to the 5-minute refresh window.
func (c *Claims) NeedsRefresh() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Until(c.ExpiresAt.Time) <= refreshWindow
}

// Refresh re-issues a token for the same (playerId, roomId, sessionId)
// binding when NeedsRefresh reports true.
func (m *TokenManager) Refresh(c *Claims) (string, error) {
	return m.Issue(c.PlayerID, c.RoomID, c.SessionID)
}
