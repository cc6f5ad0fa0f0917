package devserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are carried by the bearer tokens the dev server issues.
type Claims struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// IssueToken signs an API token for userID.
func (s *Server) IssueToken(userID int64) (string, error) {
	u, ok := s.user(userID)
	if !ok {
		return "", ErrUnknownUser
	}
	now := s.now()
	claims := Claims{
		UserID: u.ID,
		Name:   u.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses a bearer token and returns its claims.
func (s *Server) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithLeeway(tokenLeeway))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if _, ok := s.user(claims.UserID); !ok {
		return nil, ErrUnknownUser
	}
	return claims, nil
}

// channelSignature is the Pusher private channel signature:
// key:hex(hmac_sha256(secret, socket_id:channel)).
func (s *Server) channelSignature(socketID, channel string) string {
	mac := hmac.New(sha256.New, []byte(s.cfg.AppSecret))
	mac.Write([]byte(socketID + ":" + channel))
	return s.cfg.AppKey + ":" + hex.EncodeToString(mac.Sum(nil))
}

func (s *Server) verifyChannel(socketID, channel, auth string) bool {
	return hmac.Equal([]byte(auth), []byte(s.channelSignature(socketID, channel)))
}

// channelChat extracts the chat id from a private-chat.<id> channel name.
func channelChat(channel string) (int64, bool) {
	rest, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok {
		return 0, false
	}
	id, err := parseID(rest)
	return id, err == nil
}

func channelFor(chatID int64) string {
	return fmt.Sprintf("%s%d", channelPrefix, chatID)
}

const (
	channelPrefix = "private-chat."
	eventName     = `App\Events\MessageSent`
	tokenLeeway   = time.Minute
)
