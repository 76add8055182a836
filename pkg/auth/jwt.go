package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v4"
	apperrors "github.com/yourusername/gameshow-api/internal/pkg/errors"
)

// Использование тикета фиксируется в claims: токен, выданный для
// WebSocket-рукопожатия, нельзя предъявить где-то ещё.
const wsTicketUsage = "websocket_auth"

// JWTCustomClaims содержит пользовательские поля WS-тикета
type JWTCustomClaims struct {
	UserID string `json:"user_id"`
	GameID string `json:"game_id,omitempty"`
	Usage  string `json:"usage"`
	jwt.RegisteredClaims
}

// JWTService выдает и проверяет короткоживущие WebSocket-тикеты.
// Тикет передаётся в query-параметре при рукопожатии, поэтому живёт
// секунды, а не часы.
type JWTService struct {
	secretKey      []byte
	wsTicketExpiry time.Duration
}

// NewJWTService создает новый сервис JWT-тикетов
func NewJWTService(secretKey string, wsTicketExpirySec int) (*JWTService, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("JWT secret key is required")
	}
	// Default expiry if not set or invalid
	if wsTicketExpirySec <= 0 {
		wsTicketExpirySec = 60
	}
	return &JWTService{
		secretKey:      []byte(secretKey),
		wsTicketExpiry: time.Duration(wsTicketExpirySec) * time.Second,
	}, nil
}

// GenerateWSTicket создает тикет для WebSocket-подключения.
// Возвращает тикет и срок его действия в секундах.
func (s *JWTService) GenerateWSTicket(userID, gameID string) (string, int, error) {
	now := time.Now()
	claims := &JWTCustomClaims{
		UserID: userID,
		GameID: gameID,
		Usage:  wsTicketUsage,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.wsTicketExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", 0, fmt.Errorf("sign ws ticket: %w", err)
	}

	log.Printf("[JWTService] Выдан WS-тикет для пользователя %s (игра %s), срок %v", userID, gameID, s.wsTicketExpiry)
	return signed, int(s.wsTicketExpiry.Seconds()), nil
}

// ParseWSTicket проверяет тикет WebSocket-рукопожатия и возвращает его клеймы.
// Тикет с посторонним usage отклоняется, даже если подпись верна.
func (s *JWTService) ParseWSTicket(ticket string) (*JWTCustomClaims, error) {
	token, err := jwt.ParseWithClaims(ticket, &JWTCustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.ErrExpiredToken
		}
		return nil, fmt.Errorf("parse ws ticket: %w", apperrors.ErrUnauthorized)
	}

	claims, ok := token.Claims.(*JWTCustomClaims)
	if !ok || !token.Valid {
		return nil, apperrors.ErrUnauthorized
	}
	if claims.Usage != wsTicketUsage {
		log.Printf("[JWTService] Отклонён тикет с посторонним usage %q", claims.Usage)
		return nil, apperrors.ErrUnauthorized
	}
	if claims.UserID == "" {
		return nil, apperrors.ErrUnauthorized
	}

	return claims, nil
}
