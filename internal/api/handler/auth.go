package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTTL = 72 * time.Hour

// devJWTSecret keeps local development running without env setup. Config
// validation refuses to start production without a real secret.
const devJWTSecret = "talkstage-dev-only"

func (h *Handler) jwtSecret() []byte {
	if h.cfg.JWTSecret != "" {
		return []byte(h.cfg.JWTSecret)
	}
	return []byte(devJWTSecret)
}

func (h *Handler) generateJWT(anonID string) (string, error) {
	claims := jwt.MapClaims{
		"anon_id": anonID,
		"exp":     time.Now().Add(tokenTTL).Unix(),
		"iss":     "talkstage-service",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret())
}

func (h *Handler) validateAndGetAnonID(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return h.jwtSecret(), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	anonID, ok := claims["anon_id"].(string)
	if !ok || anonID == "" {
		return "", fmt.Errorf("token missing anon_id")
	}
	return anonID, nil
}

// GetAnonID mints a fresh anonymous identity and returns it with its JWT.
// The identity carries no account; losing the token means losing the
// session, which is the product's privacy stance.
func (h *Handler) GetAnonID(c *gin.Context) {
	anonUUID, err := uuid.NewRandom()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create identity"})
		return
	}
	anonID := anonUUID.String()

	token, err := h.generateJWT(anonID)
	if err != nil {
		h.log.Error().Err(err).Msg("token signing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": anonID})
}

// bearerToken pulls the JWT from the Authorization header or, for browser
// WebSocket clients that cannot set headers, the token query parameter.
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return c.Query("token")
}
