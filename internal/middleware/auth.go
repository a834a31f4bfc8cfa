package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"novel-engine/internal/authutils"
	"novel-engine/internal/models"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	// PlayerKeyContextKey - ключ echo.Context с subject токена.
	PlayerKeyContextKey = "player_key"
	// LanguageContextKey - ключ echo.Context с языком из токена.
	LanguageContextKey = "player_lang"
)

// TokenVerifier проверяет строку токена и возвращает claims.
type TokenVerifier func(ctx context.Context, tokenString string) (*authutils.Claims, error)

// JWTAuthMiddleware проверяет bearer-токен и кладет ключ игрока в контекст Echo.
func JWTAuthMiddleware(verifier TokenVerifier, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.With(zap.String("path", c.Path()))

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				log.Warn("Authorization header missing")
				return unauthorized(c, "Authorization header missing")
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				log.Warn("Malformed Authorization header")
				return unauthorized(c, "Invalid Authorization header format")
			}

			claims, err := verifier(c.Request().Context(), parts[1])
			if err != nil {
				msg := "Token is invalid"
				if errors.Is(err, models.ErrTokenExpired) {
					msg = "Token has expired"
				}
				return unauthorized(c, msg)
			}

			c.Set(PlayerKeyContextKey, claims.Subject)
			if claims.Language != "" {
				c.Set(LanguageContextKey, claims.Language)
			}
			return next(c)
		}
	}
}

// PlayerKey возвращает ключ игрока, установленный JWTAuthMiddleware.
func PlayerKey(c echo.Context) (string, bool) {
	key, ok := c.Get(PlayerKeyContextKey).(string)
	return key, ok && key != ""
}

func unauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"code": "unauthorized", "message": message})
}
