package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opencurate/releasehub/internal/domain"
	"github.com/opencurate/releasehub/internal/present/rest/presenter"
)

var tracer = otel.Tracer("auth")

// userClaims is the shape of the bearer tokens minted by the identity
// provider in front of this service.
type userClaims struct {
	DisplayName string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	audience string
	secret   []byte

	// verified tokens are cached briefly so hot clients do not pay the
	// HMAC check on every request
	users *cache.Cache
}

func NewAuthMiddleware(audience, secret string) *AuthMiddleware {
	return &AuthMiddleware{
		audience: audience,
		secret:   []byte(secret),
		users:    cache.New(5*time.Minute, 10*time.Minute),
	}
}

func (s *AuthMiddleware) authenticate(ctx context.Context, token string) (domain.AuthenticatedUser, error) {
	if cached, found := s.users.Get(token); found {
		return cached.(domain.AuthenticatedUser), nil
	}

	parsed, err := jwt.ParseWithClaims(token, &userClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return domain.AuthenticatedUser{}, err
	}
	claims, ok := parsed.Claims.(*userClaims)
	if !ok || !parsed.Valid {
		return domain.AuthenticatedUser{}, fmt.Errorf("invalid token")
	}
	if s.audience != "" && !claims.VerifyAudience(s.audience, true) {
		return domain.AuthenticatedUser{}, fmt.Errorf("jwt audience mismatch: expected %s", s.audience)
	}
	if claims.Subject == "" {
		return domain.AuthenticatedUser{}, fmt.Errorf("jwt subject missing")
	}

	user := domain.AuthenticatedUser{
		SubjectID:   claims.Subject,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
	}
	s.users.Set(token, user, cache.DefaultExpiration)
	return user, nil
}

// IdentifyUser resolves the bearer token into an AuthenticatedUser on the
// request context. A missing or bad token leaves the context untouched;
// RequireUser decides whether that matters.
func (s *AuthMiddleware) IdentifyUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.IdentifyUser")
		defer span.End()

		authHeader := c.Request().Header.Get("authorization")

		if authHeader != "" {
			split := strings.Split(authHeader, " ")
			if len(split) != 2 || split[0] != "Bearer" {
				span.RecordError(fmt.Errorf("invalid authentication header"))
				goto skipCheckAuthorization
			}

			user, err := s.authenticate(ctx, split[1])
			if err != nil {
				span.RecordError(errors.Wrap(err, "AuthMiddleware.IdentifyUser: authenticate failed"))
				goto skipCheckAuthorization
			}

			ctx = context.WithValue(ctx, domain.UserCtxKey, user)
			span.SetAttributes(attribute.String("SubjectId", user.SubjectID))
		}

	skipCheckAuthorization:
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// RequireUser rejects requests that did not resolve to a user.
func (s *AuthMiddleware) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := UserFromContext(c.Request().Context()); !ok {
			return presenter.Unauthorized(c, "authentication required")
		}
		return next(c)
	}
}

// UserFromContext extracts the authenticated user placed by IdentifyUser.
func UserFromContext(ctx context.Context) (domain.AuthenticatedUser, bool) {
	user, ok := ctx.Value(domain.UserCtxKey).(domain.AuthenticatedUser)
	return user, ok
}
