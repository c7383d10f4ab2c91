package backend

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

const (
	contextClaimsKey = "claims"
	anonymousSubject = "anonymous"
)

var errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"` // student or teacher
}

// GenerateToken signs an HS256 token for subject.
func GenerateToken(secret, subject, name, role string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret not configured")
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
		Role: role,
	}
	ss, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func authMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				c.Set(contextClaimsKey, &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: anonymousSubject}})
				return next(c)
			}

			authz := strings.TrimSpace(c.Request().Header.Get(echo.HeaderAuthorization))
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				return errUnauthorized
			}
			raw := strings.TrimSpace(authz[7:])

			claims := &Claims{}
			tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid || claims.Subject == "" {
				return errUnauthorized
			}
			c.Set(contextClaimsKey, claims)
			return next(c)
		}
	}
}

func contextClaims(c echo.Context) *Claims {
	if claims, ok := c.Get(contextClaimsKey).(*Claims); ok {
		return claims
	}
	return &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: anonymousSubject}}
}
