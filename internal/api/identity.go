package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/errors"
)

const (
	playerKey       = "ladder.player"
	defaultTokenTTL = 24 * time.Hour
)

// Claims carries the caller's identity. The subject is the player ID.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 token for p. Credential issuance is not part of the
// service; this exists for tooling and tests.
func GenerateToken(secret string, p domain.Player, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		Name: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies the signature and expiry of token and returns the player it names.
func ParseToken(secret, token string) (domain.Player, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domain.Player{}, err
	}

	if claims.Subject == "" {
		return domain.Player{}, jwt.ErrTokenInvalidClaims
	}

	return domain.Player{ID: claims.Subject, DisplayName: claims.Name}, nil
}

// authenticate resolves the caller from "Authorization: Bearer <token>" or, for
// websocket clients that cannot set headers, the token query parameter.
func (a *API) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string
		if h := c.GetHeader("Authorization"); h != "" {
			scheme, value, ok := strings.Cut(h, " ")
			if ok && strings.EqualFold(scheme, "Bearer") {
				token = strings.TrimSpace(value)
			}
		}
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			a.abort(c, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("missing bearer token")))
			return
		}

		p, err := ParseToken(a.secret, token)
		if err != nil {
			a.abort(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("invalid token"),
				errors.WithCause(err),
			))
			return
		}

		c.Set(playerKey, p)
		c.Next()
	}
}

func playerFrom(c *gin.Context) domain.Player {
	p, _ := c.MustGet(playerKey).(domain.Player)
	return p
}
