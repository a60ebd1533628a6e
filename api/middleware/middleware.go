// Package middleware holds the HTTP auth layer. Admin endpoints can flip
// breakers open and closed, so every request carries a bearer token verified
// against the configured issuer's JWKS.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type AuthConfig struct {
	Issuer   string
	JWKSURL  string
	Audience string
}

type TokenVerifier struct {
	issuer   string
	jwksURL  string
	audience string
	cache    *jwk.Cache
	client   *http.Client
}

func NewTokenVerifier(cfg AuthConfig) (*TokenVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("Issuer is required")
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		jwksURL = strings.TrimSuffix(cfg.Issuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Audience == "" {
		return nil, errors.New("Audience is required")
	}

	cache := jwk.NewCache(context.Background())
	if err := cache.Register(jwksURL); err != nil {
		return nil, err
	}

	return &TokenVerifier{
		issuer:   cfg.Issuer,
		jwksURL:  jwksURL,
		audience: cfg.Audience,
		cache:    cache,
		client:   &http.Client{Timeout: 5 * time.Second},
	}, nil
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return ""
	}

	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(raw)
}

func (v *TokenVerifier) FiberMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := bearerToken(c)
		if raw == "" {
			return fiber.ErrUnauthorized
		}

		ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		keyset, err := v.cache.Get(ctx, v.jwksURL)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "unable to load jwks")
		}

		tok, err := jwt.Parse(
			[]byte(raw),
			jwt.WithKeySet(keyset),
			jwt.WithValidate(true),
			jwt.WithIssuer(v.issuer),
			jwt.WithAudience(v.audience),
		)
		if err != nil {
			return fiber.ErrUnauthorized
		}

		// request-scoped claims for handlers and the request logger
		c.Locals("sub", tok.Subject())
		if scope, ok := tok.Get("scope"); ok {
			c.Locals("scope", scope)
		}

		return c.Next()
	}
}
