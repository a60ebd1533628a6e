package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://auth.replyflow.test"
	testAudience = "resilience-service"
)

type authFixture struct {
	verifier *TokenVerifier
	signKey  jwk.Key
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signKey, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, signKey.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, signKey.Set(jwk.AlgorithmKey, jwa.RS256))

	pubKey, err := signKey.PublicKey()
	require.NoError(t, err)

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pubKey))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(set))
	}))
	t.Cleanup(srv.Close)

	verifier, err := NewTokenVerifier(AuthConfig{
		Issuer:   testIssuer,
		JWKSURL:  srv.URL,
		Audience: testAudience,
	})
	require.NoError(t, err)

	return &authFixture{verifier: verifier, signKey: signKey}
}

func (f *authFixture) token(t *testing.T, mutate func(b *jwt.Builder)) string {
	t.Helper()

	b := jwt.NewBuilder().
		Issuer(testIssuer).
		Audience([]string{testAudience}).
		Subject("ops-user").
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour))
	if mutate != nil {
		mutate(b)
	}

	tok, err := b.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, f.signKey))
	require.NoError(t, err)
	return string(signed)
}

func newProtectedApp(f *authFixture) *fiber.App {
	app := fiber.New()
	app.Use(f.verifier.FiberMiddleware())
	app.Get("/protected", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"sub": c.Locals("sub")})
	})
	return app
}

func TestNewTokenVerifier_RequiresIssuerAndAudience(t *testing.T) {
	_, err := NewTokenVerifier(AuthConfig{Audience: testAudience})
	assert.Error(t, err)

	_, err = NewTokenVerifier(AuthConfig{Issuer: testIssuer})
	assert.Error(t, err)
}

func TestFiberMiddleware_MissingTokenRejected(t *testing.T) {
	f := newAuthFixture(t)
	app := newProtectedApp(f)

	req := httptest.NewRequest(http.MethodGet, "/protected", http.NoBody)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestFiberMiddleware_ValidTokenAdmitted(t *testing.T) {
	f := newAuthFixture(t)
	app := newProtectedApp(f)

	req := httptest.NewRequest(http.MethodGet, "/protected", http.NoBody)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+f.token(t, nil))

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestFiberMiddleware_WrongAudienceRejected(t *testing.T) {
	f := newAuthFixture(t)
	app := newProtectedApp(f)

	bad := f.token(t, func(b *jwt.Builder) {
		b.Audience([]string{"some-other-service"})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", http.NoBody)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bad)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestFiberMiddleware_ExpiredTokenRejected(t *testing.T) {
	f := newAuthFixture(t)
	app := newProtectedApp(f)

	expired := f.token(t, func(b *jwt.Builder) {
		b.IssuedAt(time.Now().Add(-2 * time.Hour))
		b.Expiration(time.Now().Add(-time.Hour))
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", http.NoBody)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+expired)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
