package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/xps/palmalytics/internal/config"
)

func runAuth(t *testing.T, token, header string) (*fasthttp.RequestCtx, bool) {
	t.Helper()

	called := false
	handler := AdminAuth(&config.Config{AdminToken: token})(func(ctx *fasthttp.RequestCtx) {
		called = true
		ctx.SetStatusCode(fasthttp.StatusOK)
	})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/api/top-data")
	if header != "" {
		ctx.Request.Header.Set("Authorization", header)
	}
	handler(ctx)
	return ctx, called
}

func TestAdminAuthPlainToken(t *testing.T) {
	ctx, called := runAuth(t, "secret", "Bearer secret")
	assert.True(t, called)
	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
}

func TestAdminAuthWrongToken(t *testing.T) {
	ctx, called := runAuth(t, "secret", "Bearer nope")
	assert.False(t, called)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestAdminAuthMissingHeader(t *testing.T) {
	ctx, called := runAuth(t, "secret", "")
	assert.False(t, called)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestAdminAuthBcryptToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	_, called := runAuth(t, string(hash), "Bearer secret")
	assert.True(t, called)

	ctx, called := runAuth(t, string(hash), "Bearer nope")
	assert.False(t, called)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}

func TestAdminAuthNoTokenConfigured(t *testing.T) {
	ctx, called := runAuth(t, "", "Bearer anything")
	assert.False(t, called)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}
