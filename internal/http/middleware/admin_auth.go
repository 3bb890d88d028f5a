package middleware

import (
	"bytes"
	"crypto/subtle"
	"strings"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/xps/palmalytics/internal/config"
)

// AdminAuth protects the report and admin endpoints with a bearer
// token. The configured token is either a bcrypt hash (recognized by
// its "$2" prefix) or a plain value compared in constant time. An empty
// configured token closes the endpoints entirely.
func AdminAuth(cfg *config.Config) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if cfg.AdminToken == "" {
				unauthorized(ctx, "admin token is not configured")
				return
			}

			auth := ctx.Request.Header.Peek("Authorization")
			const prefix = "Bearer "
			if !bytes.HasPrefix(auth, []byte(prefix)) {
				unauthorized(ctx, "missing bearer token")
				return
			}

			token := strings.TrimSpace(string(auth[len(prefix):]))
			if token == "" {
				unauthorized(ctx, "empty bearer token")
				return
			}

			if !tokenMatches(cfg.AdminToken, token) {
				unauthorized(ctx, "invalid token")
				return
			}

			next(ctx)
		}
	}
}

func tokenMatches(configured, presented string) bool {
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(presented)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

func unauthorized(ctx *fasthttp.RequestCtx, msg string) {
	ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"error":"` + msg + `"}`)
}
