package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func requestCtx(uri string) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI(uri)
	return ctx
}

func TestParsePage(t *testing.T) {
	assert.Equal(t, 1, parsePage(requestCtx("/api/browsers")))
	assert.Equal(t, 3, parsePage(requestCtx("/api/browsers?page=3")))
	assert.Equal(t, 1, parsePage(requestCtx("/api/browsers?page=abc")))
}

func TestParseFilters(t *testing.T) {
	ctx := requestCtx("/api/browsers?browser=Firefox&utm-source=(not%20set)&path=/pricing")

	f := parseFilters(ctx)
	assert.Equal(t, "Firefox", f.Browser)
	assert.Equal(t, "(not set)", f.UtmSource)
	assert.Equal(t, "/pricing", f.Path)
	assert.Empty(t, f.Country)
}

func TestParsePeriod(t *testing.T) {
	from, to, ok := parsePeriod(requestCtx("/api/top-data?period=today"))
	require.True(t, ok)
	require.NotNil(t, from)
	require.NotNil(t, to)
	assert.Equal(t, *from, *to)

	from, to, ok = parsePeriod(requestCtx("/api/top-data"))
	require.True(t, ok)
	assert.Nil(t, from)
	assert.Nil(t, to)
}

func TestParsePeriodInvalid(t *testing.T) {
	ctx := requestCtx("/api/top-data?period=fortnight")

	_, _, ok := parsePeriod(ctx)
	assert.False(t, ok)
	assert.Equal(t, fasthttp.StatusBadRequest, ctx.Response.StatusCode())
}

func TestParsePeriodCustomRange(t *testing.T) {
	from, to, ok := parsePeriod(requestCtx("/api/top-data?period=20240101-20240131"))
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *from)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), *to)
}
