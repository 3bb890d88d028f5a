package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	dbpkg "github.com/xps/palmalytics/internal/db"
	"github.com/xps/palmalytics/internal/dates"
)

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(map[string]string{"error": msg})
	ctx.SetBody(body)
}

// reportError maps store errors onto status codes: client mistakes get
// 400 with the message, everything else gets logged and a generic 500.
func reportError(ctx *fasthttp.RequestCtx, logger *zap.Logger, err error) {
	var verr *dbpkg.ValidationError
	if errors.As(err, &verr) {
		errResponse(ctx, fasthttp.StatusBadRequest, verr.Error())
		return
	}
	logger.Error("report query failed",
		zap.ByteString("path", ctx.Path()),
		zap.Error(err))
	errResponse(ctx, fasthttp.StatusInternalServerError, "internal error")
}

// parsePeriod resolves the "period" query parameter into a date range.
// An absent period means all-time.
func parsePeriod(ctx *fasthttp.RequestCtx) (dateFrom, dateTo *time.Time, ok bool) {
	period := string(ctx.QueryArgs().Peek("period"))
	dateFrom, dateTo, err := dates.ParsePeriod(period, time.Now())
	if err != nil {
		errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	return dateFrom, dateTo, true
}

// parsePage reads the "page" query parameter, defaulting to 1. Range
// validation happens in the store.
func parsePage(ctx *fasthttp.RequestCtx) int {
	if v := ctx.QueryArgs().Peek("page"); len(v) > 0 {
		if n, err := strconv.Atoi(string(v)); err == nil {
			return n
		}
	}
	return 1
}

// parseFilters reads the optional report filters from query parameters.
func parseFilters(ctx *fasthttp.RequestCtx) *dbpkg.Filters {
	args := ctx.QueryArgs()
	get := func(name string) string { return string(args.Peek(name)) }

	return &dbpkg.Filters{
		Browser:        get("browser"),
		BrowserVersion: get("browser-version"),
		OS:             get("os"),
		OSVersion:      get("os-version"),
		Referrer:       get("referrer"),
		ReferrerURL:    get("referrer-url"),
		UtmSource:      get("utm-source"),
		UtmMedium:      get("utm-medium"),
		UtmCampaign:    get("utm-campaign"),
		UtmTerm:        get("utm-term"),
		UtmContent:     get("utm-content"),
		Country:        get("country"),
		Path:           get("path"),
		EntryPath:      get("entry-path"),
		ExitPath:       get("exit-path"),
	}
}
