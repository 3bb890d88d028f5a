package handlers

import (
	"errors"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	dbpkg "github.com/xps/palmalytics/internal/db"
)

// errHandled signals that a parse helper already wrote the response.
var errHandled = xerrors.New("response already written")

// TopData serves the headline numbers for a period.
func TopData(store *dbpkg.Store, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		dateFrom, dateTo, ok := parsePeriod(ctx)
		if !ok {
			return
		}

		data, err := store.GetTopData(ctx, dateFrom, dateTo, parseFilters(ctx))
		if err != nil {
			reportError(ctx, logger, err)
			return
		}
		jsonResponse(ctx, data)
	}
}

// Chart serves one metric bucketed over time. Query parameters:
// interval (days, weeks, months, years) and property (sessions,
// pageViews, bounceRate, sessionDuration, pagesPerSession).
func Chart(store *dbpkg.Store, logger *zap.Logger) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		dateFrom, dateTo, ok := parsePeriod(ctx)
		if !ok {
			return
		}

		interval := dbpkg.Interval(ctx.QueryArgs().Peek("interval"))
		if interval == "" {
			interval = dbpkg.IntervalDays
		}
		property := dbpkg.ChartProperty(ctx.QueryArgs().Peek("property"))
		if property == "" {
			property = dbpkg.ChartSessions
		}

		data, err := store.GetChart(ctx, dateFrom, dateTo, interval, property, parseFilters(ctx))
		if err != nil {
			reportError(ctx, logger, err)
			return
		}
		jsonResponse(ctx, data)
	}
}

// tableReport adapts the common shape of the ranked table endpoints.
func tableReport(logger *zap.Logger, query func(ctx *fasthttp.RequestCtx) (*dbpkg.TableData, error)) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		data, err := query(ctx)
		if errors.Is(err, errHandled) {
			return
		}
		if err != nil {
			reportError(ctx, logger, err)
			return
		}
		jsonResponse(ctx, data)
	}
}

func Browsers(store *dbpkg.Store, logger *zap.Logger) fasthttp.RequestHandler {
	return tableReport(logger, func(ctx *fasthttp.RequestCtx) (*dbpkg.TableData, error) {
		dateFrom, dateTo, ok := parsePeriod(ctx)
		if !ok {
			return nil, errHandled
		}
		return store.GetBrowsers(ctx, dateFrom, dateTo, parseFilters(ctx), parsePage(ctx))
	})
}

func OperatingSystems(store *dbpkg.Store, logger *zap.Logger) fasthttp.RequestHandler {
	return tableReport(logger, func(ctx *fasthttp.RequestCtx) (*dbpkg.TableData, error) {
		dateFrom, dateTo, ok := parsePeriod(ctx)
		if !ok {
			return nil, errHandled
		}
		return store.GetOperatingSystems(ctx, dateFrom, dateTo, parseFilters(ctx), parsePage(ctx))
	})
}

func Referrers(store *dbpkg.Store, logger *zap.Logger) fasthttp.RequestHandler {
	return tableReport(logger, func(ctx *fasthttp.RequestCtx) (*dbpkg.TableData, error) {
		dateFrom, dateTo, ok := parsePeriod(ctx)
		if !ok {
			return nil, errHandled
		}
		return store.GetReferrers(ctx, dateFrom, dateTo, parseFilters(ctx), parsePage(ctx))
	})
}

func UtmParameters(store *dbpkg.Store, logger *zap.Logger) fasthttp.RequestHandler {
	return tableReport(logger, func(ctx *fasthttp.RequestCtx) (*dbpkg.TableData, error) {
		dateFrom, dateTo, ok := parsePeriod(ctx)
		if !ok {
			return nil, errHandled
		}
		parameter := string(ctx.QueryArgs().Peek("parameter"))
		return store.GetUtmParameters(ctx, dateFrom, dateTo, parameter, parseFilters(ctx), parsePage(ctx))
	})
}

func Countries(store *dbpkg.Store, logger *zap.Logger) fasthttp.RequestHandler {
	return tableReport(logger, func(ctx *fasthttp.RequestCtx) (*dbpkg.TableData, error) {
		dateFrom, dateTo, ok := parsePeriod(ctx)
		if !ok {
			return nil, errHandled
		}
		return store.GetCountries(ctx, dateFrom, dateTo, parseFilters(ctx), parsePage(ctx))
	})
}

func TopPages(store *dbpkg.Store, logger *zap.Logger) fasthttp.RequestHandler {
	return tableReport(logger, func(ctx *fasthttp.RequestCtx) (*dbpkg.TableData, error) {
		dateFrom, dateTo, ok := parsePeriod(ctx)
		if !ok {
			return nil, errHandled
		}
		return store.GetTopPages(ctx, dateFrom, dateTo, parseFilters(ctx), parsePage(ctx))
	})
}

func EntryPages(store *dbpkg.Store, logger *zap.Logger) fasthttp.RequestHandler {
	return tableReport(logger, func(ctx *fasthttp.RequestCtx) (*dbpkg.TableData, error) {
		dateFrom, dateTo, ok := parsePeriod(ctx)
		if !ok {
			return nil, errHandled
		}
		return store.GetEntryPages(ctx, dateFrom, dateTo, parseFilters(ctx), parsePage(ctx))
	})
}

func ExitPages(store *dbpkg.Store, logger *zap.Logger) fasthttp.RequestHandler {
	return tableReport(logger, func(ctx *fasthttp.RequestCtx) (*dbpkg.TableData, error) {
		dateFrom, dateTo, ok := parsePeriod(ctx)
		if !ok {
			return nil, errHandled
		}
		return store.GetExitPages(ctx, dateFrom, dateTo, parseFilters(ctx), parsePage(ctx))
	})
}
