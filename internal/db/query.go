package db

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// NotSet is the reserved filter sentinel meaning "match NULL" instead
// of matching the literal string.
const NotSet = "(not set)"

// Filters is the optional set of equality/null predicates a report can
// be narrowed by. Empty fields add no predicate.
type Filters struct {
	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browserVersion,omitempty"`

	OS        string `json:"os,omitempty"`
	OSVersion string `json:"osVersion,omitempty"`

	Referrer    string `json:"referrer,omitempty"`
	ReferrerURL string `json:"referrerUrl,omitempty"`

	UtmSource   string `json:"utmSource,omitempty"`
	UtmMedium   string `json:"utmMedium,omitempty"`
	UtmCampaign string `json:"utmCampaign,omitempty"`
	UtmTerm     string `json:"utmTerm,omitempty"`
	UtmContent  string `json:"utmContent,omitempty"`

	Country string `json:"country,omitempty"`

	Path      string `json:"path,omitempty"`
	EntryPath string `json:"entryPath,omitempty"`
	ExitPath  string `json:"exitPath,omitempty"`
}

// sessionQuery accumulates clause fragments and bound parameters for a
// query over the sessions table. Filter-derived values are always bound
// parameters; only fixed, enumerated identifiers are formatted into the
// SQL text.
type sessionQuery struct {
	sessionsTable string
	requestsTable string

	selects []string
	wheres  []string
	args    []any
	groupBy string
	orderBy string
	paging  string
	err     error
}

func (s *Store) sessionQuery() *sessionQuery {
	return &sessionQuery{sessionsTable: s.sessionsTable, requestsTable: s.requestsTable}
}

func (q *sessionQuery) Select(expr string) *sessionQuery {
	q.selects = append(q.selects, expr)
	return q
}

func (q *sessionQuery) Where(cond string, args ...any) *sessionQuery {
	q.wheres = append(q.wheres, cond)
	q.args = append(q.args, args...)
	return q
}

// WhereDates bounds the query to sessions overlapping the inclusive
// day range: started on or after dateFrom, ended before the day after
// dateTo.
func (q *sessionQuery) WhereDates(dateFrom, dateTo *time.Time) *sessionQuery {
	if dateFrom != nil {
		q.Where("date_started_utc >= ?", *dateFrom)
	}
	if dateTo != nil {
		q.Where("date_ended_utc < ?", dateTo.AddDate(0, 0, 1))
	}
	return q
}

// WhereFilters adds one predicate per non-empty filter field. The
// "(not set)" sentinel turns into IS NULL. A path filter is a semi-join:
// a session matches if any of its requests has the path.
func (q *sessionQuery) WhereFilters(f *Filters) *sessionQuery {
	if f == nil {
		return q
	}

	q.whereNullable("referrer_name", f.Referrer)
	q.whereNullable("referrer", f.ReferrerURL)

	q.whereNullable("utm_source", f.UtmSource)
	q.whereNullable("utm_medium", f.UtmMedium)
	q.whereNullable("utm_campaign", f.UtmCampaign)
	q.whereNullable("utm_term", f.UtmTerm)
	q.whereNullable("utm_content", f.UtmContent)

	q.whereNullable("browser_name", f.Browser)
	q.whereNullable("browser_version", f.BrowserVersion)
	q.whereNullable("os_name", f.OS)
	q.whereNullable("os_version", f.OSVersion)
	q.whereNullable("country", f.Country)

	if f.Path != "" {
		q.Where(fmt.Sprintf("id IN (SELECT session_id FROM %s WHERE path = ?)", q.requestsTable), f.Path)
	}
	if f.EntryPath != "" {
		q.Where("entry_path = ?", f.EntryPath)
	}
	if f.ExitPath != "" {
		q.Where("exit_path = ?", f.ExitPath)
	}
	return q
}

func (q *sessionQuery) whereNullable(column, value string) {
	switch value {
	case "":
	case NotSet:
		q.Where(column + " IS NULL")
	default:
		q.Where(column+" = ?", value)
	}
}

// WhereSampling restricts the query to the bucket for the factor.
// Factor 1 reads the full population.
func (q *sessionQuery) WhereSampling(factor int) *sessionQuery {
	clause, err := samplingClause(factor, "")
	if err != nil {
		q.err = err
		return q
	}
	if clause != "" {
		q.Where(clause)
	}
	return q
}

func (q *sessionQuery) GroupBy(expr string) *sessionQuery {
	q.groupBy = expr
	return q
}

func (q *sessionQuery) OrderBy(expr string) *sessionQuery {
	q.orderBy = expr
	return q
}

func (q *sessionQuery) Paging(page, pageSize int) *sessionQuery {
	q.paging = "LIMIT ? OFFSET ?"
	q.args = append(q.args, pageSize, (page-1)*pageSize)
	return q
}

func (q *sessionQuery) SQL() string {
	return assembleSQL("SELECT "+strings.Join(q.selects, ", ")+" FROM "+q.sessionsTable,
		q.wheres, q.groupBy, q.orderBy, q.paging)
}

func (q *sessionQuery) Args() []any { return q.args }
func (q *sessionQuery) Err() error  { return q.err }

// sessionColumn matches inside a request query clause when the clause
// needs the joined sessions table.
var sessionColumn = regexp.MustCompile(`\bs\.`)

// requestQuery is the request-level counterpart. Requests join their
// session only when a clause actually references it.
type requestQuery struct {
	sessionsTable string
	requestsTable string

	selects   []string
	wheres    []string
	args      []any
	groupBy   string
	orderBy   string
	paging    string
	needsJoin bool
	err       error
}

func (s *Store) requestQuery() *requestQuery {
	return &requestQuery{sessionsTable: s.sessionsTable, requestsTable: s.requestsTable}
}

func (q *requestQuery) Select(expr string) *requestQuery {
	q.selects = append(q.selects, expr)
	q.needsJoin = q.needsJoin || sessionColumn.MatchString(expr)
	return q
}

func (q *requestQuery) Where(cond string, args ...any) *requestQuery {
	q.wheres = append(q.wheres, cond)
	q.args = append(q.args, args...)
	q.needsJoin = q.needsJoin || sessionColumn.MatchString(cond)
	return q
}

func (q *requestQuery) WhereDates(dateFrom, dateTo *time.Time) *requestQuery {
	if dateFrom != nil {
		q.Where("r.date_utc >= ?", *dateFrom)
	}
	if dateTo != nil {
		q.Where("r.date_utc < ?", dateTo.AddDate(0, 0, 1))
	}
	return q
}

// WhereFilters mirrors the session filters; attribution fields live on
// the joined session, the path on the request itself.
func (q *requestQuery) WhereFilters(f *Filters) *requestQuery {
	if f == nil {
		return q
	}

	q.whereNullable("s.referrer_name", f.Referrer)
	q.whereNullable("s.referrer", f.ReferrerURL)

	q.whereNullable("s.utm_source", f.UtmSource)
	q.whereNullable("s.utm_medium", f.UtmMedium)
	q.whereNullable("s.utm_campaign", f.UtmCampaign)
	q.whereNullable("s.utm_term", f.UtmTerm)
	q.whereNullable("s.utm_content", f.UtmContent)

	q.whereNullable("s.browser_name", f.Browser)
	q.whereNullable("s.browser_version", f.BrowserVersion)
	q.whereNullable("s.os_name", f.OS)
	q.whereNullable("s.os_version", f.OSVersion)
	q.whereNullable("s.country", f.Country)

	if f.Path != "" {
		q.Where("r.path = ?", f.Path)
	}
	if f.EntryPath != "" {
		q.Where("s.entry_path = ?", f.EntryPath)
	}
	if f.ExitPath != "" {
		q.Where("s.exit_path = ?", f.ExitPath)
	}
	return q
}

func (q *requestQuery) whereNullable(column, value string) {
	switch value {
	case "":
	case NotSet:
		q.Where(column + " IS NULL")
	default:
		q.Where(column+" = ?", value)
	}
}

func (q *requestQuery) WhereSampling(factor int) *requestQuery {
	clause, err := samplingClause(factor, "r.")
	if err != nil {
		q.err = err
		return q
	}
	if clause != "" {
		q.Where(clause)
	}
	return q
}

func (q *requestQuery) GroupBy(expr string) *requestQuery {
	q.groupBy = expr
	return q
}

func (q *requestQuery) OrderBy(expr string) *requestQuery {
	q.orderBy = expr
	return q
}

func (q *requestQuery) Paging(page, pageSize int) *requestQuery {
	q.paging = "LIMIT ? OFFSET ?"
	q.args = append(q.args, pageSize, (page-1)*pageSize)
	return q
}

func (q *requestQuery) SQL() string {
	from := "SELECT " + strings.Join(q.selects, ", ") + " FROM " + q.requestsTable + " r"
	if q.needsJoin {
		from += " INNER JOIN " + q.sessionsTable + " s ON r.session_id = s.id"
	}
	return assembleSQL(from, q.wheres, q.groupBy, q.orderBy, q.paging)
}

func (q *requestQuery) Args() []any { return q.args }
func (q *requestQuery) Err() error  { return q.err }

func samplingClause(factor int, prefix string) (string, error) {
	switch factor {
	case 1:
		return "", nil
	case 10, 100, 1000:
		return fmt.Sprintf("%ssampling%d = TRUE", prefix, factor), nil
	default:
		return "", validationErrorf("sampling factor must be 1, 10, 100 or 1000, got %d", factor)
	}
}

func assembleSQL(head string, wheres []string, groupBy, orderBy, paging string) string {
	var b strings.Builder
	b.WriteString(head)
	if len(wheres) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(wheres, " AND "))
	}
	if groupBy != "" {
		b.WriteString(" GROUP BY ")
		b.WriteString(groupBy)
	}
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	if paging != "" {
		b.WriteString(" ")
		b.WriteString(paging)
	}
	return b.String()
}
