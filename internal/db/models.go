package db

import (
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"gorm.io/datatypes"
)

// Per-column truncation limits. Values longer than the limit are cut,
// not rejected, before storage.
const (
	maxPathLength     = 1000
	maxReferrerLength = 1000
	maxAgentLength    = 1000
	maxQueryLength    = 1000
	maxUtmLength      = 50
	maxNameLength     = 50
	maxIPLength       = 45
	maxLanguageLength = 5
	maxCountryLength  = 2
)

// Session is a contiguous sequence of requests from the same visitor
// fingerprint within a rolling inactivity window. Attribution fields
// (referrer, UTM, browser, OS, country) are snapshotted from the first
// request of the session. Optional fields are pointers so absent values
// are stored as NULL and reachable with the "(not set)" filter.
type Session struct {
	ID       int64 `gorm:"primaryKey"`
	HashCode int64 `gorm:"index:idx_session_lookup,priority:1"`

	DateStartedUtc time.Time
	DateEndedUtc   time.Time `gorm:"index:idx_session_lookup,priority:2"`

	IPAddress string  `gorm:"size:45"`
	UserAgent string  `gorm:"size:1000"`
	Language  string  `gorm:"size:5"`
	Country   *string `gorm:"size:2"`

	BrowserName    *string `gorm:"size:50"`
	BrowserVersion *string `gorm:"size:50"`
	OSName         *string `gorm:"size:50"`
	OSVersion      *string `gorm:"size:50"`

	EntryPath string `gorm:"size:1000"`
	ExitPath  string `gorm:"size:1000"`
	IsBounce  bool

	Referrer     *string `gorm:"size:1000"`
	ReferrerName *string `gorm:"size:50"`
	UtmSource    *string `gorm:"size:50"`
	UtmMedium    *string `gorm:"size:50"`
	UtmCampaign  *string `gorm:"size:50"`
	UtmTerm      *string `gorm:"size:50"`
	UtmContent   *string `gorm:"size:50"`
	UserName     *string `gorm:"size:50"`

	CustomData datatypes.JSONMap `gorm:"type:json"`

	// Duration is DateEndedUtc - DateStartedUtc rounded to seconds.
	Duration     int
	RequestCount int

	// Sampling bucket membership, assigned deterministically at insert
	// time so sampled queries are plain equality filters.
	Sampling10   bool
	Sampling100  bool
	Sampling1000 bool
}

// Request is one tracked HTTP request, immutable once written. The
// session reference is resolved at insert time by the ingestion
// coordinator.
type Request struct {
	ID        int64 `gorm:"primaryKey"`
	SessionID int64 `gorm:"index"`

	DateUtc time.Time `gorm:"index"`

	Path        string  `gorm:"size:1000"`
	QueryString *string `gorm:"size:1000"`
	Referrer    *string `gorm:"size:1000"`
	UtmSource   *string `gorm:"size:50"`
	UtmMedium   *string `gorm:"size:50"`
	UtmCampaign *string `gorm:"size:50"`
	UtmTerm     *string `gorm:"size:50"`
	UtmContent  *string `gorm:"size:50"`
	UserName    *string `gorm:"size:50"`

	CustomData datatypes.JSONMap `gorm:"type:json"`

	ResponseCode int
	ResponseTime int     // in ms
	ContentType  *string `gorm:"size:50"`

	Sampling10   bool
	Sampling100  bool
	Sampling1000 bool
}

// GeolocRange maps a contiguous IP range to a country code. Ranges are
// bulk-replaced as a unit and ordered by start so the resolver can pick
// the tightest match.
type GeolocRange struct {
	ID         int64  `gorm:"primaryKey"`
	RangeStart []byte `gorm:"type:bytea;index"`
	RangeEnd   []byte `gorm:"type:bytea"`
	IPVersion  int
	Country    string `gorm:"size:2"`
}

// Setting is one row of the persistent key/value settings bag.
type Setting struct {
	Name  string `gorm:"primaryKey;size:64"`
	Value string `gorm:"size:255"`
}

// ParsedEvent is the neutral record produced by the external request
// parser for one inbound HTTP request. Fields arrive pre-classified
// (user agent, referrer, language, bot detection); the core does not
// re-derive them. Empty strings mean "not collected" and are stored as
// NULL where the column is optional.
type ParsedEvent struct {
	DateUtc   time.Time `json:"date_utc"`
	IPAddress string    `json:"ip_address"`
	Path      string    `json:"path"`

	QueryString string `json:"query_string,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	Language    string `json:"language,omitempty"`
	Country     string `json:"country,omitempty"`

	BrowserName    string `json:"browser_name,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OSName         string `json:"os_name,omitempty"`
	OSVersion      string `json:"os_version,omitempty"`

	IsBot bool `json:"is_bot,omitempty"`

	Referrer     string `json:"referrer,omitempty"`
	ReferrerName string `json:"referrer_name,omitempty"`
	UtmSource    string `json:"utm_source,omitempty"`
	UtmMedium    string `json:"utm_medium,omitempty"`
	UtmCampaign  string `json:"utm_campaign,omitempty"`
	UtmTerm      string `json:"utm_term,omitempty"`
	UtmContent   string `json:"utm_content,omitempty"`

	UserName   string         `json:"user_name,omitempty"`
	CustomData map[string]any `json:"custom_data,omitempty"`

	ResponseCode int    `json:"response_code,omitempty"`
	ResponseTime int    `json:"response_time,omitempty"` // in ms
	ContentType  string `json:"content_type,omitempty"`
}

// Fingerprint hashes the visitor-identifying fields. The field order is
// fixed and shared by the write and read paths.
func (e *ParsedEvent) Fingerprint() int64 {
	h := xxhash.New()
	_, _ = h.WriteString(e.IPAddress)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(e.UserAgent)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(e.Language)
	return int64(h.Sum64())
}

// matchesSession re-checks the fingerprint-relevant fields against a
// candidate session. The hash alone is not authoritative because
// collisions are possible.
func (e *ParsedEvent) matchesSession(s *Session) bool {
	return truncate(e.IPAddress, maxIPLength) == s.IPAddress &&
		truncate(e.UserAgent, maxAgentLength) == s.UserAgent &&
		truncate(e.Language, maxLanguageLength) == s.Language
}

// newSession builds the session opened by the first request of a visit.
func newSession(e *ParsedEvent) *Session {
	s := &Session{
		HashCode:       e.Fingerprint(),
		DateStartedUtc: e.DateUtc,
		DateEndedUtc:   e.DateUtc,

		IPAddress: truncate(e.IPAddress, maxIPLength),
		UserAgent: truncate(e.UserAgent, maxAgentLength),
		Language:  truncate(e.Language, maxLanguageLength),
		Country:   nullable(e.Country, maxCountryLength),

		BrowserName:    nullable(e.BrowserName, maxNameLength),
		BrowserVersion: nullable(e.BrowserVersion, maxNameLength),
		OSName:         nullable(e.OSName, maxNameLength),
		OSVersion:      nullable(e.OSVersion, maxNameLength),

		EntryPath: truncate(e.Path, maxPathLength),
		ExitPath:  truncate(e.Path, maxPathLength),
		IsBounce:  true,

		Referrer:     nullable(e.Referrer, maxReferrerLength),
		ReferrerName: nullable(e.ReferrerName, maxNameLength),
		UtmSource:    nullable(e.UtmSource, maxUtmLength),
		UtmMedium:    nullable(e.UtmMedium, maxUtmLength),
		UtmCampaign:  nullable(e.UtmCampaign, maxUtmLength),
		UtmTerm:      nullable(e.UtmTerm, maxUtmLength),
		UtmContent:   nullable(e.UtmContent, maxUtmLength),
		UserName:     nullable(e.UserName, maxNameLength),
		CustomData:   datatypes.JSONMap(e.CustomData),

		Duration:     0,
		RequestCount: 1,
	}

	s.Sampling10, s.Sampling100, s.Sampling1000 = samplingBuckets(sessionRowHash(s))
	return s
}

// extendSession folds another event into an open session. Events may
// arrive out of order, so the start time can move backwards and the
// entry path can change.
func extendSession(s *Session, e *ParsedEvent) {
	if e.DateUtc.Before(s.DateStartedUtc) {
		s.DateStartedUtc = e.DateUtc
	}
	if e.DateUtc.After(s.DateEndedUtc) {
		s.DateEndedUtc = e.DateUtc
	}
	if e.DateUtc.Equal(s.DateStartedUtc) {
		s.EntryPath = truncate(e.Path, maxPathLength)
	}
	if e.DateUtc.Equal(s.DateEndedUtc) {
		s.ExitPath = truncate(e.Path, maxPathLength)
	}

	s.Duration = int(math.Round(s.DateEndedUtc.Sub(s.DateStartedUtc).Seconds()))
	s.IsBounce = false
	s.RequestCount++
}

// newRequest builds the persistent row for one event, referencing the
// session it was stitched to.
func newRequest(e *ParsedEvent, sessionID int64) *Request {
	r := &Request{
		SessionID: sessionID,
		DateUtc:   e.DateUtc,

		Path:        truncate(e.Path, maxPathLength),
		QueryString: nullable(e.QueryString, maxQueryLength),
		Referrer:    nullable(e.Referrer, maxReferrerLength),
		UtmSource:   nullable(e.UtmSource, maxUtmLength),
		UtmMedium:   nullable(e.UtmMedium, maxUtmLength),
		UtmCampaign: nullable(e.UtmCampaign, maxUtmLength),
		UtmTerm:     nullable(e.UtmTerm, maxUtmLength),
		UtmContent:  nullable(e.UtmContent, maxUtmLength),
		UserName:    nullable(e.UserName, maxNameLength),
		CustomData:  datatypes.JSONMap(e.CustomData),

		ResponseCode: e.ResponseCode,
		ResponseTime: e.ResponseTime,
		ContentType:  nullable(e.ContentType, maxNameLength),
	}

	r.Sampling10, r.Sampling100, r.Sampling1000 = samplingBuckets(requestRowHash(r))
	return r
}

// samplingBuckets derives nested 1-in-10/100/1000 membership flags from
// a row hash. Bucket 1000 is a subset of 100, which is a subset of 10.
func samplingBuckets(h uint64) (b10, b100, b1000 bool) {
	n := h % 1000
	return n%10 == 0, n%100 == 0, n == 0
}

func sessionRowHash(s *Session) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(s.IPAddress)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(s.UserAgent)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(s.DateStartedUtc.UTC().Format(time.RFC3339Nano))
	return h.Sum64()
}

func requestRowHash(r *Request) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(r.Path)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(r.DateUtc.UTC().Format(time.RFC3339Nano))
	if r.QueryString != nil {
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(*r.QueryString)
	}
	return h.Sum64()
}

// truncate returns the first n characters of s. Truncation is silent
// and lossy: over-long values are cut, never rejected.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// nullable truncates s and returns nil for empty values, so they are
// stored as NULL rather than empty strings.
func nullable(s string, n int) *string {
	if s == "" {
		return nil
	}
	t := truncate(s, n)
	return &t
}
