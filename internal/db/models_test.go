package db

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(t time.Time, path string) *ParsedEvent {
	return &ParsedEvent{
		DateUtc:   t,
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
		Language:  "en",
		Path:      path,
	}
}

func TestFingerprint(t *testing.T) {
	base := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

	a := testEvent(base, "/")
	b := testEvent(base.Add(time.Hour), "/pricing")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "fingerprint must ignore path and time")

	c := testEvent(base, "/")
	c.IPAddress = "203.0.113.8"
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	d := testEvent(base, "/")
	d.Language = "fr"
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint())
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// Concatenation without separators would make these collide.
	a := &ParsedEvent{IPAddress: "ab", UserAgent: "c"}
	b := &ParsedEvent{IPAddress: "a", UserAgent: "bc"}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestMatchesSession(t *testing.T) {
	base := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	e := testEvent(base, "/")
	s := newSession(e)

	assert.True(t, e.matchesSession(s))

	other := testEvent(base, "/")
	other.Language = "de"
	assert.False(t, other.matchesSession(s), "hash collision candidates must be rejected on raw fields")
}

func TestNewSession(t *testing.T) {
	base := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	e := testEvent(base, "/landing")
	e.UtmSource = "newsletter"
	e.Country = "FR"

	s := newSession(e)

	assert.Equal(t, e.Fingerprint(), s.HashCode)
	assert.Equal(t, base, s.DateStartedUtc)
	assert.Equal(t, base, s.DateEndedUtc)
	assert.Equal(t, "/landing", s.EntryPath)
	assert.Equal(t, "/landing", s.ExitPath)
	assert.True(t, s.IsBounce)
	assert.Equal(t, 1, s.RequestCount)
	assert.Equal(t, 0, s.Duration)

	require.NotNil(t, s.UtmSource)
	assert.Equal(t, "newsletter", *s.UtmSource)
	require.NotNil(t, s.Country)
	assert.Equal(t, "FR", *s.Country)

	assert.Nil(t, s.Referrer, "absent optional fields must stay NULL")
	assert.Nil(t, s.UtmMedium)
	assert.Nil(t, s.BrowserName)
}

func TestExtendSession(t *testing.T) {
	base := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	s := newSession(testEvent(base, "/landing"))

	extendSession(s, testEvent(base.Add(5*time.Minute), "/pricing"))

	assert.Equal(t, base, s.DateStartedUtc)
	assert.Equal(t, base.Add(5*time.Minute), s.DateEndedUtc)
	assert.Equal(t, "/landing", s.EntryPath)
	assert.Equal(t, "/pricing", s.ExitPath)
	assert.False(t, s.IsBounce)
	assert.Equal(t, 2, s.RequestCount)
	assert.Equal(t, 300, s.Duration)
}

func TestExtendSessionOutOfOrder(t *testing.T) {
	base := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	s := newSession(testEvent(base, "/second"))

	// An older event arrives late: the session start moves back and the
	// entry path is rewritten.
	extendSession(s, testEvent(base.Add(-2*time.Minute), "/first"))

	assert.Equal(t, base.Add(-2*time.Minute), s.DateStartedUtc)
	assert.Equal(t, base, s.DateEndedUtc)
	assert.Equal(t, "/first", s.EntryPath)
	assert.Equal(t, "/second", s.ExitPath)
	assert.Equal(t, 120, s.Duration)
	assert.Equal(t, 2, s.RequestCount)
}

func TestNewRequest(t *testing.T) {
	base := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)
	e := testEvent(base, "/docs")
	e.QueryString = "q=hello"
	e.ResponseCode = 200
	e.ResponseTime = 42

	r := newRequest(e, 7)

	assert.Equal(t, int64(7), r.SessionID)
	assert.Equal(t, "/docs", r.Path)
	require.NotNil(t, r.QueryString)
	assert.Equal(t, "q=hello", *r.QueryString)
	assert.Equal(t, 200, r.ResponseCode)
	assert.Equal(t, 42, r.ResponseTime)
	assert.Nil(t, r.Referrer)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "", truncate("abc", 0))

	// Limits are in runes, not bytes.
	assert.Equal(t, "héllo", truncate("héllo world", 5))
	assert.Equal(t, "日本", truncate("日本語", 2))
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable("", 10))

	v := nullable(strings.Repeat("x", 20), 10)
	require.NotNil(t, v)
	assert.Equal(t, strings.Repeat("x", 10), *v)
}

func TestSamplingBuckets(t *testing.T) {
	b10, b100, b1000 := samplingBuckets(0)
	assert.True(t, b10)
	assert.True(t, b100)
	assert.True(t, b1000)

	b10, b100, b1000 = samplingBuckets(10)
	assert.True(t, b10)
	assert.False(t, b100)
	assert.False(t, b1000)

	b10, b100, b1000 = samplingBuckets(100)
	assert.True(t, b10)
	assert.True(t, b100)
	assert.False(t, b1000)

	b10, b100, b1000 = samplingBuckets(7)
	assert.False(t, b10)
	assert.False(t, b100)
	assert.False(t, b1000)
}

func TestSamplingBucketsNested(t *testing.T) {
	var n10, n100, n1000 int
	for h := uint64(0); h < 1000; h++ {
		b10, b100, b1000 := samplingBuckets(h)
		if b1000 {
			assert.True(t, b100, "bucket 1000 must be a subset of 100")
		}
		if b100 {
			assert.True(t, b10, "bucket 100 must be a subset of 10")
		}
		if b10 {
			n10++
		}
		if b100 {
			n100++
		}
		if b1000 {
			n1000++
		}
	}
	assert.Equal(t, 100, n10)
	assert.Equal(t, 10, n100)
	assert.Equal(t, 1, n1000)
}
