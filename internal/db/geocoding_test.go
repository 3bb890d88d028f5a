package db

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeolocRangeIPv4(t *testing.T) {
	rng, err := NewGeolocRange(net.ParseIP("1.0.0.0"), net.ParseIP("1.0.0.255"), "AU")
	require.NoError(t, err)

	assert.Equal(t, 4, rng.IPVersion)
	assert.Len(t, rng.RangeStart, 4, "IPv4 must be stored as 4 bytes for bytewise range comparison")
	assert.Len(t, rng.RangeEnd, 4)
	assert.Equal(t, "AU", rng.Country)
}

func TestNewGeolocRangeIPv6(t *testing.T) {
	rng, err := NewGeolocRange(net.ParseIP("2001:db8::"), net.ParseIP("2001:db8::ffff"), "DE")
	require.NoError(t, err)

	assert.Equal(t, 6, rng.IPVersion)
	assert.Len(t, rng.RangeStart, 16)
	assert.Len(t, rng.RangeEnd, 16)
}

func TestNewGeolocRangeMixedVersions(t *testing.T) {
	_, err := NewGeolocRange(net.ParseIP("1.0.0.0"), net.ParseIP("2001:db8::"), "XX")
	assert.Error(t, err)
}

func TestIPBytes(t *testing.T) {
	b, version := ipBytes(net.ParseIP("192.0.2.1"))
	assert.Equal(t, 4, version)
	assert.Len(t, b, 4)

	// IPv4-mapped IPv6 addresses normalize to IPv4.
	b, version = ipBytes(net.ParseIP("::ffff:192.0.2.1"))
	assert.Equal(t, 4, version)
	assert.Len(t, b, 4)

	b, version = ipBytes(net.ParseIP("2001:db8::1"))
	assert.Equal(t, 6, version)
	assert.Len(t, b, 16)

	b, version = ipBytes(nil)
	assert.Nil(t, b)
	assert.Equal(t, 0, version)
}
