package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSamplingFactor(t *testing.T) {
	tests := []struct {
		rowCount int64
		want     int
	}{
		{0, 1},
		{10_000, 1},
		{10_001, 10},
		{100_000, 10},
		{100_001, 100},
		{1_000_000, 100},
		{1_000_001, 1000},
		{50_000_000, 1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, samplingFactor(tt.rowCount), "rowCount=%d", tt.rowCount)
	}
}
