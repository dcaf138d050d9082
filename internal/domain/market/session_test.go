package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetermineSessionBoundaries(t *testing.T) {
	cases := []struct {
		hour int
		want Session
	}{
		{0, SessionAsia},
		{7, SessionAsia},
		{8, SessionLondon},
		{15, SessionLondon},
		{16, SessionNewYork},
		{23, SessionNewYork},
	}
	for _, tc := range cases {
		ts := time.Date(2026, 8, 30, tc.hour, 30, 0, 0, time.UTC)
		assert.Equal(t, tc.want, DetermineSession(ts), "hour %d", tc.hour)
	}
}

func TestDetermineSessionNormalizesToUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	// 20:00 EST is 01:00 UTC the next day.
	ts := time.Date(2026, 8, 30, 20, 0, 0, 0, est)
	assert.Equal(t, SessionAsia, DetermineSession(ts))
}

func TestParseSession(t *testing.T) {
	for _, raw := range []string{"asia", "london", "new_york"} {
		got, ok := ParseSession(raw)
		assert.True(t, ok)
		assert.Equal(t, Session(raw), got)
	}

	got, ok := ParseSession("")
	assert.True(t, ok)
	assert.Equal(t, Session(""), got)

	_, ok = ParseSession("tokyo")
	assert.False(t, ok)
}

func TestTierForScore(t *testing.T) {
	assert.Equal(t, TierLow, TierForScore(0))
	assert.Equal(t, TierLow, TierForScore(2))
	assert.Equal(t, TierMedium, TierForScore(3))
	assert.Equal(t, TierMedium, TierForScore(5))
	assert.Equal(t, TierHigh, TierForScore(6))
	assert.Equal(t, TierHigh, TierForScore(7))
}

func TestSignalStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusWon.Terminal())
	assert.True(t, StatusLost.Terminal())
	assert.True(t, StatusExpired.Terminal())
}
