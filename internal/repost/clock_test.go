package repost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Clock
		ok   bool
	}{
		{"09:00", Clock{9, 0}, true},
		{"9:05", Clock{9, 5}, true},
		{" 23:59 ", Clock{23, 59}, true},
		{"24:00", Clock{}, false},
		{"12:60", Clock{}, false},
		{"noon", Clock{}, false},
		{"", Clock{}, false},
	} {
		got, err := ParseClock(tc.in)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrInvalidTime, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestFormatAndSplitClocks(t *testing.T) {
	cs, err := ParseClocks(splitClocks(" 09:00, ,18:30 "))
	require.NoError(t, err)
	assert.Equal(t, "09:00,18:30", FormatClocks(cs))
	assert.Empty(t, splitClocks(""))
}

func TestSlots_DSTKeepsWallClock(t *testing.T) {
	ny, err := LoadTimezone("America/New_York")
	require.NoError(t, err)
	// DST starts 2024-03-10 at 02:00 local
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, ny)
	slots := Slots(now, ny, 2, []Clock{{Hour: 9}})
	require.Len(t, slots, 2)
	assert.Equal(t, time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC), slots[0])
	assert.Equal(t, time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC), slots[1])
}

func TestSlots_LocalCalendarDay(t *testing.T) {
	bishkek, err := LoadTimezone("Asia/Bishkek")
	require.NoError(t, err)
	// 20:00Z is already the next day in Bishkek
	now := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	slots := Slots(now, bishkek, 1, []Clock{{Hour: 10}})
	assert.Equal(t, []time.Time{time.Date(2024, 1, 2, 4, 0, 0, 0, time.UTC)}, slots)
}

func TestLoadTimezone(t *testing.T) {
	_, err := LoadTimezone("")
	assert.ErrorIs(t, err, ErrInvalidTimezone)
	_, err = LoadTimezone("local")
	assert.ErrorIs(t, err, ErrInvalidTimezone)
	loc, err := LoadTimezone("Europe/Berlin")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestParseSendMode(t *testing.T) {
	m, err := ParseSendMode(" Forward ")
	require.NoError(t, err)
	assert.Equal(t, ModeForward, m)
	_, err = ParseSendMode("")
	assert.ErrorIs(t, err, ErrInvalidSendMode)
}
