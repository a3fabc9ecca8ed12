package value_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/rockscope/internal/value"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"0", 0},
		{"7s854ms", 7854 * time.Millisecond},
		{"5.540us", 5540 * time.Nanosecond},
		{"123.456ms", 123456 * time.Microsecond},
		{"1h30m", 90 * time.Minute},
		{"12ns", 12},
		{"3μs", 3 * time.Microsecond},
		{" 2m5s ", 125 * time.Second},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := value.ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDurationRejectsUnitlessText(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "abc", "12", "N/A"} {
		_, err := value.ParseDuration(in)
		assert.ErrorIs(t, err, value.ErrParseDuration, in)
	}
}

func TestParseDurationConcatenationIsAdditive(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"1h", "30m"},
		{"7s", "854ms"},
		{"2m", "3s120ms"},
		{"4ms", "250us"},
		{"1s", "17ns"},
		{"0.007s", "1.037ms"},
		{"1.037ms", "5.540us"},
		{"2.3s", "0.1s"},
		{"12.345ms", "0.001ms"},
		{"1.5m", "2.999s"},
	}
	for _, p := range pairs {
		a, err := value.ParseDuration(p[0])
		require.NoError(t, err)
		b, err := value.ParseDuration(p[1])
		require.NoError(t, err)
		ab, err := value.ParseDuration(p[0] + p[1])
		require.NoError(t, err)
		assert.Equal(t, a+b, ab, "%s + %s", p[0], p[1])
	}
}

func TestParseTimeMs(t *testing.T) {
	t.Parallel()

	ms, err := value.ParseTimeMs("1s500ms")
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, ms, 1e-9)
}

func TestParseBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want uint64
	}{
		{"2.174K (2174)", 2174},
		{"1.184 KB (1212)", 1212},
		{"2.167KB", 2219},
		{"2.167 KB", 2219},
		{"12.768GB", 13709535608},
		{"0.000B", 0},
		{"1.5 mb", 1572864},
		{"1,024", 1024},
		{"4096", 4096},
	}
	for _, tt := range tests {
		tt := tt
		got, err := value.ParseBytes(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := value.ParseBytes("lots")
	assert.ErrorIs(t, err, value.ErrParseBytes)
}

func TestParseBytesParenthesisWins(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"9.999K (1)", "1G (12345)", "3.2M (3355443)"} {
		got, err := value.ParseBytes(in)
		require.NoError(t, err)
		switch in {
		case "9.999K (1)":
			assert.Equal(t, uint64(1), got)
		case "1G (12345)":
			assert.Equal(t, uint64(12345), got)
		default:
			assert.Equal(t, uint64(3355443), got)
		}
	}
}

func TestParseNumber(t *testing.T) {
	t.Parallel()

	u, err := value.ParseNumber[uint64]("1.234M (1234567)")
	require.NoError(t, err)
	assert.Equal(t, uint64(1234567), u)

	i, err := value.ParseNumber[int32]("1,234")
	require.NoError(t, err)
	assert.Equal(t, int32(1234), i)

	f, err := value.ParseNumber[float64]("3.25")
	require.NoError(t, err)
	assert.InDelta(t, 3.25, f, 1e-12)

	_, err = value.ParseNumber[uint64]("1.5")
	assert.ErrorIs(t, err, value.ErrParseNumber)

	_, err = value.ParseNumber[uint8]("300")
	assert.ErrorIs(t, err, value.ErrParseNumber)

	_, err = value.ParseNumber[int64]("-")
	assert.ErrorIs(t, err, value.ErrParseNumber)
}

func TestParsePercentageAndBool(t *testing.T) {
	t.Parallel()

	p, err := value.ParsePercentage("45.73%")
	require.NoError(t, err)
	assert.InDelta(t, 45.73, p, 1e-9)

	for in, want := range map[string]bool{"true": true, "YES": true, "1": true, "false": false, "no": false, "0": false} {
		got, err := value.ParseBool(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err = value.ParseBool("maybe")
	assert.ErrorIs(t, err, value.ErrParseBool)
}

func TestFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.50 GB", value.FormatBytes(3<<29))
	assert.Equal(t, "512.00 B", value.FormatBytes(512))
	assert.Equal(t, "1.5h", value.FormatDuration(90*time.Minute))
	assert.Equal(t, "2.5s", value.FormatDuration(2500*time.Millisecond))
}
