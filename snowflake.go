package interject

import (
	"fmt"
	"strconv"
	"time"
)

// snowflakeEpochMs is the platform epoch for snowflake timestamps:
// 2015-01-01T00:00:00Z in Unix milliseconds.
const snowflakeEpochMs int64 = 1420070400000

// Snowflake is a 64-bit platform identifier (message, channel, server, user)
// whose high 42 bits encode milliseconds since the platform epoch. Numeric
// order is creation-time order, which is what makes continuity ranges and
// history paging work on ids alone.
type Snowflake uint64

// ParseSnowflake parses the decimal wire form.
func ParseSnowflake(s string) (Snowflake, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse snowflake %q: %w", s, err)
	}
	return Snowflake(n), nil
}

// SnowflakeFromTime builds a synthetic id whose timestamp bits encode t and
// whose low bits are zero. It sorts after every real id created before t,
// which makes it a valid backward-paging cursor.
func SnowflakeFromTime(t time.Time) Snowflake {
	ms := t.UnixMilli() - snowflakeEpochMs
	if ms < 0 {
		ms = 0
	}
	return Snowflake(uint64(ms) << 22)
}

// String returns the decimal wire form.
func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

// UnixMs returns the creation time encoded in the id, in Unix milliseconds.
func (s Snowflake) UnixMs() int64 {
	return int64(s>>22) + snowflakeEpochMs
}

// Time returns the creation time encoded in the id.
func (s Snowflake) Time() time.Time {
	return time.UnixMilli(s.UnixMs()).UTC()
}

// Friendly renders the creation time as "2006-01-02 15:04:05" UTC, the
// human-readable form stored alongside every archived message and shown to
// the model in prompt context.
func (s Snowflake) Friendly() string {
	return s.Time().Format("2006-01-02 15:04:05")
}
