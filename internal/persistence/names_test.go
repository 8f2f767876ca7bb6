package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotNameRoundTrip(t *testing.T) {
	name := SnapshotName(42)
	assert.Equal(t, "00000000000000000042.snapshot", name)

	millis, ok := ParseSnapshotName(name)
	assert.True(t, ok)
	assert.Equal(t, int64(42), millis)
}

func TestSnapshotNamesSortByTimestamp(t *testing.T) {
	assert.Less(t, SnapshotName(999), SnapshotName(1000))
	assert.Less(t, SnapshotName(1_700_000_000_000), SnapshotName(1_700_000_000_001))
}

func TestParseSnapshotNameRejectsMalformed(t *testing.T) {
	for _, name := range []string{
		"short.snapshot",
		"42.snapshot",
		"00000000000000000042.tmp",
		"00000000000000000042",
		"0000000000000000004a.snapshot",
		"-0000000000000000042.snapshot",
		"99999999999999999999.snapshot",
		"00000000000000000042.snapshot.tmp.123",
		"notes.txt",
	} {
		t.Run(name, func(t *testing.T) {
			_, ok := ParseSnapshotName(name)
			assert.False(t, ok)
		})
	}
}

func TestNextSnapshotName(t *testing.T) {
	now := time.UnixMilli(5_000)

	name, millis := NextSnapshotName(now, -1)
	assert.Equal(t, SnapshotName(5_000), name)
	assert.Equal(t, int64(5_000), millis)

	_, millis = NextSnapshotName(now, 5_000)
	assert.Equal(t, int64(5_001), millis, "same millisecond bumps by one")

	_, millis = NextSnapshotName(now, 9_000)
	assert.Equal(t, int64(9_001), millis, "clock behind newest snapshot")
}

func TestValidateTopic(t *testing.T) {
	for _, topic := range []string{"team", "team-42", "Team_A.v2", "écrit"} {
		assert.NoError(t, ValidateTopic(topic), topic)
	}
	for _, topic := range []string{"", ".", "..", "a/b", `a\b`, "../etc", "%2e%2e", "a\x00b", "/abs", "bad\xff", "e\u0301crit"} {
		assert.Error(t, ValidateTopic(topic), "%q", topic)
	}
}
