package peerweb

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func entry(n int) mediaEntry {
	return mediaEntry{Data: []byte(strings.Repeat("x", n)), ContentType: "video/mp4"}
}

func TestMediaCacheEligible(t *testing.T) {
	c := newMediaCache(100, 1000, newRateLimitedLogger(zap.NewNop(), time.Minute))
	assert.True(t, c.Eligible("video/mp4", 101))
	assert.True(t, c.Eligible("audio/ogg; codecs=opus", 500))
	assert.True(t, c.Eligible("image/gif", 500))
	assert.False(t, c.Eligible("video/mp4", 100))
	assert.False(t, c.Eligible("image/png", 500))
	assert.False(t, c.Eligible("text/html", 500))
}

func TestMediaCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := newMediaCache(0, 10, newRateLimitedLogger(zap.NewNop(), time.Minute))

	require.True(t, c.Put("a", entry(4)))
	require.True(t, c.Put("b", entry(4)))
	_, ok := c.Get("a")
	require.True(t, ok)

	require.True(t, c.Put("c", entry(4)))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(8), c.TotalSize())
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)

	require.True(t, c.Put("a", entry(6)))
	assert.Equal(t, int64(10), c.TotalSize())

	assert.False(t, c.Put("huge", entry(11)))
	_, ok = c.Get("huge")
	assert.False(t, ok)
	assert.LessOrEqual(t, c.TotalSize(), int64(10))
}

func TestMediaCacheClear(t *testing.T) {
	c := newMediaCache(0, 0, newRateLimitedLogger(zap.NewNop(), time.Minute))
	c.Put("a", entry(1))
	c.Put("b", entry(1))

	assert.Equal(t, 2, c.Clear())
	assert.Zero(t, c.Len())
	assert.Zero(t, c.TotalSize())
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Put("c", entry(3))
	got, ok := c.Get("c")
	require.True(t, ok)
	assert.Len(t, got.Data, 3)
}

func TestParseBytes(t *testing.T) {
	cases := map[string]int64{
		"42":    42,
		"10b":   10,
		"100kb": 100 << 10,
		"512MB": 512 << 20,
		"1.5g":  3 << 29,
		" 2k ":  2048,
	}
	for in, want := range cases {
		got, err := parseBytes(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "kb", "lots", "-1kb"} {
		_, err := parseBytes(in)
		assert.Error(t, err, in)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512b", formatBytes(512))
	assert.Equal(t, "1.5kb", formatBytes(1536))
	assert.Equal(t, "1mb", formatBytes(1<<20))
	assert.Equal(t, "2gb", formatBytes(2<<30))
}

func TestStatsCollector(t *testing.T) {
	s := newStatsCollector()
	assert.Equal(t, statsSnapshot{}, s.Snapshot())

	s.Observe(10)
	s.Observe(30)
	s.Observe(-5)
	snap := s.Snapshot()
	assert.Equal(t, uint64(3), snap.TotalResponses)
	assert.Equal(t, uint64(40), snap.TotalRespBytes)
	assert.Equal(t, uint64(0), snap.MinRespBytes)
	assert.Equal(t, uint64(30), snap.MaxRespBytes)
	assert.Equal(t, uint64(13), snap.AvgRespBytes)
}
