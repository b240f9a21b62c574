package site

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	siteA = "0123456789abcdef0123456789abcdef01234567"
	siteB = "89abcdef0123456789abcdef0123456789abcdef"
)

func sampleTable() *Table {
	t := NewTable()
	t.Put(Resource{Path: "index.html", Data: []byte("<h1>hi</h1>"), ContentType: "text/html"})
	t.Put(Resource{Path: "img/a.png", Data: []byte{0x89, 'P', 'N', 'G'}, ContentType: "image/png"})
	return t
}

func assertSample(t *testing.T, got *Table) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, []string{"index.html", "img/a.png"}, got.Paths())
	r, ok := got.Get("img/a.png")
	require.True(t, ok)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, r.Data)
	assert.Equal(t, "image/png", r.ContentType)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(time.Hour)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, siteA, sampleTable()))
	got, ok, err := s.Get(ctx, siteA)
	require.NoError(t, err)
	require.True(t, ok)
	assertSample(t, got)

	got.Put(Resource{Path: "extra"})
	again, _, _ := s.Get(ctx, siteA)
	assert.Equal(t, 2, again.Len())

	now = now.Add(2 * time.Hour)
	_, ok, err = s.Get(ctx, siteA)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.entries)

	require.NoError(t, s.Set(ctx, siteA, sampleTable()))
	require.NoError(t, s.Set(ctx, siteB, sampleTable()))
	require.NoError(t, s.Delete(ctx, siteA))
	_, ok, _ = s.Get(ctx, siteA)
	assert.False(t, ok)
	require.NoError(t, s.Clear(ctx))
	_, ok, _ = s.Get(ctx, siteB)
	assert.False(t, ok)
}

func openLevel(t *testing.T, dir string, maxBytes int64) *LevelStore {
	t.Helper()
	s, err := NewLevelStore(dir, time.Hour, maxBytes, nil)
	require.NoError(t, err)
	return s
}

func TestLevelStorePersists(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "db")

	s := openLevel(t, dir, 0)
	require.NoError(t, s.Set(ctx, siteA, sampleTable()))
	assert.Equal(t, 1, s.KeyCount())
	assert.Positive(t, s.TotalSize())
	require.NoError(t, s.Close())

	s = openLevel(t, dir, 0)
	defer s.Close()
	assert.Equal(t, 1, s.KeyCount())
	got, ok, err := s.Get(ctx, siteA)
	require.NoError(t, err)
	require.True(t, ok)
	assertSample(t, got)

	_, ok, err = s.Get(ctx, siteB)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLevelStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := openLevel(t, t.TempDir(), 0)
	defer s.Close()

	require.NoError(t, s.Set(ctx, siteA, sampleTable()))
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, ok, err := s.Get(ctx, siteA)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return s.KeyCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestLevelStoreDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	s := openLevel(t, t.TempDir(), 0)
	defer s.Close()

	require.NoError(t, s.Set(ctx, siteA, sampleTable()))
	require.NoError(t, s.Set(ctx, siteB, sampleTable()))
	require.NoError(t, s.Delete(ctx, siteA))
	assert.Equal(t, 1, s.KeyCount())

	require.NoError(t, s.Clear(ctx))
	assert.Equal(t, 0, s.KeyCount())
	assert.Zero(t, s.TotalSize())
	_, ok, _ := s.Get(ctx, siteB)
	assert.False(t, ok)
}

func TestLevelStoreEvictsOverBudget(t *testing.T) {
	ctx := context.Background()
	s := openLevel(t, t.TempDir(), 1)
	defer s.Close()

	require.NoError(t, s.Set(ctx, siteA, sampleTable()))
	require.NoError(t, s.Set(ctx, siteB, sampleTable()))

	assert.Equal(t, 1, s.KeyCount())
	_, ok, _ := s.Get(ctx, siteA)
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, siteB)
	assert.True(t, ok)
}

func TestLevelStoreClosed(t *testing.T) {
	s := openLevel(t, t.TempDir(), 0)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Set(context.Background(), siteA, sampleTable()), errStoreClosed)
}

func newRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(StoreConfig{RedisAddr: mr.Addr(), MaxAge: time.Hour}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedis(t)

	require.NoError(t, s.Set(ctx, siteA, sampleTable()))
	assert.True(t, mr.Exists("peerweb:site:"+siteA))
	assert.Equal(t, time.Hour, mr.TTL("peerweb:site:"+siteA))

	got, ok, err := s.Get(ctx, siteA)
	require.NoError(t, err)
	require.True(t, ok)
	assertSample(t, got)

	require.NoError(t, s.Set(ctx, siteB, sampleTable()))
	require.NoError(t, mr.Set("unrelated", "x"))
	require.NoError(t, s.Clear(ctx))
	assert.False(t, mr.Exists("peerweb:site:"+siteA))
	assert.False(t, mr.Exists("peerweb:site:"+siteB))
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedis(t)

	require.NoError(t, s.Set(ctx, siteA, sampleTable()))
	mr.FastForward(2 * time.Hour)
	_, ok, err := s.Get(ctx, siteA)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, siteB, sampleTable()))
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, ok, err = s.Get(ctx, siteB)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("peerweb:site:"+siteB))
}

func TestRedisStoreConnectError(t *testing.T) {
	_, err := NewRedisStore(StoreConfig{RedisAddr: "127.0.0.1:1"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(StoreConfig{Type: StoreMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore(StoreConfig{Type: StoreLevelDB, Path: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LevelStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewStore(StoreConfig{Type: "etcd"}, nil)
	assert.Error(t, err)
}
