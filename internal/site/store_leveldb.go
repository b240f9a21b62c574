package site

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"
)

var errStoreClosed = errors.New("durable store closed")

var (
	entryPrefix = []byte("e:")
	metaPrefix  = []byte("m:")
)

type levelMeta struct {
	Size       int64
	StoredAt   int64
	LastAccess int64
}

type levelOp struct {
	putKey   string
	putBytes []byte
	storedAt int64

	touchKey string
	delKey   string
	clear    bool

	done chan error
}

// LevelStore persists sites in a leveldb database. All writes go through a
// single writer goroutine; reads hit the database directly.
type LevelStore struct {
	maxAge   time.Duration
	maxBytes int64
	logger   *zap.Logger
	now      func() time.Time

	db *leveldb.DB

	mu        sync.Mutex
	index     map[string]levelMeta
	totalSize int64

	opsMu  sync.RWMutex
	closed bool
	ops    chan levelOp
	done   chan struct{}
}

var _ Store = (*LevelStore)(nil)

// NewLevelStore opens (or creates) the database at path. maxBytes <= 0
// disables size based eviction.
func NewLevelStore(path string, maxAge time.Duration, maxBytes int64, logger *zap.Logger) (*LevelStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	s := &LevelStore{
		maxAge:   maxAge,
		maxBytes: maxBytes,
		logger:   logger.Named("durable.leveldb"),
		now:      time.Now,
		db:       db,
		index:    map[string]levelMeta{},
		ops:      make(chan levelOp, 1024),
		done:     make(chan struct{}),
	}
	if err := s.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	go s.writerLoop()
	return s, nil
}

func (s *LevelStore) loadIndex() error {
	it := s.db.NewIterator(util.BytesPrefix(metaPrefix), nil)
	defer it.Release()

	var total int64
	idx := map[string]levelMeta{}
	for it.Next() {
		key := string(bytes.TrimPrefix(it.Key(), metaPrefix))
		var meta levelMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		idx[key] = meta
		total += meta.Size
	}
	if err := it.Error(); err != nil {
		return err
	}
	s.mu.Lock()
	s.index = idx
	s.totalSize = total
	s.mu.Unlock()
	return nil
}

func (s *LevelStore) Get(_ context.Context, siteID string) (*Table, bool, error) {
	b, err := s.db.Get([]byte("e:"+siteID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored, err := decodeSite(b)
	if err != nil {
		s.logger.Warn("dropping undecodable site", zap.String("site", siteID), zap.Error(err))
		s.enqueue(levelOp{delKey: siteID})
		return nil, false, nil
	}
	if expired(stored.StoredAt, s.maxAge, s.now()) {
		s.enqueue(levelOp{delKey: siteID})
		return nil, false, nil
	}
	s.enqueue(levelOp{touchKey: siteID})
	return stored.table(), true, nil
}

func (s *LevelStore) Set(ctx context.Context, siteID string, t *Table) error {
	now := s.now().UnixNano()
	b, err := encodeSite(storedSite{SiteID: siteID, StoredAt: now, Files: t.Resources()})
	if err != nil {
		return err
	}
	return s.wait(ctx, levelOp{putKey: siteID, putBytes: b, storedAt: now})
}

func (s *LevelStore) Delete(ctx context.Context, siteID string) error {
	return s.wait(ctx, levelOp{delKey: siteID})
}

func (s *LevelStore) Clear(ctx context.Context) error {
	return s.wait(ctx, levelOp{clear: true})
}

// TotalSize is the encoded size of all stored sites.
func (s *LevelStore) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

func (s *LevelStore) KeyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

func (s *LevelStore) Close() error {
	s.opsMu.Lock()
	if s.closed {
		s.opsMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ops)
	s.opsMu.Unlock()
	<-s.done
	return s.db.Close()
}

func (s *LevelStore) enqueue(op levelOp) bool {
	s.opsMu.RLock()
	defer s.opsMu.RUnlock()
	if s.closed {
		return false
	}
	s.ops <- op
	return true
}

func (s *LevelStore) wait(ctx context.Context, op levelOp) error {
	op.done = make(chan error, 1)
	if !s.enqueue(op) {
		return errStoreClosed
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *LevelStore) writerLoop() {
	defer close(s.done)
	for op := range s.ops {
		var err error
		switch {
		case op.clear:
			err = s.applyClear()
		case op.delKey != "":
			err = s.applyDelete(op.delKey)
		case op.putKey != "":
			err = s.applyPut(op.putKey, op.putBytes, op.storedAt)
		case op.touchKey != "":
			err = s.applyTouch(op.touchKey)
		}
		if op.done != nil {
			op.done <- err
		} else if err != nil {
			s.logger.Warn("durable write failed", zap.Error(err))
		}
	}
}

func (s *LevelStore) applyPut(key string, b []byte, storedAt int64) error {
	meta := levelMeta{Size: int64(len(b)), StoredAt: storedAt, LastAccess: s.now().Unix()}
	mb, err := encodeGob(meta)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte("e:"+key), b)
	batch.Put([]byte("m:"+key), mb)
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}

	s.mu.Lock()
	if old, ok := s.index[key]; ok {
		s.totalSize -= old.Size
	}
	s.index[key] = meta
	s.totalSize += meta.Size
	over := s.maxBytes > 0 && s.totalSize > s.maxBytes
	s.mu.Unlock()

	if over {
		s.evictSome(key)
	}
	return nil
}

func (s *LevelStore) applyTouch(key string) error {
	s.mu.Lock()
	meta, ok := s.index[key]
	if ok {
		meta.LastAccess = s.now().Unix()
		s.index[key] = meta
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	mb, err := encodeGob(meta)
	if err != nil {
		return err
	}
	return s.db.Put([]byte("m:"+key), mb, nil)
}

func (s *LevelStore) applyDelete(key string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte("e:" + key))
	batch.Delete([]byte("m:" + key))
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}

	s.mu.Lock()
	if meta, ok := s.index[key]; ok {
		s.totalSize -= meta.Size
		delete(s.index, key)
	}
	s.mu.Unlock()
	return nil
}

func (s *LevelStore) applyClear() error {
	batch := new(leveldb.Batch)
	for _, prefix := range [][]byte{entryPrefix, metaPrefix} {
		it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
		for it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		err := it.Error()
		it.Release()
		if err != nil {
			return err
		}
	}
	if err := s.db.Write(batch, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.index = map[string]levelMeta{}
	s.totalSize = 0
	s.mu.Unlock()
	return nil
}

// evictSome drops the least recently used tenth of the sites, never the one
// just written.
func (s *LevelStore) evictSome(keep string) {
	type item struct {
		key string
		m   levelMeta
	}
	s.mu.Lock()
	items := make([]item, 0, len(s.index))
	for k, m := range s.index {
		if k != keep {
			items = append(items, item{k, m})
		}
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].m.LastAccess < items[j].m.LastAccess
	})

	n := len(items) / 10
	if n < 1 {
		n = 1
	}
	for i := 0; i < n && i < len(items); i++ {
		if err := s.applyDelete(items[i].key); err != nil {
			s.logger.Warn("eviction failed", zap.String("site", items[i].key), zap.Error(err))
			return
		}
		s.logger.Info("evicted site from durable cache", zap.String("site", items[i].key))
	}
}
