package lsmcore

import (
	"container/list"
	"encoding/binary"
	"log/slog"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/go-lsm/lsmcore/epoch"
	"github.com/go-lsm/lsmcore/keys"
)

// TableIterator yields internal-key/value pairs in ascending order.
type TableIterator interface {
	Valid() bool
	Next()
	Key() keys.InternalKey
	Value() []byte
	Close() error
}

// Table is the narrowest contract the core needs from the block file
// format it does not implement: a seeking point lookup and a forward
// iterator. The concrete block/filter/compression format behind Table
// is an external collaborator.
//
// Get returns the first entry at or after lookupKey (by the table's
// internal-key order) whose user key matches lookupKey's user key.
// This lets a caller pass a lookup key built with SeekValueType and
// receive back whatever type (value or deletion) is actually newest
// as of the requested sequence, matching LevelDB's own Table::InternalGet.
type Table interface {
	Get(lookupKey keys.InternalKey) (foundKey keys.InternalKey, value []byte, found bool, err error)
	NewIterator() TableIterator
	Close() error
}

// TableOpener opens the table backing file number at the given path
// and size. Supplied by the caller; this core never reads file bytes
// itself.
type TableOpener func(number uint64, path string, fileSize int64) (Table, error)

// TableCache is a sharded LRU cache of open Tables, keyed by file
// number, so repeated lookups against the same file don't reopen it.
type TableCache struct {
	shards []*tableCacheShard
	mu     sync.RWMutex
	closed bool
	dir    string
	open   TableOpener
	logger *slog.Logger
}

type tableCacheShard struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*tableCacheEntry
	lru      *list.List
}

type tableCacheEntry struct {
	number  uint64
	table   Table
	element *list.Element
}

// NewTableCache creates a TableCache with the given total capacity,
// sharded across roughly 4 shards per CPU the way a contended LRU
// cache is conventionally split to reduce lock overhead.
func NewTableCache(dir string, capacity int, open TableOpener, logger *slog.Logger) *TableCache {
	if logger == nil {
		logger = DefaultLogger()
	}
	numShards := max(4, 4*runtime.GOMAXPROCS(0))
	numShards = min(numShards, max(1, capacity))
	shardCapacity := max(1, capacity/numShards)

	tc := &TableCache{
		shards: make([]*tableCacheShard, numShards),
		dir:    dir,
		open:   open,
		logger: logger,
	}
	for i := range tc.shards {
		tc.shards[i] = &tableCacheShard{
			capacity: shardCapacity,
			entries:  make(map[uint64]*tableCacheEntry),
			lru:      list.New(),
		}
	}
	return tc
}

// shardFor selects a shard by xxhash of the file number, grounded on
// the same sharding strategy as a plain fnv hash but with a faster,
// better-distributed non-cryptographic hash.
func (tc *TableCache) shardFor(number uint64) *tableCacheShard {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	if tc.closed {
		return nil
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], number)
	h := xxhash.Sum64(b[:])
	return tc.shards[h%uint64(len(tc.shards))]
}

// FindTable returns the cached Table for meta, opening it via the
// configured TableOpener on a cache miss.
func (tc *TableCache) FindTable(meta *FileMetaData) (Table, error) {
	shard := tc.shardFor(meta.Number)
	if shard == nil {
		return nil, ErrClosed
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if entry, ok := shard.entries[meta.Number]; ok {
		shard.lru.MoveToFront(entry.element)
		return entry.table, nil
	}

	path := tablePath(tc.dir, meta.Number)
	table, err := tc.open(meta.Number, path, meta.FileSize)
	if err != nil {
		tc.logger.Error("table cache open failed", "file_num", meta.Number, "path", path, "error", err)
		return nil, err
	}

	if shard.lru.Len() >= shard.capacity {
		shard.evictLRU()
	}
	entry := &tableCacheEntry{number: meta.Number, table: table}
	entry.element = shard.lru.PushFront(entry)
	shard.entries[meta.Number] = entry

	return table, nil
}

// Get is a convenience wrapper performing a point lookup through the
// cached table for meta.
func (tc *TableCache) Get(meta *FileMetaData, lookupKey keys.InternalKey) (keys.InternalKey, []byte, bool, error) {
	table, err := tc.FindTable(meta)
	if err != nil {
		return nil, nil, false, err
	}
	return table.Get(lookupKey)
}

// Evict drops file number from the cache, deferring the Table's
// Close to the epoch system so an iterator mid-read is not disrupted.
func (tc *TableCache) Evict(number uint64) {
	shard := tc.shardFor(number)
	if shard == nil {
		return
	}
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if entry, ok := shard.entries[number]; ok {
		shard.removeLocked(entry)
	}
}

// Close closes the cache and every table still held.
func (tc *TableCache) Close() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.closed {
		return nil
	}
	tc.closed = true

	var firstErr error
	for _, shard := range tc.shards {
		shard.mu.Lock()
		for _, entry := range shard.entries {
			if entry.table != nil {
				if err := entry.table.Close(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
		shard.entries = nil
		shard.lru = nil
		shard.mu.Unlock()
	}
	return firstErr
}

func (s *tableCacheShard) evictLRU() {
	elem := s.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*tableCacheEntry)
	s.removeLocked(entry)
}

// removeLocked drops entry from the map and LRU list without closing
// the underlying Table: a live iterator opened against it may still
// be reading, and closing is the epoch cleanup's job once no such
// reader remains. Must be called with shard.mu held.
func (s *tableCacheShard) removeLocked(entry *tableCacheEntry) {
	if entry.element != nil {
		delete(s.entries, entry.number)
		s.lru.Remove(entry.element)
		entry.element = nil
	}
	table := entry.table
	entry.table = nil
	if table != nil {
		epoch.ScheduleCleanup(func() error { return table.Close() })
	}
}
