package lsmcore

import (
	"bytes"
	"sort"
	"sync"
	"testing"

	"github.com/go-lsm/lsmcore/epoch"
	"github.com/go-lsm/lsmcore/keys"
)

// fakeTable is an in-memory Table backed by a sorted slice, standing in
// for the block-file format this core never implements. Tests use it
// to drive TableCache, Version.Get and Version.AddIterators end to end.
type fakeEntry struct {
	key   keys.InternalKey
	value []byte
}

type fakeTable struct {
	mu      sync.Mutex
	icmp    *keys.InternalKeyComparator
	entries []fakeEntry
	closed  bool
	closes  *int
}

func newFakeTable(icmp *keys.InternalKeyComparator, entries ...fakeEntry) *fakeTable {
	sorted := append([]fakeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return icmp.Compare(sorted[i].key, sorted[j].key) < 0 })
	return &fakeTable{icmp: icmp, entries: sorted}
}

func (t *fakeTable) Get(lookupKey keys.InternalKey) (keys.InternalKey, []byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, nil, false, ErrClosed
	}
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.icmp.Compare(t.entries[i].key, lookupKey) >= 0
	})
	if i >= len(t.entries) || !bytes.Equal(t.entries[i].key.UserKey(), lookupKey.UserKey()) {
		return nil, nil, false, nil
	}
	return t.entries[i].key, t.entries[i].value, true, nil
}

func (t *fakeTable) NewIterator() TableIterator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &fakeTableIterator{entries: t.entries}
}

func (t *fakeTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.closes != nil {
		*t.closes++
	}
	return nil
}

type fakeTableIterator struct {
	entries []fakeEntry
	idx     int
}

func (it *fakeTableIterator) Valid() bool           { return it.idx < len(it.entries) }
func (it *fakeTableIterator) Next()                 { it.idx++ }
func (it *fakeTableIterator) Key() keys.InternalKey { return it.entries[it.idx].key }
func (it *fakeTableIterator) Value() []byte         { return it.entries[it.idx].value }
func (it *fakeTableIterator) Close() error          { return nil }

func newTestTableCache(t *testing.T, tables map[uint64]*fakeTable) *TableCache {
	return NewTableCache("db", 8, func(number uint64, path string, fileSize int64) (Table, error) {
		table, ok := tables[number]
		if !ok {
			t.Fatalf("no fake table registered for file %d", number)
		}
		return table, nil
	}, nil)
}

func TestTableCacheFindTableReusesOpenTable(t *testing.T) {
	icmp := keys.NewInternalKeyComparator(keys.BytewiseComparator)
	table := newFakeTable(icmp, fakeEntry{ik("a", 1), []byte("av")})
	opened := 0
	tc := NewTableCache("db", 8, func(number uint64, path string, fileSize int64) (Table, error) {
		opened++
		return table, nil
	}, nil)

	meta := mkFile(1, "a", "a")
	if _, err := tc.FindTable(meta); err != nil {
		t.Fatalf("FindTable failed: %v", err)
	}
	if _, err := tc.FindTable(meta); err != nil {
		t.Fatalf("FindTable failed: %v", err)
	}
	if opened != 1 {
		t.Fatalf("opened = %d, want 1 (second FindTable should hit the cache)", opened)
	}
}

// TestTableCacheEvictDefersCloseUntilReadersExit checks that a table
// evicted while a reader is still inside an epoch is not closed until
// that reader exits, via epoch.ScheduleCleanup/TryCleanup.
func TestTableCacheEvictDefersCloseUntilReadersExit(t *testing.T) {
	icmp := keys.NewInternalKeyComparator(keys.BytewiseComparator)
	var closes int
	table := newFakeTable(icmp, fakeEntry{ik("a", 1), []byte("av")})
	table.closes = &closes
	tc := newTestTableCache(t, map[uint64]*fakeTable{1: table})

	meta := mkFile(1, "a", "a")
	if _, err := tc.FindTable(meta); err != nil {
		t.Fatalf("FindTable failed: %v", err)
	}

	readEpoch := epoch.EnterEpoch()
	tc.Evict(1)
	if epoch.TryCleanup(); closes != 0 {
		t.Fatalf("table closed while a reader is still in its epoch")
	}

	epoch.ExitEpoch(readEpoch)
	epoch.TryCleanup()
	if closes != 1 {
		t.Fatalf("closes = %d, want 1 once the reader exits", closes)
	}
}

func TestVersionGetFindsValueThroughTableCache(t *testing.T) {
	icmp := keys.NewInternalKeyComparator(keys.BytewiseComparator)
	l0 := newFakeTable(icmp, fakeEntry{ik("k", 5), []byte("v0")})
	l1 := newFakeTable(icmp, fakeEntry{ik("other", 5), []byte("v1")})
	tc := newTestTableCache(t, map[uint64]*fakeTable{1: l0, 2: l1})

	v := newVersion(nil, 4)
	v.files[0] = []*FileMetaData{mkFile(1, "k", "k")}
	v.files[1] = []*FileMetaData{mkFile(2, "other", "other")}

	value, stats, err := v.Get(tc, icmp, keys.NewLookupKey([]byte("k"), keys.MaxSequenceNumber))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "v0" {
		t.Fatalf("Get = %q, want v0", value)
	}
	if stats.SeekFile != nil {
		t.Fatalf("expected no seek charge on a level-0 hit, got %v", stats.SeekFile)
	}
}

func TestVersionGetChargesSeekAgainstMissedFile(t *testing.T) {
	icmp := keys.NewInternalKeyComparator(keys.BytewiseComparator)
	miss := newFakeTable(icmp, fakeEntry{ik("zzz", 5), []byte("unrelated")})
	hit := newFakeTable(icmp, fakeEntry{ik("k", 5), []byte("v1")})
	tc := newTestTableCache(t, map[uint64]*fakeTable{1: miss, 2: hit})

	v := newVersion(nil, 4)
	v.files[0] = []*FileMetaData{mkFile(1, "k", "zzz")}
	v.files[1] = []*FileMetaData{mkFile(2, "k", "k")}

	value, stats, err := v.Get(tc, icmp, keys.NewLookupKey([]byte("k"), keys.MaxSequenceNumber))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "v1" {
		t.Fatalf("Get = %q, want v1", value)
	}
	if stats.SeekFile == nil || stats.SeekFile.Number != 1 {
		t.Fatalf("expected a seek charge against file 1 that didn't contain the key, got %v", stats.SeekFile)
	}

	if needsCompaction := v.UpdateStats(stats); needsCompaction {
		t.Fatalf("a single charge should not exhaust the seek budget")
	}
}

func TestVersionGetReturnsNotFoundOnDeletionTombstone(t *testing.T) {
	icmp := keys.NewInternalKeyComparator(keys.BytewiseComparator)
	table := newFakeTable(icmp, fakeEntry{keys.NewInternalKey([]byte("k"), 5, keys.TypeDeletion), nil})
	tc := newTestTableCache(t, map[uint64]*fakeTable{1: table})

	v := newVersion(nil, 4)
	v.files[0] = []*FileMetaData{mkFile(1, "k", "k")}

	_, _, err := v.Get(tc, icmp, keys.NewLookupKey([]byte("k"), keys.MaxSequenceNumber))
	if err != ErrNotFound {
		t.Fatalf("Get error = %v, want ErrNotFound for a deletion tombstone", err)
	}
}

func TestVersionAddIteratorsFollowsFileListOrder(t *testing.T) {
	icmp := keys.NewInternalKeyComparator(keys.BytewiseComparator)
	older := newFakeTable(icmp, fakeEntry{ik("a", 1), []byte("old")})
	newer := newFakeTable(icmp, fakeEntry{ik("a", 2), []byte("new")})
	l1 := newFakeTable(icmp, fakeEntry{ik("b", 1), []byte("l1")})
	tc := newTestTableCache(t, map[uint64]*fakeTable{1: older, 2: newer, 3: l1})

	v := newVersion(nil, 4)
	v.files[0] = []*FileMetaData{mkFile(1, "a", "a"), mkFile(2, "a", "a")}
	v.files[1] = []*FileMetaData{mkFile(3, "b", "b")}

	var iters []TableIterator
	if err := v.AddIterators(tc, &iters); err != nil {
		t.Fatalf("AddIterators failed: %v", err)
	}
	if len(iters) != 3 {
		t.Fatalf("len(iters) = %d, want 3", len(iters))
	}
	if string(iters[0].Value()) != "old" || string(iters[1].Value()) != "new" {
		t.Fatalf("expected level-0 iterators in v.files[0] order (file 1 then file 2), got %q then %q", iters[0].Value(), iters[1].Value())
	}
	if string(iters[2].Value()) != "l1" {
		t.Fatalf("expected the level-1 iterator last, got %q", iters[2].Value())
	}
}
