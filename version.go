package lsmcore

import (
	"log/slog"

	"github.com/go-lsm/lsmcore/keys"
)

// Version is an immutable snapshot of the set of live table files per
// level. Versions are linked into a circular doubly-linked list owned
// by a VersionSet and kept alive by reference count so a live reader
// can never have its files deleted out from under it.
type Version struct {
	vs *VersionSet

	next, prev *Version // circular list links; sentinel excluded from files

	refs int

	files [][]*FileMetaData

	fileToCompact      *FileMetaData
	fileToCompactLevel int

	compactionScore float64
	compactionLevel int
}

// newVersion allocates a Version with an empty per-level file table
// and a self-referencing list (as if it were its own sentinel); the
// caller links it into the real chain.
func newVersion(vs *VersionSet, numLevels int) *Version {
	v := &Version{
		vs:                 vs,
		files:              make([][]*FileMetaData, numLevels),
		fileToCompactLevel: -1,
		compactionScore:    -1,
		compactionLevel:    -1,
	}
	v.next, v.prev = v, v
	return v
}

// Ref increments the reference count. Must be called with the
// VersionSet's mutex held.
func (v *Version) Ref() {
	v.refs++
}

// Unref decrements the reference count; at zero, v is unlinked from
// the chain and its files are released. Must be called with the
// VersionSet's mutex held; v must not be the current version when
// its count reaches zero in well-formed usage (the VersionSet holds
// its own ref on current).
func (v *Version) Unref() {
	v.refs--
	if v.refs < 0 {
		panic("lsmcore: Version.Unref without matching Ref")
	}
	if v.refs > 0 {
		return
	}
	v.prev.next = v.next
	v.next.prev = v.prev
	v.next, v.prev = nil, nil

	for level := range v.files {
		for _, f := range v.files[level] {
			f.Refs--
			if f.Refs == 0 {
				v.vs.obsoleteFile(f.Number)
			}
		}
	}
}

// NumFiles returns the number of files at level.
func (v *Version) NumFiles(level int) int {
	if level < 0 || level >= len(v.files) {
		return 0
	}
	return len(v.files[level])
}

// Files returns the file list for level; callers must not mutate it.
func (v *Version) Files(level int) []*FileMetaData {
	if level < 0 || level >= len(v.files) {
		return nil
	}
	return v.files[level]
}

// GetStats records which file a Get had to search without it
// producing the final result; UpdateStats charges the seek budget
// against that file.
type GetStats struct {
	SeekFile      *FileMetaData
	SeekFileLevel int
}

// Get looks up key as of the internal lookup key in lookupKey,
// consulting the TableCache for each candidate file in
// newest-to-oldest order within level 0, then at most one candidate
// per level above. The first internal key found with a user-key match
// ends the search. A seek is only charged against a file once a second
// file has to be consulted for the same lookup — a single-file lookup,
// hit or miss, never counts against that file's seek budget.
func (v *Version) Get(tc *TableCache, icmp *keys.InternalKeyComparator, lookupKey keys.InternalKey) (value []byte, stats GetStats, err error) {
	stats.SeekFileLevel = -1
	userKey := lookupKey.UserKey()

	var found bool
	var foundErr error
	var lastFile *FileMetaData
	var lastLevel int
	v.ForEachOverlapping(userKey, lookupKey, icmp, func(level int, f *FileMetaData) bool {
		if lastFile != nil && stats.SeekFile == nil {
			stats.SeekFile = lastFile
			stats.SeekFileLevel = lastLevel
		}
		lastFile, lastLevel = f, level

		ik, val, ok, gerr := tc.Get(f, lookupKey)
		if gerr != nil {
			foundErr = gerr
			return false
		}
		if !ok {
			return true
		}
		if ik.Type() == keys.TypeDeletion {
			found = true
			foundErr = ErrNotFound
			return false
		}
		value = val
		found = true
		return false
	})

	if foundErr != nil {
		return nil, stats, foundErr
	}
	if !found {
		return nil, stats, ErrNotFound
	}
	return value, stats, nil
}

// ForEachOverlapping calls fn(level, f) for every file that might
// contain userKey, in order from newest to oldest, stopping early if
// fn returns false. Level 0 candidates are visited in descending file
// number order (since L0 files may overlap and newer files shadow
// older ones); each level >= 1 contributes at most one candidate,
// found via FindFile.
func (v *Version) ForEachOverlapping(userKey keys.UserKey, internalKey keys.InternalKey, icmp *keys.InternalKeyComparator, fn func(level int, f *FileMetaData) bool) {
	if len(v.files) == 0 {
		return
	}

	l0 := append([]*FileMetaData(nil), v.files[0]...)
	for i, j := 0, len(l0)-1; i < j; i, j = i+1, j-1 {
		l0[i], l0[j] = l0[j], l0[i]
	}
	sortFilesByNumberDesc(l0)
	for _, f := range l0 {
		if userKeyInRange(icmp.UserCmp, userKey, f) {
			if !fn(0, f) {
				return
			}
		}
	}

	for level := 1; level < len(v.files); level++ {
		files := v.files[level]
		if len(files) == 0 {
			continue
		}
		i := FindFile(icmp, files, internalKey)
		if i >= len(files) {
			continue
		}
		f := files[i]
		if icmp.UserCmp.Compare(userKey, f.Smallest.UserKey()) >= 0 {
			if !fn(level, f) {
				return
			}
		}
	}
}

func sortFilesByNumberDesc(files []*FileMetaData) {
	for i := 1; i < len(files); i++ {
		for j := i; j > 0 && files[j-1].Number < files[j].Number; j-- {
			files[j-1], files[j] = files[j], files[j-1]
		}
	}
}

func userKeyInRange(ucmp keys.Comparator, userKey keys.UserKey, f *FileMetaData) bool {
	return ucmp.Compare(userKey, f.Smallest.UserKey()) >= 0 && ucmp.Compare(userKey, f.Largest.UserKey()) <= 0
}

// UpdateStats charges stats.SeekFile's seek budget; when it is
// exhausted and no file is currently nominated for compaction, it
// becomes fileToCompact. Returns whether NeedsCompaction may now be
// true. Must be called with the VersionSet's mutex held.
func (v *Version) UpdateStats(stats GetStats) bool {
	f := stats.SeekFile
	if f == nil {
		return false
	}
	f.AllowedSeeks--
	if f.AllowedSeeks <= 0 && v.fileToCompact == nil {
		v.fileToCompact = f
		v.fileToCompactLevel = stats.SeekFileLevel
		return true
	}
	return false
}

// RecordReadSample charges a seek against the first of at least two
// files overlapping internalKey's user key, approximating LevelDB's
// sampling of read bytes. Returns whether a compaction may now be
// needed. Must be called with the VersionSet's mutex held.
func (v *Version) RecordReadSample(icmp *keys.InternalKeyComparator, internalKey keys.InternalKey) bool {
	userKey := internalKey.UserKey()
	var matches []struct {
		level int
		f     *FileMetaData
	}
	v.ForEachOverlapping(userKey, internalKey, icmp, func(level int, f *FileMetaData) bool {
		matches = append(matches, struct {
			level int
			f     *FileMetaData
		}{level, f})
		return true
	})
	if len(matches) < 2 {
		return false
	}
	return v.UpdateStats(GetStats{SeekFile: matches[0].f, SeekFileLevel: matches[0].level})
}

// GetOverlappingInputs collects the files in files_[level] overlapping
// the user-key range [begin.UserKey(), end.UserKey()] (nil bounds are
// open). For level 0, because files may overlap, the scan restarts
// with an expanded range whenever a candidate widens it, until a
// fixed point is reached.
func (v *Version) GetOverlappingInputs(level int, begin, end keys.InternalKey) []*FileMetaData {
	var userBegin, userEnd keys.UserKey
	if begin != nil {
		userBegin = begin.UserKey()
	}
	if end != nil {
		userEnd = end.UserKey()
	}

	ucmp := v.icmp().UserCmp
	files := v.files[level]
	var result []*FileMetaData

restart:
	result = result[:0]
	for _, f := range files {
		fSmall, fLarge := f.Smallest.UserKey(), f.Largest.UserKey()
		if userEnd != nil && ucmp.Compare(fSmall, userEnd) > 0 {
			continue
		}
		if userBegin != nil && ucmp.Compare(fLarge, userBegin) < 0 {
			continue
		}
		result = append(result, f)
		if level == 0 {
			expanded := false
			if userBegin != nil && ucmp.Compare(fSmall, userBegin) < 0 {
				userBegin = fSmall
				expanded = true
			}
			if userEnd != nil && ucmp.Compare(fLarge, userEnd) > 0 {
				userEnd = fLarge
				expanded = true
			}
			if expanded {
				goto restart
			}
		}
	}
	return result
}

// icmp returns the InternalKeyComparator this version was built under.
func (v *Version) icmp() *keys.InternalKeyComparator {
	return v.vs.icmp
}

// OverlapInLevel reports whether any file at level overlaps the
// user-key range [smallestUserKey, largestUserKey].
func (v *Version) OverlapInLevel(level int, smallestUserKey, largestUserKey keys.UserKey) bool {
	disjoint := level > 0
	return SomeFileOverlapsRange(v.icmp(), disjoint, v.files[level], smallestUserKey, largestUserKey)
}

// PickLevelForMemTableOutput returns the level at which a freshly
// flushed memtable covering [smallestUserKey, largestUserKey] should
// be placed: as deep as possible without overlapping an existing
// level and without overlapping the grandparent level by more than
// MaxGrandParentOverlapBytes, capped at MaxMemCompactLevel.
func (v *Version) PickLevelForMemTableOutput(smallestUserKey, largestUserKey keys.UserKey, opts *Options) int {
	level := 0
	if v.OverlapInLevel(0, smallestUserKey, largestUserKey) {
		return level
	}
	for level < opts.MaxMemCompactLevel {
		if v.OverlapInLevel(level+1, smallestUserKey, largestUserKey) {
			break
		}
		if level+2 < len(v.files) {
			overlaps := v.GetOverlappingInputs(level+2, keys.NewInternalKey(smallestUserKey, keys.MaxSequenceNumber, keys.SeekValueType), keys.NewInternalKey(largestUserKey, 0, keys.TypeDeletion))
			if sumFileSize(overlaps) > opts.MaxGrandParentOverlapBytes() {
				break
			}
		}
		level++
	}
	return level
}

func sumFileSize(files []*FileMetaData) int64 {
	var total int64
	for _, f := range files {
		total += f.FileSize
	}
	return total
}

// AddIterators appends one TableIterator per level-0 file (in the
// order of the level-0 file list) and, for each level >= 1, iterators
// over that level's ordered file list, to iters.
func (v *Version) AddIterators(tc *TableCache, iters *[]TableIterator) error {
	for _, f := range v.files[0] {
		table, err := tc.FindTable(f)
		if err != nil {
			return err
		}
		*iters = append(*iters, table.NewIterator())
	}
	for level := 1; level < len(v.files); level++ {
		for _, f := range v.files[level] {
			table, err := tc.FindTable(f)
			if err != nil {
				return err
			}
			*iters = append(*iters, table.NewIterator())
		}
	}
	return nil
}

// logVersion logs a one-line summary of a version's file counts per
// level, used by VersionSet whenever it installs a version.
func logVersion(logger *slog.Logger, v *Version) {
	counts := make([]int, len(v.files))
	for i := range v.files {
		counts[i] = len(v.files[i])
	}
	logger.Debug("version installed", "files_per_level", counts, "compaction_score", v.compactionScore, "compaction_level", v.compactionLevel)
}
