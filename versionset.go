package lsmcore

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-lsm/lsmcore/keys"
)

// VersionSet owns the chain of Versions, the file-number and sequence
// counters, the per-level compaction pointers, and the MANIFEST used
// to make a VersionEdit durable before it becomes the current Version.
type VersionSet struct {
	mu sync.Mutex

	dir     string
	opts    *Options
	icmp    *keys.InternalKeyComparator
	tc      *TableCache
	env     Env
	logger  *slog.Logger
	Metrics *Metrics // optional; nil disables instrumentation

	dummyVersions Version // sentinel; next/prev form the live chain
	current       *Version

	nextFileNumber  uint64
	manifestFileNum uint64
	logNumber       uint64
	prevLogNumber   uint64
	lastSequence    uint64

	compactPointer []keys.InternalKey // one per level

	manifestFile   WritableFile
	manifestWriter *logWriter

	obsolete map[uint64]struct{}
}

// NewVersionSet creates an empty VersionSet with a single, file-less
// current Version. Callers normally follow with Recover.
func NewVersionSet(opts *Options, tc *TableCache, env Env) *VersionSet {
	if env == nil {
		env = NewOSEnv()
	}
	logger := opts.Logger
	if logger == nil {
		logger = DefaultLogger()
	}
	icmp := keys.NewInternalKeyComparator(opts.Comparator)
	vs := &VersionSet{
		dir:            opts.Dir,
		opts:           opts,
		icmp:           icmp,
		tc:             tc,
		env:            env,
		logger:         logger,
		nextFileNumber: 2,
		lastSequence:   0,
		compactPointer: make([]keys.InternalKey, opts.NumLevels),
		obsolete:       make(map[uint64]struct{}),
	}
	vs.dummyVersions.next, vs.dummyVersions.prev = &vs.dummyVersions, &vs.dummyVersions
	initial := newVersion(vs, opts.NumLevels)
	vs.appendVersion(initial)
	return vs
}

// appendVersion installs v as current, unreffing the prior current.
// Must be called with mu held.
func (vs *VersionSet) appendVersion(v *Version) {
	if vs.current != nil {
		vs.current.Unref()
	}
	vs.current = v
	v.Ref()

	v.prev = vs.dummyVersions.prev
	v.next = &vs.dummyVersions
	v.prev.next = v
	v.next.prev = v
}

// Current returns the current Version with an added reference; the
// caller must Unref it when done.
func (vs *VersionSet) Current() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.current.Ref()
	return vs.current
}

// NewFileNumber allocates the next table/manifest file number.
func (vs *VersionSet) NewFileNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	n := vs.nextFileNumber
	vs.nextFileNumber++
	return n
}

// ReuseFileNumber gives back a file number that was allocated but
// never used (the backing file was never created), so long as it is
// the most recently issued number.
func (vs *VersionSet) ReuseFileNumber(number uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.nextFileNumber == number+1 {
		vs.nextFileNumber = number
	}
}

// MarkFileNumberUsed advances the counter past number if necessary.
func (vs *VersionSet) MarkFileNumberUsed(number uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.nextFileNumber <= number {
		vs.nextFileNumber = number + 1
	}
}

// setCompactPointer records the end of the next compaction to start
// from at level. Called while applying a VersionEdit's compact
// pointers. Must be called with mu held (builder.Apply runs under
// LogAndApply's lock).
func (vs *VersionSet) setCompactPointer(level int, key keys.InternalKey) {
	if level < 0 || level >= len(vs.compactPointer) {
		return
	}
	vs.compactPointer[level] = key
}

// obsoleteFile records number as no longer referenced by any live
// Version, to be drained by ObsoleteFiles. Must be called with mu
// held (Version.Unref runs under VersionSet's lock by convention).
func (vs *VersionSet) obsoleteFile(number uint64) {
	vs.obsolete[number] = struct{}{}
	if vs.Metrics != nil {
		vs.Metrics.FilesObsoleted.Inc()
	}
}

// ObsoleteFiles drains and returns the set of file numbers that have
// become unreferenced since the last call.
func (vs *VersionSet) ObsoleteFiles() []uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	out := make([]uint64, 0, len(vs.obsolete))
	for n := range vs.obsolete {
		out = append(out, n)
	}
	vs.obsolete = make(map[uint64]struct{})
	return out
}

// LogAndApply builds a new Version by applying edit onto the current
// one, writes edit to the MANIFEST, syncs it, and only then installs
// the new Version as current. If no MANIFEST is open yet (a fresh
// VersionSet, or the first edit after Recover), it first creates a new
// MANIFEST and points CURRENT at it.
//
// Before persisting, any of log_number/prev_log_number not already set
// on edit are filled in from the VersionSet's own counters, and
// next_file_number/last_sequence are always stamped to the VersionSet's
// current values: a later Recover only sees whatever made it into the
// edit, so an edit that omits these (every compaction edit does) must
// still carry the counters forward or a recovered VersionSet could
// reissue already-used file numbers.
func (vs *VersionSet) LogAndApply(edit *VersionEdit) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if edit.hasLogNumber {
		vs.logNumber = edit.logNumber
	} else {
		edit.SetLogNumber(vs.logNumber)
	}
	if edit.hasPrevLogNumber {
		vs.prevLogNumber = edit.prevLogNumber
	} else {
		edit.SetPrevLogNumber(vs.prevLogNumber)
	}
	if edit.hasNextFile && vs.nextFileNumber < edit.nextFileNumber {
		vs.nextFileNumber = edit.nextFileNumber
	}
	if edit.hasLastSequence {
		vs.lastSequence = edit.lastSequence
	}

	builder := newVersionBuilder(vs, vs.current)
	builder.Apply(edit)
	files, err := builder.SaveTo(vs.opts.NumLevels)
	if err != nil {
		return err
	}
	v := newVersion(vs, vs.opts.NumLevels)
	v.files = files
	vs.finalizeLocked(v)

	if vs.manifestWriter == nil {
		if err := vs.createManifestLocked(); err != nil {
			return err
		}
	}

	edit.SetNextFileNumber(vs.nextFileNumber)
	edit.SetLastSequence(vs.lastSequence)

	data := edit.Encode(nil)
	if err := vs.manifestWriter.AddRecord(data); err != nil {
		return wrapIOError(err, "append version edit to manifest")
	}
	if err := vs.manifestFile.Sync(); err != nil {
		return wrapIOError(err, "sync manifest")
	}

	vs.appendVersion(v)
	logVersion(vs.logger, v)

	if vs.Metrics != nil {
		vs.Metrics.ManifestWrites.Inc()
		vs.Metrics.ManifestBytes.Add(float64(len(data)))
		vs.Metrics.VersionsInstalled.Inc()
		vs.reportLevelMetricsLocked(v)
	}
	return nil
}

// reportLevelMetricsLocked publishes per-level gauges for v. Must be
// called with mu held.
func (vs *VersionSet) reportLevelMetricsLocked(v *Version) {
	for level := 0; level < len(v.files); level++ {
		label := fmt.Sprintf("%d", level)
		vs.Metrics.LevelFiles.WithLabelValues(label).Set(float64(len(v.files[level])))
		vs.Metrics.LevelBytes.WithLabelValues(label).Set(float64(totalFileSize(v.files[level])))
	}
	vs.Metrics.CompactionScore.WithLabelValues(fmt.Sprintf("%d", v.compactionLevel)).Set(v.compactionScore)
}

// createManifestLocked opens a brand new MANIFEST file, writes a
// snapshot VersionEdit describing the current Version into it, and
// points CURRENT at it. Must be called with mu held.
func (vs *VersionSet) createManifestLocked() error {
	manifestNumber := vs.nextFileNumber
	vs.nextFileNumber++
	vs.manifestFileNum = manifestNumber

	path := manifestPath(vs.dir, manifestNumber)
	f, err := vs.env.Create(path)
	if err != nil {
		return wrapIOError(err, "create manifest file")
	}

	snapshot := &VersionEdit{}
	snapshot.SetComparatorName(vs.icmp.UserCmp.Name())
	snapshot.SetLogNumber(vs.logNumber)
	snapshot.SetPrevLogNumber(vs.prevLogNumber)
	snapshot.SetNextFileNumber(vs.nextFileNumber)
	snapshot.SetLastSequence(vs.lastSequence)
	for level, key := range vs.compactPointer {
		if key != nil {
			snapshot.SetCompactPointer(level, key)
		}
	}
	for level := 0; level < vs.opts.NumLevels; level++ {
		for _, file := range vs.current.Files(level) {
			snapshot.AddFile(level, file.Number, file.FileSize, file.Smallest, file.Largest)
		}
	}

	w := newLogWriter(f)
	if err := w.AddRecord(snapshot.Encode(nil)); err != nil {
		f.Close()
		return wrapIOError(err, "write manifest snapshot")
	}

	vs.manifestFile = f
	vs.manifestWriter = w
	return writeCurrentFile(vs.env, vs.dir, manifestNumber)
}

// Recover replays the MANIFEST pointed to by CURRENT to rebuild the
// current Version and counters. saveManifest reports whether the
// recovered MANIFEST has reached MaxManifestFileSize. Recover does not
// reopen the recovered MANIFEST for appending: whatever saveManifest
// says, the next LogAndApply starts a new MANIFEST.
func (vs *VersionSet) Recover() (saveManifest bool, err error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	manifestNumber, err := readCurrentFile(vs.env, vs.dir)
	if err != nil {
		return false, err
	}

	data, err := vs.env.Open(manifestPath(vs.dir, manifestNumber))
	if err != nil {
		return false, err
	}

	builder := newVersionBuilder(vs, vs.current)
	r := newLogReader(data)

	var (
		haveLogNumber, haveNextFile, haveLastSeq bool
		logNumber, nextFile, lastSeq             uint64
		prevLogNumber                            uint64
		comparatorName                           string
		haveComparator                           bool
	)

	for {
		record, ok, rerr := r.ReadRecord()
		if rerr != nil {
			return false, rerr
		}
		if !ok {
			break
		}
		edit := &VersionEdit{}
		if err := edit.Decode(record); err != nil {
			return false, err
		}
		if edit.hasComparator {
			comparatorName = edit.comparatorName
			haveComparator = true
		}
		if edit.hasLogNumber {
			logNumber = edit.logNumber
			haveLogNumber = true
		}
		if edit.hasPrevLogNumber {
			prevLogNumber = edit.prevLogNumber
		}
		if edit.hasNextFile {
			nextFile = edit.nextFileNumber
			haveNextFile = true
		}
		if edit.hasLastSequence {
			lastSeq = edit.lastSequence
			haveLastSeq = true
		}
		builder.Apply(edit)
	}

	if haveComparator && comparatorName != vs.icmp.UserCmp.Name() {
		return false, wrapCorruption(nil, fmt.Sprintf("manifest comparator %q does not match configured comparator %q", comparatorName, vs.icmp.UserCmp.Name()))
	}
	if !haveNextFile {
		return false, wrapCorruption(nil, "manifest missing next-file-number record")
	}
	if !haveLogNumber {
		logNumber = 0
	}
	if !haveLastSeq {
		lastSeq = 0
	}

	files, err := builder.SaveTo(vs.opts.NumLevels)
	if err != nil {
		return false, err
	}
	v := newVersion(vs, vs.opts.NumLevels)
	v.files = files
	vs.finalizeLocked(v)

	vs.logNumber = logNumber
	vs.prevLogNumber = prevLogNumber
	vs.lastSequence = lastSeq
	vs.nextFileNumber = nextFile
	vs.manifestFileNum = manifestNumber

	vs.appendVersion(v)
	logVersion(vs.logger, v)

	saveManifest = int64(len(data)) >= vs.opts.MaxManifestFileSize
	return saveManifest, nil
}

// finalizeLocked computes the level most in need of compaction and
// its score: for L0, the score is the file count over the
// configured trigger (seek latency grows with L0 file count, so it's
// not purely size-driven); for L1+, it's bytes over the level's byte
// budget. Must be called with mu held.
func (vs *VersionSet) finalizeLocked(v *Version) {
	bestLevel := -1
	bestScore := -1.0

	for level := 0; level < len(v.files)-1; level++ {
		var score float64
		if level == 0 {
			score = float64(len(v.files[0])) / float64(vs.opts.L0CompactionTrigger)
		} else {
			score = float64(totalFileSize(v.files[level])) / float64(vs.opts.MaxBytesForLevel(level))
		}
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}
	v.compactionLevel = bestLevel
	v.compactionScore = bestScore
}

func totalFileSize(files []*FileMetaData) int64 {
	var total int64
	for _, f := range files {
		total += f.FileSize
	}
	return total
}

// NeedsCompaction reports whether the current Version has a level
// whose score is at least 1, or a file that exhausted its seek budget.
func (vs *VersionSet) NeedsCompaction() bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.current.compactionScore >= 1 || vs.current.fileToCompact != nil
}

// NumLevelFiles returns the number of files at level in the current Version.
func (vs *VersionSet) NumLevelFiles(level int) int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.current.NumFiles(level)
}

// NumLevelBytes returns the summed file size at level in the current Version.
func (vs *VersionSet) NumLevelBytes(level int) int64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return totalFileSize(vs.current.Files(level))
}

// AddLiveFiles returns the set of file numbers referenced by every
// Version currently linked into the chain, used to decide which
// on-disk table files are safe to delete.
func (vs *VersionSet) AddLiveFiles() map[uint64]struct{} {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	live := make(map[uint64]struct{})
	for v := vs.dummyVersions.next; v != &vs.dummyVersions; v = v.next {
		for level := range v.files {
			for _, f := range v.files[level] {
				live[f.Number] = struct{}{}
			}
		}
	}
	return live
}

// MaxNextLevelOverlappingBytes returns, over levels 1 through
// NumLevels-2 (level 0 is not considered), the largest
// total size of level+1 files overlapping a single level file; used
// to size memtable-output-level placement heuristics.
func (vs *VersionSet) MaxNextLevelOverlappingBytes() int64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	var result int64
	v := vs.current
	for level := 1; level < len(v.files)-1; level++ {
		for _, f := range v.files[level] {
			overlaps := v.GetOverlappingInputs(level+1, f.Smallest, f.Largest)
			if size := totalFileSize(overlaps); size > result {
				result = size
			}
		}
	}
	return result
}

// Close releases the current Version and closes the MANIFEST.
func (vs *VersionSet) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.current != nil {
		vs.current.Unref()
		vs.current = nil
	}
	if vs.manifestFile != nil {
		return vs.manifestFile.Close()
	}
	return nil
}
