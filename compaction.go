package lsmcore

import (
	"github.com/go-lsm/lsmcore/keys"
)

// Compaction describes one compaction job: the input files drawn
// from level and level+1, the grandparent files (level+2) whose
// overlap bounds how many output files the job may produce, and the
// scan state used while building those outputs. A Compaction never
// mutates existing files or Versions; the executor that runs it reads
// the inputs through a TableCache and produces a VersionEdit
// describing the resulting deletions and additions.
type Compaction struct {
	level        int
	version      *Version // the Version inputs were drawn from; held with a Ref
	inputs       [2][]*FileMetaData
	grandparents []*FileMetaData

	maxOutputFileSize int64

	grandparentIndex int
	seenKey          bool
	overlappedBytes  int64

	levelPtrs []int // one per level above level+1, for IsBaseLevelForKey

	compactPointerKey keys.InternalKey // set by setupOtherInputsLocked; recorded into the edit by RecordCompactPointer
}

// OutputLevel returns the level compaction output is written to.
func (c *Compaction) OutputLevel() int { return c.level + 1 }

// Level returns the compaction's primary input level.
func (c *Compaction) Level() int { return c.level }

// Inputs returns the files drawn from level (which == 0) or level+1
// (which == 1).
func (c *Compaction) Inputs(which int) []*FileMetaData { return c.inputs[which] }

// NumInputFiles returns the total number of input files across both levels.
func (c *Compaction) NumInputFiles() int {
	return len(c.inputs[0]) + len(c.inputs[1])
}

// IsTrivialMove reports whether this compaction can be satisfied by
// re-parenting its single input file to the output level without
// rewriting it: exactly one file at the input level, nothing at
// level+1, and not so much grandparent overlap that the move would
// make the next compaction of level+1 pathologically expensive.
func (c *Compaction) IsTrivialMove() bool {
	return len(c.inputs[0]) == 1 && len(c.inputs[1]) == 0 &&
		sumFileSize(c.grandparents) <= c.maxGrandParentOverlapBytes()
}

func (c *Compaction) maxGrandParentOverlapBytes() int64 {
	return c.maxOutputFileSize * 10
}

// ShouldStopBefore reports whether the output builder should close
// the current output file and start a new one before appending
// internalKey: true once the accumulated overlap with grandparent
// files the scan has passed exceeds the overlap budget. seenKey
// guards the very first call so the initial cursor position never
// counts as overlap.
func (c *Compaction) ShouldStopBefore(internalKey keys.InternalKey, icmp *keys.InternalKeyComparator) bool {
	firstCall := !c.seenKey
	c.seenKey = true

	for c.grandparentIndex < len(c.grandparents) &&
		icmp.Compare(internalKey, c.grandparents[c.grandparentIndex].Largest) > 0 {
		if !firstCall {
			c.overlappedBytes += c.grandparents[c.grandparentIndex].FileSize
		}
		c.grandparentIndex++
	}

	if c.overlappedBytes > c.maxGrandParentOverlapBytes() {
		c.overlappedBytes = 0
		return true
	}
	return false
}

// IsBaseLevelForKey reports whether no file at any level below this
// compaction's output level could contain userKey, which means a
// Deletion tombstone for userKey encountered during this compaction
// is safe to drop: nothing older remains to be shadowed.
func (c *Compaction) IsBaseLevelForKey(userKey keys.UserKey, ucmp keys.Comparator) bool {
	for level := c.level + 2; level < len(c.version.files); level++ {
		files := c.version.files[level]
		ptrIdx := level - (c.level + 2)
		for c.levelPtrs[ptrIdx] < len(files) {
			f := files[c.levelPtrs[ptrIdx]]
			if ucmp.Compare(userKey, f.Largest.UserKey()) <= 0 {
				if ucmp.Compare(userKey, f.Smallest.UserKey()) >= 0 {
					return false
				}
				break
			}
			c.levelPtrs[ptrIdx]++
		}
	}
	return true
}

// AddInputDeletions records every input file's deletion in edit.
func (c *Compaction) AddInputDeletions(edit *VersionEdit) {
	for which := 0; which < 2; which++ {
		for _, f := range c.inputs[which] {
			edit.DeleteFile(c.level+which, f.Number)
		}
	}
}

// RecordCompactPointer carries the compact pointer setupOtherInputsLocked
// advanced for this compaction's level into edit, so a recovered
// VersionSet resumes round-robin compaction from the same place instead
// of restarting at the first file every time.
func (c *Compaction) RecordCompactPointer(edit *VersionEdit) {
	if c.compactPointerKey != nil {
		edit.SetCompactPointer(c.level, c.compactPointerKey)
	}
}

// ReleaseInputs releases the reference this Compaction holds on the
// Version its inputs were drawn from. Must be called exactly once,
// when the compaction (successful or not) is done reading.
func (c *Compaction) ReleaseInputs() {
	if c.version != nil {
		c.version.Unref()
		c.version = nil
	}
}

// PickCompaction chooses the next compaction to run, preferring a
// size-driven level (compaction_score >= 1) over a seek-driven single
// file, and returns nil if neither applies.
func (vs *VersionSet) PickCompaction() *Compaction {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v := vs.current
	sizeDriven := v.compactionScore >= 1
	var level int
	var c *Compaction

	if sizeDriven {
		level = v.compactionLevel
		files := v.files[level]
		var picked *FileMetaData
		pointer := vs.compactPointer[level]
		for _, f := range files {
			if pointer == nil || vs.icmp.Compare(f.Largest, pointer) > 0 {
				picked = f
				break
			}
		}
		if picked == nil && len(files) > 0 {
			picked = files[0]
		}
		if picked == nil {
			return nil
		}
		c = vs.newCompaction(level)
		c.inputs[0] = []*FileMetaData{picked}
	} else if v.fileToCompact != nil {
		level = v.fileToCompactLevel
		c = vs.newCompaction(level)
		c.inputs[0] = []*FileMetaData{v.fileToCompact}
	} else {
		return nil
	}

	if level == 0 {
		smallest, largest := inputRange(vs.icmp, c.inputs[0])
		c.inputs[0] = v.GetOverlappingInputs(0, smallest, largest)
	}

	vs.setupOtherInputsLocked(c)
	if vs.Metrics != nil {
		vs.Metrics.CompactionsStarted.Inc()
	}
	return c
}

// newCompaction allocates a Compaction pinned to the current Version.
// Must be called with mu held.
func (vs *VersionSet) newCompaction(level int) *Compaction {
	vs.current.Ref()
	return &Compaction{
		level:             level,
		version:           vs.current,
		maxOutputFileSize: vs.opts.TargetFileSize,
		levelPtrs:         make([]int, max(0, len(vs.current.files)-(level+2))),
	}
}

// setupOtherInputsLocked fills in c.inputs[1] and c.grandparents, and
// attempts to widen c.inputs[0] without growing c.inputs[1]. Must be
// called with mu held.
func (vs *VersionSet) setupOtherInputsLocked(c *Compaction) {
	v := c.version
	level := c.level

	smallest, largest := inputRange(vs.icmp, c.inputs[0])
	c.inputs[1] = v.GetOverlappingInputs(level+1, smallest, largest)

	allSmallest, allLargest := inputRange(vs.icmp, append(append([]*FileMetaData{}, c.inputs[0]...), c.inputs[1]...))

	if len(c.inputs[1]) > 0 {
		expanded0 := v.GetOverlappingInputs(level, allSmallest, allLargest)
		if len(expanded0) > len(c.inputs[0]) {
			expSmallest, expLargest := inputRange(vs.icmp, expanded0)
			expanded1 := v.GetOverlappingInputs(level+1, expSmallest, expLargest)
			if len(expanded1) == len(c.inputs[1]) &&
				sumFileSize(expanded0)+sumFileSize(expanded1) < vs.opts.ExpandedCompactionByteSizeLimit() {
				c.inputs[0] = expanded0
				c.inputs[1] = expanded1
				allSmallest, allLargest = inputRange(vs.icmp, append(append([]*FileMetaData{}, c.inputs[0]...), c.inputs[1]...))
			}
		}
	}

	if level+2 < len(v.files) {
		c.grandparents = v.GetOverlappingInputs(level+2, allSmallest, allLargest)
	}

	c.compactPointerKey = c.inputs[0][len(c.inputs[0])-1].Largest
	vs.compactPointer[level] = c.compactPointerKey
}

// CompactRange builds a Compaction covering the user-key range
// [begin, end] at level, for manually triggered or base-level-aware
// compaction rather than the automatic size/seek driver. For level
// >= 1, the input set is capped at MaxFileSizeForLevel to bound the
// resulting job's cost.
func (vs *VersionSet) CompactRange(level int, begin, end keys.InternalKey) *Compaction {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	v := vs.current
	inputs := v.GetOverlappingInputs(level, begin, end)
	if len(inputs) == 0 {
		return nil
	}

	if level > 0 {
		var total int64
		limit := vs.opts.MaxFileSizeForLevel(level)
		capped := inputs[:0:0]
		for _, f := range inputs {
			if total+f.FileSize > limit && len(capped) > 0 {
				break
			}
			capped = append(capped, f)
			total += f.FileSize
		}
		inputs = capped
	}

	c := vs.newCompaction(level)
	c.inputs[0] = inputs
	vs.setupOtherInputsLocked(c)
	return c
}

// inputRange returns the smallest and largest internal keys spanned
// by files, which must be non-empty.
func inputRange(icmp *keys.InternalKeyComparator, files []*FileMetaData) (smallest, largest keys.InternalKey) {
	smallest, largest = files[0].Smallest, files[0].Largest
	for _, f := range files[1:] {
		if icmp.Compare(f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if icmp.Compare(f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	return smallest, largest
}
