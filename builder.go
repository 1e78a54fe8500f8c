package lsmcore

import (
	"fmt"
	"sort"
)

// levelState tracks one level's pending changes while a builder
// merges a sequence of edits onto a base Version.
type levelState struct {
	deleted map[uint64]struct{}
	added   []*FileMetaData
}

// versionBuilder merges a sequence of VersionEdits onto a base
// Version to produce a new Version with per-level sorted, and (for
// levels >= 1) non-overlapping, file lists.
type versionBuilder struct {
	vs     *VersionSet
	base   *Version
	levels []levelState
	fcmp   *fileComparator
}

func newVersionBuilder(vs *VersionSet, base *Version) *versionBuilder {
	b := &versionBuilder{
		vs:     vs,
		base:   base,
		levels: make([]levelState, len(base.files)),
		fcmp:   &fileComparator{icmp: vs.icmp},
	}
	for i := range b.levels {
		b.levels[i].deleted = make(map[uint64]struct{})
	}
	return b
}

// Apply folds edit's compact pointers into the owning VersionSet and
// records edit's file deletions and additions against the base
// Version's state.
func (b *versionBuilder) Apply(edit *VersionEdit) {
	for _, cp := range edit.compactPointers {
		b.vs.setCompactPointer(cp.level, cp.key)
	}
	for _, df := range edit.deletedFiles {
		if df.level < len(b.levels) {
			b.levels[df.level].deleted[df.number] = struct{}{}
		}
	}
	for _, nf := range edit.newFiles {
		if nf.level >= len(b.levels) {
			continue
		}
		meta := &FileMetaData{
			Number:       nf.meta.Number,
			FileSize:     nf.meta.FileSize,
			Smallest:     nf.meta.Smallest,
			Largest:      nf.meta.Largest,
			AllowedSeeks: AllowedSeeks(nf.meta.FileSize),
			Refs:         0,
		}
		// An edit's files are presented in arbitrary order, and may
		// be deleted again by a later edit in the same sequence (a
		// compaction's own inputs, re-added and re-removed within one
		// LogAndApply batch never happens in practice, but guard it
		// anyway since the deletion set is checked at SaveTo time,
		// not here).
		delete(b.levels[nf.level].deleted, meta.Number)
		b.levels[nf.level].added = append(b.levels[nf.level].added, meta)
	}
}

// SaveTo produces numLevels worth of merged, sorted file lists: the
// base Version's surviving files plus each level's added files, with
// deleted file numbers dropped. It asserts the non-overlapping
// invariant for levels >= 1.
func (b *versionBuilder) SaveTo(numLevels int) ([][]*FileMetaData, error) {
	result := make([][]*FileMetaData, numLevels)

	for level := 0; level < numLevels; level++ {
		var base []*FileMetaData
		if level < len(b.base.files) {
			base = b.base.files[level]
		}
		var deleted map[uint64]struct{}
		var added []*FileMetaData
		if level < len(b.levels) {
			deleted = b.levels[level].deleted
			added = b.levels[level].added
		}

		merged := make([]*FileMetaData, 0, len(base)+len(added))
		for _, f := range base {
			if _, gone := deleted[f.Number]; gone {
				continue
			}
			merged = append(merged, f)
		}
		merged = append(merged, added...)

		sort.Slice(merged, func(i, j int) bool {
			return b.fcmp.less(merged[i], merged[j])
		})

		if level > 0 {
			for i := 1; i < len(merged); i++ {
				if b.vs.icmp.Compare(merged[i-1].Largest, merged[i].Smallest) >= 0 {
					return nil, wrapCorruption(nil, fmt.Sprintf(
						"level %d: files overlap after merge (file %d largest >= file %d smallest)",
						level, merged[i-1].Number, merged[i].Number))
				}
			}
		}

		for _, f := range merged {
			f.Refs++
		}
		result[level] = merged
	}

	return result, nil
}
