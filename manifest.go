package lsmcore

import (
	"strings"

	"github.com/go-lsm/lsmcore/keys"
)

// TableMetadataReader extracts the persisted key range and size of a
// table file whose MANIFEST entry has been lost, for use by
// RebuildManifestFromTables. The block format behind it is an
// external collaborator; this core only needs the range and size it
// reports.
type TableMetadataReader func(path string, number uint64) (smallest, largest keys.InternalKey, fileSize int64, err error)

// RebuildManifestFromTables reconstructs a fresh MANIFEST by scanning
// every table file named by tableNumbers and reading each one's key range
// with read. Every recovered file is placed at level 0: without a
// MANIFEST there is no record of which level a file belonged to, and
// L0's overlap-tolerant invariant makes it the only safe landing
// spot. This is a last-resort recovery path for when CURRENT or its
// MANIFEST is missing or corrupt; callers normally prefer Recover.
func (vs *VersionSet) RebuildManifestFromTables(tableNumbers []uint64, read TableMetadataReader) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	edit := &VersionEdit{}
	edit.SetComparatorName(vs.icmp.UserCmp.Name())

	var maxNumber uint64
	for _, number := range tableNumbers {
		smallest, largest, fileSize, err := read(tablePath(vs.dir, number), number)
		if err != nil {
			return err
		}
		edit.AddFile(0, number, fileSize, smallest, largest)
		if number > maxNumber {
			maxNumber = number
		}
	}
	if maxNumber >= vs.nextFileNumber {
		vs.nextFileNumber = maxNumber + 1
	}
	edit.SetNextFileNumber(vs.nextFileNumber)
	edit.SetLastSequence(vs.lastSequence)

	builder := newVersionBuilder(vs, vs.current)
	builder.Apply(edit)
	files, err := builder.SaveTo(vs.opts.NumLevels)
	if err != nil {
		return err
	}
	v := newVersion(vs, vs.opts.NumLevels)
	v.files = files
	vs.finalizeLocked(v)

	if vs.manifestWriter != nil {
		vs.manifestFile.Close()
		vs.manifestWriter = nil
		vs.manifestFile = nil
	}

	vs.appendVersion(v)
	// createManifestLocked snapshots vs.current, so it must run after
	// the rebuilt version is installed or the recovered files would
	// never reach the new MANIFEST.
	if err := vs.createManifestLocked(); err != nil {
		return err
	}
	logVersion(vs.logger, v)
	return nil
}

// manifestNameNumber reports whether name looks like a MANIFEST file
// name and, if so, its file number.
func manifestNameNumber(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "MANIFEST-") {
		return 0, false
	}
	n, err := parseFileNumber(strings.TrimPrefix(name, "MANIFEST-"))
	if err != nil {
		return 0, false
	}
	return n, true
}
