package lsmcore

import (
	"fmt"

	"github.com/go-lsm/lsmcore/keys"
)

// ManifestNameNumber reports whether name looks like a MANIFEST file
// name and, if so, its file number. Exported for tools (manifestdump)
// that need to pick the newest MANIFEST out of a directory listing.
func ManifestNameNumber(name string) (uint64, bool) {
	return manifestNameNumber(name)
}

// ManifestRecordReader exposes logrecord.go's block-framed reader for
// tools outside this package (manifestdump) that need to walk a raw
// MANIFEST file's records without opening a VersionSet.
type ManifestRecordReader struct {
	r *logReader
}

// NewManifestRecordReader wraps data (the full contents of a MANIFEST
// file) for sequential record access.
func NewManifestRecordReader(data []byte) *ManifestRecordReader {
	return &ManifestRecordReader{r: newLogReader(data)}
}

// Next returns the next record's payload, or ok=false at a clean end
// of stream.
func (m *ManifestRecordReader) Next() ([]byte, bool, error) {
	return m.r.ReadRecord()
}

// DebugDeletedFile is the decoded form of one VersionEdit file
// deletion, exported for offline inspection tools.
type DebugDeletedFile struct {
	Level  int
	Number uint64
}

// DebugNewFile is the decoded form of one VersionEdit file addition.
type DebugNewFile struct {
	Level    int
	Number   uint64
	FileSize int64
	Smallest keys.InternalKey
	Largest  keys.InternalKey
}

// DebugVersionEdit is a read-only, fully exported view of a decoded
// VersionEdit, for tools that need its fields without reaching into
// this package's unexported types.
type DebugVersionEdit struct {
	HasComparator  bool
	Comparator     string
	HasLogNumber   bool
	LogNumber      uint64
	HasPrevLog     bool
	PrevLogNumber  uint64
	HasNextFile    bool
	NextFileNumber uint64
	HasLastSeq     bool
	LastSequence   uint64

	Deleted []DebugDeletedFile
	New     []DebugNewFile
}

// Decode parses data (one MANIFEST record payload) into e.
func (e *DebugVersionEdit) Decode(data []byte) error {
	var edit VersionEdit
	if err := edit.Decode(data); err != nil {
		return err
	}
	*e = DebugVersionEdit{
		HasComparator:  edit.hasComparator,
		Comparator:     edit.comparatorName,
		HasLogNumber:   edit.hasLogNumber,
		LogNumber:      edit.logNumber,
		HasPrevLog:     edit.hasPrevLogNumber,
		PrevLogNumber:  edit.prevLogNumber,
		HasNextFile:    edit.hasNextFile,
		NextFileNumber: edit.nextFileNumber,
		HasLastSeq:     edit.hasLastSequence,
		LastSequence:   edit.lastSequence,
	}
	for _, df := range edit.deletedFiles {
		e.Deleted = append(e.Deleted, DebugDeletedFile{Level: df.level, Number: df.number})
	}
	for _, nf := range edit.newFiles {
		e.New = append(e.New, DebugNewFile{
			Level: nf.level, Number: nf.meta.Number, FileSize: nf.meta.FileSize,
			Smallest: nf.meta.Smallest, Largest: nf.meta.Largest,
		})
	}
	return nil
}

// Print writes a one-line-per-field human-readable summary of e to
// stdout, prefixed by its record index n.
func (e *DebugVersionEdit) Print(n int) {
	fmt.Printf("record %d:\n", n)
	if e.HasComparator {
		fmt.Printf("  comparator: %s\n", e.Comparator)
	}
	if e.HasLogNumber {
		fmt.Printf("  log_number: %d\n", e.LogNumber)
	}
	if e.HasPrevLog {
		fmt.Printf("  prev_log_number: %d\n", e.PrevLogNumber)
	}
	if e.HasNextFile {
		fmt.Printf("  next_file_number: %d\n", e.NextFileNumber)
	}
	if e.HasLastSeq {
		fmt.Printf("  last_sequence: %d\n", e.LastSequence)
	}
	for _, df := range e.Deleted {
		fmt.Printf("  delete: level=%d number=%d\n", df.Level, df.Number)
	}
	for _, nf := range e.New {
		fmt.Printf("  add: level=%d number=%d size=%d smallest=%q largest=%q\n",
			nf.Level, nf.Number, nf.FileSize, nf.Smallest.UserKey(), nf.Largest.UserKey())
	}
}
