package lsmcore

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lsm/lsmcore/keys"
)

// edit tags identify the fields of an encoded VersionEdit. Tag 8 is
// intentionally unused (reserved) to match the wire format this core
// persists and replays.
const (
	tagComparator     = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagCompactPointer = 5
	tagDeletedFile    = 6
	tagNewFile        = 7
	tagPrevLogNumber  = 9
)

// compactPointer records the next compaction start key for a level.
type compactPointer struct {
	level int
	key   keys.InternalKey
}

// deletedFile identifies a file removed from a level.
type deletedFile struct {
	level  int
	number uint64
}

// newFile pairs a level with the FileMetaData being added to it.
type newFile struct {
	level int
	meta  *FileMetaData
}

// VersionEdit is a delta describing a transition between Versions:
// files added and removed, updated counters, and per-level compaction
// bookmarks. It is the unit of durable change logged to the MANIFEST.
type VersionEdit struct {
	hasComparator    bool
	comparatorName   string
	hasLogNumber     bool
	logNumber        uint64
	hasPrevLogNumber bool
	prevLogNumber    uint64
	hasNextFile      bool
	nextFileNumber   uint64
	hasLastSequence  bool
	lastSequence     uint64

	compactPointers []compactPointer
	deletedFiles    []deletedFile
	newFiles        []newFile
}

// Clear resets the edit to its zero state, for reuse.
func (e *VersionEdit) Clear() {
	*e = VersionEdit{}
}

// SetComparatorName records the comparator this edit was produced
// under. Set once, on the edit that establishes a fresh MANIFEST.
func (e *VersionEdit) SetComparatorName(name string) {
	e.hasComparator = true
	e.comparatorName = name
}

// SetLogNumber records the WAL file number current as of this edit.
func (e *VersionEdit) SetLogNumber(n uint64) {
	e.hasLogNumber = true
	e.logNumber = n
}

// SetPrevLogNumber records the log file number being compacted away,
// or zero if there is none.
func (e *VersionEdit) SetPrevLogNumber(n uint64) {
	e.hasPrevLogNumber = true
	e.prevLogNumber = n
}

// SetNextFileNumber records the next file number to allocate.
func (e *VersionEdit) SetNextFileNumber(n uint64) {
	e.hasNextFile = true
	e.nextFileNumber = n
}

// SetLastSequence records the last sequence number assigned.
func (e *VersionEdit) SetLastSequence(s uint64) {
	e.hasLastSequence = true
	e.lastSequence = s
}

// SetCompactPointer records the next compaction start key for level.
func (e *VersionEdit) SetCompactPointer(level int, key keys.InternalKey) {
	e.compactPointers = append(e.compactPointers, compactPointer{level, key})
}

// AddFile records a new file at level. smallest and largest must be
// the smallest and largest internal keys actually in the file.
// refs/allowed_seeks are not part of the wire format: they are
// initialized fresh by whoever installs the file into a Version.
func (e *VersionEdit) AddFile(level int, number uint64, fileSize int64, smallest, largest keys.InternalKey) {
	e.newFiles = append(e.newFiles, newFile{
		level: level,
		meta: &FileMetaData{
			Number:   number,
			FileSize: fileSize,
			Smallest: smallest,
			Largest:  largest,
		},
	})
}

// DeleteFile records that the file numbered number is removed from
// level.
func (e *VersionEdit) DeleteFile(level int, number uint64) {
	e.deletedFiles = append(e.deletedFiles, deletedFile{level, number})
}

// Encode appends the tagged wire representation of e to dst and
// returns the extended slice.
func (e *VersionEdit) Encode(dst []byte) []byte {
	if e.hasComparator {
		dst = putUvarint(dst, tagComparator)
		dst = putLengthPrefixed(dst, []byte(e.comparatorName))
	}
	if e.hasLogNumber {
		dst = putUvarint(dst, tagLogNumber)
		dst = putUvarint(dst, e.logNumber)
	}
	if e.hasPrevLogNumber {
		dst = putUvarint(dst, tagPrevLogNumber)
		dst = putUvarint(dst, e.prevLogNumber)
	}
	if e.hasNextFile {
		dst = putUvarint(dst, tagNextFileNumber)
		dst = putUvarint(dst, e.nextFileNumber)
	}
	if e.hasLastSequence {
		dst = putUvarint(dst, tagLastSequence)
		dst = putUvarint(dst, e.lastSequence)
	}
	for _, cp := range e.compactPointers {
		dst = putUvarint(dst, tagCompactPointer)
		dst = putUvarint(dst, uint64(cp.level))
		dst = putLengthPrefixed(dst, cp.key)
	}
	for _, df := range e.deletedFiles {
		dst = putUvarint(dst, tagDeletedFile)
		dst = putUvarint(dst, uint64(df.level))
		dst = putUvarint(dst, df.number)
	}
	for _, nf := range e.newFiles {
		dst = putUvarint(dst, tagNewFile)
		dst = putUvarint(dst, uint64(nf.level))
		dst = putUvarint(dst, nf.meta.Number)
		dst = putUvarint(dst, uint64(nf.meta.FileSize))
		dst = putLengthPrefixed(dst, nf.meta.Smallest)
		dst = putLengthPrefixed(dst, nf.meta.Largest)
	}
	return dst
}

// Decode parses src, populating e. Decoding fails with ErrCorruption
// on an unknown tag or a truncated/malformed field.
func (e *VersionEdit) Decode(src []byte) error {
	e.Clear()
	for len(src) > 0 {
		tag, n := binary.Uvarint(src)
		if n <= 0 {
			return wrapCorruption(nil, "version edit: truncated tag")
		}
		src = src[n:]

		var err error
		switch tag {
		case tagComparator:
			var name []byte
			name, src, err = getLengthPrefixed(src)
			if err == nil {
				e.SetComparatorName(string(name))
			}
		case tagLogNumber:
			var v uint64
			v, src, err = getUvarint(src)
			if err == nil {
				e.SetLogNumber(v)
			}
		case tagPrevLogNumber:
			var v uint64
			v, src, err = getUvarint(src)
			if err == nil {
				e.SetPrevLogNumber(v)
			}
		case tagNextFileNumber:
			var v uint64
			v, src, err = getUvarint(src)
			if err == nil {
				e.SetNextFileNumber(v)
			}
		case tagLastSequence:
			var v uint64
			v, src, err = getUvarint(src)
			if err == nil {
				e.SetLastSequence(v)
			}
		case tagCompactPointer:
			var level uint64
			var key []byte
			level, src, err = getUvarint(src)
			if err == nil {
				key, src, err = getLengthPrefixed(src)
			}
			if err == nil {
				e.SetCompactPointer(int(level), keys.InternalKey(key))
			}
		case tagDeletedFile:
			var level, number uint64
			level, src, err = getUvarint(src)
			if err == nil {
				number, src, err = getUvarint(src)
			}
			if err == nil {
				e.DeleteFile(int(level), number)
			}
		case tagNewFile:
			var level, number uint64
			var size uint64
			var smallest, largest []byte
			level, src, err = getUvarint(src)
			if err == nil {
				number, src, err = getUvarint(src)
			}
			if err == nil {
				size, src, err = getUvarint(src)
			}
			if err == nil {
				smallest, src, err = getLengthPrefixed(src)
			}
			if err == nil {
				largest, src, err = getLengthPrefixed(src)
			}
			if err == nil {
				e.AddFile(int(level), number, int64(size), keys.InternalKey(smallest), keys.InternalKey(largest))
			}
		default:
			return wrapCorruption(nil, fmt.Sprintf("version edit: unknown tag %d", tag))
		}
		if err != nil {
			return wrapCorruption(err, "version edit: malformed field")
		}
	}
	return nil
}

func putUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

func putLengthPrefixed(dst []byte, b []byte) []byte {
	dst = putUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

func getUvarint(src []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(src)
	if n <= 0 {
		return 0, nil, fmt.Errorf("truncated varint")
	}
	return v, src[n:], nil
}

func getLengthPrefixed(src []byte) ([]byte, []byte, error) {
	l, rest, err := getUvarint(src)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < l {
		return nil, nil, fmt.Errorf("truncated length-prefixed field")
	}
	return rest[:l], rest[l:], nil
}
