package lsmcore

import (
	"sort"

	"github.com/go-lsm/lsmcore/keys"
)

// FileMetaData describes one on-disk table file. The block format
// behind it is out of scope for this core; the file is addressed
// purely by number and exercised through a TableCache.
type FileMetaData struct {
	Number       uint64
	FileSize     int64
	Smallest     keys.InternalKey
	Largest      keys.InternalKey
	Refs         int
	AllowedSeeks int
}

// NewFileMetaData builds a FileMetaData with its seek budget
// initialized from the file size.
func NewFileMetaData(number uint64, fileSize int64, smallest, largest keys.InternalKey) *FileMetaData {
	return &FileMetaData{
		Number:       number,
		FileSize:     fileSize,
		Smallest:     smallest,
		Largest:      largest,
		AllowedSeeks: AllowedSeeks(fileSize),
	}
}

// fileComparator orders FileMetaData by smallest internal key, file
// number breaking ties. Builder.SaveTo and level-0 fixed-point
// expansion both rely on this order.
type fileComparator struct {
	icmp *keys.InternalKeyComparator
}

func (c *fileComparator) less(a, b *FileMetaData) bool {
	if cmp := c.icmp.Compare(a.Smallest, b.Smallest); cmp != 0 {
		return cmp < 0
	}
	return a.Number < b.Number
}

// FindFile returns the smallest index i such that files[i].Largest >=
// key, or len(files) if no such file exists. Requires files to be
// sorted and non-overlapping (levels >= 1).
func FindFile(icmp *keys.InternalKeyComparator, files []*FileMetaData, key keys.InternalKey) int {
	return sort.Search(len(files), func(i int) bool {
		return icmp.Compare(files[i].Largest, key) >= 0
	})
}

// SomeFileOverlapsRange reports whether any file in files overlaps the
// user-key range [smallestUserKey, largestUserKey]. A nil bound is an
// open interval on that side. When disjointSorted is true (levels >=
// 1), files must be sorted and non-overlapping and FindFile drives a
// binary search; otherwise every file is checked (level 0).
func SomeFileOverlapsRange(
	icmp *keys.InternalKeyComparator,
	disjointSorted bool,
	files []*FileMetaData,
	smallestUserKey, largestUserKey keys.UserKey,
) bool {
	ucmp := icmp.UserCmp

	if !disjointSorted {
		for _, f := range files {
			if afterFile(ucmp, smallestUserKey, f) || beforeFile(ucmp, largestUserKey, f) {
				continue
			}
			return true
		}
		return false
	}

	var index int
	if smallestUserKey != nil {
		lookup := keys.NewInternalKey(smallestUserKey, keys.MaxSequenceNumber, keys.SeekValueType)
		index = FindFile(icmp, files, lookup)
	}
	if index >= len(files) {
		return false
	}
	return !beforeFile(ucmp, largestUserKey, files[index])
}

// afterFile reports whether userKey is strictly greater than every
// key in f; nil means "after all keys" and never satisfies this.
func afterFile(ucmp keys.Comparator, userKey keys.UserKey, f *FileMetaData) bool {
	return userKey != nil && ucmp.Compare(userKey, f.Largest.UserKey()) > 0
}

// beforeFile reports whether userKey is strictly less than every key
// in f; nil means "before all keys" and never satisfies this.
func beforeFile(ucmp keys.Comparator, userKey keys.UserKey, f *FileMetaData) bool {
	return userKey != nil && ucmp.Compare(userKey, f.Smallest.UserKey()) < 0
}
