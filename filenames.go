package lsmcore

import (
	"fmt"
	"strconv"
)

// manifestFileName returns the on-disk name of the MANIFEST numbered
// number, e.g. "MANIFEST-000123".
func manifestFileName(number uint64) string {
	return fmt.Sprintf("MANIFEST-%06d", number)
}

// tableFileName returns the on-disk name of the table file numbered
// number.
func tableFileName(number uint64) string {
	return fmt.Sprintf("%06d.sst", number)
}

// parseFileNumber parses the numeric portion of a manifestFileName or
// tableFileName back into a file number.
func parseFileNumber(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
