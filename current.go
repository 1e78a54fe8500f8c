package lsmcore

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// writeCurrentFile atomically points the CURRENT file at the given
// MANIFEST file number: the new contents are written to a temporary
// file and then renamed over CURRENT, so a crash mid-write never
// leaves CURRENT referencing a half-written name.
func writeCurrentFile(env Env, dir string, manifestNumber uint64) error {
	tmp := currentPath(dir) + fmt.Sprintf(".%d.tmp", manifestNumber)
	f, err := env.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(manifestFileName(manifestNumber) + "\n")); err != nil {
		f.Close()
		env.Remove(tmp)
		return wrapIOError(err, "write CURRENT temp file")
	}
	if err := f.Close(); err != nil {
		env.Remove(tmp)
		return err
	}
	if err := env.Rename(tmp, currentPath(dir)); err != nil {
		env.Remove(tmp)
		return err
	}
	return nil
}

// readCurrentFile reads CURRENT and returns the MANIFEST file number
// it names. A missing CURRENT file is reported as ErrCorruption.
func readCurrentFile(env Env, dir string) (uint64, error) {
	data, err := env.Open(currentPath(dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, wrapCorruption(err, "CURRENT file missing")
		}
		return 0, err
	}
	name := strings.TrimSpace(string(data))
	if name == "" || !strings.HasPrefix(name, "MANIFEST-") {
		return 0, wrapCorruption(nil, fmt.Sprintf("CURRENT names malformed manifest %q", name))
	}
	number, err := strconv.ParseUint(strings.TrimPrefix(name, "MANIFEST-"), 10, 64)
	if err != nil {
		return 0, wrapCorruption(err, "CURRENT: parse manifest number")
	}
	return number, nil
}
