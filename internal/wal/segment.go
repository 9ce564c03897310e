package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// segmentFileName names a segment by the first lsn it contains, per spec
// §6's "segment files named by ascending lsn range".
func segmentFileName(firstLSN uint64) string {
	return fmt.Sprintf("%020d.wal", firstLSN)
}

var segmentNamePattern = regexp.MustCompile(`^(\d{20})\.wal$`)

// listSegments returns the segment files under dir in ascending lsn order.
func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type named struct {
		lsn  uint64
		path string
	}
	var found []named
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := segmentNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		lsn, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		found = append(found, named{lsn, filepath.Join(dir, e.Name())})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].lsn < found[j].lsn })

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths, nil
}

// openSegmentForAppend opens (creating if absent) the segment starting at
// firstLSN for append, returning the file positioned at its current end.
func openSegmentForAppend(dir string, firstLSN uint64) (*os.File, error) {
	path := filepath.Join(dir, segmentFileName(firstLSN))
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
}

// segmentFirstLSN parses the lsn a segment file's name encodes.
func segmentFirstLSN(path string) uint64 {
	name := filepath.Base(path)
	m := segmentNamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	lsn, _ := strconv.ParseUint(m[1], 10, 64)
	return lsn
}
