package segment

import "os"

// OpenFilePool opens (creating if necessary) a file-backed segment and
// wraps it in a Pool. This is the reference out-of-process pager: a real
// deployment would back Pager with a memory-mapped segment instead, but
// no repo in scope uses an mmap library (see SPEC_FULL.md), so plain
// os.File.ReadAt/WriteAt stands in here exactly as the teacher's own
// file-based writer does for HDF5 frames.
func OpenFilePool(path string, initialOffset uint64) (*Pool, *os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return NewPool(f, initialOffset), f, nil
}
