package utils

import "encoding/binary"

// ReadUint64 reads a 64-bit value at the specified offset, routed through
// the buffer pool so hot descent paths don't allocate per field read.
func ReadUint64(r ReaderAt, offset int64, order binary.ByteOrder) (uint64, error) {
	buf := GetBuffer(8)
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return order.Uint64(buf), nil
}

// ReaderAt is a simplified interface for io.ReaderAt, kept separate so
// frame-level code doesn't need to import io just to accept a reader.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

// WriterAt is the write-side counterpart of ReaderAt, satisfied by
// *os.File and by the in-memory segment used in tests.
type WriterAt interface {
	WriteAt(p []byte, off int64) (n int, err error)
}
