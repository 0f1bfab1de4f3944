// Package txn implements the transaction adaptor: credit estimation and
// capture of modified node-frame byte ranges into an external write-ahead
// log. This package models the log itself as an out-of-scope external
// collaborator (spec §1); Sink is the seam the engine calls into, the way
// scigolib-hdf5/internal/structures/btreev2_write.go's WriteToFile keeps
// the B-tree encoder decoupled from a concrete file via its Writer and
// Allocator collaborator interfaces.
package txn

import (
	"sync"

	"github.com/cortx-go/m0btree/internal/addr"
	"github.com/cortx-go/m0btree/internal/node"
)

// OpKind names the operation a credit estimate is for.
type OpKind uint8

const (
	OpGet OpKind = iota
	OpPut
	OpDel
	OpIter
)

// Estimate is an upper bound on the bytes an operation will dirty across
// node frames, used to pre-reserve log capacity before descent begins.
type Estimate struct {
	Bytes int
}

// Sink is the capture interface the engine calls into. IncRef/DecRef keep
// a per-frame transaction count inside the sink itself; the engine does
// not call them, and the count is not copied into
// cache.Descriptor.TxnRefcount, the field internal/cache.Purge checks
// before evicting.
type Sink interface {
	// Credit estimates, from tree height and operation kind, an upper
	// bound on dirtied bytes.
	Credit(op OpKind, height int) Estimate
	// Capture reports that ranges within the frame at a were modified.
	Capture(a addr.Addr, ranges []node.Range) error
	// IncRef/DecRef track a frame's participation in an open transaction.
	IncRef(a addr.Addr)
	DecRef(a addr.Addr)
}

// bytesPerFrameTouch is a conservative per-frame estimate used by the
// default Credit implementations: a header rewrite plus one footer.
const bytesPerFrameTouch = 64

// NullSink discards captures; useful for tests that don't exercise
// crash-safety replay.
type NullSink struct{}

func (NullSink) Credit(op OpKind, height int) Estimate {
	return Estimate{Bytes: (height + 1) * bytesPerFrameTouch}
}
func (NullSink) Capture(addr.Addr, []node.Range) error { return nil }
func (NullSink) IncRef(addr.Addr)                      {}
func (NullSink) DecRef(addr.Addr)                       {}

// Capture is one recorded (address, range, bytes) triple, the unit the
// RecordingSink accumulates and that a replay step would apply to a blank
// segment to reproduce the live tree's final contents (spec.md S6).
type Capture struct {
	Addr   addr.Addr
	Range  node.Range
	Bytes  []byte
}

// RecordingSink captures every dirtied range into an in-memory log,
// supporting the S6 replay property: replaying captures against a blank
// segment yields the same final tree contents as the live operation.
type RecordingSink struct {
	mu       sync.Mutex
	log      []Capture
	refcount map[addr.Addr]int
	snapshot func(a addr.Addr) []byte
}

// NewRecordingSink creates a sink that, on Capture, reads the current
// frame contents for the touched range via snapshot (typically the
// pager's ReadFrame) so the log holds concrete bytes, not just offsets.
func NewRecordingSink(snapshot func(a addr.Addr) []byte) *RecordingSink {
	return &RecordingSink{snapshot: snapshot, refcount: make(map[addr.Addr]int)}
}

func (s *RecordingSink) Credit(op OpKind, height int) Estimate {
	return Estimate{Bytes: (height + 1) * bytesPerFrameTouch}
}

func (s *RecordingSink) Capture(a addr.Addr, ranges []node.Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.snapshot(a)
	for _, r := range ranges {
		if r.Offset < 0 || r.Offset+r.Length > len(frame) {
			continue
		}
		data := append([]byte(nil), frame[r.Offset:r.Offset+r.Length]...)
		s.log = append(s.log, Capture{Addr: a, Range: r, Bytes: data})
	}
	return nil
}

func (s *RecordingSink) IncRef(a addr.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refcount[a]++
}

func (s *RecordingSink) DecRef(a addr.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refcount[a] > 0 {
		s.refcount[a]--
	}
}

// RefCount reports a's current transaction refcount.
func (s *RecordingSink) RefCount(a addr.Addr) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refcount[a]
}

// Log returns a snapshot of every capture recorded so far, in order.
func (s *RecordingSink) Log() []Capture {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Capture, len(s.log))
	copy(out, s.log)
	return out
}

// Replay applies every captured range, in order, to apply (typically a
// blank segment's WriteFrame), reproducing the live tree's on-segment
// contents from the capture log alone.
func Replay(log []Capture, apply func(a addr.Addr, offset int, data []byte) error) error {
	for _, c := range log {
		if err := apply(c.Addr, c.Range.Offset, c.Bytes); err != nil {
			return err
		}
	}
	return nil
}
