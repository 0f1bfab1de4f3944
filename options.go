package m0btree

import (
	"github.com/cortx-go/m0btree/internal/engine"
	"github.com/cortx-go/m0btree/internal/segment"
	"github.com/cortx-go/m0btree/internal/txn"
)

// config holds every Create/Open knob; Option mutates it. Modeled on
// scigolib-hdf5's rebalancing_options.go functional-options pattern
// (FileWriterOption/LazyOption), generalized from file-writer tuning
// knobs to tree geometry and cooperative-concurrency knobs.
type config struct {
	nodeSize           int
	ksize, vsize       uint16
	treeType, nodeType uint32
	maxTrials          int
	lockAllDefault     bool
	logger             Logger
	pager              segment.Pager
	sink               txn.Sink
}

func defaultConfig() config {
	return config{
		nodeSize:  4096,
		ksize:     8,
		vsize:     8,
		maxTrials: engine.DefaultMaxTrials,
	}
}

// Option configures a Create or Open call.
type Option func(*config)

// WithNodeSize sets the frame size in bytes; it must be a power of two in
// [512, 16*1024*1024]. Only meaningful for Create: Open recovers geometry
// from the root frame's own address.
func WithNodeSize(bytes int) Option { return func(c *config) { c.nodeSize = bytes } }

// WithKeySize sets the fixed key size in bytes. Only meaningful for Create.
func WithKeySize(n uint16) Option { return func(c *config) { c.ksize = n } }

// WithValueSize sets the fixed leaf value size in bytes. Only meaningful
// for Create.
func WithValueSize(n uint16) Option { return func(c *config) { c.vsize = n } }

// WithTreeType sets the tree-type id stamped into the root frame's
// header. Only meaningful for Create.
func WithTreeType(id uint32) Option { return func(c *config) { c.treeType = id } }

// WithNodeType sets the node-type id stamped into every frame's header.
// Only meaningful for Create.
func WithNodeType(id uint32) Option { return func(c *config) { c.nodeType = id } }

// WithMaxTrials overrides MAX_TRIALS, the number of failed CHECK
// validations an operation tolerates before escalating to whole-tree
// locking (spec.md §4.5.1/§5). Zero or negative falls back to
// engine.DefaultMaxTrials.
func WithMaxTrials(n int) Option { return func(c *config) { c.maxTrials = n } }

// WithLockAllByDefault forces every operation on the resulting Tree to
// behave as though FlagLockAll were set, skipping optimistic descent
// entirely.
func WithLockAllByDefault(b bool) Option { return func(c *config) { c.lockAllDefault = b } }

// WithLogger wires an optional logger; the engine logs CHECK-restart
// escalation to LOCKALL and the cache logs LRU purges through it.
func WithLogger(l Logger) Option { return func(c *config) { c.logger = l } }

// WithPager supplies the segment pager to format (Create) or read
// (Open) the tree in. Required for Open; Create defaults to a
// fresh in-memory segment when omitted.
func WithPager(p segment.Pager) Option { return func(c *config) { c.pager = p } }

// WithSink supplies the transaction adaptor capture sink (spec.md §4.6).
// Defaults to txn.NullSink, which discards captures.
func WithSink(s txn.Sink) Option { return func(c *config) { c.sink = s } }
