package alias

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"

	"github.com/akervik/framegraph/syncutils"
)

// MemoryBlock is a pooled region of device memory. Blocks are created lazily
// and never destroyed or shrunk; a block whose last bound resource is dead
// (completed, or causally before the next user) is reused in place.
type MemoryBlock struct {
	id        int
	size      int
	alignment uint
	dedicated bool

	// Last pass per queue still reading or writing a resource bound to this
	// block.
	inUseUntil syncutils.QueueSerialNumbers
}

// ID returns the pool-unique identifier of the block.
func (b *MemoryBlock) ID() int {
	return b.id
}

// Size returns the size of the block in bytes.
func (b *MemoryBlock) Size() int {
	return b.size
}

// IsDedicated reports whether the block is exclusively bound to a persistent
// resource and excluded from aliasing.
func (b *MemoryBlock) IsDedicated() bool {
	return b.dedicated
}

// InUseUntil returns the last pass per queue still using the block.
func (b *MemoryBlock) InUseUntil() syncutils.QueueSerialNumbers {
	return b.inUseUntil
}

// Request describes one transient resource that needs memory for the frame
// being flushed. The live span of the resource is fully known at that point:
// Preds is the predecessor frontier of the pass that first accesses it, and
// LastAccess the last pass per queue that touches it.
type Request struct {
	Name      string
	Size      int
	Alignment uint

	FirstAccess syncutils.SubmissionNumber
	Preds       syncutils.QueueSerialNumbers
	LastAccess  syncutils.QueueSerialNumbers
}

// Binding is the result of assigning a request to a block.
type Binding struct {
	Name   string
	Block  int
	Offset int
}

// PoolCreateOptions configures the growth budget of a Pool. A zero value
// means unlimited.
type PoolCreateOptions struct {
	MaxBlocks int
	MaxBytes  int
}

// Pool owns the memory blocks shared by transient resources across frames.
// Assignment runs once per frame flush with complete lifetime information,
// using a first-fit-decreasing heuristic: optimal packing is not decidable
// without visibility into future frames, so the pool settles for a safe,
// fragmentation-aware approximation.
//
// A Pool is not safe for concurrent use.
type Pool struct {
	logger *slog.Logger

	maxBlocks int
	maxBytes  int

	blocks      []*MemoryBlock
	totalBytes  int
	nextBlockId int
}

// New creates an empty Pool. If logger is nil, slog.Default() is used.
func New(logger *slog.Logger, options PoolCreateOptions) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:    logger,
		maxBlocks: options.MaxBlocks,
		maxBytes:  options.MaxBytes,
	}
}

// BlockCount returns the number of blocks currently owned by the pool,
// including dedicated ones.
func (p *Pool) BlockCount() int {
	return len(p.blocks)
}

// Block returns the block with the given id, or nil.
func (p *Pool) Block(id int) *MemoryBlock {
	for _, b := range p.blocks {
		if b.id == id {
			return b
		}
	}
	return nil
}

// Assign maps each request to a memory block such that no two requests with
// overlapping live spans share a block. Requests are processed in decreasing
// size order. A block can be reused when, on every queue, its last recorded
// use either has completed or is dominated by the requesting resource's
// predecessor frontier, i.e. reuse rides on dependencies that normal
// execution order already satisfies. Among eligible blocks the one with the
// smallest additional wait cost wins, ties broken by smallest sufficient
// size, then lowest id.
func (p *Pool) Assign(requests []Request, completed syncutils.QueueSerialNumbers) ([]Binding, error) {
	order := make([]int, len(requests))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) bool {
		return requests[a].Size > requests[b].Size
	})

	bindings := make([]Binding, len(requests))

	for _, i := range order {
		req := &requests[i]
		if req.Alignment != 0 {
			syncutils.DebugCheckPow2(req.Alignment, "request alignment")
		}

		block := p.findReusable(req, completed)
		if block == nil {
			var err error
			block, err = p.grow(req.Size, req.Alignment)
			if err != nil {
				return nil, cerrors.Wrapf(err, "assigning memory for %q", req.Name)
			}
			p.logger.Debug("allocated transient block",
				slog.Int("block", block.id),
				slog.Int("size", block.size),
				slog.String("resource", req.Name))
		} else {
			p.logger.Debug("aliased transient block",
				slog.Int("block", block.id),
				slog.Int("size", block.size),
				slog.String("resource", req.Name),
				slog.String("freeAfter", blockSerialsString(block)))
		}

		block.inUseUntil.JoinAssign(req.LastAccess)
		bindings[i] = Binding{
			Name:   req.Name,
			Block:  block.id,
			Offset: 0,
		}
	}

	return bindings, nil
}

// findReusable scans existing blocks for the best eligible fit, or nil.
func (p *Pool) findReusable(req *Request, completed syncutils.QueueSerialNumbers) *MemoryBlock {
	var (
		best     *MemoryBlock
		bestCost uint64
	)
	for _, b := range p.blocks {
		if b.dedicated || b.size < req.Size {
			continue
		}
		if req.Alignment != 0 && b.alignment < req.Alignment {
			continue
		}
		cost, eligible := reuseCost(b, req, completed)
		if !eligible {
			continue
		}
		if best == nil || cost < bestCost || (cost == bestCost && b.size < best.size) {
			best = b
			bestCost = cost
		}
	}
	return best
}

// reuseCost decides whether a block can be reused for the request without an
// artificial wait, and if so at what cost. The cost is the maximum serial
// gap, across queues, between the block's last use and the request's first
// access.
func reuseCost(b *MemoryBlock, req *Request, completed syncutils.QueueSerialNumbers) (uint64, bool) {
	var cost uint64
	for q := 0; q < syncutils.MaxQueues; q++ {
		until := b.inUseUntil[q]
		if until == 0 {
			continue
		}
		if until > completed[q] && until > req.Preds[q] {
			return 0, false
		}
		gap := req.FirstAccess.Serial() - until
		if gap > cost {
			cost = gap
		}
	}
	return cost, true
}

func (p *Pool) grow(size int, alignment uint) (*MemoryBlock, error) {
	if alignment != 0 {
		size = syncutils.AlignUp(size, alignment)
	}
	if p.maxBlocks != 0 && len(p.blocks) >= p.maxBlocks {
		return nil, cerrors.Wrapf(syncutils.ExhaustedPoolError, "pool already holds %d blocks", len(p.blocks))
	}
	if p.maxBytes != 0 && p.totalBytes+size > p.maxBytes {
		return nil, cerrors.Wrapf(syncutils.ExhaustedPoolError, "pool holds %d of %d bytes, block of %d requested", p.totalBytes, p.maxBytes, size)
	}

	block := &MemoryBlock{
		id:        p.nextBlockId,
		size:      size,
		alignment: alignment,
	}
	p.nextBlockId++
	p.blocks = append(p.blocks, block)
	p.totalBytes += size
	return block, nil
}

// AllocateDedicated creates a block exclusively bound to one resource.
// Dedicated blocks are skipped by Assign until released.
func (p *Pool) AllocateDedicated(name string, size int, alignment uint) (*MemoryBlock, error) {
	block, err := p.grow(size, alignment)
	if err != nil {
		return nil, cerrors.Wrapf(err, "allocating dedicated memory for %q", name)
	}
	block.dedicated = true
	p.logger.Debug("allocated dedicated block",
		slog.Int("block", block.id),
		slog.Int("size", block.size),
		slog.String("resource", name))
	return block, nil
}

// ReleaseDedicated returns a dedicated block to the aliasing pool. lastUse
// must carry the last pass per queue that touched the bound resource, so
// reuse waits for them.
func (p *Pool) ReleaseDedicated(id int, lastUse syncutils.QueueSerialNumbers) error {
	block := p.Block(id)
	if block == nil {
		return errors.Errorf("no block with id %d", id)
	}
	if !block.dedicated {
		return errors.Errorf("block %d is not dedicated", id)
	}
	block.dedicated = false
	block.inUseUntil = lastUse
	return nil
}

// AddDetailedStatistics accumulates the pool's block inventory into stats.
func (p *Pool) AddDetailedStatistics(stats *syncutils.DetailedPoolStatistics) {
	for _, b := range p.blocks {
		stats.AddBlock(b.size)
		if b.dedicated {
			stats.DedicatedBlocks++
		}
	}
}

// PoolJsonData writes the pool's block inventory into an open JSON object.
func (p *Pool) PoolJsonData(json jwriter.ObjectState) {
	json.Name("TotalBytes").Int(p.totalBytes)
	json.Name("BlockCount").Int(len(p.blocks))
	blocks := json.Name("Blocks").Array()
	for _, b := range p.blocks {
		obj := blocks.Object()
		obj.Name("Id").Int(b.id)
		obj.Name("Size").Int(b.size)
		obj.Name("Dedicated").Bool(b.dedicated)
		until := obj.Name("InUseUntil").Array()
		for q := 0; q < syncutils.MaxQueues; q++ {
			until.Int(int(b.inUseUntil[q]))
		}
		until.End()
		obj.End()
	}
	blocks.End()
}

// Validate checks the pool's byte accounting and id uniqueness.
func (p *Pool) Validate() error {
	total := 0
	seen := map[int]bool{}
	for _, b := range p.blocks {
		if seen[b.id] {
			return errors.Errorf("duplicate block id %d", b.id)
		}
		seen[b.id] = true
		if b.size <= 0 {
			return errors.Errorf("block %d has non-positive size %d", b.id, b.size)
		}
		total += b.size
	}
	if total != p.totalBytes {
		return errors.Errorf("pool accounts %d bytes, blocks sum to %d", p.totalBytes, total)
	}
	return nil
}

var _ syncutils.Validatable = &Pool{}

func blockSerialsString(b *MemoryBlock) string {
	s := ""
	for q := 0; q < syncutils.MaxQueues; q++ {
		if b.inUseUntil[q] == 0 {
			continue
		}
		if s != "" {
			s += ","
		}
		s += syncutils.NewSubmissionNumber(q, b.inUseUntil[q]).String()
	}
	return s
}
