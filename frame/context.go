package frame

import (
	"context"

	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"

	"github.com/akervik/framegraph/frame/internal/utils"
	"github.com/akervik/framegraph/syncutils"
	"github.com/akervik/framegraph/syncutils/alias"
	"github.com/akervik/framegraph/syncutils/reach"
)

// ContextCreateFlags indicate specific context behaviors to activate or deactivate
type ContextCreateFlags int32

var contextCreateFlagsMapping = common.NewFlagStringMapping[ContextCreateFlags]()

func (f ContextCreateFlags) Register(str string) {
	contextCreateFlagsMapping.Register(f, str)
}
func (f ContextCreateFlags) String() string {
	return contextCreateFlagsMapping.FlagsToString(f)
}

const (
	// ContextCreateExternallySynchronized ensures that this context will not be synchronized
	// internally. The consumer must guarantee it is used from only one thread at a time or is
	// synchronized by some other mechanism, but performance may improve because internal
	// mutexes are not used.
	ContextCreateExternallySynchronized ContextCreateFlags = 1 << iota
	// ContextCreateDenseGraph tracks pass ordering with a dense reachability
	// matrix instead of predecessor frontiers. The matrix answers ordering
	// queries exactly but costs quadratic memory in the frame's pass count.
	ContextCreateDenseGraph
)

func init() {
	ContextCreateExternallySynchronized.Register("ContextCreateExternallySynchronized")
	ContextCreateDenseGraph.Register("ContextCreateDenseGraph")
}

// QueueInfo describes one device queue passes can be registered on.
type QueueInfo struct {
	// Capabilities restricts the pipeline stages passes on this queue may
	// declare.
	Capabilities syncutils.QueueFlags
}

// TimelineWaiter blocks until each queue's timeline semaphore reaches the
// given value. The submission layer provides the implementation; a zero
// serial for a queue means no wait on that queue.
type TimelineWaiter interface {
	WaitForTimelines(ctx context.Context, serials syncutils.QueueSerialNumbers) error
}

// ContextCreateOptions contains optional settings when creating a context
type ContextCreateOptions struct {
	// Flags indicates specific context behaviors to activate or deactivate
	Flags ContextCreateFlags

	// Queues describes the device queues. When empty, a single queue with
	// all capabilities is assumed.
	Queues []QueueInfo

	// Logger receives debug and leak diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// PoolOptions limits the transient memory pool.
	PoolOptions alias.PoolCreateOptions

	// Waiter is consulted by WaitForSerials. Optional; without it
	// WaitForSerials can only succeed for serials already reported through
	// NotifyCompleted.
	Waiter TimelineWaiter
}

// Context owns the resource table, the dependency tracker and the transient
// memory pool, and drives the frame lifecycle. All device interaction is
// delegated to the caller through the SubmissionPlan it produces.
type Context struct {
	mutex  utils.OptionalRWMutex
	logger *slog.Logger

	queues  []QueueInfo
	arena   resourceArena
	tracker *reach.Tracker
	pool    *alias.Pool
	waiter  TimelineWaiter

	current    *Frame
	frameCount syncutils.FrameNumber

	totalStats syncutils.SyncStatistics
}

// NewContext creates a context for the described queues.
func NewContext(options ContextCreateOptions) (*Context, error) {
	queues := options.Queues
	if len(queues) == 0 {
		queues = []QueueInfo{
			{Capabilities: syncutils.QueueGraphics | syncutils.QueueCompute | syncutils.QueueTransfer},
		}
	}
	if len(queues) > syncutils.MaxQueues {
		return nil, cerrors.Wrapf(syncutils.ConfigurationError, "%d queues requested, at most %d supported", len(queues), syncutils.MaxQueues)
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var graph reach.Graph
	if options.Flags&ContextCreateDenseGraph != 0 {
		graph = reach.NewMatrix(0)
	} else {
		graph = reach.NewSerialTable(0)
	}

	c := &Context{
		mutex: utils.OptionalRWMutex{
			UseMutex: options.Flags&ContextCreateExternallySynchronized == 0,
		},
		logger:  logger,
		queues:  queues,
		tracker: reach.NewTracker(len(queues), graph),
		pool:    alias.New(logger, options.PoolOptions),
		waiter:  options.Waiter,
	}
	return c, nil
}

// QueueCount returns the number of queues the context was created with.
func (c *Context) QueueCount() int {
	return len(c.queues)
}

// Completed returns the highest serial per queue reported finished through
// NotifyCompleted.
func (c *Context) Completed() syncutils.QueueSerialNumbers {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.tracker.Completed()
}

// LastSubmitted returns the highest serial assigned so far on each queue.
func (c *Context) LastSubmitted() syncutils.QueueSerialNumbers {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.tracker.LastSubmitted()
}

// Statistics returns the synchronization statistics accumulated over all
// flushed frames.
func (c *Context) Statistics() syncutils.SyncStatistics {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.totalStats
}

// CreateImage registers an image resource. Transient images can only be
// created while a frame is building; they are destroyed implicitly when the
// frame is flushed or abandoned. Persistent images receive a dedicated
// memory block immediately and live until DestroyResource.
func (c *Context) CreateImage(info ImageCreateInfo) (ImageID, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	id, err := c.createResource(resourceRecord{
		name:      info.Name,
		kind:      ResourceKindImage,
		lifetime:  info.Lifetime,
		size:      info.Size,
		alignment: info.Alignment,
		format:    info.Format,
		block:     -1,
		tracking: ResourceTrackingInfo{
			Layout: info.InitialLayout,
		},
	})
	if err != nil {
		return ImageID{}, err
	}
	return ImageID{id}, nil
}

// CreateBuffer registers a buffer resource, with the same lifetime rules as
// CreateImage.
func (c *Context) CreateBuffer(info BufferCreateInfo) (BufferID, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	id, err := c.createResource(resourceRecord{
		name:      info.Name,
		kind:      ResourceKindBuffer,
		lifetime:  info.Lifetime,
		size:      info.Size,
		alignment: info.Alignment,
		block:     -1,
	})
	if err != nil {
		return BufferID{}, err
	}
	return BufferID{id}, nil
}

func (c *Context) createResource(rec resourceRecord) (ResourceID, error) {
	if rec.size <= 0 && rec.lifetime != LifetimeImported {
		return 0, cerrors.Wrapf(syncutils.ConfigurationError, "resource %q has size %d", rec.name, rec.size)
	}

	switch rec.lifetime {
	case LifetimeTransient:
		if c.current == nil || c.current.state != FrameStateBuilding {
			return 0, cerrors.Wrapf(syncutils.FrameStateError, "transient resource %q created outside a building frame", rec.name)
		}
	case LifetimePersistent:
		block, err := c.pool.AllocateDedicated(rec.name, rec.size, rec.alignment)
		if err != nil {
			return 0, err
		}
		rec.block = block.ID()
	case LifetimeImported:
	default:
		return 0, cerrors.Wrapf(syncutils.ConfigurationError, "resource %q has unknown lifetime class %d", rec.name, rec.lifetime)
	}

	return c.arena.alloc(rec), nil
}

// DestroyResource releases a persistent or imported resource. The dedicated
// memory block of a persistent resource returns to the aliasing pool,
// guarded by the resource's last recorded uses. Transient resources cannot
// be destroyed explicitly.
func (c *Context) DestroyResource(id ResourceID) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	rec, err := c.arena.get(id)
	if err != nil {
		return err
	}
	if rec.lifetime == LifetimeTransient {
		return cerrors.Wrapf(syncutils.ConfigurationError, "transient resource %q is destroyed by flushing its frame", rec.name)
	}
	if c.current != nil && c.current.savedTracking.Has(id) {
		return cerrors.Wrapf(syncutils.FrameStateError, "resource %q is referenced by the building frame", rec.name)
	}

	if rec.block >= 0 {
		lastUse := rec.tracking.Readers
		if rec.tracking.HasWriter() {
			lastUse.JoinSerial(rec.tracking.Writer)
		}
		err = c.pool.ReleaseDedicated(rec.block, lastUse)
		if err != nil {
			return err
		}
	}
	_, err = c.arena.release(id)
	return err
}

// BeginFrame opens a new frame. Only one frame can be building at a time.
func (c *Context) BeginFrame(info FrameCreateInfo) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.current != nil {
		return cerrors.Wrapf(syncutils.FrameStateError, "frame %d is still %s", c.current.number, c.current.state)
	}
	for q := 0; q < syncutils.MaxQueues; q++ {
		if info.HappensAfter[q] != 0 && info.HappensAfter[q] > c.tracker.LastSubmitted()[q] {
			return cerrors.Wrapf(syncutils.ConfigurationError, "frame waits on serial %d on queue %d which has never been submitted", info.HappensAfter[q], q)
		}
	}

	c.tracker.BeginFrame()
	c.frameCount++
	c.current = newFrame(c.frameCount, c.tracker.BaseSerial(), info)
	return nil
}

// CurrentFrame returns the frame under construction, or nil.
func (c *Context) CurrentFrame() *Frame {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.current
}

// BuildFrameDumpString returns the frame under construction as a JSON string
// for frame debugging. It reflects the passes registered so far, before any
// memory assignment has happened.
func (c *Context) BuildFrameDumpString() (string, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	if c.current == nil {
		return "", cerrors.Wrap(syncutils.FrameStateError, "no frame is being built")
	}

	writer := jwriter.NewWriter()
	c.current.DumpJson(&writer)
	return string(writer.Bytes()), nil
}

// PassBuilder declares the resource accesses and external semaphore
// operations of one pass. It is only valid inside the callback passed to
// AddPass.
type PassBuilder struct {
	ctx   *Context
	frame *Frame
	pass  *Pass
	err   error
}

// ReferenceImage declares an access to an image. The layouts in details
// drive automatic layout transitions.
func (b *PassBuilder) ReferenceImage(id ImageID, details ResourceAccessDetails) {
	if b.err != nil {
		return
	}
	b.err = b.ctx.referenceResource(b.frame, b.pass, id.ResourceID, details)
}

// ReferenceBuffer declares an access to a buffer. The layout fields of
// details are ignored.
func (b *PassBuilder) ReferenceBuffer(id BufferID, details ResourceAccessDetails) {
	if b.err != nil {
		return
	}
	details.InitialLayout = syncutils.ImageLayoutUndefined
	details.FinalLayout = syncutils.ImageLayoutUndefined
	b.err = b.ctx.referenceResource(b.frame, b.pass, id.ResourceID, details)
}

// WaitExternal makes the pass wait on a semaphore owned by the caller. The
// wait is passed through to the SubmissionPlan untouched.
func (b *PassBuilder) WaitExternal(wait ExternalSemaphoreWait) {
	if b.err != nil {
		return
	}
	b.pass.ExternalWaits = append(b.pass.ExternalWaits, wait)
}

// SignalExternal makes the pass signal a semaphore owned by the caller.
func (b *PassBuilder) SignalExternal(signal ExternalSemaphoreSignal) {
	if b.err != nil {
		return
	}
	b.pass.ExternalSignals = append(b.pass.ExternalSignals, signal)
}

// AddPass registers a pass on the given queue. The callback declares the
// pass's accesses through the builder; synchronization directives are
// inferred immediately, in registration order. On error the frame is left in
// a state that can only be abandoned.
func (c *Context) AddPass(name string, queue int, build func(builder *PassBuilder)) (syncutils.SubmissionNumber, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.current == nil || c.current.state != FrameStateBuilding {
		return 0, cerrors.Wrapf(syncutils.FrameStateError, "pass %q registered outside a building frame", name)
	}
	if err := syncutils.CheckQueueIndex(queue, len(c.queues)); err != nil {
		return 0, err
	}

	f := c.current
	snn := c.tracker.NextSerial(queue)
	pass := newPass(name, len(f.passes), snn)
	f.passes = append(f.passes, pass)

	builder := &PassBuilder{ctx: c, frame: f, pass: pass}
	build(builder)
	if builder.err != nil {
		return snn, cerrors.Wrapf(builder.err, "registering pass %q", name)
	}

	// The frontier the pass is known to execute after, used for aliasing
	// decisions at flush time.
	pass.Preds = f.syncTable[queue]
	f.stats.PassCount++

	c.logger.Debug("registered pass",
		slog.String("pass", name),
		slog.String("snn", snn.String()),
		slog.Int("accesses", len(pass.Accesses)))
	return snn, nil
}

// EndFrame flushes the building frame: transient resources are packed into
// pooled memory blocks, passes are batched into per-queue submissions and
// the result is handed back as a SubmissionPlan. Transient resources of the
// frame are destroyed; their handles become stale.
func (c *Context) EndFrame() (*SubmissionPlan, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.current == nil || c.current.state != FrameStateBuilding {
		return nil, cerrors.Wrapf(syncutils.FrameStateError, "no building frame to flush")
	}
	f := c.current
	f.state = FrameStateFlushing
	syncutils.DebugValidate(f)

	requests, requestIds, err := c.buildAliasRequests(f)
	if err != nil {
		c.rollbackFrame(f)
		return nil, err
	}

	aliasBindings, err := c.pool.Assign(requests, c.tracker.Completed())
	if err != nil {
		c.rollbackFrame(f)
		return nil, err
	}

	plan := &SubmissionPlan{
		Frame:      f.number,
		BaseSerial: f.baseSerial,
		PerQueue:   buildSubmissions(f),
		Semaphores: f.semaphores,
		Statistics: f.stats,
	}
	plan.Bindings = make([]MemoryBinding, len(aliasBindings))
	for i := range aliasBindings {
		plan.Bindings[i] = MemoryBinding{
			Resource: requestIds[i],
			Name:     aliasBindings[i].Name,
			Block:    aliasBindings[i].Block,
			Offset:   aliasBindings[i].Offset,
		}
	}

	c.endFrameTracking(f)
	c.totalStats.AddStatistics(&f.stats)
	f.state = FrameStateSubmitted
	c.current = nil

	c.logger.Debug("flushed frame",
		slog.Int("frame", int(f.number)),
		slog.Int("passes", len(f.passes)),
		slog.Int("barriers", int(f.stats.BarrierCount)),
		slog.Int("semaphoreWaits", int(f.stats.SemaphoreWaitCount)))
	return plan, nil
}

// buildAliasRequests turns the frame's transient resources into pool
// requests carrying the live span of each resource.
func (c *Context) buildAliasRequests(f *Frame) ([]alias.Request, []ResourceID, error) {
	var requests []alias.Request
	var ids []ResourceID

	for _, id := range f.temporaries {
		rec, err := c.arena.get(id)
		if err != nil {
			return nil, nil, err
		}
		if rec.lifetime != LifetimeTransient {
			continue
		}

		first := rec.tracking.FirstAccess
		firstPass := f.passBySerial(first.Serial())
		if firstPass == nil {
			return nil, nil, cerrors.Wrapf(syncutils.FrameStateError, "transient resource %q first accessed outside the frame", rec.name)
		}

		lastAccess := rec.tracking.Readers
		if rec.tracking.HasWriter() {
			lastAccess.JoinSerial(rec.tracking.Writer)
		}

		requests = append(requests, alias.Request{
			Name:        rec.name,
			Size:        rec.size,
			Alignment:   rec.alignment,
			FirstAccess: first,
			Preds:       firstPass.Preds,
			LastAccess:  lastAccess,
		})
		ids = append(ids, id)
	}
	return requests, ids, nil
}

// endFrameTracking destroys the frame's transient resources and resets the
// per-frame portion of the tracking state of everything else it touched.
func (c *Context) endFrameTracking(f *Frame) {
	for _, id := range f.temporaries {
		rec, err := c.arena.get(id)
		if err != nil {
			continue
		}
		rec.tracking.FirstAccess = 0
	}
	c.releaseTransients()
}

// releaseTransients destroys every live transient resource. Transients not
// referenced by any pass are destroyed too.
func (c *Context) releaseTransients() {
	var stale []ResourceID
	c.arena.forEachLive(func(id ResourceID, rec *resourceRecord) {
		if rec.lifetime == LifetimeTransient {
			stale = append(stale, id)
		}
	})
	for _, id := range stale {
		_, _ = c.arena.release(id)
	}
}

// AbandonFrame discards the building frame without producing a plan. The
// tracking state of every resource the frame touched is rolled back, and the
// frame's transient resources are destroyed. Serials handed out to the
// frame's passes are never reused.
func (c *Context) AbandonFrame() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.current == nil || c.current.state != FrameStateBuilding {
		return cerrors.Wrapf(syncutils.FrameStateError, "no building frame to abandon")
	}
	f := c.current
	c.rollbackFrame(f)

	c.logger.Debug("abandoned frame",
		slog.Int("frame", int(f.number)),
		slog.Int("passes", len(f.passes)))
	return nil
}

// rollbackFrame restores the tracking state of every resource the frame
// touched, destroys its transient resources and drops the frame. Used both
// for explicit abandonment and for failed flushes, so a failed EndFrame can
// be retried with a smaller frame or a larger pool budget.
func (c *Context) rollbackFrame(f *Frame) {
	f.savedTracking.Iter(func(id ResourceID, saved ResourceTrackingInfo) bool {
		rec, err := c.arena.get(id)
		if err == nil {
			rec.tracking = saved
		}
		return false
	})
	c.releaseTransients()

	f.state = FrameStateAbandoned
	c.current = nil
}

// NotifyCompleted reports that the given queue's timeline has reached the
// given serial, retiring every pass with a lower or equal serial on that
// queue.
func (c *Context) NotifyCompleted(queue int, serial uint64) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.tracker.NotifyCompleted(queue, serial)
}

// WaitForSerials blocks until the completed frontier dominates the given
// serials, using the context's TimelineWaiter, then advances the frontier.
func (c *Context) WaitForSerials(ctx context.Context, serials syncutils.QueueSerialNumbers) error {
	c.mutex.Lock()
	if c.tracker.SerialsReached(serials) {
		c.mutex.Unlock()
		return nil
	}
	if c.waiter == nil {
		c.mutex.Unlock()
		return cerrors.Wrapf(syncutils.ConfigurationError, "waiting for %v requires a TimelineWaiter", serials)
	}
	for q := range serials {
		if serials[q] > c.tracker.LastSubmitted()[q] {
			c.mutex.Unlock()
			return cerrors.Wrapf(syncutils.ConfigurationError, "serial %d on queue %d has never been submitted", serials[q], q)
		}
	}
	c.mutex.Unlock()

	if err := c.waiter.WaitForTimelines(ctx, serials); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	for q := range serials {
		if serials[q] == 0 {
			continue
		}
		if err := c.tracker.NotifyCompleted(q, serials[q]); err != nil {
			return err
		}
	}
	return nil
}

// Destroy tears the context down. A building frame must be flushed or
// abandoned first. Live resources are reported as leaks.
func (c *Context) Destroy() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.current != nil {
		return cerrors.Wrapf(syncutils.FrameStateError, "frame %d is still %s", c.current.number, c.current.state)
	}

	leaked := 0
	c.arena.forEachLive(func(id ResourceID, rec *resourceRecord) {
		leaked++
		c.logger.Error("resource leaked at context teardown",
			slog.String("name", rec.name),
			slog.String("kind", rec.kind.String()),
			slog.String("lifetime", rec.lifetime.String()))
	})
	if leaked > 0 {
		return cerrors.Wrapf(syncutils.ConfigurationError, "%d resources still alive at teardown", leaked)
	}
	return nil
}
