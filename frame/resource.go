package frame

import (
	cerrors "github.com/cockroachdb/errors"

	"github.com/akervik/framegraph/syncutils"
)

// ResourceKind distinguishes images from buffers.
type ResourceKind uint32

const (
	ResourceKindImage ResourceKind = iota
	ResourceKindBuffer
)

var resourceKindMapping = map[ResourceKind]string{
	ResourceKindImage:  "ResourceKindImage",
	ResourceKindBuffer: "ResourceKindBuffer",
}

func (k ResourceKind) String() string {
	return resourceKindMapping[k]
}

// LifetimeClass describes who owns a resource's memory and for how long.
type LifetimeClass uint32

const (
	// LifetimeTransient resources live within a single frame and are
	// eligible for memory aliasing. They are destroyed implicitly when the
	// frame is flushed.
	LifetimeTransient LifetimeClass = iota
	// LifetimePersistent resources outlive frames and keep a dedicated
	// memory block until explicitly destroyed.
	LifetimePersistent
	// LifetimeImported resources are owned elsewhere; the context tracks
	// their accesses but never binds memory for them.
	LifetimeImported
)

var lifetimeClassMapping = map[LifetimeClass]string{
	LifetimeTransient:  "LifetimeTransient",
	LifetimePersistent: "LifetimePersistent",
	LifetimeImported:   "LifetimeImported",
}

func (c LifetimeClass) String() string {
	return lifetimeClassMapping[c]
}

// ResourceID is a generational handle to a resource record. Destroying a
// resource bumps the generation of its arena slot, so a handle held past the
// resource's lifetime is detected as stale instead of silently addressing
// whatever reuses the slot. The zero value is invalid.
type ResourceID uint64

func newResourceID(index uint32, generation uint32) ResourceID {
	return ResourceID(uint64(generation)<<32 | uint64(index))
}

func (id ResourceID) index() uint32 {
	return uint32(id)
}

func (id ResourceID) generation() uint32 {
	return uint32(id >> 32)
}

// IsValid reports whether the handle has ever referred to a resource. It
// does not imply the resource is still alive.
func (id ResourceID) IsValid() bool {
	return id.generation() != 0
}

// ImageID is a ResourceID known to refer to an image.
type ImageID struct {
	ResourceID
}

// BufferID is a ResourceID known to refer to a buffer.
type BufferID struct {
	ResourceID
}

// ResourceTrackingInfo is the mutable synchronization state of a resource,
// owned by the context's resource arena and updated by the dependency
// tracker in pass-submission order.
type ResourceTrackingInfo struct {
	// FirstAccess is the first pass that touched the resource in the
	// current frame. Reset at frame boundaries.
	FirstAccess syncutils.SubmissionNumber
	// Readers is the last reader per queue since the last write.
	Readers syncutils.QueueSerialNumbers
	// Writer is the pass that last wrote the resource.
	Writer syncutils.SubmissionNumber
	// Layout is the current image layout. Always ImageLayoutUndefined for
	// buffers.
	Layout syncutils.ImageLayout
	// AvailabilityMask holds the access types of the last write that have
	// yet to be made available to device memory. Non-empty only between a
	// write and the first dependency that consumes it.
	AvailabilityMask syncutils.AccessFlags
	// VisibilityMask holds, per queue, the access types that can already
	// see the last write without further synchronization.
	VisibilityMask [syncutils.MaxQueues]syncutils.AccessFlags
	// Stages accumulates the pipeline stages of the accesses since the last
	// write (the write's stages, then any reader stages joined in).
	Stages syncutils.PipelineStageFlags
}

func (t *ResourceTrackingInfo) HasWriter() bool {
	return t.Writer.IsValid()
}

func (t *ResourceTrackingInfo) HasReaders() bool {
	return t.Readers.HasNonZero()
}

func (t *ResourceTrackingInfo) ClearReaders() {
	t.Readers = syncutils.QueueSerialNumbers{}
}

// resourceRecord is one arena slot.
type resourceRecord struct {
	name       string
	kind       ResourceKind
	lifetime   LifetimeClass
	size       int
	alignment  uint
	format     uint32
	generation uint32
	live       bool

	// block is the id of the dedicated block bound to a persistent
	// resource, or -1.
	block int

	tracking ResourceTrackingInfo
}

// resourceArena stores resource records in a free-listed slice indexed by
// generational handles.
type resourceArena struct {
	records []resourceRecord
	free    []uint32
}

func (a *resourceArena) alloc(rec resourceRecord) ResourceID {
	rec.live = true
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
		rec.generation = a.records[index].generation
		a.records[index] = rec
	} else {
		index = uint32(len(a.records))
		rec.generation = 1
		a.records = append(a.records, rec)
	}
	return newResourceID(index, a.records[index].generation)
}

func (a *resourceArena) get(id ResourceID) (*resourceRecord, error) {
	index := id.index()
	if !id.IsValid() || int(index) >= len(a.records) {
		return nil, cerrors.Wrapf(syncutils.StaleHandleError, "handle %#x does not address the arena", uint64(id))
	}
	rec := &a.records[index]
	if !rec.live || rec.generation != id.generation() {
		return nil, cerrors.Wrapf(syncutils.StaleHandleError, "resource %#x has been destroyed", uint64(id))
	}
	return rec, nil
}

func (a *resourceArena) release(id ResourceID) (*resourceRecord, error) {
	rec, err := a.get(id)
	if err != nil {
		return nil, err
	}
	rec.live = false
	rec.generation++
	a.free = append(a.free, id.index())
	return rec, nil
}

// forEachLive calls fn for every live record.
func (a *resourceArena) forEachLive(fn func(id ResourceID, rec *resourceRecord)) {
	for i := range a.records {
		rec := &a.records[i]
		if rec.live {
			fn(newResourceID(uint32(i), rec.generation), rec)
		}
	}
}

// ImageCreateInfo describes an image resource. Size covers the whole
// subresource range; Format is an opaque caller-meaningful format code.
type ImageCreateInfo struct {
	Name          string
	Size          int
	Alignment     uint
	Format        uint32
	InitialLayout syncutils.ImageLayout
	Lifetime      LifetimeClass
}

// BufferCreateInfo describes a buffer resource.
type BufferCreateInfo struct {
	Name      string
	Size      int
	Alignment uint
	Lifetime  LifetimeClass
}
