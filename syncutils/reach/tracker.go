package reach

import (
	cerrors "github.com/cockroachdb/errors"

	"github.com/akervik/framegraph/syncutils"
)

// Tracker hands out submission numbers and keeps the dependency graph of the
// frame under construction. Serials come from a single counter shared by all
// queues, so a serial identifies a pass globally and queue indices only say
// where it runs.
//
// The tracker also maintains the completed frontier: the highest serial per
// queue that the external submission layer has reported finished. HasPath
// treats completed passes as ordered before everything, which is what lets a
// later frame reuse memory blocks last touched by an earlier one without
// recording any dependency.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	queueCount int
	graph      Graph

	nextSerial    uint64
	baseSerial    uint64
	lastSubmitted syncutils.QueueSerialNumbers
	completed     syncutils.QueueSerialNumbers
}

// NewTracker creates a Tracker for queueCount queues, recording dependencies
// into the provided graph. The graph becomes owned by the tracker; it is
// reset at every frame boundary.
func NewTracker(queueCount int, graph Graph) *Tracker {
	if queueCount <= 0 || queueCount > syncutils.MaxQueues {
		panic("queue count out of range")
	}
	graph.Reset(0)
	return &Tracker{
		queueCount: queueCount,
		graph:      graph,
	}
}

// QueueCount returns the number of queues the tracker was created with.
func (t *Tracker) QueueCount() int {
	return t.queueCount
}

// BaseSerial returns the serial the current frame started after. Passes of
// the current frame carry serials strictly greater than this.
func (t *Tracker) BaseSerial() uint64 {
	return t.baseSerial
}

// LastSerial returns the most recently assigned serial.
func (t *Tracker) LastSerial() uint64 {
	return t.nextSerial
}

// LastSubmitted returns the highest serial assigned so far on each queue.
func (t *Tracker) LastSubmitted() syncutils.QueueSerialNumbers {
	return t.lastSubmitted
}

// Completed returns the completed frontier.
func (t *Tracker) Completed() syncutils.QueueSerialNumbers {
	return t.completed
}

// Graph exposes the dependency graph of the current frame.
func (t *Tracker) Graph() Graph {
	return t.graph
}

// BeginFrame marks a frame boundary: the dependency graph is reset and
// subsequent serials belong to the new frame. Serials are never reused, even
// for abandoned frames.
func (t *Tracker) BeginFrame() {
	t.baseSerial = t.nextSerial
	t.graph.Reset(t.baseSerial)
}

// NextSerial assigns the next submission number on the given queue and
// registers the pass as pending in the dependency graph.
func (t *Tracker) NextSerial(queue int) syncutils.SubmissionNumber {
	if err := syncutils.CheckQueueIndex(queue, t.queueCount); err != nil {
		panic(err)
	}
	t.nextSerial++
	n := syncutils.NewSubmissionNumber(queue, t.nextSerial)
	t.lastSubmitted.JoinSerial(n)
	t.graph.AddPass(n)
	return n
}

// RecordDependency records that `to` is ordered after `from`. Dependencies
// whose source lies in an earlier frame are dropped: ordering against
// completed work is answered from the completed frontier instead. Recording
// the same dependency twice has no additional effect.
func (t *Tracker) RecordDependency(from, to syncutils.SubmissionNumber) {
	if !from.IsValid() || from.Serial() <= t.baseSerial {
		return
	}
	t.graph.RecordDependency(from, to)
}

// HasPath reports whether `to` is ordered after `from`, either because
// `from` has already completed or because a chain of recorded dependencies
// connects them.
func (t *Tracker) HasPath(from, to syncutils.SubmissionNumber) bool {
	if !from.IsValid() {
		return true
	}
	if from.Serial() <= t.completed.Serial(from.Queue()) {
		return true
	}
	return t.graph.HasPath(from, to)
}

// SerialsReached reports whether the completed frontier dominates the given
// serials.
func (t *Tracker) SerialsReached(serials syncutils.QueueSerialNumbers) bool {
	return t.completed.Dominates(serials)
}

// NotifyCompleted advances the completed frontier for a queue. The external
// submission layer calls this when a queue timeline reaches a serial. The
// frontier can only move forward and can never pass the last serial handed
// out.
func (t *Tracker) NotifyCompleted(queue int, serial uint64) error {
	if err := syncutils.CheckQueueIndex(queue, t.queueCount); err != nil {
		return err
	}
	if serial > t.nextSerial {
		return cerrors.Wrapf(syncutils.ConfigurationError, "completed serial %d on queue %d has never been assigned (last is %d)", serial, queue, t.nextSerial)
	}
	if serial > t.completed[queue] {
		t.completed[queue] = serial
	}
	return nil
}
