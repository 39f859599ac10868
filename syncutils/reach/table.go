package reach

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/akervik/framegraph/syncutils"
)

// SerialTable is a Graph that stores, for every pass, its predecessor
// frontier: the highest serial per queue known to be ordered before the
// pass. Storage and query cost are O(MaxQueues) per pass, so it scales to
// frames far beyond what the dense Matrix can hold.
//
// The frontier representation leans on queue timeline semantics: once a
// queue has executed past serial s, every pass submitted to it with a serial
// at or below s has completed. A recorded dependency on pass `from`
// therefore also orders the destination after every earlier pass on from's
// queue, which makes SerialTable slightly coarser than the exact edge
// closure kept by Matrix: it can report paths that Matrix does not, never
// the reverse.
type SerialTable struct {
	baseSerial uint64
	preds      []syncutils.QueueSerialNumbers
	queues     []int
}

var _ Graph = &SerialTable{}

// NewSerialTable creates an empty SerialTable for a frame starting after
// baseSerial.
func NewSerialTable(baseSerial uint64) *SerialTable {
	return &SerialTable{baseSerial: baseSerial}
}

func (t *SerialTable) Reset(baseSerial uint64) {
	t.baseSerial = baseSerial
	t.preds = t.preds[:0]
	t.queues = t.queues[:0]
}

func (t *SerialTable) AddPass(n syncutils.SubmissionNumber) {
	index := t.localIndex(n)
	if index != len(t.preds) {
		panic(fmt.Sprintf("pass %s added out of order: expected local index %d, got %d", n, len(t.preds), index))
	}
	t.preds = append(t.preds, syncutils.QueueSerialNumbers{})
	t.queues = append(t.queues, n.Queue())
}

func (t *SerialTable) RecordDependency(from, to syncutils.SubmissionNumber) {
	if from.Serial() <= t.baseSerial {
		return
	}
	src := t.localIndex(from)
	dst := t.localIndex(to)
	if src >= dst {
		panic(fmt.Sprintf("dependency %s -> %s does not follow submission order", from, to))
	}

	t.preds[dst].JoinSerial(from)
	t.preds[dst].JoinAssign(t.preds[src])
}

func (t *SerialTable) HasPath(from, to syncutils.SubmissionNumber) bool {
	if from == to {
		return true
	}
	if from.Serial() <= t.baseSerial || to.Serial() <= t.baseSerial {
		return false
	}
	src := t.localIndex(from)
	dst := t.localIndex(to)
	if src >= len(t.preds) || dst >= len(t.preds) {
		return false
	}
	return t.preds[dst].Serial(from.Queue()) >= from.Serial()
}

// Preds returns the predecessor frontier recorded for the given pass.
func (t *SerialTable) Preds(n syncutils.SubmissionNumber) syncutils.QueueSerialNumbers {
	return t.preds[t.localIndex(n)]
}

// Validate checks that no pass lists itself or a later pass on its own queue
// among its predecessors.
func (t *SerialTable) Validate() error {
	for i, p := range t.preds {
		serial := t.baseSerial + uint64(i) + 1
		if p.Serial(t.queues[i]) >= serial {
			return errors.Errorf("pass at local index %d lists itself or a later pass as a predecessor", i)
		}
	}
	return nil
}

func (t *SerialTable) localIndex(n syncutils.SubmissionNumber) int {
	if n.Serial() <= t.baseSerial {
		panic(fmt.Sprintf("pass %s is not part of the current frame (base serial %d)", n, t.baseSerial))
	}
	return int(n.Serial() - t.baseSerial - 1)
}
