package syncutils

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
)

// MaxQueues is the maximum number of device queues a context can track.
// Submission numbers reserve two bits for the queue index, so this cannot
// be raised past 4 without changing the packing.
const MaxQueues = 4

const serialBits = 62

// SubmissionNumber identifies a pass among all passes submitted to a context,
// regardless of queue. It packs a queue index and a serial number: the serial
// is drawn from a single counter shared by every queue, so two submission
// numbers can never carry the same serial with different queue indices.
// Serial 0 is reserved as the invalid value.
//
// Submission numbers print as "queue:serial", e.g. "0:47" for queue #0,
// serial 47.
type SubmissionNumber uint64

// NewSubmissionNumber packs a queue index and a serial into a SubmissionNumber.
// It panics if the queue index or serial is out of range, since both values
// are always produced internally by a serial tracker.
func NewSubmissionNumber(queue int, serial uint64) SubmissionNumber {
	if queue < 0 || queue >= MaxQueues {
		panic(fmt.Sprintf("queue index %d out of range", queue))
	}
	if serial >= 1<<serialBits {
		panic(fmt.Sprintf("serial %d out of range", serial))
	}
	return SubmissionNumber(uint64(queue)<<serialBits | serial)
}

// Queue returns the index of the queue the pass is submitted on.
func (n SubmissionNumber) Queue() int {
	return int(n >> serialBits)
}

// Serial returns the serial number of the pass.
func (n SubmissionNumber) Serial() uint64 {
	return uint64(n) & (1<<serialBits - 1)
}

// IsValid reports whether this submission number identifies a real pass.
// The zero value is invalid.
func (n SubmissionNumber) IsValid() bool {
	return n.Serial() != 0
}

func (n SubmissionNumber) String() string {
	return fmt.Sprintf("%d:%d", n.Queue(), n.Serial())
}

// QueueSerialNumbers holds one serial per queue. It is used both as a set of
// passes ("the last reader on each queue") and as a frontier ("the highest
// serial on each queue known to be ordered before this point"). Because each
// queue completes its passes in serial order, a frontier value of s for queue
// q covers every pass on q with serial <= s.
type QueueSerialNumbers [MaxQueues]uint64

// QueueSerialsFromSubmission returns a QueueSerialNumbers with a single
// non-zero entry for the given submission number.
func QueueSerialsFromSubmission(n SubmissionNumber) QueueSerialNumbers {
	var s QueueSerialNumbers
	s[n.Queue()] = n.Serial()
	return s
}

// Serial returns the serial recorded for the given queue.
func (s QueueSerialNumbers) Serial(queue int) uint64 {
	return s[queue]
}

// HasNonZero reports whether any queue has a non-zero serial.
func (s QueueSerialNumbers) HasNonZero() bool {
	for _, sn := range s {
		if sn != 0 {
			return true
		}
	}
	return false
}

// Join returns the per-queue maximum of the two serial sets.
func (s QueueSerialNumbers) Join(other QueueSerialNumbers) QueueSerialNumbers {
	r := s
	r.JoinAssign(other)
	return r
}

// JoinAssign raises each entry of s to at least the corresponding entry of
// other.
func (s *QueueSerialNumbers) JoinAssign(other QueueSerialNumbers) {
	for i := 0; i < MaxQueues; i++ {
		if other[i] > s[i] {
			s[i] = other[i]
		}
	}
}

// JoinSerial raises the entry for the submission number's queue to at least
// its serial.
func (s *QueueSerialNumbers) JoinSerial(n SubmissionNumber) {
	q := n.Queue()
	if n.Serial() > s[q] {
		s[q] = n.Serial()
	}
}

// Dominates reports whether every entry of s is greater than or equal to the
// corresponding entry of other. A frontier that dominates a set of passes is
// ordered after all of them.
func (s QueueSerialNumbers) Dominates(other QueueSerialNumbers) bool {
	for i := 0; i < MaxQueues; i++ {
		if s[i] < other[i] {
			return false
		}
	}
	return true
}

// IsSingleSourceSameQueueAndFrame reports whether the set contains at most one
// non-zero serial, located on the given queue and strictly greater than
// baseSerial. This is the condition under which a dependency on the set can
// be realized as a pipeline barrier instead of semaphore waits.
func (s QueueSerialNumbers) IsSingleSourceSameQueueAndFrame(queue int, baseSerial uint64) bool {
	for i, sn := range s {
		if i != queue && sn != 0 {
			return false
		}
		if i == queue && sn != 0 && sn <= baseSerial {
			return false
		}
	}
	return true
}

// FrameNumber uniquely identifies a frame submitted to a context. Frame
// numbers start at 1; 0 is the invalid value.
type FrameNumber uint64

// CheckQueueIndex returns a ConfigurationError if the queue index does not
// address one of queueCount queues.
func CheckQueueIndex(queue int, queueCount int) error {
	if queue < 0 || queue >= queueCount {
		return cerrors.Wrapf(ConfigurationError, "queue index %d is not in [0, %d)", queue, queueCount)
	}
	return nil
}
