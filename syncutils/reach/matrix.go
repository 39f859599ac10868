package reach

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/akervik/framegraph/syncutils"
)

const wordBits = 64

// Matrix is a Graph backed by a dense bit matrix holding the transitive
// closure of the recorded dependencies. Row i holds one bit per pass that
// pass i is reachable from.
//
// Row updates are incremental: when a dependency from pass p to pass i is
// recorded, row i absorbs row p. This is only correct because dependencies
// are recorded while the destination is the newest pass, so the source row
// can no longer change. Memory grows quadratically with the number of passes
// in the frame; beyond a few thousand passes per frame, use SerialTable
// instead.
type Matrix struct {
	baseSerial uint64
	rows       [][]uint64
}

var _ Graph = &Matrix{}

// NewMatrix creates an empty Matrix for a frame starting after baseSerial.
func NewMatrix(baseSerial uint64) *Matrix {
	return &Matrix{baseSerial: baseSerial}
}

func (m *Matrix) Reset(baseSerial uint64) {
	m.baseSerial = baseSerial
	m.rows = m.rows[:0]
}

func (m *Matrix) AddPass(n syncutils.SubmissionNumber) {
	index := m.localIndex(n)
	if index != len(m.rows) {
		panic(fmt.Sprintf("pass %s added out of order: expected local index %d, got %d", n, len(m.rows), index))
	}
	words := (len(m.rows) + wordBits) / wordBits
	m.rows = append(m.rows, make([]uint64, words))
}

func (m *Matrix) RecordDependency(from, to syncutils.SubmissionNumber) {
	if from.Serial() <= m.baseSerial {
		// Ordering against earlier frames is resolved by the tracker.
		return
	}
	src := m.localIndex(from)
	dst := m.localIndex(to)
	if src >= dst {
		panic(fmt.Sprintf("dependency %s -> %s does not follow submission order", from, to))
	}

	row := m.rows[dst]
	row[src/wordBits] |= 1 << (src % wordBits)
	for i, w := range m.rows[src] {
		row[i] |= w
	}
}

func (m *Matrix) HasPath(from, to syncutils.SubmissionNumber) bool {
	if from == to {
		return true
	}
	if from.Serial() <= m.baseSerial || to.Serial() <= m.baseSerial {
		return false
	}
	src := m.localIndex(from)
	dst := m.localIndex(to)
	if dst >= len(m.rows) {
		return false
	}
	// Dependencies always point forward in submission order, so a later
	// pass can never be ordered before an earlier one. Row dst only holds
	// bits for the passes preceding it.
	if src >= dst {
		return false
	}
	return m.rows[dst][src/wordBits]&(1<<(src%wordBits)) != 0
}

// Validate checks that every row is wide enough to hold a bit for each pass
// preceding it and that no pass claims reachability from itself.
func (m *Matrix) Validate() error {
	for i, row := range m.rows {
		if len(row)*wordBits < i {
			return errors.Errorf("row %d has %d bits, needs at least %d", i, len(row)*wordBits, i)
		}
		if row[i/wordBits]&(1<<(i%wordBits)) != 0 {
			return errors.Errorf("pass at local index %d is marked reachable from itself", i)
		}
	}
	return nil
}

func (m *Matrix) localIndex(n syncutils.SubmissionNumber) int {
	if n.Serial() <= m.baseSerial {
		panic(fmt.Sprintf("pass %s is not part of the current frame (base serial %d)", n, m.baseSerial))
	}
	return int(n.Serial() - m.baseSerial - 1)
}
