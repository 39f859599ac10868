package reach

import "github.com/akervik/framegraph/syncutils"

// Graph records execution dependencies between the passes of a single frame
// and answers reachability queries over them. A dependency from pass A to
// pass B means B is ordered after A: B cannot begin execution before A has
// completed.
//
// Implementations may assume the access pattern of a frame under
// construction:
//   - passes are added in submission order, so serials increase with every
//     AddPass call;
//   - dependencies are only recorded while the destination pass is the most
//     recently added pass;
//   - recording the same dependency twice has no additional effect.
//
// Queries about passes outside the current frame (serials at or below the
// frame's base serial) always report no path. Cross-frame ordering is
// decided by the Tracker from the completed-serial frontier, not by the
// graph.
type Graph interface {
	// Reset discards all recorded passes and dependencies and prepares the
	// graph for a frame whose passes will carry serials strictly greater
	// than baseSerial.
	Reset(baseSerial uint64)
	// AddPass registers the next pass of the frame. Passes must be added in
	// serial order with no gaps.
	AddPass(n syncutils.SubmissionNumber)
	// RecordDependency records that `to` is ordered after `from`. It is
	// idempotent.
	RecordDependency(from, to syncutils.SubmissionNumber)
	// HasPath reports whether a chain of recorded dependencies orders `to`
	// after `from`. Every pass has a path to itself.
	HasPath(from, to syncutils.SubmissionNumber) bool

	// Validate performs internal consistency checks on the graph. When the
	// implementation is functioning correctly it should not be possible for
	// this method to return an error.
	Validate() error
}
