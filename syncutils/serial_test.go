package syncutils_test

import (
	"testing"

	cerrors "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/akervik/framegraph/syncutils"
)

func TestSubmissionNumberPacking(t *testing.T) {
	n := syncutils.NewSubmissionNumber(2, 57)
	require.Equal(t, 2, n.Queue())
	require.Equal(t, uint64(57), n.Serial())
	require.True(t, n.IsValid())
	require.Equal(t, "2:57", n.String())

	require.False(t, syncutils.SubmissionNumber(0).IsValid())
	require.False(t, syncutils.NewSubmissionNumber(3, 0).IsValid())
}

func TestSubmissionNumberRange(t *testing.T) {
	require.Panics(t, func() {
		syncutils.NewSubmissionNumber(syncutils.MaxQueues, 1)
	})
	require.Panics(t, func() {
		syncutils.NewSubmissionNumber(-1, 1)
	})
	require.Panics(t, func() {
		syncutils.NewSubmissionNumber(0, 1<<62)
	})

	// The largest representable serial survives a round trip on every queue.
	for q := 0; q < syncutils.MaxQueues; q++ {
		n := syncutils.NewSubmissionNumber(q, 1<<62-1)
		require.Equal(t, q, n.Queue())
		require.Equal(t, uint64(1<<62-1), n.Serial())
	}
}

func TestQueueSerialNumbersJoin(t *testing.T) {
	a := syncutils.QueueSerialNumbers{5, 0, 3, 0}
	b := syncutils.QueueSerialNumbers{2, 7, 3, 1}

	joined := a.Join(b)
	require.Equal(t, syncutils.QueueSerialNumbers{5, 7, 3, 1}, joined)
	// Join does not mutate its receiver.
	require.Equal(t, syncutils.QueueSerialNumbers{5, 0, 3, 0}, a)

	a.JoinSerial(syncutils.NewSubmissionNumber(1, 9))
	require.Equal(t, syncutils.QueueSerialNumbers{5, 9, 3, 0}, a)
	a.JoinSerial(syncutils.NewSubmissionNumber(1, 4))
	require.Equal(t, uint64(9), a.Serial(1))
}

func TestQueueSerialNumbersDominates(t *testing.T) {
	frontier := syncutils.QueueSerialNumbers{10, 4, 0, 0}

	require.True(t, frontier.Dominates(syncutils.QueueSerialNumbers{10, 4, 0, 0}))
	require.True(t, frontier.Dominates(syncutils.QueueSerialNumbers{3, 0, 0, 0}))
	require.True(t, frontier.Dominates(syncutils.QueueSerialNumbers{}))
	require.False(t, frontier.Dominates(syncutils.QueueSerialNumbers{11, 0, 0, 0}))
	require.False(t, frontier.Dominates(syncutils.QueueSerialNumbers{0, 0, 1, 0}))

	require.False(t, syncutils.QueueSerialNumbers{}.HasNonZero())
	require.True(t, frontier.HasNonZero())
}

func TestIsSingleSourceSameQueueAndFrame(t *testing.T) {
	require.True(t, syncutils.QueueSerialNumbers{}.IsSingleSourceSameQueueAndFrame(0, 0))
	require.True(t, syncutils.QueueSerialNumbers{7, 0, 0, 0}.IsSingleSourceSameQueueAndFrame(0, 3))

	// Source on another queue.
	require.False(t, syncutils.QueueSerialNumbers{0, 7, 0, 0}.IsSingleSourceSameQueueAndFrame(0, 3))
	// Source in an earlier frame.
	require.False(t, syncutils.QueueSerialNumbers{3, 0, 0, 0}.IsSingleSourceSameQueueAndFrame(0, 3))
	// Two sources.
	require.False(t, syncutils.QueueSerialNumbers{7, 2, 0, 0}.IsSingleSourceSameQueueAndFrame(0, 3))
}

func TestCheckQueueIndex(t *testing.T) {
	require.NoError(t, syncutils.CheckQueueIndex(0, 2))
	require.NoError(t, syncutils.CheckQueueIndex(1, 2))

	err := syncutils.CheckQueueIndex(2, 2)
	require.Error(t, err)
	require.True(t, cerrors.Is(err, syncutils.ConfigurationError))

	err = syncutils.CheckQueueIndex(-1, 2)
	require.Error(t, err)
	require.True(t, cerrors.Is(err, syncutils.ConfigurationError))
}
