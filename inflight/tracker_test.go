package inflight

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type recordedBatches struct {
	batches [][]Barrier
	err     error
}

func (r *recordedBatches) PipelineBarrier(barriers []Barrier) error {
	r.batches = append(r.batches, barriers)
	return r.err
}

func TestTransitionTwiceQueuesOneBarrier(t *testing.T) {
	tracker := NewResourceStateTracker()
	id := tracker.Track("output", handle("output"), core1_0.ImageAspectColor, intermediateInitial)

	assert.True(t, tracker.Transition(id, intermediateWritable))
	assert.False(t, tracker.Transition(id, intermediateWritable))

	pending := tracker.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, intermediateInitial, pending[0].Src)
	assert.Equal(t, intermediateWritable, pending[0].Dst)
	assert.Equal(t, "output", pending[0].Name)
}

func TestTransitionToCurrentStateIsNoop(t *testing.T) {
	tracker := NewResourceStateTracker()
	id := tracker.Track("output", handle("output"), core1_0.ImageAspectColor, intermediateReadable)

	assert.False(t, tracker.Transition(id, intermediateReadable))
	assert.Empty(t, tracker.Pending())
}

func TestTransitionUpdatesStateBeforeFlush(t *testing.T) {
	tracker := NewResourceStateTracker()
	id := tracker.Track("output", handle("output"), core1_0.ImageAspectColor, intermediateInitial)

	tracker.Transition(id, intermediateWritable)

	state, ok := tracker.State(id)
	require.True(t, ok)
	assert.Equal(t, intermediateWritable, state)
}

func TestFlushEmitsOneBatchAndClears(t *testing.T) {
	tracker := NewResourceStateTracker()
	output := tracker.Track("output", handle("output"), core1_0.ImageAspectColor, intermediateInitial)
	backbuffer := tracker.Track("backbuffer", handle("backbuffer"), core1_0.ImageAspectColor, backbufferInitial)

	tracker.Transition(output, intermediateWritable)
	tracker.Transition(backbuffer, backbufferWritable)

	recorder := &recordedBatches{}
	require.NoError(t, tracker.Flush(recorder))
	require.Len(t, recorder.batches, 1)
	require.Len(t, recorder.batches[0], 2)
	assert.Equal(t, output, recorder.batches[0][0].Resource)
	assert.Equal(t, backbuffer, recorder.batches[0][1].Resource)
	assert.Empty(t, tracker.Pending())

	require.NoError(t, tracker.Flush(recorder))
	assert.Len(t, recorder.batches, 1, "flushing nothing must not record a barrier")
}

func TestTransitionAfterFlushStartsFromFlushedState(t *testing.T) {
	tracker := NewResourceStateTracker()
	id := tracker.Track("output", handle("output"), core1_0.ImageAspectColor, intermediateInitial)
	recorder := &recordedBatches{}

	tracker.Transition(id, intermediateWritable)
	require.NoError(t, tracker.Flush(recorder))
	tracker.Transition(id, intermediateReadable)
	require.NoError(t, tracker.Flush(recorder))

	require.Len(t, recorder.batches, 2)
	assert.Equal(t, intermediateWritable, recorder.batches[1][0].Src)
	assert.Equal(t, intermediateReadable, recorder.batches[1][0].Dst)
}

func TestSecondTargetBeforeFlushRewritesPendingBarrier(t *testing.T) {
	tracker := NewResourceStateTracker()
	id := tracker.Track("output", handle("output"), core1_0.ImageAspectColor, intermediateInitial)

	tracker.Transition(id, intermediateWritable)
	tracker.Transition(id, intermediateReadable)

	pending := tracker.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, intermediateInitial, pending[0].Src)
	assert.Equal(t, intermediateReadable, pending[0].Dst)
}

func TestTrackerHandlesArbitraryResourceSets(t *testing.T) {
	tracker := NewResourceStateTracker()
	var ids []ResourceID
	for i := 0; i < 5; i++ {
		ids = append(ids, tracker.Track("image", handle("image"), core1_0.ImageAspectColor, backbufferInitial))
	}
	assert.Equal(t, 5, tracker.Len())

	for _, id := range ids[1:4] {
		tracker.Transition(id, backbufferWritable)
	}
	recorder := &recordedBatches{}
	require.NoError(t, tracker.Flush(recorder))
	require.Len(t, recorder.batches, 1)
	assert.Len(t, recorder.batches[0], 3)

	tracker.Untrack(ids[0])
	assert.Equal(t, 4, tracker.Len())
	_, ok := tracker.State(ids[0])
	assert.False(t, ok)
}

func TestTransitionOfUntrackedResourcePanics(t *testing.T) {
	tracker := NewResourceStateTracker()
	other := NewResourceStateTracker()
	id := other.Track("elsewhere", handle("elsewhere"), core1_0.ImageAspectColor, intermediateInitial)

	assert.Panics(t, func() {
		tracker.Transition(id, intermediateWritable)
	})
}

func TestUntrackWithPendingBarrierPanics(t *testing.T) {
	tracker := NewResourceStateTracker()
	id := tracker.Track("output", handle("output"), core1_0.ImageAspectColor, intermediateInitial)
	tracker.Transition(id, intermediateWritable)

	assert.Panics(t, func() {
		tracker.Untrack(id)
	})
}

func TestFlushReturnsRecorderError(t *testing.T) {
	tracker := NewResourceStateTracker()
	id := tracker.Track("output", handle("output"), core1_0.ImageAspectColor, intermediateInitial)
	tracker.Transition(id, intermediateWritable)

	failure := errors.New("device lost")
	err := tracker.Flush(&recordedBatches{err: failure})
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure))
	assert.Empty(t, tracker.Pending())
}

func TestPlanTransition(t *testing.T) {
	assert.False(t, planTransition(intermediateWritable, intermediateWritable))
	assert.True(t, planTransition(intermediateWritable, intermediateReadable))
	assert.True(t, planTransition(backbufferWritable, backbufferPresentable))
}
