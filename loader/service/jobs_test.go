package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medirag/types"
)

func TestJobLifecycle(t *testing.T) {
	tracker := NewJobTracker()

	id := tracker.Create("report.pdf")
	require.NotEmpty(t, id)

	job, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, types.JobProcessing, job.Status)
	assert.Equal(t, "report.pdf", job.Filename)
	assert.Zero(t, job.Progress)
	assert.False(t, job.StartedAt.IsZero())

	tracker.Progress(id, 40, "embedding chunks")
	job, _ = tracker.Get(id)
	assert.Equal(t, 40, job.Progress)
	assert.Equal(t, "embedding chunks", job.Detail)

	tracker.Complete(id)
	job, _ = tracker.Get(id)
	assert.Equal(t, types.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
}

func TestJobProgressNeverMovesBackwards(t *testing.T) {
	tracker := NewJobTracker()
	id := tracker.Create("a.pdf")

	tracker.Progress(id, 60, "later phase")
	tracker.Progress(id, 30, "stale update")

	job, _ := tracker.Get(id)
	assert.Equal(t, 60, job.Progress)
	// Detail still follows the latest report even when the percentage is stale.
	assert.Equal(t, "stale update", job.Detail)
}

func TestTerminalJobAcceptsNoUpdates(t *testing.T) {
	tracker := NewJobTracker()

	id := tracker.Create("a.pdf")
	tracker.Fail(id, "extraction failed")

	tracker.Progress(id, 90, "should be ignored")
	tracker.Complete(id)

	job, _ := tracker.Get(id)
	assert.Equal(t, types.JobError, job.Status)
	assert.Equal(t, "extraction failed", job.Detail)
}

func TestGetUnknownJob(t *testing.T) {
	tracker := NewJobTracker()
	_, ok := tracker.Get("nope")
	assert.False(t, ok)
}

func TestJobIDsAreUnique(t *testing.T) {
	tracker := NewJobTracker()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := tracker.Create("a.pdf")
		assert.False(t, seen[id])
		seen[id] = true
	}
}
