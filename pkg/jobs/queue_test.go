package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 2)
	q := NewQueue("repairs", func(ctx context.Context, job Job) error {
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 2})

	assert.ErrorIs(t, q.Enqueue(Job{ID: "early"}), ErrQueueStopped, "enqueue before start")

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	require.NoError(t, q.Enqueue(Job{ID: "b"}))
	assert.Equal(t, "a", <-done)
	assert.Equal(t, "b", <-done)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts int32
	finished := make(chan struct{})
	q := NewQueue("repairs", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		close(finished)
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "run"}))
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestQueueRejectsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	q := NewQueue("repairs", func(ctx context.Context, job Job) error {
		if job.ID == "blocker" {
			close(started)
		}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer q.Stop()
	defer close(release)

	require.NoError(t, q.Enqueue(Job{ID: "blocker"}))
	<-started
	require.NoError(t, q.Enqueue(Job{ID: "waiting"}))
	assert.Equal(t, 1, q.Pending())

	err := q.Enqueue(Job{ID: "overflow"})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueSurvivesPanickingHandler(t *testing.T) {
	done := make(chan string, 1)
	q := NewQueue("repairs", func(ctx context.Context, job Job) error {
		if job.ID == "boom" {
			panic("nil map")
		}
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "boom"}))
	require.NoError(t, q.Enqueue(Job{ID: "after"}))
	assert.Equal(t, "after", <-done)

	require.Eventually(t, func() bool {
		stats := q.Stats()
		return stats.Failed == 1 && stats.Succeeded == 1
	}, time.Second, 5*time.Millisecond)

	q.Stop()
	assert.ErrorIs(t, q.Enqueue(Job{ID: "late"}), ErrQueueStopped)
}

func TestQueueJobTimeout(t *testing.T) {
	result := make(chan error, 1)
	q := NewQueue("repairs", func(ctx context.Context, job Job) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	}, QueueConfig{Workers: 1, JobTimeout: 10 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "slow"}))
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job was not cancelled")
	}
}

func TestNilQueueStats(t *testing.T) {
	var q *Queue
	assert.Equal(t, Stats{}, q.Stats())
}
