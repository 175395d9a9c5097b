package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type outcome struct {
	job Job
	err error
}

func collect() (ResultHook, <-chan outcome) {
	ch := make(chan outcome, 8)
	return func(job Job, err error) { ch <- outcome{job: job, err: err} }, ch
}

func wait(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job result")
		return outcome{}
	}
}

func TestQueueRunsRegisteredHandler(t *testing.T) {
	hook, results := collect()
	q := NewQueue("test", QueueConfig{Workers: 2, OnResult: hook})

	var got interface{}
	var mu sync.Mutex
	q.Handle("greet", func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		got = job.Payload
		return nil
	})
	q.Start(context.Background())
	defer q.Stop()

	id, err := q.Enqueue(context.Background(), "greet", "hello")
	require.NoError(t, err)

	o := wait(t, results)
	assert.NoError(t, o.err)
	assert.Equal(t, id, o.job.ID)
	mu.Lock()
	assert.Equal(t, "hello", got)
	mu.Unlock()
}

func TestQueueRetriesThenGivesUp(t *testing.T) {
	hook, results := collect()
	q := NewQueue("test", QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond, OnResult: hook})

	var attempts int
	var mu sync.Mutex
	q.Handle("flaky", func(context.Context, Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("smtp down")
	})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(context.Background(), "flaky", nil)
	require.NoError(t, err)

	o := wait(t, results)
	assert.EqualError(t, o.err, "smtp down")
	assert.Equal(t, 3, o.job.Attempt)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestQueueStopWaitsForPendingRetry(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	q := NewQueue("test", QueueConfig{MaxRetries: 3, RetryDelay: time.Hour, Logger: zap.New(core)})

	failed := make(chan struct{}, 1)
	var attempts int
	var mu sync.Mutex
	q.Handle("flaky", func(context.Context, Job) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		failed <- struct{}{}
		return errors.New("smtp down")
	})
	q.Start(context.Background())

	id, err := q.Enqueue(context.Background(), "flaky", nil)
	require.NoError(t, err)
	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}

	done := make(chan struct{})
	go func() {
		q.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	abandoned := logs.FilterMessage("retry abandoned").All()
	require.Len(t, abandoned, 1)
	assert.Equal(t, id, abandoned[0].ContextMap()["job_id"])
	mu.Lock()
	assert.Equal(t, 1, attempts)
	mu.Unlock()
}

func TestQueueRecoversOnRetry(t *testing.T) {
	hook, results := collect()
	q := NewQueue("test", QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond, OnResult: hook})

	var mu sync.Mutex
	calls := 0
	q.Handle("once", func(context.Context, Job) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("temporary")
		}
		return nil
	})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(context.Background(), "once", nil)
	require.NoError(t, err)

	o := wait(t, results)
	assert.NoError(t, o.err)
	assert.Equal(t, 1, o.job.Attempt)
}

func TestQueueUnknownType(t *testing.T) {
	hook, results := collect()
	q := NewQueue("test", QueueConfig{OnResult: hook})
	q.Start(context.Background())
	defer q.Stop()

	_, err := q.Enqueue(context.Background(), "missing", nil)
	require.NoError(t, err)

	o := wait(t, results)
	assert.ErrorContains(t, o.err, "no handler")
}

func TestEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("test", QueueConfig{})
	_, err := q.Enqueue(context.Background(), "any", nil)
	assert.ErrorIs(t, err, ErrNotStarted)
}
