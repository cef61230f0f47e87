package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/projectmemory/memcore/config"
	"github.com/projectmemory/memcore/internal/store"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.QueueWorkers = 2
	cfg.QueueCapacity = 16
	cfg.TaskTTL = 2 * time.Second
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = 5 * time.Millisecond
	return cfg
}

func waitForTerminal(t *testing.T, q *Queue, id string) Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := q.Status(id)
		require.True(t, ok)
		switch task.State {
		case StateCompleted, StateFailedPermanent, StateExpired, StateCancelled:
			return task
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("task did not reach a terminal state in time")
	return Task{}
}

func TestSubmitRunsWorkToCompletion(t *testing.T) {
	q, err := New(testConfig())
	require.NoError(t, err)
	defer q.Close()

	var ran bool
	id, err := q.Submit(store.SourceTypeConversation, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)

	task := waitForTerminal(t, q, id)
	require.Equal(t, StateCompleted, task.State)
	require.True(t, ran)
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	q, err := New(testConfig())
	require.NoError(t, err)
	defer q.Close()

	attempts := 0
	id, err := q.Submit(store.SourceTypeManual, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)

	task := waitForTerminal(t, q, id)
	require.Equal(t, StateCompleted, task.State)
	require.Equal(t, 2, attempts)
}

func TestSubmitGivesUpAfterMaxRetries(t *testing.T) {
	q, err := New(testConfig())
	require.NoError(t, err)
	defer q.Close()

	id, err := q.Submit(store.SourceTypeManual, func(ctx context.Context) error {
		return errors.New("always fails")
	})
	require.NoError(t, err)

	task := waitForTerminal(t, q, id)
	require.Equal(t, StateFailedPermanent, task.State)
	require.Equal(t, testConfig().MaxRetries+1, task.Attempts)
}

func TestSubmitDoesNotRetryPermanentErrors(t *testing.T) {
	q, err := New(testConfig())
	require.NoError(t, err)
	defer q.Close()

	attempts := 0
	id, err := q.Submit(store.SourceTypeManual, func(ctx context.Context) error {
		attempts++
		return Permanent(errors.New("bad input"))
	})
	require.NoError(t, err)

	task := waitForTerminal(t, q, id)
	require.Equal(t, StateFailedPermanent, task.State)
	require.Equal(t, 1, attempts)
}

func TestSameSourceTasksRunInSubmissionOrder(t *testing.T) {
	q, err := New(testConfig())
	require.NoError(t, err)
	defer q.Close()

	var order []int
	var ids []string
	for i := 0; i < 5; i++ {
		i := i
		id, err := q.Submit(store.SourceTypeCodeComment, func(ctx context.Context) error {
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	for _, id := range ids {
		waitForTerminal(t, q, id)
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestCancelMarksTaskCancelled(t *testing.T) {
	q, err := New(testConfig())
	require.NoError(t, err)
	defer q.Close()

	started := make(chan struct{})
	id, err := q.Submit(store.SourceTypeConversation, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	<-started
	require.NoError(t, q.Cancel(id))

	task, ok := q.Status(id)
	require.True(t, ok)
	require.Equal(t, StateCancelled, task.State)
}
