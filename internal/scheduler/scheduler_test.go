package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingDispatcher struct {
	calls atomic.Int32
	err   error
}

func (d *countingDispatcher) DispatchPending(ctx context.Context) (int, error) {
	d.calls.Add(1)
	return 1, d.err
}

func TestSchedulerRunsJobsUntilCanceled(t *testing.T) {
	dispatcher := &countingDispatcher{}
	s := NewScheduler(zap.NewNop())
	s.AddJob(NewPayoutDispatchJob(dispatcher, zap.NewNop()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return dispatcher.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("планировщик не остановился")
	}
}

func TestPayoutDispatchJobWrapsError(t *testing.T) {
	job := NewPayoutDispatchJob(&countingDispatcher{err: errors.New("db down")}, zap.NewNop())

	err := job.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, "payout_dispatch", job.Name())
}

type namedJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j namedJob) Name() string { return j.name }

func (j namedJob) Run(ctx context.Context) error { return j.run(ctx) }

func TestSchedulerStartLogsJobNames(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewScheduler(zap.New(core))
	s.AddJob(NewPayoutDispatchJob(&countingDispatcher{}, zap.NewNop()))
	s.AddJob(namedJob{name: "pending_gauge", run: func(context.Context) error { return nil }})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx, time.Hour)

	started := logs.FilterMessage("запуск планировщика выплат").All()
	require.Len(t, started, 1)
	assert.Equal(t, []string{"payout_dispatch", "pending_gauge"}, s.JobNames())
	assert.Equal(t, "[payout_dispatch pending_gauge]", fmt.Sprint(started[0].ContextMap()["jobs"]))
}

func TestSchedulerRunOnceCountsFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := NewScheduler(zap.New(core))
	ran := 0
	s.AddJob(namedJob{name: "broken", run: func(context.Context) error { return errors.New("boom") }})
	s.AddJob(namedJob{name: "ok", run: func(context.Context) error { ran++; return nil }})

	failed := s.RunOnce(context.Background())

	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, ran)
	entries := logs.FilterField(zap.String("job", "broken")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ошибка выполнения задачи", entries[0].Message)
}

func TestSchedulerJobTimeout(t *testing.T) {
	s := NewScheduler(zap.NewNop(), WithJobTimeout(10*time.Millisecond))
	s.AddJob(namedJob{name: "slow", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	failed := s.RunOnce(context.Background())

	assert.Equal(t, 1, failed)
}
