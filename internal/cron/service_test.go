package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
)

type scriptedLock struct {
	acquire   bool
	refreshes []bool
	released  int
	refreshed int
}

func (l *scriptedLock) Acquire(context.Context) (bool, error) { return l.acquire, nil }

// Refresh counts every call; once the script runs out the lock stays held.
func (l *scriptedLock) Refresh(context.Context) (bool, error) {
	l.refreshed++
	if l.refreshed > len(l.refreshes) {
		return true, nil
	}
	return l.refreshes[l.refreshed-1], nil
}

func (l *scriptedLock) Release(context.Context) error {
	l.released++
	return nil
}

type countingJob struct {
	name  string
	runs  int
	err   error
	panic bool
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs++
	if j.panic {
		panic("nil provider ref")
	}
	return j.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return svc
}

func TestCycleRunsEveryJobDespiteFailures(t *testing.T) {
	ok := &countingJob{name: "delivery-reconcile"}
	failing := &countingJob{name: "delivery-retry", err: errors.New("db down")}
	panicky := &countingJob{name: "outbox-retention", panic: true}
	last := &countingJob{name: "last"}
	lock := &scriptedLock{acquire: true}

	svc := newTestService(t, lock, ok, failing, panicky, last)
	require.NoError(t, svc.runCycle(context.Background()))

	for _, j := range []*countingJob{ok, failing, panicky, last} {
		require.Equal(t, 1, j.runs, "job %s", j.name)
	}
	require.Equal(t, 1, lock.released)
	require.Equal(t, 3, lock.refreshed)
}

func TestCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	job := &countingJob{name: "delivery-reconcile"}
	lock := &scriptedLock{acquire: false}

	svc := newTestService(t, lock, job)
	require.NoError(t, svc.runCycle(context.Background()))
	require.Zero(t, job.runs)
	require.Zero(t, lock.released)
}

func TestCycleStopsWhenLeadershipLost(t *testing.T) {
	first := &countingJob{name: "first"}
	second := &countingJob{name: "second"}
	lock := &scriptedLock{acquire: true, refreshes: []bool{false}}

	svc := newTestService(t, lock, first, second)
	err := svc.runCycle(context.Background())
	require.ErrorIs(t, err, errLeadershipLost)
	require.Equal(t, 1, first.runs)
	require.Zero(t, second.runs)
	require.Equal(t, 1, lock.refreshed)
	require.Equal(t, 1, lock.released)
}

func TestRunReturnsOnCancel(t *testing.T) {
	job := &countingJob{name: "only"}
	svc := newTestService(t, &scriptedLock{acquire: true}, job)
	svc.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, svc.Run(ctx), context.Canceled)
	require.Zero(t, job.runs, "canceled context should short-circuit the job loop")
}

func TestRegistryRejectsDuplicatesAndCopies(t *testing.T) {
	a := &countingJob{name: "a"}
	_, err := NewRegistry(a, &countingJob{name: "a"})
	require.Error(t, err)

	_, err = NewRegistry(&countingJob{})
	require.Error(t, err)

	registry, err := NewRegistry(a, &countingJob{name: "b"})
	require.NoError(t, err)
	jobs := registry.Jobs()
	jobs[0] = nil
	require.Same(t, a, registry.Jobs()[0])
}
