package task_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/portal_svc/internal/task"
)

const testRunWaitTimeout = 2 * time.Second

func waitForRunCount(testingT *testing.T, counter *atomic.Int64, expected int64) {
	testingT.Helper()
	deadline := time.Now().Add(testRunWaitTimeout)
	for time.Now().Before(deadline) {
		if counter.Load() >= expected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	testingT.Fatalf("scheduler run count %d never reached %d", counter.Load(), expected)
}

func TestSchedulerRunsOnInterval(t *testing.T) {
	var runCount atomic.Int64
	scheduler := task.NewScheduler("interval_test", 10*time.Millisecond, func(context.Context) {
		runCount.Add(1)
	}, zap.NewNop())

	scheduler.Start(context.Background())
	defer scheduler.Stop()

	waitForRunCount(t, &runCount, 2)
}

func TestSchedulerTriggerRunsImmediately(t *testing.T) {
	var runCount atomic.Int64
	scheduler := task.NewScheduler("trigger_test", time.Hour, func(context.Context) {
		runCount.Add(1)
	}, zap.NewNop())

	scheduler.Start(context.Background())
	defer scheduler.Stop()

	scheduler.Trigger()
	waitForRunCount(t, &runCount, 1)
}

func TestSchedulerStopWaitsForInFlightRun(t *testing.T) {
	runStarted := make(chan struct{})
	runRelease := make(chan struct{})
	var runFinished atomic.Bool
	scheduler := task.NewScheduler("stop_test", time.Hour, func(context.Context) {
		close(runStarted)
		<-runRelease
		runFinished.Store(true)
	}, zap.NewNop())

	scheduler.Start(context.Background())
	scheduler.Trigger()
	<-runStarted

	stopDone := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		t.Fatal("stop returned while a run was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(runRelease)
	select {
	case <-stopDone:
	case <-time.After(testRunWaitTimeout):
		t.Fatal("stop never returned after the run finished")
	}
	require.True(t, runFinished.Load())
}

func TestSchedulerStartTwiceIsNoOp(t *testing.T) {
	var runCount atomic.Int64
	scheduler := task.NewScheduler("restart_test", time.Hour, func(context.Context) {
		runCount.Add(1)
	}, zap.NewNop())

	scheduler.Start(context.Background())
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	scheduler.Trigger()
	waitForRunCount(t, &runCount, 1)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(1), runCount.Load())
}

func TestSchedulerNilRunnerNeverStarts(t *testing.T) {
	scheduler := task.NewScheduler("nil_runner_test", time.Millisecond, nil, zap.NewNop())
	scheduler.Start(context.Background())
	scheduler.Trigger()
	scheduler.Stop()
}
