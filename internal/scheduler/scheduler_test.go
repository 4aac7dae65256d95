package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/imobflow/messaging-engine/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestStartRunsImmediatelyAndOnTicks(t *testing.T) {
	var runs atomic.Int32
	job := scheduler.JobFunc{
		JobName: "test",
		Fn:      func(context.Context) { runs.Add(1) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := scheduler.New(job, 10*time.Millisecond, zap.NewNop())

	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
