package background_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/alchemorsel/gateway/internal/infrastructure/background"
)

type PoolSuite struct {
	suite.Suite
}

func TestPoolSuite(t *testing.T) {
	suite.Run(t, new(PoolSuite))
}

func (s *PoolSuite) TestCase_ShouldRunAllSubmittedTasks() {
	pool := background.New(2, zap.NewNop())
	var count int32
	for i := 0; i < 10; i++ {
		pool.Go(func(ctx context.Context) {
			atomic.AddInt32(&count, 1)
		})
	}
	pool.Wait()
	s.EqualValues(10, count)
}

func (s *PoolSuite) TestCase_ShouldDetachFromCancelledParentContext() {
	pool := background.New(1, zap.NewNop())
	parent, cancel := context.WithCancel(context.Background())
	cancel() // simulate client disconnect before task runs

	done := make(chan error, 1)
	pool.Go(func(ctx context.Context) {
		_ = parent // the submitted fn never sees parent; it gets its own context
		done <- ctx.Err()
	})

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(time.Second):
		s.Fail("background task did not run")
	}
}

func (s *PoolSuite) TestCase_ShouldRecoverFromPanickingTask() {
	pool := background.New(1, zap.NewNop())
	pool.Go(func(ctx context.Context) {
		panic("boom")
	})
	pool.Wait() // must not propagate the panic to the test goroutine
}

func (s *PoolSuite) TestCase_ShouldBoundConcurrency() {
	pool := background.New(2, zap.NewNop())
	var running, maxObserved int32
	for i := 0; i < 8; i++ {
		pool.Go(func(ctx context.Context) {
			cur := atomic.AddInt32(&running, 1)
			for {
				observed := atomic.LoadInt32(&maxObserved)
				if cur <= observed || atomic.CompareAndSwapInt32(&maxObserved, observed, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	pool.Wait()
	s.LessOrEqual(maxObserved, int32(2))
}
