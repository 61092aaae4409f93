package worker_test

import (
	"sync"
	"testing"

	"grabbit/pkg/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepUntilClosed parks the worker until its wakeup channel closes,
// mirroring how long-running tasks drain their queues.
type sleepUntilClosed struct{}

func (task sleepUntilClosed) Execute(w worker.Worker) error {
	for w.Sleep() {
	}

	return nil
}

func Test_WorkerPool_StartConcurrentWithWakeup(t *testing.T) {
	pool := worker.NewWorkerPool()
	require.Nil(t, pool.PushWorker(worker.NewWorker("a", sleepUntilClosed{}), worker.NewWorker("b", sleepUntilClosed{})))

	// Producers may wake the pool while the owner is still starting
	// it; both paths must be safe to run together.
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.Nil(t, pool.Start())
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = pool.WakeupWorkers()
		}
	}()
	wg.Wait()

	pool.CloseWorkers()
	pool.Wg.Wait()
}

func Test_WorkerPool_RejectsDoubleStart(t *testing.T) {
	pool := worker.NewWorkerPool()
	require.Nil(t, pool.Start())
	assert.NotNil(t, pool.Start())
}

func Test_WorkerPool_RejectsPushAfterStart(t *testing.T) {
	pool := worker.NewWorkerPool()
	require.Nil(t, pool.Start())
	assert.NotNil(t, pool.PushWorker(worker.NewWorker("late", sleepUntilClosed{})))
}

func Test_WorkerPool_WakeupBeforeStartIsAnError(t *testing.T) {
	pool := worker.NewWorkerPool()
	assert.NotNil(t, pool.WakeupWorkers())
}
