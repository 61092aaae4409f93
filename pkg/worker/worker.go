package worker

import (
	"sync/atomic"

	"grabbit/pkg/logger"
)

var workerLogger = logger.Get("Worker")

type WakeupChan chan int
type WorkerStatus int

// Task is the unit of work executed by a worker. Implementations
// are expected to use the worker handle to sleep when their work
// queue is drained.
type Task interface {
	Execute(Worker) error
}

const (
	Sleeping WorkerStatus = iota
	Working
	Finished
)

type Worker interface {
	Start()
	Status() WorkerStatus
	WakeupChan() WakeupChan
	Label() string
	Sleep() bool
	Close()
}

// taskWorker's status is stored atomically: the worker goroutine updates
// it as it sleeps and wakes while WakeupWorkers polls it from producers.
type taskWorker struct {
	label         string
	task          Task
	wakeupChan    WakeupChan
	currentStatus atomic.Int32
}

func NewWorker(label string, task Task) *taskWorker {
	worker := &taskWorker{
		label:      label,
		task:       task,
		wakeupChan: make(WakeupChan),
	}
	worker.currentStatus.Store(int32(Sleeping))

	return worker
}

func (worker *taskWorker) Start() {
	workerLogger.Emit(logger.NEW, "Starting worker %v\n", worker.label)
	worker.currentStatus.Store(int32(Working))
	if err := worker.task.Execute(worker); err != nil {
		workerLogger.Emit(logger.ERROR, "Worker %v has reported an error(%T): %v\n", worker.label, err, err.Error())
	}

	worker.currentStatus.Store(int32(Finished))
	workerLogger.Emit(logger.STOP, "Worker %v has stopped\n", worker.label)
}

// Status returns the current status of this worker
func (worker *taskWorker) Status() WorkerStatus {
	return WorkerStatus(worker.currentStatus.Load())
}

func (worker *taskWorker) WakeupChan() WakeupChan {
	return worker.wakeupChan
}

// Close closes the Worker by closing the WakeChan.
// Note that this does not interupt currently running
// goroutines.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// Label returns the label for this worker
func (worker *taskWorker) Label() string {
	return worker.label
}

// Sleep puts a worker to sleep until it's wakeupChan is
// signalled from another goroutine. Returns a boolean that
// is 'false' if the wakeup channel was closed - indicating
// the worker should quit.
func (worker *taskWorker) Sleep() (isAlive bool) {
	worker.currentStatus.Store(int32(Sleeping))

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.currentStatus.Store(int32(Working))
	} else {
		workerLogger.Emit(logger.STOP, "Wakeup channel for worker '%v' has been closed - worker is exiting\n", worker.label)
		worker.currentStatus.Store(int32(Finished))
	}

	return isAlive
}
