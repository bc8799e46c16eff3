package worker

import "github.com/snagbot/snag/pkg/logger"

var workerLogger = logger.Get("Worker")

type (
	WorkerWakeupChan chan int
	WorkerStatus     int

	// WorkerTask is the unit of work a worker repeatedly executes. The
	// boolean return indicates whether any work was claimed; a worker whose
	// task claims nothing goes back to sleep until woken.
	WorkerTask func(Worker) (bool, error)

	Worker interface {
		Start()
		Status() WorkerStatus
		WakeupChan() WorkerWakeupChan
		Label() string
		Sleep() bool
		Close()
	}

	taskWorker struct {
		label         string
		task          WorkerTask
		wakeupChan    WorkerWakeupChan
		currentStatus WorkerStatus
	}
)

const (
	Sleeping WorkerStatus = iota
	Working
	Finished
)

func NewWorker(label string, task WorkerTask) *taskWorker {
	return &taskWorker{
		label:         label,
		task:          task,
		wakeupChan:    make(WorkerWakeupChan),
		currentStatus: Sleeping,
	}
}

// Start runs the workers task in a loop until the wakeup channel
// is closed. Whenever the task reports that no work was available,
// the worker sleeps until signalled.
func (worker *taskWorker) Start() {
	workerLogger.Emit(logger.NEW, "Starting worker with label %v\n", worker.label)
	worker.currentStatus = Working

	for {
		didWork, err := worker.task(worker)
		if err != nil {
			workerLogger.Emit(logger.ERROR, "Worker %v task reported an error(%T): %v\n", worker.label, err, err.Error())
			break
		}

		if !didWork {
			if isAlive := worker.Sleep(); !isAlive {
				break
			}
		}
	}

	worker.currentStatus = Finished
	workerLogger.Emit(logger.STOP, "Worker %v has stopped\n", worker.label)
}

func (worker *taskWorker) Status() WorkerStatus {
	return worker.currentStatus
}

func (worker *taskWorker) WakeupChan() WorkerWakeupChan {
	return worker.wakeupChan
}

func (worker *taskWorker) Label() string {
	return worker.label
}

// Close closes the worker by closing the wakeup channel. Note that this
// does not interrupt a task that is currently executing.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// Sleep puts a worker to sleep until its wakeupChan is signalled
// from another goroutine. Returns false if the wakeup channel was
// closed - indicating the worker should quit.
func (worker *taskWorker) Sleep() (isAlive bool) {
	worker.currentStatus = Sleeping

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.currentStatus = Working
	} else {
		worker.currentStatus = Finished
	}

	return isAlive
}
