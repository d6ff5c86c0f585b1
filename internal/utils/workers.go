package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool is a fixed set of workers draining a shared task channel.
// The server uses it to bound how many client connections are serviced
// concurrently.
type WorkerPool struct {
	n     int
	tasks chan any
}

func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		n:     size,
		tasks: make(chan any, taskChanSize),
	}
}

// AddTask enqueues a task for the next free worker.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup spawns the workers on the tomb. Each worker loops on the task
// channel until the tomb dies; a worker returning an error kills the
// whole tomb.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", pool.n).Msg("starting worker pool")
	for range pool.n {
		t.Go(func() error {
			return pool.worker(t, work)
		})
	}
}

func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("worker exiting")
				return err
			}
		}
	}
}
