// Package workers runs jobs on a fixed set of managed threads. Each worker
// formats into its own scratch buffer held in thread-local storage, so jobs
// never share or lock a buffer.
package workers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"threadkit/internal/config"
	"threadkit/internal/logger"
	"threadkit/internal/thread"
)

// ErrStopped is returned by Do once Stop has been called.
var ErrStopped = errors.New("workers: pool stopped")

// Scratch is a worker's reusable buffer. It is reset before every job.
type Scratch struct {
	Buf  []byte
	Uses int
}

// Job appends its output to s.Buf.
type Job func(s *Scratch)

type request struct {
	job Job
	out chan []byte
}

// Pool is a fixed set of worker threads fed from one queue.
type Pool struct {
	reg     *thread.Registry
	scratch *thread.Local[Scratch]
	log     log.Logger
	idle    time.Duration

	jobs    chan request
	stop    chan struct{}
	done    chan struct{}
	threads []*thread.Thread

	mu       sync.Mutex
	paused   bool
	stopOnce sync.Once
	stopErr  error

	processed    atomic.Uint64
	scratchFreed atomic.Uint64
}

// New starts cfg.Count workers on reg.
func New(reg *thread.Registry, cfg config.WorkersConfig) (*Pool, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("workers: count must be positive, got %d", cfg.Count)
	}

	p := &Pool{
		reg:  reg,
		log:  logger.NewLoggerWithContext("workers"),
		idle: 50 * time.Millisecond,
		jobs: make(chan request, cfg.QueueSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	size := cfg.ScratchSize
	p.scratch = thread.NewLocalFunc(reg, "workers.scratch",
		func() *Scratch { return &Scratch{Buf: make([]byte, 0, size)} },
		func(s *Scratch) {
			s.Buf = nil
			p.scratchFreed.Add(1)
		})

	for i := range cfg.Count {
		th, err := reg.Create(p.loop, thread.Options{
			Ownership: thread.ManualDelete,
			Priority:  thread.NormalPriority,
			Name:      fmt.Sprintf("worker-%d", i),
		})
		if err != nil {
			p.abort()
			return nil, fmt.Errorf("workers: start worker %d: %w", i, err)
		}
		p.threads = append(p.threads, th)
	}
	for _, th := range p.threads {
		if err := th.Resume(); err != nil {
			p.abort()
			return nil, fmt.Errorf("workers: resume %s: %w", th.Name(), err)
		}
	}

	p.log.Info().Int("workers", cfg.Count).Int("queue", cfg.QueueSize).Msg("Worker pool started")
	return p, nil
}

// abort tears down a partially started pool.
func (p *Pool) abort() {
	close(p.stop)
	for _, th := range p.threads {
		_ = th.Terminate()
		_ = th.Delete()
	}
	close(p.done)
	p.scratch.Close()
}

func (p *Pool) loop(self *thread.Thread) {
	ticker := time.NewTicker(p.idle)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			p.log.Debug().Str("worker", self.Name()).Msg("Worker exiting")
			return
		case req := <-p.jobs:
			// A paused worker parks here before running the job.
			p.reg.Yield()
			req.out <- p.run(req.job)
		case <-ticker.C:
			p.reg.Yield()
		}
	}
}

func (p *Pool) run(job Job) []byte {
	s := p.scratch.Get()
	s.Buf = s.Buf[:0]
	s.Uses++
	job(s)
	p.processed.Add(1)
	return bytes.Clone(s.Buf)
}

// Do queues job and waits for its output.
func (p *Pool) Do(ctx context.Context, job Job) ([]byte, error) {
	req := request{job: job, out: make(chan []byte, 1)}
	select {
	case p.jobs <- req:
	case <-p.stop:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-req.out:
		return out, nil
	case <-p.done:
		select {
		case out := <-req.out:
			return out, nil
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pause suspends every worker. Workers park at their next checkpoint, so a
// job already running completes.
func (p *Pool) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return nil
	}
	var errs []error
	for _, th := range p.threads {
		if err := th.Suspend(true); err != nil {
			errs = append(errs, err)
		}
	}
	p.paused = true
	p.log.Info().Int("workers", len(p.threads)).Msg("Worker pool paused")
	return errors.Join(errs...)
}

// Unpause resumes the workers suspended by Pause.
func (p *Pool) Unpause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unpauseLocked()
}

func (p *Pool) unpauseLocked() error {
	if !p.paused {
		return nil
	}
	var errs []error
	for _, th := range p.threads {
		if err := th.Resume(); err != nil {
			errs = append(errs, err)
		}
	}
	p.paused = false
	p.log.Info().Int("workers", len(p.threads)).Msg("Worker pool resumed")
	return errors.Join(errs...)
}

// Stop asks every worker to exit and waits up to grace for each. Workers
// still busy after that are terminated and given another grace period to
// reach a checkpoint. Scratch buffers are freed once every worker has
// exited; if one is still running a job they are left to its own exit.
func (p *Pool) Stop(grace time.Duration) error {
	p.stopOnce.Do(func() {
		close(p.stop)

		p.mu.Lock()
		err := p.unpauseLocked()
		p.mu.Unlock()

		var g errgroup.Group
		var stuck atomic.Int32
		for _, th := range p.threads {
			g.Go(func() error {
				if th.WaitForTermination(grace) {
					return th.Delete()
				}
				p.log.Warn().Str("worker", th.Name()).Dur("grace", grace).Msg("Worker did not stop in time, terminating")
				if err := th.Terminate(); err != nil {
					return err
				}
				if !th.WaitForTermination(grace) {
					stuck.Add(1)
					return fmt.Errorf("workers: %s still running a job after terminate", th.Name())
				}
				return th.Delete()
			})
		}
		p.stopErr = errors.Join(err, g.Wait())
		close(p.done)

		if n := stuck.Load(); n > 0 {
			p.log.Error().Int32("workers", n).Msg("Workers still running, scratch buffers stay allocated until they exit")
		} else {
			p.scratch.Close()
		}
		p.log.Info().
			Uint64("jobs", p.processed.Load()).
			Uint64("scratch_freed", p.scratchFreed.Load()).
			Msg("Worker pool stopped")
	})
	return p.stopErr
}

// Processed returns the number of jobs run.
func (p *Pool) Processed() uint64 { return p.processed.Load() }

// Workers returns the number of worker threads.
func (p *Pool) Workers() int { return len(p.threads) }

func (p *Pool) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// ScratchBuffers returns the number of workers currently holding a scratch
// buffer.
func (p *Pool) ScratchBuffers() int { return p.scratch.Len() }
