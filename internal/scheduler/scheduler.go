// Package scheduler admits validated jobs against the scarce accelerator. A
// bounded FIFO queue provides backpressure; one worker loop per device
// serializes model execution, so at most one job runs per device at a time.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidgend/internal/capability"
	"vidgend/internal/engine"
	"vidgend/internal/pipeline"
	"vidgend/internal/residency"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultQueueDepth  = 10
	defaultJobTimeout  = 30 * time.Minute
	defaultFinishedTTL = 15 * time.Minute
)

// Config tunes the scheduler.
type Config struct {
	// QueueDepth bounds the admission queue. Submissions beyond it fail
	// immediately with Overloaded.
	QueueDepth int
	// JobTimeout is the per-job deadline measured from dispatch.
	JobTimeout time.Duration
	// FinishedTTL is how long terminal jobs stay queryable.
	FinishedTTL time.Duration
}

// Scheduler owns the job table and the device worker loops.
type Scheduler struct {
	cfg      Config
	managers []*residency.Manager // one per device
	pipe     *pipeline.Pipeline
	log      zerolog.Logger

	queue chan *Job

	mu   sync.Mutex
	jobs map[string]*Job

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a scheduler over per-device residency managers and the pipeline.
// Start must be called before submitting.
func New(cfg Config, managers []*residency.Manager, pipe *pipeline.Pipeline, log zerolog.Logger) *Scheduler {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.FinishedTTL <= 0 {
		cfg.FinishedTTL = defaultFinishedTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		managers: managers,
		pipe:     pipe,
		log:      log,
		queue:    make(chan *Job, cfg.QueueDepth),
		jobs:     make(map[string]*Job),
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// Start launches one worker loop per device and the finished-job janitor.
func (s *Scheduler) Start() {
	for device := range s.managers {
		s.wg.Add(1)
		go s.worker(device)
	}
	s.wg.Add(1)
	go s.janitor()
}

// Close cancels in-flight work and waits for the workers to drain.
func (s *Scheduler) Close() error {
	s.stop()
	s.wg.Wait()
	return nil
}

// Submit enqueues a validated spec. Non-blocking: when the queue is full the
// submission is rejected with Overloaded and never silently dropped.
func (s *Scheduler) Submit(spec capability.GenerationSpec) (*Job, error) {
	ctx, cancel := context.WithCancel(s.baseCtx)
	job := &Job{
		ID:          uuid.NewString(),
		Spec:        spec,
		state:       StateQueued,
		submittedAt: time.Now(),
		seed:        spec.Seed,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	select {
	case s.queue <- job:
		metricQueueDepth.Inc()
		s.log.Debug().Str("job", job.ID).Str("task", string(spec.Task)).Msg("job queued")
		return job, nil
	default:
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		cancel()
		metricRejections.Inc()
		return nil, ErrOverloaded()
	}
}

// Job returns a snapshot of the job's current state.
func (s *Scheduler) Job(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, ErrJobNotFound(id)
	}
	return s.snapshotLocked(job), nil
}

// Cancel requests cancellation. A queued job becomes Cancelled immediately
// and is skipped by the worker; a running job is signalled and stops at the
// next frame-batch checkpoint. Cancelling a finished job is a no-op.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound(id)
	}
	if job.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if job.state == StateQueued {
		s.finishLocked(job, StateCancelled, nil)
		s.mu.Unlock()
		job.cancel()
		return nil
	}
	s.mu.Unlock()
	job.cancel()
	return nil
}

// worker is the per-device loop: pull, acquire, run, always release.
func (s *Scheduler) worker(device int) {
	defer s.wg.Done()
	mgr := s.managers[device]
	log := s.log.With().Int("device", device).Logger()
	for {
		var job *Job
		select {
		case job = <-s.queue:
		case <-s.baseCtx.Done():
			return
		}
		metricQueueDepth.Dec()

		s.mu.Lock()
		if job.state.Terminal() {
			// Cancelled while queued; never touches the device.
			s.mu.Unlock()
			continue
		}
		s.setStateLocked(job, StateAcquiring)
		job.startedAt = time.Now()
		s.mu.Unlock()

		s.runJob(mgr, job, log)
	}
}

func (s *Scheduler) runJob(mgr *residency.Manager, job *Job, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(job.ctx, s.cfg.JobTimeout)
	defer cancel()

	handle, err := mgr.Acquire(ctx, job.Spec.Task)
	if err != nil {
		s.finishWithError(job, ctx, err)
		return
	}
	defer mgr.Release(handle)

	s.mu.Lock()
	s.setStateLocked(job, StateRunning)
	s.mu.Unlock()
	log.Info().Str("job", job.ID).Str("task", string(job.Spec.Task)).Msg("job running")

	ref, seed, err := s.pipe.Run(ctx, handle.Engine, job.Spec, job.ID, func() {
		s.mu.Lock()
		s.setStateLocked(job, StateEncoding)
		s.mu.Unlock()
	})

	s.mu.Lock()
	job.seed = seed
	s.mu.Unlock()
	if err != nil {
		s.finishWithError(job, ctx, err)
		return
	}
	s.mu.Lock()
	job.artifact = ref
	s.finishLocked(job, StateSucceeded, nil)
	s.mu.Unlock()
	log.Info().Str("job", job.ID).Int64("seed", seed).Msg("job succeeded")
}

// finishWithError maps a run failure to the job's terminal state. A deadline
// overrun is reported as Timeout and the job Failed; an explicit cancel (or
// shutdown) lands in Cancelled; everything else is Failed with the cause.
func (s *Scheduler) finishWithError(job *Job, ctx context.Context, err error) {
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded) && job.ctx.Err() == nil
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case timedOut:
		s.finishLocked(job, StateFailed, ErrTimeout(job.ID))
	case engine.IsCancelled(err), errors.Is(err, context.Canceled):
		s.finishLocked(job, StateCancelled, nil)
	default:
		s.finishLocked(job, StateFailed, err)
	}
	s.log.Warn().Err(err).Str("job", job.ID).Str("state", string(job.state)).Msg("job finished with error")
}

// setStateLocked advances the job state. States only move forward.
func (s *Scheduler) setStateLocked(job *Job, next State) {
	if next.rank() <= job.state.rank() && next != job.state {
		return
	}
	job.state = next
}

// finishLocked records the terminal state, the error, and wakes waiters.
func (s *Scheduler) finishLocked(job *Job, final State, err error) {
	if job.state.Terminal() {
		return
	}
	job.state = final
	job.finishedAt = time.Now()
	if err != nil {
		job.err = err
	}
	close(job.done)
	metricJobs.WithLabelValues(string(final)).Inc()
	if !job.startedAt.IsZero() {
		metricJobDuration.Observe(job.finishedAt.Sub(job.startedAt).Seconds())
	}
}

func (s *Scheduler) snapshotLocked(job *Job) Snapshot {
	snap := Snapshot{
		ID:          job.ID,
		Task:        job.Spec.Task,
		State:       job.state,
		SubmittedAt: job.submittedAt,
		StartedAt:   job.startedAt,
		FinishedAt:  job.finishedAt,
		Seed:        job.seed,
		Artifact:    job.artifact,
	}
	if job.err != nil {
		snap.Error = job.err.Error()
		snap.Cause = job.err
	}
	return snap
}

// janitor drops terminal jobs after FinishedTTL so the table stays bounded.
func (s *Scheduler) janitor() {
	defer s.wg.Done()
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-t.C:
			cutoff := time.Now().Add(-s.cfg.FinishedTTL)
			s.mu.Lock()
			for id, job := range s.jobs {
				if job.state.Terminal() && job.finishedAt.Before(cutoff) {
					delete(s.jobs, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// QueueLen reports the number of queued jobs.
func (s *Scheduler) QueueLen() int { return len(s.queue) }

// QueueDepth reports the configured queue capacity.
func (s *Scheduler) QueueDepth() int { return cap(s.queue) }
