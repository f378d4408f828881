// Package scheduler runs the background loops every service in the
// trade control plane needs: the model hot-reload poller, the
// reconciliation cycle, and the orphaned-reservation sweep.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of background work. Run receives the scheduler's
// shutdown context so long operations (a reconciliation cycle against a
// slow broker) can be cancelled cleanly instead of leaking past Stop.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler wraps robfig/cron with structured logging and context
// propagation, tying every registered job's lifetime to the scheduler's.
type Scheduler struct {
	cron   *cron.Cron
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Scheduler. The returned scheduler owns a context that is
// cancelled on Stop and passed to every job invocation.
func New(log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		log:    log.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins executing registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("scheduler started")
}

// Stop cancels the shared job context and waits for in-flight runs to
// return, cooperatively unwinding any locks or reservations a job holds.
func (s *Scheduler) Stop() {
	cronCtx := s.cron.Stop()
	s.cancel()
	<-cronCtx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job on the given cron schedule (e.g. "@every 30s",
// "0 */5 * * * *"). A job that returns an error is logged, never
// retried implicitly — the next tick re-evaluates, matching the model
// reload policy's failure semantics.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("running job")

		if err := job.Run(s.ctx); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule — used by
// operator-initiated reload/reconciliation endpoints.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	return job.Run(s.ctx)
}
