package risk

import (
	"context"

	"github.com/rs/zerolog"
)

// SweepJob wraps Store.SweepExpiredLeases as a scheduler.Job so the
// orphaned-reservation sweep runs on the same cron-driven loop as the
// model reload poller and the reconciliation cycle.
type SweepJob struct {
	store *Store
	log   zerolog.Logger
}

// NewSweepJob builds a SweepJob over store.
func NewSweepJob(store *Store, log zerolog.Logger) *SweepJob {
	return &SweepJob{store: store, log: log.With().Str("component", "reservation-sweep").Logger()}
}

// Run releases every reservation whose lease has expired.
func (j *SweepJob) Run(ctx context.Context) error {
	released, err := j.store.SweepExpiredLeases()
	if err != nil {
		return err
	}
	if released > 0 {
		j.log.Info().Int("released", released).Msg("swept expired reservations")
	}
	return nil
}

// Name implements scheduler.Job.
func (j *SweepJob) Name() string { return "reservation-sweep" }
