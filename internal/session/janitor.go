package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/linkcap/linkcap/internal/observability"
)

const (
	// DefaultSweepSchedule runs the janitor every ten minutes.
	DefaultSweepSchedule = "*/10 * * * *"
	// DefaultRetentionAge keeps terminal records for a day before deletion.
	DefaultRetentionAge = 24 * time.Hour

	sweepTimeout = time.Minute
)

// JanitorConfig tunes the background sweep.
type JanitorConfig struct {
	// Schedule is a five-field cron expression.
	Schedule string
	// RetentionAge is how long terminal records are kept before deletion.
	RetentionAge time.Duration
	Logger       zerolog.Logger
}

// Janitor periodically reconciles the store: overdue records get their
// EXPIRED state persisted, terminal records past the retention age are
// deleted. Reads stay correct without it; the janitor keeps the store from
// accumulating dead records.
type Janitor struct {
	store Store
	cfg   JanitorConfig
	sched cron.Schedule
	log   zerolog.Logger
	now   func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJanitor validates the schedule and builds the sweeper.
func NewJanitor(store Store, cfg JanitorConfig) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSweepSchedule
	}
	if cfg.RetentionAge <= 0 {
		cfg.RetentionAge = DefaultRetentionAge
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}

	return &Janitor{
		store: store,
		cfg:   cfg,
		sched: sched,
		log:   cfg.Logger.With().Str("module", "janitor").Logger(),
		now:   time.Now,
	}, nil
}

// Start begins the sweep loop. The first sweep runs immediately.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("janitor is already running")
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	go j.run()

	j.log.Info().
		Str("schedule", j.cfg.Schedule).
		Dur("retention_age", j.cfg.RetentionAge).
		Msg("Session janitor started")

	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return fmt.Errorf("janitor is not running")
	}
	j.running = false
	close(j.stopCh)
	done := j.doneCh
	j.mu.Unlock()

	<-done

	j.log.Info().Msg("Session janitor stopped")
	return nil
}

func (j *Janitor) run() {
	defer close(j.doneCh)

	j.sweepWithTimeout()

	for {
		next := j.sched.Next(j.now())
		timer := time.NewTimer(next.Sub(j.now()))

		select {
		case <-j.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			j.sweepWithTimeout()
		}
	}
}

func (j *Janitor) sweepWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, _, err := j.SweepNow(ctx); err != nil {
		j.log.Error().Err(err).Msg("Sweep failed")
	}
}

// SweepNow runs one reconciliation pass and reports how many records were
// expired and how many deleted.
func (j *Janitor) SweepNow(ctx context.Context) (expired, cleaned int, err error) {
	records, err := j.store.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list sessions: %w", err)
	}

	now := j.now()
	active := 0

	for _, rec := range records {
		switch {
		case rec.State == StateExpired:
			if j.pastRetention(rec, now) {
				if derr := j.store.Delete(ctx, rec.SessionID); derr != nil {
					j.log.Warn().Err(derr).Str("session_id", rec.SessionID).Msg("Could not delete expired session")
					continue
				}
				cleaned++
				continue
			}
			// Persist the lazily observed expiry so the stored state matches
			// what every reader already sees.
			_, cerr := j.store.CompareAndTransition(ctx, rec.SessionID, StateExpired, StateExpired, nil)
			if cerr != nil {
				j.log.Warn().Err(cerr).Str("session_id", rec.SessionID).Msg("Could not persist expiry")
				continue
			}
			expired++

		case rec.State.Terminal():
			if j.pastRetention(rec, now) {
				if derr := j.store.Delete(ctx, rec.SessionID); derr != nil {
					j.log.Warn().Err(derr).Str("session_id", rec.SessionID).Msg("Could not delete terminal session")
					continue
				}
				cleaned++
			}

		default:
			active++
		}
	}

	observability.RecordSessionsExpired(expired)
	observability.RecordSessionsCleaned(cleaned)
	observability.SetActiveSessions(active)

	if expired > 0 || cleaned > 0 {
		j.log.Info().
			Int("expired", expired).
			Int("cleaned", cleaned).
			Int("active", active).
			Msg("Sweep complete")
	}

	return expired, cleaned, nil
}

// pastRetention reports whether the record's terminal moment is older than
// the retention age. FINALIZED records age from their finalize time, the
// rest from creation.
func (j *Janitor) pastRetention(rec Record, now time.Time) bool {
	anchor := rec.CreatedAt
	if rec.FinalizedAt != nil {
		anchor = *rec.FinalizedAt
	}
	return now.Sub(anchor) >= j.cfg.RetentionAge
}

// IsRunning reports whether the sweep loop is active.
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}
