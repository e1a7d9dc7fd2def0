// Package recovery runs the background jobs that finish interrupted games
// Compliant with GLI-19 §4.16: Interrupted Games
package recovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alexbotov/casino-core/internal/domain"
	"go.uber.org/zap"
)

// Job runs until ctx is cancelled
type Job interface {
	Start(ctx context.Context)
}

// Manager starts registered jobs and waits for them on shutdown
type Manager struct {
	jobs []Job
}

// New creates an empty job manager
func New() *Manager {
	return &Manager{}
}

// Register adds a job
func (m *Manager) Register(job Job) {
	m.jobs = append(m.jobs, job)
}

// Start runs every job and blocks until ctx is done and all jobs returned
func (m *Manager) Start(ctx context.Context) {
	var wg sync.WaitGroup

	for _, job := range m.jobs {
		wg.Add(1)

		go func(j Job) {
			defer wg.Done()
			j.Start(ctx)
		}(job)
	}

	<-ctx.Done()
	wg.Wait()
}

// Lister finds sessions in a status not touched since a cutoff
type Lister interface {
	ListByStatus(ctx context.Context, status domain.SessionStatus, updatedBefore time.Time, limit int) ([]*domain.GameSession, error)
}

// Retrier re-issues the payout of a pending session
type Retrier interface {
	Retry(ctx context.Context, sessionID string) (*domain.GameSession, error)
}

// Abandoner refunds and closes an open session
type Abandoner interface {
	Abandon(ctx context.Context, sessionID, reason string) error
}

// Config tunes both jobs
type Config struct {
	Interval   time.Duration
	RetryAfter time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// SettlementJob retries sessions left in pending_settlement
type SettlementJob struct {
	sessions Lister
	retrier  Retrier
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
}

// NewSettlementJob creates the pending settlement retry job
func NewSettlementJob(sessions Lister, retrier Retrier, cfg Config, logger *zap.Logger) *SettlementJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettlementJob{
		sessions: sessions,
		retrier:  retrier,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.Named("recovery.settlement"),
	}
}

func (j *SettlementJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		j.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce retries one batch and returns how many sessions settled
func (j *SettlementJob) RunOnce(ctx context.Context) int {
	pending, err := j.sessions.ListByStatus(ctx, domain.SessionPendingSettlement, j.now().Add(-j.cfg.RetryAfter), j.cfg.BatchSize)
	if err != nil {
		j.logger.Error("failed to list pending settlements", zap.Error(err))
		return 0
	}

	settled := 0
	for _, gs := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := j.retrier.Retry(ctx, gs.ID); err != nil {
			j.logger.Warn("settlement retry failed",
				zap.String("session_id", gs.ID),
				zap.Int64("payout", gs.Outcome.AdjustedPayout),
				zap.Error(err))
			continue
		}
		settled++
	}
	if settled > 0 {
		j.logger.Info("pending settlements completed", zap.Int("count", settled))
	}
	return settled
}

// StaleSessionJob abandons open sessions nobody has touched for StaleAfter
type StaleSessionJob struct {
	sessions  Lister
	abandoner Abandoner
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

// NewStaleSessionJob creates the stale session sweeper
func NewStaleSessionJob(sessions Lister, abandoner Abandoner, cfg Config, logger *zap.Logger) *StaleSessionJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaleSessionJob{
		sessions:  sessions,
		abandoner: abandoner,
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.Named("recovery.stale"),
	}
}

func (j *StaleSessionJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		j.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce abandons one batch and returns how many sessions were closed
func (j *StaleSessionJob) RunOnce(ctx context.Context) int {
	stale, err := j.sessions.ListByStatus(ctx, domain.SessionOpen, j.now().Add(-j.cfg.StaleAfter), j.cfg.BatchSize)
	if err != nil {
		j.logger.Error("failed to list stale sessions", zap.Error(err))
		return 0
	}

	closed := 0
	for _, gs := range stale {
		if ctx.Err() != nil {
			break
		}
		err := j.abandoner.Abandon(ctx, gs.ID, "inactive since "+gs.UpdatedAt.Format(time.RFC3339))
		switch {
		case err == nil:
			closed++
		case errors.Is(err, domain.ErrSessionSettled), errors.Is(err, domain.ErrSettlementPending):
			// finished between the listing and the lock
		default:
			j.logger.Warn("stale session not abandoned", zap.String("session_id", gs.ID), zap.Error(err))
		}
	}
	if closed > 0 {
		j.logger.Info("stale sessions abandoned", zap.Int("count", closed))
	}
	return closed
}
