package migration

import (
	"context"
	"time"

	"github.com/rpattn/datamigrate/internal/domain"
	"github.com/rpattn/datamigrate/internal/repository"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the sweeper scans for expired sessions.
const DefaultSweepInterval = 15 * time.Minute

// Sweeper expires abandoned sessions. An expired session keeps its metadata
// and validation results for audit, but the raw chunk payloads are dropped to
// reclaim storage.
type Sweeper struct {
	sessions repository.SessionRepository
	chunks   repository.ChunkRepository
	locks    *LockTable
	logger   *zap.Logger
	interval time.Duration
}

// NewSweeper wires a session sweeper. A zero interval falls back to
// DefaultSweepInterval.
func NewSweeper(sessions repository.SessionRepository, chunks repository.ChunkRepository, locks *LockTable, logger *zap.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		sessions: sessions,
		chunks:   chunks,
		locks:    locks,
		logger:   logger,
		interval: interval,
	}
}

// Run sweeps on a ticker until the context is cancelled. Call it from its own
// goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("session sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("expired sessions swept", zap.Int("count", n))
			}
		}
	}
}

// SweepOnce expires every session past its horizon and returns how many were
// expired. Sessions with an operation in flight are left for the next pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expirable, err := s.sessions.ListExpirable(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, session := range expirable {
		release := s.locks.acquire(session.ID.String())
		if release == nil {
			continue
		}

		moved, err := s.sessions.UpdateStatus(ctx, session.ID, nonTerminalStatuses(), domain.SessionStatusExpired, "session expired")
		if err != nil {
			release()
			return expired, err
		}
		if !moved {
			release()
			continue
		}
		if err := s.chunks.DeletePayloads(ctx, session.ID); err != nil {
			release()
			return expired, err
		}
		release()

		expired++
		s.logger.Info("session expired",
			zap.String("session_id", session.ID.String()),
			zap.String("tenant_id", session.TenantID.String()),
			zap.Time("expires_at", session.ExpiresAt),
		)
	}
	return expired, nil
}
