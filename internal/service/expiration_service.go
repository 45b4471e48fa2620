package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/salon-loyalty-core/internal/metrics"
	"github.com/fairyhunter13/salon-loyalty-core/internal/model"
)

const (
	// maxSweepDocs is the hard safety ceiling on candidates scanned per
	// run. Overflow is picked up by the next scheduled run.
	maxSweepDocs = 10000

	// expireBatchSize is the maximum rows flipped by one atomic batch
	// statement.
	expireBatchSize = 500
)

// SweepableLedger is the slice of a ledger repository the sweep needs.
type SweepableLedger interface {
	FindExpirable(ctx context.Context, now time.Time, limit int) ([]model.ExpiryCandidate, error)
	ExpireBatch(ctx context.Context, ids []string, now time.Time) (int64, error)
}

// ExpirationService runs the scheduled bulk-expiration sweeps over the
// stamp and reward ledgers.
type ExpirationService struct {
	stamps    SweepableLedger
	rewards   SweepableLedger
	projector SummaryProjector
	now       func() time.Time
}

// NewExpirationService creates a new ExpirationService.
func NewExpirationService(stamps, rewards SweepableLedger, projector SummaryProjector) *ExpirationService {
	return &ExpirationService{
		stamps:    stamps,
		rewards:   rewards,
		projector: projector,
		now:       time.Now,
	}
}

// NewExpirationServiceWithClock creates an ExpirationService with a custom
// clock. Primarily used for testing.
func NewExpirationServiceWithClock(stamps, rewards SweepableLedger, projector SummaryProjector, now func() time.Time) *ExpirationService {
	return &ExpirationService{
		stamps:    stamps,
		rewards:   rewards,
		projector: projector,
		now:       now,
	}
}

// ExpireStamps expires overdue active stamps. Returns the number of
// records expired.
func (s *ExpirationService) ExpireStamps(ctx context.Context) (int, error) {
	return s.sweep(ctx, "stamps", s.stamps)
}

// ExpireRewards expires overdue redeemable rewards. Returns the number of
// records expired.
func (s *ExpirationService) ExpireRewards(ctx context.Context) (int, error) {
	return s.sweep(ctx, "rewards", s.rewards)
}

// sweep scans one ledger for overdue records and expires them in chunks.
// Each chunk commits independently: a mid-sweep failure leaves earlier
// chunks durable, and the next run re-queries whatever remains overdue.
func (s *ExpirationService) sweep(ctx context.Context, ledger string, repo SweepableLedger) (expired int, err error) {
	defer func() { metrics.IncSweepRun(ledger, err) }()

	now := s.now()
	candidates, err := repo.FindExpirable(ctx, now, maxSweepDocs)
	if err != nil {
		return 0, fmt.Errorf("find expirable %s: %w", ledger, err)
	}
	if len(candidates) == 0 {
		log.Debug().Str("ledger", ledger).Msg("sweep: nothing to expire")
		return 0, nil
	}
	if len(candidates) >= maxSweepDocs {
		log.Warn().
			Str("ledger", ledger).
			Int("limit", maxSweepDocs).
			Msg("sweep hit the scan ceiling, remainder deferred to next run")
	}

	for start := 0; start < len(candidates); start += expireBatchSize {
		end := start + expireBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]

		ids := make([]string, len(chunk))
		for i, c := range chunk {
			ids[i] = c.ID
		}
		n, err := repo.ExpireBatch(ctx, ids, now)
		if err != nil {
			// Earlier chunks are already committed; report what stuck.
			metrics.AddRecordsExpired(ledger, expired)
			return expired, fmt.Errorf("expire %s batch at offset %d: %w", ledger, start, err)
		}
		expired += int(n)
	}

	metrics.AddRecordsExpired(ledger, expired)
	log.Info().
		Str("ledger", ledger).
		Int("expired", expired).
		Int("candidates", len(candidates)).
		Msg("sweep completed")

	s.projectAffected(ctx, candidates)
	return expired, nil
}

// projectAffected refreshes summaries once per distinct user touched by
// the sweep, not once per record.
func (s *ExpirationService) projectAffected(ctx context.Context, candidates []model.ExpiryCandidate) {
	if s.projector == nil {
		return
	}
	type userKey struct{ userID, franchiseID string }
	seen := make(map[userKey]struct{})
	for _, c := range candidates {
		key := userKey{c.UserID, c.FranchiseID}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if err := s.projector.ProjectUser(ctx, c.UserID, c.FranchiseID); err != nil {
			log.Warn().
				Err(err).
				Str("user_id", c.UserID).
				Str("franchise_id", c.FranchiseID).
				Msg("summary projection failed after sweep")
		}
	}
}
