// Package projector maintains the denormalized per-user loyalty counters
// the client apps subscribe to. The loyalty core invokes it after every
// committed ledger mutation; it rebuilds counts from the ledgers rather
// than applying deltas, so a missed invocation self-heals on the next one.
package projector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/salon-loyalty-core/internal/model"
	"github.com/fairyhunter13/salon-loyalty-core/internal/repository"
)

// SummaryProjector is the Postgres implementation of the summary view.
type SummaryProjector struct {
	pool repository.PoolInterface
}

// NewSummaryProjector creates a new SummaryProjector with the given pool.
func NewSummaryProjector(pool *pgxpool.Pool) *SummaryProjector {
	return &SummaryProjector{pool: pool}
}

// NewSummaryProjectorWithPool creates a SummaryProjector with a custom pool
// interface. This is primarily used for testing.
func NewSummaryProjectorWithPool(pool repository.PoolInterface) *SummaryProjector {
	return &SummaryProjector{pool: pool}
}

// ProjectUser recounts a user's active stamps and redeemable rewards and
// upserts the summary row. A single statement, so readers never observe a
// half-updated summary.
func (p *SummaryProjector) ProjectUser(ctx context.Context, userID, franchiseID string) error {
	query := `INSERT INTO loyalty_summaries (user_id, franchise_id, active_stamps, active_rewards, updated_at)
		VALUES (
			$1, $2,
			(SELECT count(*) FROM stamps WHERE user_id = $1 AND franchise_id = $2 AND status = $3),
			(SELECT count(*) FROM rewards WHERE user_id = $1 AND franchise_id = $2 AND status = ANY($4)),
			now()
		)
		ON CONFLICT (user_id, franchise_id) DO UPDATE SET
			active_stamps = EXCLUDED.active_stamps,
			active_rewards = EXCLUDED.active_rewards,
			updated_at = EXCLUDED.updated_at`

	redeemable := []model.RewardStatus{model.RewardGenerated, model.RewardActive}
	_, err := p.pool.Exec(ctx, query, userID, franchiseID, model.StampActive, redeemable)
	if err != nil {
		return fmt.Errorf("project summary for user %s: %w", userID, err)
	}
	return nil
}
