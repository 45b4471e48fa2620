package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/salon-loyalty-core/internal/model"
)

// ConfigRepository reads per-franchise loyalty configuration.
// The loyalty core never writes this table; it is owned by the franchise
// admin surface.
type ConfigRepository struct {
	pool PoolInterface
}

// NewConfigRepository creates a new ConfigRepository with the given pool.
func NewConfigRepository(pool *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{pool: pool}
}

// NewConfigRepositoryWithPool creates a new ConfigRepository with a custom pool interface.
// This is primarily used for testing.
func NewConfigRepositoryWithPool(pool PoolInterface) *ConfigRepository {
	return &ConfigRepository{pool: pool}
}

// GetByFranchise retrieves the loyalty configuration for a franchise.
// Returns nil, nil if no configuration exists (service layer handles this).
func (r *ConfigRepository) GetByFranchise(ctx context.Context, franchiseID string) (*model.LoyaltyConfig, error) {
	query := `SELECT franchise_id, enabled, stamps_required, eligible_mode, eligible_service_ids,
		reward_value, stamp_expiration_enabled, stamp_expiration_days,
		reward_expiration_enabled, reward_expiration_days
		FROM franchise_loyalty_configs WHERE franchise_id = $1`

	var cfg model.LoyaltyConfig
	err := r.pool.QueryRow(ctx, query, franchiseID).Scan(
		&cfg.FranchiseID,
		&cfg.Enabled,
		&cfg.StampsRequired,
		&cfg.EligibleMode,
		&cfg.EligibleServiceIDs,
		&cfg.RewardValue,
		&cfg.StampExpiration.Enabled,
		&cfg.StampExpiration.Days,
		&cfg.RewardExpiration.Enabled,
		&cfg.RewardExpiration.Days,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not configured - let service handle
		}
		return nil, fmt.Errorf("get loyalty config for franchise %s: %w", franchiseID, err)
	}
	return &cfg, nil
}
