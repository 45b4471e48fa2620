package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/salon-loyalty-core/internal/model"
	"github.com/fairyhunter13/salon-loyalty-core/internal/service"
	"github.com/fairyhunter13/salon-loyalty-core/pkg/database"
)

// RewardRepository provides data access for the reward ledger using pgx.
type RewardRepository struct {
	pool PoolInterface
}

// NewRewardRepository creates a new RewardRepository with the given pool.
func NewRewardRepository(pool *pgxpool.Pool) *RewardRepository {
	return &RewardRepository{pool: pool}
}

// NewRewardRepositoryWithPool creates a new RewardRepository with a custom pool interface.
// This is primarily used for testing.
func NewRewardRepositoryWithPool(pool PoolInterface) *RewardRepository {
	return &RewardRepository{pool: pool}
}

// Insert inserts a new reward within a transaction.
// Returns service.ErrRewardCodeTaken if the generated code is already in use.
func (r *RewardRepository) Insert(ctx context.Context, tx database.TxQuerier, reward *model.Reward) error {
	query := `INSERT INTO rewards
		(id, code, user_id, franchise_id, service_id, value, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		reward.ID, reward.Code, reward.UserID, reward.FranchiseID,
		reward.ServiceID, reward.Value, reward.Status, reward.ExpiresAt,
		reward.CreatedAt, reward.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrRewardCodeTaken
		}
		return fmt.Errorf("insert reward: %w", err)
	}
	return nil
}

// GetByCodeForUpdate retrieves a reward by code with a row lock
// (SELECT FOR UPDATE). The lock holds until the transaction completes, so
// concurrent redemption attempts for the same code serialize here.
// Returns service.ErrRewardNotFound if no reward carries the code.
func (r *RewardRepository) GetByCodeForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.Reward, error) {
	query := `SELECT id, code, user_id, franchise_id, service_id, value, status, expires_at, created_at, updated_at
		FROM rewards WHERE code = $1 FOR UPDATE`

	var reward model.Reward
	err := tx.QueryRow(ctx, query, code).Scan(
		&reward.ID,
		&reward.Code,
		&reward.UserID,
		&reward.FranchiseID,
		&reward.ServiceID,
		&reward.Value,
		&reward.Status,
		&reward.ExpiresAt,
		&reward.CreatedAt,
		&reward.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, service.ErrRewardNotFound
		}
		return nil, fmt.Errorf("get reward for update %s: %w", code, err)
	}
	return &reward, nil
}

// UpdateStatus writes a reward's new status within a transaction.
// Transition legality is the service's concern; this is a plain write.
func (r *RewardRepository) UpdateStatus(ctx context.Context, tx database.TxQuerier, rewardID string, status model.RewardStatus, now time.Time) error {
	query := `UPDATE rewards SET status = $1, updated_at = $2 WHERE id = $3`

	_, err := tx.Exec(ctx, query, status, now, rewardID)
	if err != nil {
		return fmt.Errorf("update reward %s status to %s: %w", rewardID, status, err)
	}
	return nil
}

// FindExpirable returns up to limit redeemable rewards whose expiry
// deadline has passed, oldest deadline first.
func (r *RewardRepository) FindExpirable(ctx context.Context, now time.Time, limit int) ([]model.ExpiryCandidate, error) {
	query := `SELECT id, user_id, franchise_id FROM rewards
		WHERE status = ANY($1) AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3`

	redeemable := []model.RewardStatus{model.RewardGenerated, model.RewardActive}
	rows, err := r.pool.Query(ctx, query, redeemable, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expirable rewards: %w", err)
	}
	defer rows.Close()

	return scanExpiryCandidates(rows)
}

// ExpireBatch flips one chunk of rewards to expired in a single atomic
// statement. The status guard skips rows a concurrent redemption moved to
// in_use between the scan and this write.
func (r *RewardRepository) ExpireBatch(ctx context.Context, ids []string, now time.Time) (int64, error) {
	query := `UPDATE rewards SET status = $1, updated_at = $2
		WHERE id = ANY($3) AND status = ANY($4)`

	redeemable := []model.RewardStatus{model.RewardGenerated, model.RewardActive}
	tag, err := r.pool.Exec(ctx, query, model.RewardExpired, now, ids, redeemable)
	if err != nil {
		return 0, fmt.Errorf("expire reward batch: %w", err)
	}
	return tag.RowsAffected(), nil
}
