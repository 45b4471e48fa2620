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

// PoolInterface defines the database operations needed by repositories.
// This allows for easier testing with mocks.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// StampRepository provides data access for the stamp ledger using pgx.
type StampRepository struct {
	pool PoolInterface
}

// NewStampRepository creates a new StampRepository with the given pool.
func NewStampRepository(pool *pgxpool.Pool) *StampRepository {
	return &StampRepository{pool: pool}
}

// NewStampRepositoryWithPool creates a new StampRepository with a custom pool interface.
// This is primarily used for testing.
func NewStampRepositoryWithPool(pool PoolInterface) *StampRepository {
	return &StampRepository{pool: pool}
}

// Insert inserts a new stamp within a transaction.
// Returns service.ErrDuplicateStamp if a stamp for the same source ticket
// already exists (UNIQUE constraint on source_queue_id).
func (r *StampRepository) Insert(ctx context.Context, tx database.TxQuerier, stamp *model.Stamp) error {
	query := `INSERT INTO stamps
		(id, user_id, franchise_id, branch_id, service_id, barber_id, status, earned_at, expires_at, source_queue_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		stamp.ID, stamp.UserID, stamp.FranchiseID, stamp.BranchID,
		stamp.ServiceID, stamp.BarberID, stamp.Status, stamp.EarnedAt,
		stamp.ExpiresAt, stamp.SourceQueueID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrDuplicateStamp
		}
		return fmt.Errorf("insert stamp: %w", err)
	}
	return nil
}

// ExistsBySourceQueue reports whether a stamp was already recorded for the
// given ticket. Must be called inside the award transaction so the check
// and the subsequent insert serialize against concurrent deliveries.
func (r *StampRepository) ExistsBySourceQueue(ctx context.Context, tx database.TxQuerier, sourceQueueID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM stamps WHERE source_queue_id = $1)`

	var exists bool
	if err := tx.QueryRow(ctx, query, sourceQueueID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check stamp for ticket %s: %w", sourceQueueID, err)
	}
	return exists, nil
}

// CountActiveForUpdate counts a user's active stamps for a franchise while
// locking the counted rows until the transaction completes. The lock keeps
// two concurrent awards from both observing a below-threshold count.
func (r *StampRepository) CountActiveForUpdate(ctx context.Context, tx database.TxQuerier, userID, franchiseID string) (int, error) {
	query := `SELECT count(*) FROM (
		SELECT id FROM stamps
		WHERE user_id = $1 AND franchise_id = $2 AND status = $3
		FOR UPDATE
	) locked`

	var count int
	err := tx.QueryRow(ctx, query, userID, franchiseID, model.StampActive).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active stamps for user %s: %w", userID, err)
	}
	return count, nil
}

// ConsumeOldestActive marks the user's n oldest active stamps as redeemed.
// Must be called within the transaction that inserts the generated reward.
func (r *StampRepository) ConsumeOldestActive(ctx context.Context, tx database.TxQuerier, userID, franchiseID string, n int) (int64, error) {
	query := `UPDATE stamps SET status = $1 WHERE id IN (
		SELECT id FROM stamps
		WHERE user_id = $2 AND franchise_id = $3 AND status = $4
		ORDER BY earned_at ASC
		LIMIT $5
		FOR UPDATE
	)`

	tag, err := tx.Exec(ctx, query, model.StampRedeemed, userID, franchiseID, model.StampActive, n)
	if err != nil {
		return 0, fmt.Errorf("consume stamps for user %s: %w", userID, err)
	}
	return tag.RowsAffected(), nil
}

// FindExpirable returns up to limit active stamps whose expiry deadline has
// passed, oldest deadline first.
func (r *StampRepository) FindExpirable(ctx context.Context, now time.Time, limit int) ([]model.ExpiryCandidate, error) {
	query := `SELECT id, user_id, franchise_id FROM stamps
		WHERE status = $1 AND expires_at IS NOT NULL AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, model.StampActive, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expirable stamps: %w", err)
	}
	defer rows.Close()

	return scanExpiryCandidates(rows)
}

// ExpireBatch flips one chunk of stamps to expired in a single atomic
// statement. The status guard keeps re-runs and racing awards safe.
func (r *StampRepository) ExpireBatch(ctx context.Context, ids []string, now time.Time) (int64, error) {
	query := `UPDATE stamps SET status = $1, expired_at = $2
		WHERE id = ANY($3) AND status = $4`

	tag, err := r.pool.Exec(ctx, query, model.StampExpired, now, ids, model.StampActive)
	if err != nil {
		return 0, fmt.Errorf("expire stamp batch: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanExpiryCandidates(rows pgx.Rows) ([]model.ExpiryCandidate, error) {
	var candidates []model.ExpiryCandidate
	for rows.Next() {
		var c model.ExpiryCandidate
		if err := rows.Scan(&c.ID, &c.UserID, &c.FranchiseID); err != nil {
			return nil, fmt.Errorf("scan expiry candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expiry candidates: %w", err)
	}

	// Return empty slice, not nil
	if candidates == nil {
		candidates = []model.ExpiryCandidate{}
	}
	return candidates, nil
}
