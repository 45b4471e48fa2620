package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/salon-loyalty-core/internal/metrics"
	"github.com/fairyhunter13/salon-loyalty-core/internal/model"
	"github.com/fairyhunter13/salon-loyalty-core/pkg/database"
)

// StampRepositoryInterface defines the interface for stamp ledger access.
type StampRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, stamp *model.Stamp) error
	ExistsBySourceQueue(ctx context.Context, tx database.TxQuerier, sourceQueueID string) (bool, error)
	CountActiveForUpdate(ctx context.Context, tx database.TxQuerier, userID, franchiseID string) (int, error)
	ConsumeOldestActive(ctx context.Context, tx database.TxQuerier, userID, franchiseID string, n int) (int64, error)
}

// RewardRepositoryInterface defines the interface for reward ledger access.
type RewardRepositoryInterface interface {
	Insert(ctx context.Context, tx database.TxQuerier, reward *model.Reward) error
	GetByCodeForUpdate(ctx context.Context, tx database.TxQuerier, code string) (*model.Reward, error)
	UpdateStatus(ctx context.Context, tx database.TxQuerier, rewardID string, status model.RewardStatus, now time.Time) error
}

// ConfigRepositoryInterface defines the interface for loyalty config reads.
type ConfigRepositoryInterface interface {
	GetByFranchise(ctx context.Context, franchiseID string) (*model.LoyaltyConfig, error)
}

// SummaryProjector refreshes the denormalized per-user loyalty counters.
// Invoked after every committed ledger mutation affecting a user.
type SummaryProjector interface {
	ProjectUser(ctx context.Context, userID, franchiseID string) error
}

// LoyaltyService implements the completion trigger and the redemption flow.
type LoyaltyService struct {
	pool      database.TxBeginner
	stamps    StampRepositoryInterface
	rewards   RewardRepositoryInterface
	configs   ConfigRepositoryInterface
	projector SummaryProjector
	now       func() time.Time
}

// NewLoyaltyService creates a new LoyaltyService with the given pool and repositories.
func NewLoyaltyService(pool *pgxpool.Pool, stamps StampRepositoryInterface, rewards RewardRepositoryInterface, configs ConfigRepositoryInterface, projector SummaryProjector) *LoyaltyService {
	return &LoyaltyService{
		pool:      pool,
		stamps:    stamps,
		rewards:   rewards,
		configs:   configs,
		projector: projector,
		now:       time.Now,
	}
}

// NewLoyaltyServiceWithDeps creates a LoyaltyService with a custom
// transaction beginner and clock. Primarily used for testing.
func NewLoyaltyServiceWithDeps(pool database.TxBeginner, stamps StampRepositoryInterface, rewards RewardRepositoryInterface, configs ConfigRepositoryInterface, projector SummaryProjector, now func() time.Time) *LoyaltyService {
	return &LoyaltyService{
		pool:      pool,
		stamps:    stamps,
		rewards:   rewards,
		configs:   configs,
		projector: projector,
		now:       now,
	}
}

// HandleTicketCompletion awards a stamp (and possibly a reward) for a
// ticket that transitioned into the completed state. At most one stamp is
// ever recorded per ticket, no matter how often the event is delivered.
//
// Ineligible events - wrong transition, incomplete ticket data, missing or
// disabled configuration, ineligible service - are silent skips: the event
// source has no caller to report to. Only infrastructure failures return
// an error.
func (s *LoyaltyService) HandleTicketCompletion(ctx context.Context, event *model.TicketEvent) error {
	if event == nil || !event.Completed() {
		return nil
	}
	ticket := event.After

	// Eligibility cannot be evaluated without the identifying fields.
	if ticket.UserID == "" || ticket.FranchiseID == "" || ticket.BranchID == "" {
		log.Debug().
			Str("ticket_id", event.TicketID).
			Msg("skipping completion event: incomplete ticket data")
		return nil
	}

	cfg, err := s.configs.GetByFranchise(ctx, ticket.FranchiseID)
	if err != nil {
		return fmt.Errorf("load loyalty config: %w", err)
	}
	if cfg == nil || !cfg.Enabled {
		log.Debug().
			Str("ticket_id", event.TicketID).
			Str("franchise_id", ticket.FranchiseID).
			Msg("skipping completion event: loyalty not configured or disabled")
		return nil
	}
	if !cfg.ServiceEligible(ticket.ServiceID) {
		log.Debug().
			Str("ticket_id", event.TicketID).
			Str("franchise_id", ticket.FranchiseID).
			Msg("skipping completion event: service not eligible")
		return nil
	}

	now := s.now()
	rewarded := false

	err = database.RunInTx(ctx, s.pool, func(tx database.TxQuerier) error {
		// Duplicate-delivery protection: the check and the insert share one
		// transaction, and the UNIQUE constraint on source_queue_id backs
		// it up against deliveries racing on separate connections.
		exists, err := s.stamps.ExistsBySourceQueue(ctx, tx, event.TicketID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateStamp
		}

		stamp := &model.Stamp{
			ID:            uuid.NewString(),
			UserID:        ticket.UserID,
			FranchiseID:   ticket.FranchiseID,
			BranchID:      ticket.BranchID,
			ServiceID:     ticket.ServiceID,
			BarberID:      ticket.BarberID,
			Status:        model.StampActive,
			EarnedAt:      now,
			ExpiresAt:     expiryFrom(cfg.StampExpiration, now),
			SourceQueueID: event.TicketID,
		}
		if err := s.stamps.Insert(ctx, tx, stamp); err != nil {
			return err
		}

		if cfg.StampsRequired <= 0 {
			return nil
		}
		count, err := s.stamps.CountActiveForUpdate(ctx, tx, ticket.UserID, ticket.FranchiseID)
		if err != nil {
			return err
		}
		if count < cfg.StampsRequired {
			return nil
		}

		// Threshold reached: consume the contributing stamps and generate
		// the reward in the same transaction, so progress and reward can
		// never disagree.
		if _, err := s.stamps.ConsumeOldestActive(ctx, tx, ticket.UserID, ticket.FranchiseID, cfg.StampsRequired); err != nil {
			return err
		}
		if err := s.insertReward(ctx, tx, cfg, ticket, now); err != nil {
			return err
		}
		rewarded = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateStamp) {
			log.Debug().
				Str("ticket_id", event.TicketID).
				Msg("skipping completion event: stamp already recorded")
			return nil
		}
		return fmt.Errorf("award stamp for ticket %s: %w", event.TicketID, err)
	}

	metrics.IncStampsIssued()
	if rewarded {
		metrics.IncRewardsGenerated()
		log.Info().
			Str("ticket_id", event.TicketID).
			Str("user_id", ticket.UserID).
			Str("franchise_id", ticket.FranchiseID).
			Msg("stamp threshold reached, reward generated")
	}

	s.project(ctx, ticket.UserID, ticket.FranchiseID)
	return nil
}

// RedeemReward marks the reward carrying code as in_use, exactly once.
// Returns:
//   - ErrRewardNotFound if no reward carries the code
//   - ErrRewardUnavailable if the reward is already in_use or redeemed
//   - ErrRewardExpired if the reward is expired, or its deadline has
//     passed (in which case the expired status is persisted here)
func (s *LoyaltyService) RedeemReward(ctx context.Context, code string) (*model.RedeemedReward, error) {
	if code == "" {
		return nil, ErrInvalidRequest
	}

	now := s.now()
	var redeemed *model.RedeemedReward
	var expiredNow *model.Reward

	err := database.RunInTx(ctx, s.pool, func(tx database.TxQuerier) error {
		redeemed = nil
		expiredNow = nil

		// The row lock serializes concurrent attempts for the same code:
		// the loser re-reads the winner's committed in_use status below.
		reward, err := s.rewards.GetByCodeForUpdate(ctx, tx, code)
		if err != nil {
			return err
		}

		switch reward.Status {
		case model.RewardGenerated, model.RewardActive:
			// eligible, fall through
		case model.RewardExpired:
			return ErrRewardExpired
		default: // in_use, redeemed
			return ErrRewardUnavailable
		}

		// Expiration is discovered and persisted lazily here, not only by
		// the sweep job. The write must commit, so the failure is signaled
		// after the transaction instead of aborting it.
		if reward.ExpiresAt != nil && !reward.ExpiresAt.After(now) {
			if err := s.rewards.UpdateStatus(ctx, tx, reward.ID, model.RewardExpired, now); err != nil {
				return err
			}
			expiredNow = reward
			return nil
		}

		if err := s.rewards.UpdateStatus(ctx, tx, reward.ID, model.RewardInUse, now); err != nil {
			return err
		}
		redeemed = publicReward(reward)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expiredNow != nil {
		s.project(ctx, expiredNow.UserID, expiredNow.FranchiseID)
		return nil, ErrRewardExpired
	}

	metrics.IncRewardsRedeemed()
	s.project(ctx, redeemed.UserID, redeemed.FranchiseID)
	return redeemed, nil
}

// rewardCodeAttempts bounds regeneration when a generated code collides.
const rewardCodeAttempts = 3

func (s *LoyaltyService) insertReward(ctx context.Context, tx database.TxQuerier, cfg *model.LoyaltyConfig, ticket *model.TicketSnapshot, now time.Time) error {
	var err error
	for attempt := 0; attempt < rewardCodeAttempts; attempt++ {
		var code string
		code, err = generateRewardCode()
		if err != nil {
			return fmt.Errorf("generate reward code: %w", err)
		}

		reward := &model.Reward{
			ID:          uuid.NewString(),
			Code:        code,
			UserID:      ticket.UserID,
			FranchiseID: ticket.FranchiseID,
			ServiceID:   ticket.ServiceID,
			Value:       cfg.RewardValue,
			Status:      model.RewardGenerated,
			ExpiresAt:   expiryFrom(cfg.RewardExpiration, now),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = s.rewards.Insert(ctx, tx, reward)
		if err == nil || !errors.Is(err, ErrRewardCodeTaken) {
			return err
		}
	}
	return fmt.Errorf("insert reward after %d code attempts: %w", rewardCodeAttempts, err)
}

// project refreshes the user's summary counters. Runs after commit;
// failures are logged rather than surfaced, since the ledger write already
// succeeded and the projector rebuilds from the ledgers on its next run.
func (s *LoyaltyService) project(ctx context.Context, userID, franchiseID string) {
	if s.projector == nil {
		return
	}
	if err := s.projector.ProjectUser(ctx, userID, franchiseID); err != nil {
		log.Warn().
			Err(err).
			Str("user_id", userID).
			Str("franchise_id", franchiseID).
			Msg("summary projection failed")
	}
}

// expiryFrom computes an expiry deadline from a policy, nil when disabled.
func expiryFrom(policy model.ExpirationPolicy, now time.Time) *time.Time {
	if !policy.Enabled || policy.Days <= 0 {
		return nil
	}
	t := now.AddDate(0, 0, policy.Days)
	return &t
}

// publicReward maps a reward to its redemption response view.
func publicReward(r *model.Reward) *model.RedeemedReward {
	var expiresAt *int64
	if r.ExpiresAt != nil {
		ms := r.ExpiresAt.UnixMilli()
		expiresAt = &ms
	}
	return &model.RedeemedReward{
		RewardID:    r.ID,
		Code:        r.Code,
		UserID:      r.UserID,
		FranchiseID: r.FranchiseID,
		ServiceID:   r.ServiceID,
		Value:       r.Value,
		ExpiresAt:   expiresAt,
	}
}

// generateRewardCode creates a random, human-presentable redemption code.
// Format: RWD-XXXX-XXXX, from a character set that avoids ambiguous
// characters like O/0, I/1, l.
func generateRewardCode() (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	const codeLength = 8

	buffer := make([]byte, codeLength)
	if _, err := io.ReadFull(rand.Reader, buffer); err != nil {
		return "", err
	}
	for i := 0; i < codeLength; i++ {
		buffer[i] = chars[int(buffer[i])%len(chars)]
	}
	return "RWD-" + string(buffer[0:4]) + "-" + string(buffer[4:8]), nil
}
