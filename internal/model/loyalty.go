package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// StampStatus is the lifecycle state of a loyalty stamp.
type StampStatus string

const (
	// StampActive counts toward the next reward.
	StampActive StampStatus = "active"
	// StampRedeemed was consumed by a generated reward. Terminal.
	StampRedeemed StampStatus = "redeemed"
	// StampExpired passed its expiry deadline. Terminal.
	StampExpired StampStatus = "expired"
)

// RewardStatus is the lifecycle state of a reward.
// Transitions follow one path: generated/active -> in_use -> redeemed,
// or generated/active -> expired. Terminal states never change again.
type RewardStatus string

const (
	RewardGenerated RewardStatus = "generated"
	RewardActive    RewardStatus = "active"
	RewardInUse     RewardStatus = "in_use"
	RewardRedeemed  RewardStatus = "redeemed"
	RewardExpired   RewardStatus = "expired"
)

// Redeemable reports whether a reward in this status may still be redeemed.
func (s RewardStatus) Redeemable() bool {
	return s == RewardGenerated || s == RewardActive
}

// Terminal reports whether no further transition is permitted.
func (s RewardStatus) Terminal() bool {
	return s == RewardInUse || s == RewardRedeemed || s == RewardExpired
}

// Stamp is one loyalty credit earned for an eligible completed visit.
type Stamp struct {
	ID            string      `json:"stamp_id"`
	UserID        string      `json:"user_id"`
	FranchiseID   string      `json:"franchise_id"`
	BranchID      string      `json:"branch_id"`
	ServiceID     *string     `json:"service_id"`
	BarberID      *string     `json:"barber_id"`
	Status        StampStatus `json:"status"`
	EarnedAt      time.Time   `json:"earned_at"`
	ExpiresAt     *time.Time  `json:"expires_at"`
	SourceQueueID string      `json:"source_queue_id"` // completed ticket id, unique per stamp
}

// Reward is a redeemable benefit generated once enough stamps accumulate.
type Reward struct {
	ID          string          `json:"reward_id"`
	Code        string          `json:"code"`
	UserID      string          `json:"user_id"`
	FranchiseID string          `json:"franchise_id"`
	ServiceID   *string         `json:"service_id"`
	Value       decimal.Decimal `json:"value"`
	Status      RewardStatus    `json:"status"`
	ExpiresAt   *time.Time      `json:"expires_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// EligibilityMode selects which services earn stamps for a franchise.
type EligibilityMode string

const (
	EligibilityAll      EligibilityMode = "all"
	EligibilitySpecific EligibilityMode = "specific"
)

// ExpirationPolicy configures optional time-based expiry for a ledger.
type ExpirationPolicy struct {
	Enabled bool
	Days    int
}

// LoyaltyConfig is the per-franchise loyalty configuration.
// Read-only to this service; owned by the franchise admin surface.
type LoyaltyConfig struct {
	FranchiseID        string
	Enabled            bool
	StampsRequired     int
	EligibleMode       EligibilityMode
	EligibleServiceIDs []string
	RewardValue        decimal.Decimal
	StampExpiration    ExpirationPolicy
	RewardExpiration   ExpirationPolicy
}

// ServiceEligible reports whether a completed service earns a stamp under
// this configuration. A nil serviceID only qualifies in "all" mode.
func (c *LoyaltyConfig) ServiceEligible(serviceID *string) bool {
	if c.EligibleMode != EligibilitySpecific {
		return true
	}
	if serviceID == nil {
		return false
	}
	for _, id := range c.EligibleServiceIDs {
		if id == *serviceID {
			return true
		}
	}
	return false
}

// TicketStatus values mirror the queue subsystem's ticket states.
// Only the transition into completed matters to the loyalty core.
const TicketCompleted = "completed"

// TicketSnapshot is the queue ticket document as seen before or after an update.
type TicketSnapshot struct {
	Status      string  `json:"status"`
	UserID      string  `json:"user_id"`
	FranchiseID string  `json:"franchise_id"`
	BranchID    string  `json:"branch_id"`
	ServiceID   *string `json:"service_id"`
	BarberID    *string `json:"barber_id"`
}

// TicketEvent is the change notification delivered when the queue
// subsystem persists a ticket update.
type TicketEvent struct {
	TicketID string          `json:"ticket_id" validate:"required,notblank,max=255"`
	Before   *TicketSnapshot `json:"before"`
	After    *TicketSnapshot `json:"after" validate:"required"`
}

// Completed reports whether the event is a transition into the completed
// state. Re-deliveries of an already-completed ticket do not qualify.
func (e *TicketEvent) Completed() bool {
	if e.After == nil || e.After.Status != TicketCompleted {
		return false
	}
	return e.Before == nil || e.Before.Status != TicketCompleted
}

// ExpiryCandidate is the projection returned by expirable-record queries.
// UserID/FranchiseID are carried so sweep jobs can refresh summaries
// without re-reading the expired rows.
type ExpiryCandidate struct {
	ID          string
	UserID      string
	FranchiseID string
}

// RedeemRewardRequest is the DTO for redeeming a reward by code.
type RedeemRewardRequest struct {
	RewardCode string `json:"reward_code" validate:"required,notblank,max=64"`
}

// RedeemedReward is the public reward view returned on successful redemption.
// ExpiresAt is epoch milliseconds, null when the reward never expires.
type RedeemedReward struct {
	RewardID    string          `json:"reward_id"`
	Code        string          `json:"code"`
	UserID      string          `json:"user_id"`
	FranchiseID string          `json:"franchise_id"`
	ServiceID   *string         `json:"service_id"`
	Value       decimal.Decimal `json:"value"`
	ExpiresAt   *int64          `json:"expires_at"`
}

// RedeemRewardResponse is the success envelope of the redemption endpoint.
type RedeemRewardResponse struct {
	Success bool           `json:"success"`
	Reward  RedeemedReward `json:"reward"`
}
