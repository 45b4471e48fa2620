package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/fairyhunter13/salon-loyalty-core/internal/model"
	"github.com/fairyhunter13/salon-loyalty-core/internal/service"
)

// Error codes surfaced to the caller. The UI renders each distinctly,
// so they must stay distinguishable.
const (
	CodeUnauthenticated    = "unauthenticated"
	CodeInvalidArgument    = "invalid-argument"
	CodeNotFound           = "not-found"
	CodeFailedPrecondition = "failed-precondition"
	CodeInternal           = "internal"
)

// userIDHeader carries the authenticated end user's id, set by the
// platform gateway after it verifies the session.
const userIDHeader = "X-User-ID"

// RedeemServiceInterface defines the interface for redemption business logic.
type RedeemServiceInterface interface {
	RedeemReward(ctx context.Context, code string) (*model.RedeemedReward, error)
}

// RedeemHandler handles HTTP requests for reward redemption.
type RedeemHandler struct {
	service   RedeemServiceInterface
	validator *validator.Validate
}

// NewRedeemHandler creates a new RedeemHandler with the given service and validator.
func NewRedeemHandler(svc RedeemServiceInterface, v *validator.Validate) *RedeemHandler {
	return &RedeemHandler{service: svc, validator: v}
}

func errorBody(code, msg string) fiber.Map {
	return fiber.Map{"error": msg, "code": code}
}

// formatRedeemValidationError converts validator errors to caller-facing messages.
func formatRedeemValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if fe.Field() == "RewardCode" {
				switch fe.Tag() {
				case "required", "notblank":
					return "invalid request: reward_code is required"
				case "max":
					return "invalid request: reward_code exceeds maximum length of 64"
				}
				return "invalid request: reward_code is invalid"
			}
		}
	}
	return "invalid request"
}

// RedeemReward handles POST /api/rewards/redeem requests.
func (h *RedeemHandler) RedeemReward(c *fiber.Ctx) error {
	userID := c.Get(userIDHeader)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(
			errorBody(CodeUnauthenticated, "authentication required"))
	}

	var req model.RedeemRewardRequest

	// Parse JSON body
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(
			errorBody(CodeInvalidArgument, "invalid request body"))
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(
			errorBody(CodeInvalidArgument, formatRedeemValidationError(err)))
	}

	reward, err := h.service.RedeemReward(c.Context(), req.RewardCode)
	if err != nil {
		if errors.Is(err, service.ErrRewardNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(
				errorBody(CodeNotFound, "reward not found"))
		}
		if errors.Is(err, service.ErrRewardUnavailable) {
			return c.Status(fiber.StatusConflict).JSON(
				errorBody(CodeFailedPrecondition, "reward already in use or redeemed"))
		}
		if errors.Is(err, service.ErrRewardExpired) {
			return c.Status(fiber.StatusConflict).JSON(
				errorBody(CodeFailedPrecondition, "reward expired"))
		}
		log.Error().
			Err(err).
			Str("request_id", c.GetRespHeader("X-Request-ID")).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("user_id", userID).
			Msg("failed to redeem reward")
		return c.Status(fiber.StatusInternalServerError).JSON(
			errorBody(CodeInternal, "internal server error"))
	}

	log.Info().
		Str("request_id", c.GetRespHeader("X-Request-ID")).
		Str("user_id", userID).
		Str("reward_id", reward.RewardID).
		Str("franchise_id", reward.FranchiseID).
		Msg("reward redeemed")

	return c.Status(fiber.StatusOK).JSON(model.RedeemRewardResponse{
		Success: true,
		Reward:  *reward,
	})
}
