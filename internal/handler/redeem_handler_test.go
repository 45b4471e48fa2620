package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/salon-loyalty-core/internal/model"
	"github.com/fairyhunter13/salon-loyalty-core/internal/service"
	appvalidator "github.com/fairyhunter13/salon-loyalty-core/internal/validator"
)

// mockRedeemService is a mock implementation of RedeemServiceInterface.
type mockRedeemService struct {
	redeemFn func(ctx context.Context, code string) (*model.RedeemedReward, error)
}

func (m *mockRedeemService) RedeemReward(ctx context.Context, code string) (*model.RedeemedReward, error) {
	if m.redeemFn != nil {
		return m.redeemFn(ctx, code)
	}
	return nil, service.ErrRewardNotFound
}

func setupRedeemTestApp(mockSvc *mockRedeemService) *fiber.App {
	app := fiber.New()
	h := NewRedeemHandler(mockSvc, appvalidator.New())
	app.Post("/api/rewards/redeem", h.RedeemReward)
	return app
}

func redeemRequest(body string, authenticated bool) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/rewards/redeem", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if authenticated {
		req.Header.Set("X-User-ID", "u1")
	}
	return req
}

func decodeError(t *testing.T, resp *http.Response) map[string]string {
	t.Helper()
	var result map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func TestRedeemReward_Handler_Success(t *testing.T) {
	ms := int64(1769904000000)
	mockSvc := &mockRedeemService{
		redeemFn: func(ctx context.Context, code string) (*model.RedeemedReward, error) {
			require.Equal(t, "RWD-AAAA-BBBB", code)
			return &model.RedeemedReward{
				RewardID:    "r1",
				Code:        code,
				UserID:      "u1",
				FranchiseID: "f1",
				Value:       decimal.NewFromInt(25),
				ExpiresAt:   &ms,
			}, nil
		},
	}
	app := setupRedeemTestApp(mockSvc)

	resp, err := app.Test(redeemRequest(`{"reward_code": "RWD-AAAA-BBBB"}`, true))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result model.RedeemRewardResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Success)
	assert.Equal(t, "r1", result.Reward.RewardID)
	assert.Equal(t, "RWD-AAAA-BBBB", result.Reward.Code)
	require.NotNil(t, result.Reward.ExpiresAt)
	assert.Equal(t, ms, *result.Reward.ExpiresAt)
}

func TestRedeemReward_Handler_Unauthenticated(t *testing.T) {
	called := false
	mockSvc := &mockRedeemService{
		redeemFn: func(ctx context.Context, code string) (*model.RedeemedReward, error) {
			called = true
			return nil, nil
		},
	}
	app := setupRedeemTestApp(mockSvc)

	resp, err := app.Test(redeemRequest(`{"reward_code": "RWD-AAAA-BBBB"}`, false))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	result := decodeError(t, resp)
	assert.Equal(t, CodeUnauthenticated, result["code"])
	assert.False(t, called, "ledger must not be touched before auth")
}

func TestRedeemReward_Handler_InvalidBody(t *testing.T) {
	app := setupRedeemTestApp(&mockRedeemService{})

	resp, err := app.Test(redeemRequest(`{not json`, true))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, CodeInvalidArgument, decodeError(t, resp)["code"])
}

func TestRedeemReward_Handler_MissingCode(t *testing.T) {
	app := setupRedeemTestApp(&mockRedeemService{})

	for _, body := range []string{`{}`, `{"reward_code": ""}`, `{"reward_code": "   "}`} {
		resp, err := app.Test(redeemRequest(body, true))
		require.NoError(t, err)

		assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		result := decodeError(t, resp)
		assert.Equal(t, CodeInvalidArgument, result["code"])
		assert.Equal(t, "invalid request: reward_code is required", result["error"])
	}
}

func TestRedeemReward_Handler_NotFound(t *testing.T) {
	app := setupRedeemTestApp(&mockRedeemService{
		redeemFn: func(ctx context.Context, code string) (*model.RedeemedReward, error) {
			return nil, service.ErrRewardNotFound
		},
	})

	resp, err := app.Test(redeemRequest(`{"reward_code": "RWD-MISSING"}`, true))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	result := decodeError(t, resp)
	assert.Equal(t, CodeNotFound, result["code"])
	assert.Equal(t, "reward not found", result["error"])
}

func TestRedeemReward_Handler_AlreadyUsed(t *testing.T) {
	app := setupRedeemTestApp(&mockRedeemService{
		redeemFn: func(ctx context.Context, code string) (*model.RedeemedReward, error) {
			return nil, service.ErrRewardUnavailable
		},
	})

	resp, err := app.Test(redeemRequest(`{"reward_code": "RWD-AAAA-BBBB"}`, true))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	result := decodeError(t, resp)
	assert.Equal(t, CodeFailedPrecondition, result["code"])
	assert.Equal(t, "reward already in use or redeemed", result["error"])
}

func TestRedeemReward_Handler_Expired(t *testing.T) {
	app := setupRedeemTestApp(&mockRedeemService{
		redeemFn: func(ctx context.Context, code string) (*model.RedeemedReward, error) {
			return nil, service.ErrRewardExpired
		},
	})

	resp, err := app.Test(redeemRequest(`{"reward_code": "RWD-AAAA-BBBB"}`, true))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	result := decodeError(t, resp)
	assert.Equal(t, CodeFailedPrecondition, result["code"])
	assert.Equal(t, "reward expired", result["error"], `"expired" must be distinguishable from "already used"`)
}

func TestRedeemReward_Handler_InternalError(t *testing.T) {
	app := setupRedeemTestApp(&mockRedeemService{
		redeemFn: func(ctx context.Context, code string) (*model.RedeemedReward, error) {
			return nil, errors.New("transaction commit failed")
		},
	})

	resp, err := app.Test(redeemRequest(`{"reward_code": "RWD-AAAA-BBBB"}`, true))
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	result := decodeError(t, resp)
	assert.Equal(t, CodeInternal, result["code"])
	assert.Equal(t, "internal server error", result["error"])
}
