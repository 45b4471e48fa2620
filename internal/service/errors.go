package service

import "errors"

var (
	// ErrDuplicateStamp is returned when a stamp already exists for a ticket
	ErrDuplicateStamp = errors.New("stamp already recorded for ticket")

	// ErrRewardNotFound is returned when no reward matches the given code
	ErrRewardNotFound = errors.New("reward not found")

	// ErrRewardUnavailable is returned when a reward is already in use, redeemed or expired
	ErrRewardUnavailable = errors.New("reward already in use or redeemed")

	// ErrRewardExpired is returned when a reward's expiry deadline has passed
	ErrRewardExpired = errors.New("reward expired")

	// ErrRewardCodeTaken is returned when a generated reward code collides
	// with an existing one; callers regenerate and retry
	ErrRewardCodeTaken = errors.New("reward code already taken")

	// ErrInvalidRequest is returned when request data is invalid or incomplete
	ErrInvalidRequest = errors.New("invalid request")
)
