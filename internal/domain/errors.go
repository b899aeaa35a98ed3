package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Validation errors. They are reported synchronously and never mutate state.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrMinIncrementNotMet = errors.New("bid below minimum increment")
	ErrMustBeBelowBuyNow  = errors.New("bid must be below buy now price")
	ErrOwnerCannotBid     = errors.New("seller cannot bid on own auction")
	ErrAuctionClosed      = errors.New("auction closed")
	ErrAlreadyPurchased   = errors.New("auction already purchased")
	ErrRateLimited        = errors.New("rate limited")
	ErrRebidNotHigher     = errors.New("new bid must exceed your current bid")
	ErrBuyNowUnavailable  = errors.New("buy now not available")
)

// Resource and state errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidState      = errors.New("invalid state transition")
)

// Infrastructure errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrLockTimeout   = errors.New("lock timeout")
)

// RateLimitError reports how long a bidder must wait before bidding again on
// the same auction. It matches ErrRateLimited with errors.Is.
type RateLimitError struct {
	Remaining time.Duration
}

// Seconds returns the remaining wait rounded up to whole seconds.
func (e *RateLimitError) Seconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: you must wait %d more seconds before bidding again", ErrRateLimited, e.Seconds())
}

// Is lets errors.Is(err, ErrRateLimited) succeed.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// businessErrors are returned to callers as-is, without storage wrapping.
var businessErrors = []error{
	ErrInvalidAmount,
	ErrMinIncrementNotMet,
	ErrMustBeBelowBuyNow,
	ErrOwnerCannotBid,
	ErrAuctionClosed,
	ErrAlreadyPurchased,
	ErrRateLimited,
	ErrRebidNotHigher,
	ErrBuyNowUnavailable,
	ErrInsufficientFunds,
	ErrForbidden,
	ErrInvalidState,
	ErrNotFound,
}

// IsBusinessError reports whether err is a validation, resource or lookup
// failure that the caller must act on, as opposed to a systemic failure.
func IsBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
