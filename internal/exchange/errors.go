package exchange

import (
	"errors"
	"fmt"

	"github.com/GoPolymarket/ctf-exchange/internal/pkg/apperrors"
)

// Validation errors. These are always raised before any asset moves.
var (
	ErrZeroAmount             = apperrors.Sentinel(apperrors.ErrValidation, "order amounts must be nonzero")
	ErrOrderExpired           = apperrors.Sentinel(apperrors.ErrValidation, "order expired")
	ErrFeeTooHigh             = apperrors.Sentinel(apperrors.ErrValidation, "fee rate exceeds maximum")
	ErrInvalidTokenID         = apperrors.Sentinel(apperrors.ErrValidation, "token is not registered")
	ErrInvalidComplement      = apperrors.Sentinel(apperrors.ErrValidation, "tokens are not complements")
	ErrOrderFilled            = apperrors.Sentinel(apperrors.ErrValidation, "order already filled")
	ErrInvalidNonce           = apperrors.Sentinel(apperrors.ErrValidation, "order nonce does not match maker nonce")
	ErrInvalidSignature       = apperrors.Sentinel(apperrors.ErrValidation, "invalid signature")
	ErrInsufficientBalance    = apperrors.Sentinel(apperrors.ErrValidation, "maker balance too low")
	ErrInsufficientAllowance  = apperrors.Sentinel(apperrors.ErrValidation, "maker has not approved the exchange")
	ErrNotTaker               = apperrors.Sentinel(apperrors.ErrValidation, "order is reserved for another taker")
	ErrMakingExceedsRemaining = apperrors.Sentinel(apperrors.ErrValidation, "fill amount exceeds remaining order size")
	ErrNotCrossing            = apperrors.Sentinel(apperrors.ErrValidation, "orders do not cross")
	ErrMismatchedTokenIDs     = apperrors.Sentinel(apperrors.ErrValidation, "orders trade different tokens")
	ErrTooLittleReceived      = apperrors.Sentinel(apperrors.ErrValidation, "match produced too few tokens")
)

// Request shape errors.
var (
	ErrZeroFillAmount = apperrors.Sentinel(apperrors.ErrInvalidRequest, "fill amount must be positive")
	ErrNoMakerOrders  = apperrors.Sentinel(apperrors.ErrInvalidRequest, "no maker orders supplied")
	ErrLengthMismatch = apperrors.Sentinel(apperrors.ErrInvalidRequest, "orders and fill amounts differ in length")
)

// State errors.
var (
	ErrTradingPaused     = apperrors.Sentinel(apperrors.ErrState, "trading is paused")
	ErrReentrantCall     = apperrors.Sentinel(apperrors.ErrState, "reentrant call")
	ErrAlreadyRegistered = apperrors.Sentinel(apperrors.ErrState, "token already registered")
)

// ErrBridgeCall marks failures of the collateral bridge.
var ErrBridgeCall = apperrors.Sentinel(apperrors.ErrExternal, "collateral bridge call failed")

func bridgeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBridgeCall, op, err)
}

// rejectReason is the metrics label for a validation failure.
func rejectReason(err error) string {
	for _, c := range []struct {
		err    error
		reason string
	}{
		{ErrZeroAmount, "zero_amount"},
		{ErrOrderExpired, "expired"},
		{ErrFeeTooHigh, "fee_too_high"},
		{ErrInvalidTokenID, "unregistered_token"},
		{ErrOrderFilled, "filled"},
		{ErrInvalidNonce, "bad_nonce"},
		{ErrInvalidSignature, "bad_signature"},
		{ErrInsufficientBalance, "insufficient_balance"},
		{ErrInsufficientAllowance, "insufficient_allowance"},
		{ErrNotTaker, "not_taker"},
		{ErrMakingExceedsRemaining, "exceeds_remaining"},
		{ErrNotCrossing, "not_crossing"},
		{ErrMismatchedTokenIDs, "mismatched_tokens"},
		{ErrInvalidComplement, "not_complement"},
		{ErrTooLittleReceived, "too_little_received"},
	} {
		if errors.Is(err, c.err) {
			return c.reason
		}
	}
	return "other"
}
