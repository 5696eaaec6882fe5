package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrInvariantViolation  = errors.New("invariant violation")
)

var (
	ErrOrderNotFound        = fmt.Errorf("order %w", ErrNotFound)
	ErrOrderNotPayable      = fmt.Errorf("%w: order not payable", ErrInvariantViolation)
	ErrMerchantNotFound     = fmt.Errorf("merchant account %w", ErrNotFound)
	ErrPricingNotFound      = fmt.Errorf("resource pricing %w", ErrNotFound)
	ErrEntitlementNotFound  = fmt.Errorf("entitlement %w", ErrNotFound)
	ErrAccountIDClaimed     = fmt.Errorf("%w: gateway account already bound to another seller", ErrConflict)
	ErrAlreadyEntitled      = fmt.Errorf("%w: resource already purchased", ErrConflict)
	ErrMerchantUnverified   = fmt.Errorf("%w: seller merchant account not verified", ErrInvariantViolation)
	ErrInvalidPaymentMethod = fmt.Errorf("%w: unsupported payment method", ErrInvariantViolation)
	ErrAmountMismatch       = fmt.Errorf("%w: callback amount does not match order", ErrInvariantViolation)
	ErrInvalidPricing       = fmt.Errorf("%w: invalid pricing", ErrInvariantViolation)
	ErrForbidden            = errors.New("forbidden")
)

// ErrReconcileFailed marks an order the gateway reports paid whose local
// fulfilment failed. The stored status is still reported to the buyer.
var ErrReconcileFailed = errors.New("reconciliation failed")
