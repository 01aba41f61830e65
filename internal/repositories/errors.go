package repositories

import "errors"

var (
	// ErrCouponUsageExhausted reports that the coupon's total usage limit was
	// already reached when the order transaction tried to increment it.
	ErrCouponUsageExhausted = errors.New("repositories: coupon usage limit exhausted")

	// ErrCouponUserLimitExhausted reports that the per-user limit was already
	// reached when the order transaction re-checked it.
	ErrCouponUserLimitExhausted = errors.New("repositories: coupon per-user limit exhausted")

	// ErrCouponInactive reports that the coupon was deactivated between
	// evaluation and the order transaction.
	ErrCouponInactive = errors.New("repositories: coupon inactive")
)

// IsNotFound reports whether err categorises as a missing record.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err categorises as a conflicting write.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err categorises as a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
