package service

import "errors"

// Precondition failures: the target entity is not in a state that permits
// the operation. No side effects; surfaced to callers as business errors.
var (
	ErrApplicationNotApproved   = errors.New("application is not approved")
	ErrCertificationNotAccepted = errors.New("medical certification has not been accepted")
	ErrVoucherAlreadyIssued     = errors.New("application already has a voucher")
	ErrNoVoucherValue           = errors.New("disability profile yields no voucher value")
	ErrVendorNotAuthorized      = errors.New("vendor is not authorized to redeem vouchers")
	ErrPaymentReferenceRequired = errors.New("payment reference is required")
	ErrPolicyValueOutOfRange    = errors.New("policy value out of range")
)

// Integrity violations: completing the write would break an invariant.
// The enclosing transaction rolls back entirely.
var (
	ErrCodeGenerationExhausted = errors.New("voucher code generation exhausted collision retries")
)
