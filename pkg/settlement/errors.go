package settlement

// ErrorCode is the structured failure kind attached to settlement errors.
// It exists so retry classification does not have to parse RPC message text
// when the collaborator can say what went wrong; free-text errors from
// legacy RPC endpoints still flow through as plain errors and are matched
// by substring instead.
type ErrorCode string

const (
	// Settlement-logic failures. Resubmitting the same batch can never
	// make these succeed.
	CodeInvalidSignature      ErrorCode = "invalid_signature"
	CodeOrderExpired          ErrorCode = "order_expired"
	CodeInsufficientBalance   ErrorCode = "insufficient_balance"
	CodeOverfill              ErrorCode = "overfill"
	CodeInvalidNonce          ErrorCode = "invalid_nonce"
	CodeUnauthorizedTaker     ErrorCode = "unauthorized_taker"
	CodeUnsupportedCollateral ErrorCode = "unsupported_collateral"
	CodeInvalidOutcome        ErrorCode = "invalid_outcome"
	CodeInvalidAmount         ErrorCode = "invalid_amount"
	CodeOutOfGas              ErrorCode = "out_of_gas"

	// Environment failures that may clear on their own.
	CodeNetwork               ErrorCode = "network"
	CodeTimeout               ErrorCode = "timeout"
	CodeRateLimited           ErrorCode = "rate_limited"
	CodeNonceTooLow           ErrorCode = "nonce_too_low"
	CodeReplacementUnderpriced ErrorCode = "replacement_underpriced"
	CodeGasPriceTooHigh       ErrorCode = "gas_price_too_high"
	CodeGasEstimation         ErrorCode = "gas_estimation_failed"

	CodeUnknown ErrorCode = "unknown"
)

// Retryable reports whether a failure of this kind may clear on
// resubmission. Unknown is deliberately not retryable.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeNetwork, CodeTimeout, CodeRateLimited,
		CodeNonceTooLow, CodeReplacementUnderpriced,
		CodeGasPriceTooHigh, CodeGasEstimation:
		return true
	}
	return false
}

// Error is a settlement failure with a structured code and the original
// human-readable message.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}
