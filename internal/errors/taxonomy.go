package errors

var (
	ErrValidation = &DomainError{
		Code:    "VALIDATION_ERROR",
		Message: "invalid request",
	}
	ErrInsufficientFunds = &DomainError{
		Code:    "INSUFFICIENT_FUNDS",
		Message: "insufficient wallet balance",
	}
	// ErrAlreadyProcessed marks an idempotent replay. It is surfaced as success.
	ErrAlreadyProcessed = &DomainError{
		Code:    "ALREADY_PROCESSED",
		Message: "request already processed",
	}
	ErrProviderUnavailable = &DomainError{
		Code:    "PROVIDER_UNAVAILABLE",
		Message: "payment provider unavailable",
	}
	ErrProviderRejected = &DomainError{
		Code:    "PROVIDER_REJECTED",
		Message: "payment provider rejected the request",
	}
	ErrSignatureInvalid = &DomainError{
		Code:    "SIGNATURE_INVALID",
		Message: "webhook signature invalid",
	}
	ErrInternalInconsistency = &DomainError{
		Code:    "INTERNAL_INCONSISTENCY",
		Message: "event does not match stored transaction",
	}
	ErrConversionUnavailable = &DomainError{
		Code:    "CONVERSION_UNAVAILABLE",
		Message: "exchange rate unavailable",
	}
	ErrRateOutOfBand = &DomainError{
		Code:    "RATE_OUT_OF_BAND",
		Message: "exchange rate outside accepted range",
	}
	ErrWalletNotFound = &DomainError{
		Code:    "WALLET_NOT_FOUND",
		Message: "wallet not found",
	}
	ErrTransactionNotFound = &DomainError{
		Code:    "TRANSACTION_NOT_FOUND",
		Message: "transaction not found",
	}
	ErrInvalidTransition = &DomainError{
		Code:    "INVALID_TRANSITION",
		Message: "invalid transaction state transition",
	}
	ErrUnknownProvider = &DomainError{
		Code:    "UNKNOWN_PROVIDER",
		Message: "unknown payment provider",
	}
)
