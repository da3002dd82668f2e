package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/algo-portfolio/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryUserInput     ErrorCategory = "user_input"
	CategorySystem        ErrorCategory = "system"
	CategoryProvider      ErrorCategory = "provider"
	CategoryDatabase      ErrorCategory = "database"
	CategoryCache         ErrorCategory = "cache"
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryRateLimit     ErrorCategory = "rate_limit"
)

// Error codes shared by the service layer and the HTTP surface
const (
	CodeInvalidWalletAddress = "INVALID_WALLET_ADDRESS"
	CodeInvalidParameter     = "INVALID_PARAMETER"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeNoVerifiedWallets    = "NO_VERIFIED_WALLETS"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeWalletNotFound       = "WALLET_NOT_FOUND"
	CodeWalletAlreadyLinked  = "WALLET_ALREADY_LINKED"
	CodeChallengeNotFound    = "CHALLENGE_NOT_FOUND"
	CodeChallengeExpired     = "CHALLENGE_EXPIRED"
	CodeVerificationFailed   = "VERIFICATION_FAILED"
	CodeRefreshLimitExceeded = "REFRESH_LIMIT_EXCEEDED"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeInternal             = "INTERNAL_ERROR"
	CodeDatabase             = "DATABASE_ERROR"
	CodeCache                = "CACHE_ERROR"
	CodeProvider             = "PROVIDER_ERROR"
	CodeProviderTimeout      = "PROVIDER_TIMEOUT"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the wire representation
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInvalidWalletAddressError reports a malformed Algorand address
func NewInvalidWalletAddressError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidWalletAddress,
		Message:    fmt.Sprintf("invalid wallet address: %s", address),
		Details:    map[string]interface{}{"address": address},
	}
}

// NewInvalidParameterError creates an invalid parameter error
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidParameter,
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusUnauthorized,
		Code:       CodeUnauthorized,
		Message:    message,
	}
}

// NewForbiddenError is returned when a caller touches another user's resource
func NewForbiddenError(resource string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       CodeForbidden,
		Message:    "Forbidden",
		Details:    map[string]interface{}{"resource": resource},
	}
}

// NewNoVerifiedWalletsError is returned when a refresh has nothing to scan
func NewNoVerifiedWalletsError() *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeNoVerifiedWallets,
		Message:    "No verified wallets linked",
	}
}

// NewUserNotFoundError is returned when no data is stored for the caller
func NewUserNotFoundError(userID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeUserNotFound,
		Message:    "User not found",
		Details:    map[string]interface{}{"userId": userID},
	}
}

// NewWalletNotFoundError creates a wallet not found error
func NewWalletNotFoundError(walletID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeWalletNotFound,
		Message:    fmt.Sprintf("wallet not found: %s", walletID),
		Details:    map[string]interface{}{"walletId": walletID},
	}
}

// NewWalletAlreadyLinkedError is returned when a user links the same address twice
func NewWalletAlreadyLinkedError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeWalletAlreadyLinked,
		Message:    fmt.Sprintf("wallet already linked: %s", address),
		Details:    map[string]interface{}{"address": address},
	}
}

// NewChallengeNotFoundError creates a challenge not found error
func NewChallengeNotFoundError(challengeID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeChallengeNotFound,
		Message:    fmt.Sprintf("verification challenge not found: %s", challengeID),
		Details:    map[string]interface{}{"challengeId": challengeID},
	}
}

// NewChallengeExpiredError is returned for consumed or expired challenges
func NewChallengeExpiredError(challengeID string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusGone,
		Code:       CodeChallengeExpired,
		Message:    "verification challenge expired or already used",
		Details:    map[string]interface{}{"challengeId": challengeID},
	}
}

// NewVerificationFailedError is returned when no matching note transaction was found
func NewVerificationFailedError(reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeVerificationFailed,
		Message:    reason,
	}
}

// NewRefreshLimitExceededError reports an exhausted daily manual refresh quota
func NewRefreshLimitExceededError(limit int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRefreshLimitExceeded,
		Message:    fmt.Sprintf("daily manual refresh limit reached (%d)", limit),
		Details:    map[string]interface{}{"limit": limit},
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimit,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		Details:    map[string]interface{}{"retryAfter": retryAfter},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabase,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details:    map[string]interface{}{"operation": operation},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeCache,
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details:    map[string]interface{}{"operation": operation},
	}
}

// NewServiceUnavailableError creates a service unavailable error
func NewServiceUnavailableError(service string) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusServiceUnavailable,
		Code:       CodeServiceUnavailable,
		Message:    fmt.Sprintf("service unavailable: %s", service),
		Details:    map[string]interface{}{"service": service},
	}
}

// NewProviderError wraps a failure of the indexer or a price source
func NewProviderError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusBadGateway,
		Code:       CodeProvider,
		Message:    fmt.Sprintf("data provider error: %s", provider),
		Cause:      cause,
		Details:    map[string]interface{}{"provider": provider},
	}
}

// NewProviderTimeoutError creates a provider timeout error
func NewProviderTimeoutError(provider string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryProvider,
		StatusCode: http.StatusGatewayTimeout,
		Code:       CodeProviderTimeout,
		Message:    fmt.Sprintf("data provider timeout: %s", provider),
		Details:    map[string]interface{}{"provider": provider},
	}
}

// Categorize finds the categorized error in err's chain, converting
// service errors and wrapping anything else as internal.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

var serviceCodeCategories = map[string]struct {
	category ErrorCategory
	status   int
}{
	CodeInvalidWalletAddress: {CategoryUserInput, http.StatusBadRequest},
	CodeInvalidParameter:     {CategoryValidation, http.StatusBadRequest},
	CodeNoVerifiedWallets:    {CategoryUserInput, http.StatusBadRequest},
	CodeUnauthorized:         {CategoryAuthorization, http.StatusUnauthorized},
	CodeForbidden:            {CategoryAuthorization, http.StatusForbidden},
	CodeUserNotFound:         {CategoryNotFound, http.StatusNotFound},
	CodeWalletNotFound:       {CategoryNotFound, http.StatusNotFound},
	CodeChallengeNotFound:    {CategoryNotFound, http.StatusNotFound},
	CodeWalletAlreadyLinked:  {CategoryConflict, http.StatusConflict},
	CodeChallengeExpired:     {CategoryConflict, http.StatusGone},
	CodeRefreshLimitExceeded: {CategoryRateLimit, http.StatusTooManyRequests},
	CodeRateLimitExceeded:    {CategoryRateLimit, http.StatusTooManyRequests},
}

func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	mapped, ok := serviceCodeCategories[err.Code]
	if !ok {
		mapped.category = CategorySystem
		mapped.status = http.StatusInternalServerError
	}
	return &CategorizedError{
		Category:   mapped.category,
		StatusCode: mapped.status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// IsRetryable determines if an error is worth retrying
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryProvider, CategoryDatabase, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.StatusCode >= 500
}

// HasCode reports whether err categorizes to the given code
func HasCode(err error, code string) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Code == code
}
