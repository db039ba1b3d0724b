package services

import (
	"errors"
	"fmt"

	"github.com/upb/grc-control-plane/models"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeConflict          ErrorType = "conflict"
	ErrorTypeInternal          ErrorType = "internal"
	ErrorTypePolicyViolation   ErrorType = "policy_violation"
	ErrorTypeInvalidTransition ErrorType = "invalid_transition"
	ErrorTypeInvalidProgress   ErrorType = "invalid_progress"
	ErrorTypeMissingContext    ErrorType = "missing_context"
	ErrorTypeDuplicatePlanCode ErrorType = "duplicate_plan_code"
)

// DetailViolations is the Details key under which policy violations are attached
const DetailViolations = "violations"

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewPolicyViolationError builds the failure value of an enforcement call.
// The violations are copied so later mutation by the caller is not observed.
func NewPolicyViolationError(message string, violations []models.PolicyViolation) *DomainError {
	return NewDomainError(ErrorTypePolicyViolation, message, nil).
		WithDetail(DetailViolations, append([]models.PolicyViolation(nil), violations...))
}

// Domain error variables. These are comparison targets for errors.Is;
// never add details to them.

var (
	ErrPlanNotFound  = NewDomainError(ErrorTypeNotFound, "plan not found", nil)
	ErrPhaseNotFound = NewDomainError(ErrorTypeNotFound, "phase not found", nil)

	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)

	ErrConflict = NewDomainError(ErrorTypeConflict, "concurrent update detected", nil)

	ErrInternal       = NewDomainError(ErrorTypeInternal, "internal error", nil)
	ErrRulesNotLoaded = NewDomainError(ErrorTypeInternal, "policy rule set not loaded", nil)
	ErrStorageFailure = NewDomainError(ErrorTypeInternal, "storage error", nil)

	ErrPolicyViolation   = NewDomainError(ErrorTypePolicyViolation, "policy violation", nil)
	ErrInvalidTransition = NewDomainError(ErrorTypeInvalidTransition, "invalid status transition", nil)
	ErrInvalidProgress   = NewDomainError(ErrorTypeInvalidProgress, "invalid progress", nil)
	ErrMissingContext    = NewDomainError(ErrorTypeMissingContext, "tenant or actor context missing", nil)
	ErrDuplicatePlanCode = NewDomainError(ErrorTypeDuplicatePlanCode, "plan code already exists for tenant", nil)
)

// Error type checking helper functions

func isType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsConflictError checks if an error is an optimistic concurrency conflict
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// IsPolicyViolationError checks if an error is a policy violation error
func IsPolicyViolationError(err error) bool {
	return isType(err, ErrorTypePolicyViolation)
}

// IsInvalidTransitionError checks if an error is an illegal status change
func IsInvalidTransitionError(err error) bool {
	return isType(err, ErrorTypeInvalidTransition)
}

// IsInvalidProgressError checks if an error is a rejected progress update
func IsInvalidProgressError(err error) bool {
	return isType(err, ErrorTypeInvalidProgress)
}

// IsMissingContextError checks if an error is a missing tenant/actor context
func IsMissingContextError(err error) bool {
	return isType(err, ErrorTypeMissingContext)
}

// IsDuplicatePlanCodeError checks if an error is a plan code uniqueness violation
func IsDuplicatePlanCodeError(err error) bool {
	return isType(err, ErrorTypeDuplicatePlanCode)
}

// IsFatal reports whether err must propagate to the enclosing request
// instead of being surfaced to the end user.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch GetErrorType(err) {
	case ErrorTypeMissingContext, ErrorTypeInternal, "":
		return true
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetViolations returns the violation set carried by a policy violation error
func GetViolations(err error) []models.PolicyViolation {
	details := GetErrorDetails(err)
	if details == nil {
		return nil
	}
	violations, _ := details[DetailViolations].([]models.PolicyViolation)
	return violations
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
