package frost

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of FROST error
type ErrorCategory string

const (
	// ErrorCategoryProtocolAbort a participant misbehaved or sent an invalid proof.
	ErrorCategoryProtocolAbort ErrorCategory = "protocol_abort"
	// ErrorCategoryTimeout a round did not collect every required message in time.
	ErrorCategoryTimeout ErrorCategory = "timeout"
	// ErrorCategoryReplayOrReuse a nonce, session id or round message was reused.
	ErrorCategoryReplayOrReuse ErrorCategory = "replay_or_reuse"
	// ErrorCategoryThresholdNotMet fewer than T valid contributions.
	ErrorCategoryThresholdNotMet ErrorCategory = "threshold_not_met"
	// ErrorCategoryVerificationFailure a signature or share failed final verification.
	ErrorCategoryVerificationFailure ErrorCategory = "verification_failure"

	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryState      ErrorCategory = "state"
	ErrorCategoryStorage    ErrorCategory = "storage"
	ErrorCategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"      // Non-critical, operation can continue
	ErrorSeverityMedium   ErrorSeverity = "medium"   // Important, may affect functionality
	ErrorSeverityHigh     ErrorSeverity = "high"     // Critical, session must stop
	ErrorSeverityCritical ErrorSeverity = "critical" // Alarm, must be surfaced to an operator
)

// FROSTError represents a structured error in the FROST library.
//
// Offender is zero when no single participant is to blame.
type FROSTError struct {
	Category  ErrorCategory          `json:"category"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	SessionID SessionID              `json:"session_id,omitempty"`
	Offender  ParticipantIndex       `json:"offender,omitempty"`
	Cause     error                  `json:"-"` // Original error, not serialized
	Context   map[string]interface{} `json:"context,omitempty"`
	Retryable bool                   `json:"retryable"`
}

// Error implements the error interface
func (e *FROSTError) Error() string {
	msg := fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
	if e.Offender != 0 {
		msg += fmt.Sprintf(" (participant %d)", e.Offender)
	}
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *FROSTError) Unwrap() error {
	return e.Cause
}

// Is matches two FROST errors by code, so derived errors still match their sentinel.
func (e *FROSTError) Is(target error) bool {
	t, ok := target.(*FROSTError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *FROSTError) clone() *FROSTError {
	newError := *e
	newError.Context = make(map[string]interface{}, len(e.Context))
	for k, v := range e.Context {
		newError.Context[k] = v
	}
	return &newError
}

// WithContext adds context information to the error
func (e *FROSTError) WithContext(key string, value interface{}) *FROSTError {
	// sentinels are shared, always copy
	newError := e.clone()
	newError.Context[key] = value
	return newError
}

// WithCause sets the underlying cause of the error
func (e *FROSTError) WithCause(cause error) *FROSTError {
	newError := e.clone()
	newError.Cause = cause
	return newError
}

// WithDetails sets a human readable detail string
func (e *FROSTError) WithDetails(format string, args ...interface{}) *FROSTError {
	newError := e.clone()
	newError.Details = fmt.Sprintf(format, args...)
	return newError
}

// WithOffender names the participant responsible for the error
func (e *FROSTError) WithOffender(id ParticipantIndex) *FROSTError {
	newError := e.clone()
	newError.Offender = id
	return newError
}

// WithSession records the session the error belongs to
func (e *FROSTError) WithSession(sessionID SessionID) *FROSTError {
	newError := e.clone()
	newError.SessionID = sessionID
	return newError
}

// NewFROSTError creates a new FROST error
func NewFROSTError(category ErrorCategory, severity ErrorSeverity, code, message string) *FROSTError {
	return &FROSTError{
		Category:  category,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: category == ErrorCategoryTimeout || category == ErrorCategoryThresholdNotMet,
	}
}

// Validation errors
var (
	ErrInvalidParams = NewFROSTError(
		ErrorCategoryValidation, ErrorSeverityHigh, "INVALID_PARAMS",
		"threshold parameters are invalid")

	ErrInvalidParticipantID = NewFROSTError(
		ErrorCategoryValidation, ErrorSeverityMedium, "INVALID_PARTICIPANT_ID",
		"participant ID is invalid")

	ErrInvalidSessionID = NewFROSTError(
		ErrorCategoryValidation, ErrorSeverityMedium, "INVALID_SESSION_ID",
		"session ID is invalid")

	ErrMessageRejected = NewFROSTError(
		ErrorCategoryValidation, ErrorSeverityHigh, "MESSAGE_REJECTED",
		"message rejected by validation hook")

	ErrMalformedPackage = NewFROSTError(
		ErrorCategoryValidation, ErrorSeverityHigh, "MALFORMED_PACKAGE",
		"package could not be decoded")
)

// Protocol abort errors
var (
	ErrInvalidCommitment = NewFROSTError(
		ErrorCategoryProtocolAbort, ErrorSeverityHigh, "INVALID_COMMITMENT",
		"commitment or proof of knowledge is invalid")

	ErrShareVerificationFailed = NewFROSTError(
		ErrorCategoryProtocolAbort, ErrorSeverityHigh, "SHARE_VERIFICATION_FAILED",
		"secret share fragment does not match sender commitments")

	ErrCommitmentSetMismatch = NewFROSTError(
		ErrorCategoryProtocolAbort, ErrorSeverityHigh, "COMMITMENT_SET_MISMATCH",
		"commitment set does not match round 1 output")

	// ErrInvalidShare names one signer, so it is an attributable abort.
	// Failures of the combined signature are VerificationFailure.
	ErrInvalidShare = NewFROSTError(
		ErrorCategoryProtocolAbort, ErrorSeverityHigh, "INVALID_SHARE",
		"signature share failed verification")

	ErrSessionAborted = NewFROSTError(
		ErrorCategoryProtocolAbort, ErrorSeverityHigh, "SESSION_ABORTED",
		"session was aborted")
)

// Replay errors
var (
	ErrSessionExists = NewFROSTError(
		ErrorCategoryReplayOrReuse, ErrorSeverityCritical, "SESSION_EXISTS",
		"session ID already used")

	ErrNonceReuse = NewFROSTError(
		ErrorCategoryReplayOrReuse, ErrorSeverityCritical, "NONCE_REUSE",
		"signing nonces were already consumed")
)

// Threshold, timeout and verification errors
var (
	ErrThresholdNotMet = NewFROSTError(
		ErrorCategoryThresholdNotMet, ErrorSeverityMedium, "THRESHOLD_NOT_MET",
		"fewer than threshold valid contributions")

	ErrTimeout = NewFROSTError(
		ErrorCategoryTimeout, ErrorSeverityMedium, "TIMEOUT",
		"round did not complete in time")

	ErrAggregationVerificationFailed = NewFROSTError(
		ErrorCategoryVerificationFailure, ErrorSeverityCritical, "AGGREGATION_VERIFICATION_FAILED",
		"aggregated signature does not verify")

	ErrGroupKeyMismatch = NewFROSTError(
		ErrorCategoryVerificationFailure, ErrorSeverityCritical, "GROUP_KEY_MISMATCH",
		"participants derived different group keys")

	ErrUnsupportedSighashType = NewFROSTError(
		ErrorCategoryValidation, ErrorSeverityHigh, "UNSUPPORTED_SIGHASH_TYPE",
		"only taproot key-path spends with default or all sighash are supported")
)

// State and storage errors
var (
	ErrUnknownSession = NewFROSTError(
		ErrorCategoryState, ErrorSeverityMedium, "UNKNOWN_SESSION",
		"session not found")

	ErrInvalidState = NewFROSTError(
		ErrorCategoryState, ErrorSeverityHigh, "INVALID_STATE",
		"operation not allowed in current session state")

	ErrKeyShareNotFound = NewFROSTError(
		ErrorCategoryStorage, ErrorSeverityMedium, "KEY_SHARE_NOT_FOUND",
		"key share not found in store")

	ErrStorage = NewFROSTError(
		ErrorCategoryStorage, ErrorSeverityHigh, "STORAGE_FAILED",
		"key share store operation failed")

	ErrRandomnessGeneration = NewFROSTError(
		ErrorCategoryInternal, ErrorSeverityCritical, "RANDOMNESS_GENERATION_FAILED",
		"failed to generate secure randomness")
)

var sentinelErrors = []*FROSTError{
	ErrInvalidParams, ErrInvalidParticipantID, ErrInvalidSessionID, ErrMessageRejected,
	ErrMalformedPackage, ErrInvalidCommitment, ErrShareVerificationFailed,
	ErrCommitmentSetMismatch, ErrInvalidShare, ErrSessionAborted, ErrSessionExists,
	ErrNonceReuse, ErrThresholdNotMet, ErrTimeout, ErrAggregationVerificationFailed,
	ErrGroupKeyMismatch, ErrUnsupportedSighashType, ErrUnknownSession, ErrInvalidState,
	ErrKeyShareNotFound, ErrStorage, ErrRandomnessGeneration,
}

// LookupError returns the sentinel registered for code.
// Used to rebuild errors that crossed a process boundary.
func LookupError(code string) (*FROSTError, bool) {
	for _, e := range sentinelErrors {
		if e.Code == code {
			return e, true
		}
	}
	return nil, false
}

// Error helper functions

// AsFROSTError extracts the first *FROSTError in err's chain
func AsFROSTError(err error) (*FROSTError, bool) {
	var frostErr *FROSTError
	if errors.As(err, &frostErr) {
		return frostErr, true
	}
	return nil, false
}

// IsErrorCategory checks if an error belongs to a specific category
func IsErrorCategory(err error, category ErrorCategory) bool {
	if frostErr, ok := AsFROSTError(err); ok {
		return frostErr.Category == category
	}
	return false
}

// OffenderOf returns the participant blamed by err, if any
func OffenderOf(err error) (ParticipantIndex, bool) {
	if frostErr, ok := AsFROSTError(err); ok && frostErr.Offender != 0 {
		return frostErr.Offender, true
	}
	return 0, false
}

// IsRetryable reports whether the failed operation may be retried with a fresh session.
func IsRetryable(err error) bool {
	if frostErr, ok := AsFROSTError(err); ok {
		return frostErr.Retryable
	}
	return false
}
