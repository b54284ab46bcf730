package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Authentication errors
// 12000-12999: Problem errors
// 13000-13999: Submission & Judge errors
// 14000-14999: User statistics errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202
	LockFailed     ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Storage & messaging (10400-10499)
	StorageError      ErrorCode = 10400
	MessagePublishErr ErrorCode = 10401

	// ========== Authentication Errors (11000-11999) ==========

	TokenExpired         ErrorCode = 11003
	TokenInvalid         ErrorCode = 11004
	CallbackTokenInvalid ErrorCode = 11010

	// ========== Problem Errors (12000-12999) ==========

	ProblemNotFound  ErrorCode = 12000
	TestCaseNotFound ErrorCode = 12100
	TestCaseInvalid  ErrorCode = 12102

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	SubmissionNotFound      ErrorCode = 13000
	SubmissionCreateFailed  ErrorCode = 13001
	CodeTooLarge            ErrorCode = 13002
	LanguageNotSupported    ErrorCode = 13003
	SubmitTooFrequently     ErrorCode = 13004
	DuplicateSubmission     ErrorCode = 13006
	SubmissionAlreadyJudged ErrorCode = 13007

	// Judge (13100-13199)
	JudgeQueueFull      ErrorCode = 13100
	JudgeSystemError    ErrorCode = 13101
	CompilationError    ErrorCode = 13102
	RuntimeError        ErrorCode = 13103
	TimeLimitExceeded   ErrorCode = 13104
	MemoryLimitExceeded ErrorCode = 13105
	OutputLimitExceeded ErrorCode = 13106
	ExecutorUnavailable ErrorCode = 13107
	CallbackTimeout     ErrorCode = 13108

	// Sample runs (13200-13299)
	SampleRunFailed ErrorCode = 13200

	// ========== User statistics Errors (14000-14999) ==========

	StatsNotFound     ErrorCode = 14000
	StatsUpdateFailed ErrorCode = 14001
)

var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",
	LockFailed:     "Failed to acquire lock",

	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	StorageError:      "Object storage operation failed",
	MessagePublishErr: "Failed to publish message",

	TokenExpired:         "Token has expired",
	TokenInvalid:         "Invalid token",
	CallbackTokenInvalid: "Invalid callback token",

	ProblemNotFound:  "Problem not found",
	TestCaseNotFound: "Test case not found",
	TestCaseInvalid:  "Invalid test case format",

	SubmissionNotFound:      "Submission not found",
	SubmissionCreateFailed:  "Failed to create submission",
	CodeTooLarge:            "Code is too large",
	LanguageNotSupported:    "Programming language not supported",
	SubmitTooFrequently:     "Submitting too frequently, please wait",
	DuplicateSubmission:     "Duplicate submission",
	SubmissionAlreadyJudged: "Submission has already been judged",

	JudgeQueueFull:      "Judge queue is full, please try again later",
	JudgeSystemError:    "System error, please retry",
	CompilationError:    "Compilation error",
	RuntimeError:        "Runtime error",
	TimeLimitExceeded:   "Time limit exceeded",
	MemoryLimitExceeded: "Memory limit exceeded",
	OutputLimitExceeded: "Output limit exceeded",
	ExecutorUnavailable: "Execution backend unavailable",
	CallbackTimeout:     "Execution result was not delivered in time",

	SampleRunFailed: "Sample run failed",

	StatsNotFound:     "User statistics not found",
	StatsUpdateFailed: "Failed to update user statistics",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid, c == CallbackTokenInvalid:
		return http.StatusUnauthorized
	case c == Forbidden:
		return http.StatusForbidden
	case c == NotFound, c == RecordNotFound, c == ProblemNotFound, c == SubmissionNotFound,
		c == StatsNotFound, c == TestCaseNotFound:
		return http.StatusNotFound
	case c == SubmissionAlreadyJudged, c == DuplicateSubmission, c == RecordAlreadyExists:
		return http.StatusConflict
	case c == TooManyRequests, c == SubmitTooFrequently, c == JudgeQueueFull:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == ExecutorUnavailable:
		return http.StatusServiceUnavailable
	case c == Timeout, c == CallbackTimeout:
		return http.StatusGatewayTimeout
	case c >= 10300 && c < 10400:
		return http.StatusBadRequest
	case c == InvalidParams, c == LanguageNotSupported, c == CodeTooLarge, c == TestCaseInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
