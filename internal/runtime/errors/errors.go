package errors

import (
	"context"
	"encoding/json"
	sterrors "errors"
	"fmt"
	"maps"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"

	"github.com/suoke-life/messagebus/internal/runtime/jsoncodec"
)

// Programmer errors returned by constructors when a collaborator is missing.
var (
	ErrConfigRequired    = sterrors.New("messagebus: configuration is required")
	ErrLoggerRequired    = sterrors.New("messagebus: logger is required")
	ErrPublisherRequired = sterrors.New("messagebus: publisher is required")
	ErrStoreRequired     = sterrors.New("messagebus: topic store is required")
	ErrBreakerRequired   = sterrors.New("messagebus: circuit breaker is required")
	ErrTopicRequired     = sterrors.New("messagebus: topic is required")

	// ErrKeyNotFound marks lookups of a missing key. Classified as a LOW
	// severity value fault.
	ErrKeyNotFound = sterrors.New("messagebus: key not found")
)

// Code is the machine readable category of a message bus failure.
type Code string

const (
	CodeValidation                 Code = "VALIDATION_ERROR"
	CodeAuthentication             Code = "AUTHENTICATION_ERROR"
	CodeAuthorization              Code = "AUTHORIZATION_ERROR"
	CodeTopicNotFound              Code = "TOPIC_NOT_FOUND"
	CodeTopicAlreadyExists         Code = "TOPIC_ALREADY_EXISTS"
	CodeTopicCreationFailed        Code = "TOPIC_CREATION_FAILED"
	CodeTopicDeletionFailed        Code = "TOPIC_DELETION_FAILED"
	CodeMessagePublishFailed       Code = "MESSAGE_PUBLISH_FAILED"
	CodeMessageSerializationFailed Code = "MESSAGE_SERIALIZATION_FAILED"
	CodeKafkaConnection            Code = "KAFKA_CONNECTION_ERROR"
	CodeDatabaseConnection         Code = "DATABASE_CONNECTION_ERROR"
	CodeRedisConnection            Code = "REDIS_CONNECTION_ERROR"
	CodeNetwork                    Code = "NETWORK_ERROR"
	CodeConfiguration              Code = "CONFIGURATION_ERROR"
	CodeInternal                   Code = "INTERNAL_ERROR"
	CodeUnknown                    Code = "UNKNOWN_ERROR"
)

// GRPCCode maps the code onto the wire status code.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeValidation:
		return codes.InvalidArgument
	case CodeAuthentication:
		return codes.Unauthenticated
	case CodeAuthorization:
		return codes.PermissionDenied
	case CodeTopicNotFound:
		return codes.NotFound
	case CodeTopicAlreadyExists:
		return codes.AlreadyExists
	case CodeKafkaConnection, CodeDatabaseConnection, CodeRedisConnection, CodeNetwork:
		return codes.Unavailable
	case CodeConfiguration:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// Severity ranks how urgently a failure needs attention.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Error is the message bus error value. It lives for one request and is
// never persisted.
type Error struct {
	Code      Code
	Message   string
	Severity  Severity
	Details   map[string]string
	Cause     error
	Timestamp time.Time
	// RetryAfter is an advisory delay before the caller should try again.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of e with the entries merged into Details.
func (e *Error) WithDetails(details map[string]string) *Error {
	if len(details) == 0 {
		return e
	}
	cp := *e
	cp.Details = make(map[string]string, len(e.Details)+len(details))
	maps.Copy(cp.Details, e.Details)
	maps.Copy(cp.Details, details)
	return &cp
}

// New creates an error with the given code and MEDIUM severity.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Severity:  SeverityMedium,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap creates an error around cause; the severity is inferred from cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Severity:  InferSeverity(cause),
		Cause:     cause,
		Timestamp: time.Now().UTC(),
	}
}

// Validation reports a rejected request.
func Validation(message string) *Error {
	e := New(CodeValidation, message)
	e.Severity = SeverityLow
	return e
}

// TopicNotFound reports a reference to an absent topic.
func TopicNotFound(name string) *Error {
	e := New(CodeTopicNotFound, fmt.Sprintf("topic %q not found", name))
	e.Severity = SeverityLow
	e.Details = map[string]string{"topic": name}
	return e
}

// TopicAlreadyExists reports a duplicate topic creation.
func TopicAlreadyExists(name string) *Error {
	e := New(CodeTopicAlreadyExists, fmt.Sprintf("topic %q already exists", name))
	e.Severity = SeverityLow
	e.Details = map[string]string{"topic": name}
	return e
}

// PublishFailed reports a message the broker did not accept.
func PublishFailed(topic string, cause error) *Error {
	e := Wrap(CodeMessagePublishFailed, fmt.Sprintf("failed to publish message to topic %q", topic), cause)
	e.Details = map[string]string{"topic": topic}
	return e
}

// As extracts the first *Error in the chain of err.
func As(err error) (*Error, bool) {
	var target *Error
	if sterrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in the chain, or CodeUnknown.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeUnknown
}

// InferSeverity classifies a raw failure: connectivity and timeout faults are
// HIGH, type/value/key faults are LOW, everything else is MEDIUM. A nil error
// is MEDIUM.
func InferSeverity(err error) Severity {
	if e, ok := As(err); ok && e.Severity != "" {
		return e.Severity
	}
	switch {
	case isConnectivityFault(err):
		return SeverityHigh
	case isValueFault(err):
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// InferCode picks the code for a raw failure using the same classification
// as InferSeverity.
func InferCode(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	switch {
	case err == nil:
		return CodeUnknown
	case isConnectivityFault(err):
		return CodeNetwork
	case isValueFault(err):
		return CodeValidation
	default:
		return CodeInternal
	}
}

func isConnectivityFault(err error) bool {
	if err == nil {
		return false
	}
	if sterrors.Is(err, context.DeadlineExceeded) ||
		sterrors.Is(err, os.ErrDeadlineExceeded) ||
		sterrors.Is(err, syscall.ECONNREFUSED) ||
		sterrors.Is(err, syscall.ECONNRESET) ||
		sterrors.Is(err, syscall.ECONNABORTED) ||
		sterrors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return sterrors.As(err, &netErr)
}

func isValueFault(err error) bool {
	if err == nil {
		return false
	}
	if sterrors.Is(err, ErrKeyNotFound) {
		return true
	}
	var numErr *strconv.NumError
	if sterrors.As(err, &numErr) {
		return true
	}
	if sterrors.Is(err, jsoncodec.ErrDecode) {
		return true
	}
	var syntaxErr *json.SyntaxError
	if sterrors.As(err, &syntaxErr) {
		return true
	}
	var typeErr *json.UnmarshalTypeError
	if sterrors.As(err, &typeErr) {
		return true
	}
	var validationErrs validator.ValidationErrors
	if sterrors.As(err, &validationErrs) {
		return true
	}
	var invalidValidation *validator.InvalidValidationError
	return sterrors.As(err, &invalidValidation)
}
