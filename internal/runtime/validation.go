package runtime

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	configpkg "github.com/suoke-life/messagebus/internal/runtime/config"
	errspkg "github.com/suoke-life/messagebus/internal/runtime/errors"
)

const (
	defaultPartitionCount int32 = 1
	defaultRetentionHours int32 = 24

	defaultPageSize = 10
	maxPageSize     = 100

	// AnonymousPublisher is recorded when the caller did not identify itself.
	AnonymousPublisher = "anonymous"
)

var topicNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// newRequestValidator returns a validator that knows the "topicname" tag. A
// topic name must use Kafka's legal characters and, once prefixed, still fit
// the broker's length limit.
func newRequestValidator(topicPrefix string) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	maxLen := configpkg.MaxTopicNameLength - len(topicPrefix)

	_ = v.RegisterValidation("topicname", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		if name == "." || name == ".." {
			return false
		}
		return len(name) <= maxLen && topicNamePattern.MatchString(name)
	})
	return v
}

// validationError converts validator output into a VALIDATION_ERROR. Other
// errors (invalid validation input) are returned wrapped as internal.
func validationError(err error) *errspkg.Error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errspkg.Wrap(errspkg.CodeInternal, "request validation failed", err)
	}

	messages := make([]string, 0, len(fieldErrs))
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := describeFieldError(fe)
		messages = append(messages, msg)
		details[strings.ToLower(fe.Field())] = fe.Tag()
	}

	e := errspkg.Validation(strings.Join(messages, "; "))
	e.Cause = err
	return e.WithDetails(details)
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "topicname":
		return fmt.Sprintf("%s %q must match [A-Za-z0-9._-] and fit %d characters with the topic prefix", field, fe.Value(), configpkg.MaxTopicNameLength)
	case "gte", "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func clampPageSize(size int) int {
	switch {
	case size <= 0:
		return defaultPageSize
	case size > maxPageSize:
		return maxPageSize
	default:
		return size
	}
}
