package errors

import (
	"context"
	"fmt"
	"maps"

	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"

	loggingpkg "github.com/suoke-life/messagebus/internal/runtime/logging"
)

// Domain is the ErrorInfo domain attached to wire statuses.
const Domain = "messagebus.suoke.life"

// ErrorsTotalMetric is the counter incremented for every handled error.
const ErrorsTotalMetric = "errors_total"

const internalStatusMessage = "internal server error"

// CounterSink receives error counter increments.
type CounterSink interface {
	IncrementCounter(name string, labels map[string]string)
}

// Handler normalises failures at the service boundary, logs them and counts
// them. It never fails.
type Handler struct {
	logger  loggingpkg.ServiceLogger
	metrics CounterSink
}

// NewHandler builds a Handler. Either collaborator may be nil.
func NewHandler(logger loggingpkg.ServiceLogger, metrics CounterSink) *Handler {
	return &Handler{logger: logger, metrics: metrics}
}

// HandleError turns fault into an *Error, records it and returns it. Faults
// that already carry an *Error are returned unchanged. details are merged
// into the log fields only.
func (h *Handler) HandleError(ctx context.Context, fault error, details map[string]string, component string) *Error {
	mbErr := normalize(fault)
	if h == nil {
		return mbErr
	}
	h.log(ctx, mbErr, details, component)
	h.count(mbErr, component)
	return mbErr
}

// ToStatus converts e to a gRPC status carrying ErrorInfo and, when the
// breaker advised a delay, RetryInfo. Internal failures get a generic message.
func (h *Handler) ToStatus(e *Error) *status.Status {
	return ToStatus(e)
}

// ToStatus is the stateless form of Handler.ToStatus.
func ToStatus(e *Error) *status.Status {
	if e == nil {
		return status.New(codes.OK, "")
	}
	grpcCode := e.Code.GRPCCode()
	msg := e.Message
	if grpcCode == codes.Internal {
		msg = internalStatusMessage
	}
	st := status.New(grpcCode, msg)

	metadata := map[string]string{"severity": string(e.Severity)}
	if grpcCode != codes.Internal {
		maps.Copy(metadata, e.Details)
	}
	details := []protoadapt.MessageV1{
		&errdetails.ErrorInfo{
			Reason:   string(e.Code),
			Domain:   Domain,
			Metadata: metadata,
		},
	}
	if e.RetryAfter > 0 {
		details = append(details, &errdetails.RetryInfo{RetryDelay: durationpb.New(e.RetryAfter)})
	}

	withDetails, err := st.WithDetails(details...)
	if err != nil {
		return st
	}
	return withDetails
}

func normalize(fault error) *Error {
	if fault == nil {
		return New(CodeUnknown, "unknown error")
	}
	if e, ok := As(fault); ok {
		return e
	}
	return Wrap(InferCode(fault), fault.Error(), fault)
}

func (h *Handler) log(ctx context.Context, e *Error, details map[string]string, component string) {
	if h.logger == nil {
		return
	}
	defer func() { _ = recover() }()

	fields := loggingpkg.LogFields{
		"error_code": string(e.Code),
		"severity":   string(e.Severity),
		"component":  component,
	}
	for k, v := range e.Details {
		fields[k] = v
	}
	for k, v := range details {
		fields[k] = v
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}

	switch e.Severity {
	case SeverityHigh, SeverityCritical:
		h.logger.Error(fmt.Sprintf("%s failed", component), e, fields)
	default:
		fields["error"] = e.Error()
		h.logger.Info(fmt.Sprintf("%s rejected", component), fields)
	}
}

func (h *Handler) count(e *Error, component string) {
	if h.metrics == nil {
		return
	}
	defer func() { _ = recover() }()

	h.metrics.IncrementCounter(ErrorsTotalMetric, map[string]string{
		"error_type": string(e.Code),
		"component":  component,
		"severity":   string(e.Severity),
	})
}
