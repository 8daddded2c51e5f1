package messagebus

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	loggingpkg "github.com/suoke-life/messagebus/internal/runtime/logging"
)

// RequestObserver records per-method request outcomes.
type RequestObserver interface {
	ObserveRequest(method, code string, elapsed time.Duration)
}

// UnaryServerInterceptor counts and times every unary call and logs failed
// ones. Either collaborator may be nil.
func UnaryServerInterceptor(observer RequestObserver, logger loggingpkg.ServiceLogger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(started)

		method := path.Base(info.FullMethod)
		code := status.Code(err)
		if observer != nil {
			observer.ObserveRequest(method, code.String(), elapsed)
		}

		fields := loggingpkg.LogFields{
			"method":  method,
			"code":    code.String(),
			"elapsed": elapsed.String(),
		}
		switch code {
		case codes.OK:
			logger.Debug("RPC handled", fields)
		case codes.Internal, codes.Unavailable, codes.Unknown, codes.DataLoss:
			logger.Error("RPC failed", err, fields)
		default:
			logger.Info("RPC rejected", fields)
		}
		return resp, err
	}
}
