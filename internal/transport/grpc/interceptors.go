package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"groupbook/backend/internal/identity"
	"groupbook/backend/internal/service/appointments"
	"groupbook/backend/internal/service/audiences"
	"groupbook/backend/internal/service/bookings"
	"groupbook/backend/internal/service/fields"
	"groupbook/backend/internal/store"
)

func RequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

// ActorInterceptor copies the acting user id from the x-user-id metadata
// header onto the context.
func ActorInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if id := actorFromMetadata(ctx); id > 0 {
			ctx = identity.WithActor(ctx, id)
		}
		return handler(ctx, req)
	}
}

func actorFromMetadata(ctx context.Context) int64 {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0
	}
	values := md.Get("x-user-id")
	if len(values) == 0 {
		return 0
	}
	id, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// ErrorInterceptor turns service errors into gRPC statuses. Errors that are
// already statuses pass through.
func ErrorInterceptor(log *slog.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "grpc"))

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		st := StatusFromError(err)
		if st.Code() == codes.Internal {
			log.ErrorContext(ctx, "rpc failed", slog.String("rpc", info.FullMethod), slog.Any("err", err))
		}
		return nil, st.Err()
	}
}

func StatusFromError(err error) *status.Status {
	var (
		audienceErr    *audiences.ValidationError
		fieldErr       *fields.ValidationError
		bookingErr     *bookings.ValidationError
		appointmentErr *appointments.ValidationError
		conflictErr    *bookings.ConflictError
	)
	switch {
	case errors.As(err, &audienceErr), errors.As(err, &fieldErr),
		errors.As(err, &bookingErr), errors.As(err, &appointmentErr):
		return status.New(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNoChanges):
		return status.New(codes.InvalidArgument, "no updatable fields supplied")
	case errors.Is(err, store.ErrNotFound):
		return status.New(codes.NotFound, "not found")
	case errors.As(err, &conflictErr):
		return status.New(codes.FailedPrecondition, conflictErr.Error())
	case errors.Is(err, store.ErrConflict):
		return status.New(codes.FailedPrecondition, "That time is already taken. Pick a different slot.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		return status.New(codes.FailedPrecondition, "This request key was already used for a different appointment. Try again.")
	case errors.Is(err, audiences.ErrAlreadyMember):
		return status.New(codes.AlreadyExists, err.Error())
	case errors.Is(err, audiences.ErrCycle),
		errors.Is(err, bookings.ErrInvalidTransition),
		errors.Is(err, appointments.ErrInvalidTransition):
		return status.New(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.New(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.New(codes.Canceled, "canceled")
	default:
		return status.New(codes.Internal, "internal error")
	}
}
