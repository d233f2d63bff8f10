package api

import (
	"errors"
	"net/http"
	"strings"

	"tovis/internal/apperr"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// retryAfterSeconds is advertised on 503 responses caused by storage timeouts.
const retryAfterSeconds = "1"

func httpStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidRange, apperr.KindInvalidInput,
		apperr.KindInvalidTransition, apperr.KindAlreadyFinalized:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindConflict, apperr.KindConcurrentSession:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindStorageTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(kind apperr.Kind) codes.Code {
	switch kind {
	case apperr.KindInvalidRange, apperr.KindInvalidInput:
		return codes.InvalidArgument
	case apperr.KindNotFound:
		return codes.NotFound
	case apperr.KindUnauthorized:
		return codes.Unauthenticated
	case apperr.KindForbidden:
		return codes.PermissionDenied
	case apperr.KindInvalidTransition, apperr.KindAlreadyFinalized:
		return codes.FailedPrecondition
	case apperr.KindConflict:
		return codes.AlreadyExists
	case apperr.KindConcurrentSession:
		return codes.Aborted
	case apperr.KindRateLimited:
		return codes.ResourceExhausted
	case apperr.KindStorageTimeout:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// grpcError converts a core error into a status error. Status errors pass
// through unchanged.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(grpcCode(apperr.KindOf(err)), apperr.PublicMessage(err))
}

// validationError turns validator output into an InvalidInput error naming
// the offending fields.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindInvalidInput, "invalid request", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
	}
	return apperr.New(apperr.KindInvalidInput, "invalid fields: "+strings.Join(fields, ", "))
}
