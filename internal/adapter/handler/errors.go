package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/warehouse-ledger/internal/core/domain"
	"github.com/rl1809/warehouse-ledger/internal/core/service"
)

type errorClass struct {
	status int
	code   codes.Code
	label  string
}

var (
	classNotFound     = errorClass{http.StatusNotFound, codes.NotFound, "not_found"}
	classInsufficient = errorClass{http.StatusConflict, codes.FailedPrecondition, "insufficient_stock"}
	classConflict     = errorClass{http.StatusConflict, codes.FailedPrecondition, "conflict"}
	classInvalid      = errorClass{http.StatusUnprocessableEntity, codes.InvalidArgument, "invalid"}
	classConcurrent   = errorClass{http.StatusConflict, codes.Aborted, "concurrent_modification"}
	classUnavailable  = errorClass{http.StatusServiceUnavailable, codes.Unavailable, "unavailable"}
	classCancelled    = errorClass{http.StatusServiceUnavailable, codes.Canceled, "cancelled"}
	classInternal     = errorClass{http.StatusInternalServerError, codes.Internal, "internal"}
)

func classify(err error) errorClass {
	switch {
	case errors.Is(err, domain.ErrUnknownSKU),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrSessionNotFound):
		return classNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return classInsufficient
	case errors.Is(err, domain.ErrItemExists),
		errors.Is(err, domain.ErrSessionInProgress),
		errors.Is(err, domain.ErrSessionNotOpen),
		errors.Is(err, domain.ErrSessionNotClosing),
		errors.Is(err, domain.ErrSessionClosed):
		return classConflict
	case errors.Is(err, domain.ErrMalformedPayload),
		errors.Is(err, domain.ErrInvalidEvent),
		errors.Is(err, domain.ErrInvalidItem),
		errors.Is(err, domain.ErrInvalidCount),
		errors.Is(err, service.ErrInvalidImport):
		return classInvalid
	case errors.Is(err, domain.ErrConcurrentModification):
		return classConcurrent
	case errors.Is(err, domain.ErrPersistence):
		return classUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return classCancelled
	}
	return classInternal
}
