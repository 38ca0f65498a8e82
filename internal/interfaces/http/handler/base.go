// Package handler implements the willa HTTP API on gin.
package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/BerkeleyLibrary/willa/internal/application/catalog"
	"github.com/BerkeleyLibrary/willa/internal/application/conversation"
	"github.com/BerkeleyLibrary/willa/internal/application/ingest"
	"github.com/BerkeleyLibrary/willa/internal/application/retrieval"
	"github.com/BerkeleyLibrary/willa/internal/interfaces/http/dto"
	apperrors "github.com/BerkeleyLibrary/willa/pkg/errors"
	"github.com/BerkeleyLibrary/willa/pkg/logger"
)

// toAppError maps domain sentinels to client-visible error codes.
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, context.Canceled):
		return apperrors.New(apperrors.CodeRequestCanceled, "request canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.ErrServiceUnavailable.WithDetail("deadline exceeded")
	case errors.Is(err, conversation.ErrSessionNotFound):
		return apperrors.ErrSessionNotFound
	case errors.Is(err, catalog.ErrNotFound):
		return apperrors.ErrNotFound.WithDetail(err.Error())
	case errors.Is(err, conversation.ErrEmptyQuery),
		errors.Is(err, ingest.ErrEmptyDocument),
		errors.Is(err, ingest.ErrUnsupportedContent):
		return apperrors.ErrInvalidParam.WithDetail(err.Error())
	case errors.Is(err, catalog.ErrMetadataUnavailable):
		return apperrors.ErrMetadataUnavailable
	case errors.Is(err, retrieval.ErrEmbeddingFailure):
		return apperrors.ErrEmbeddingFailed
	case errors.Is(err, retrieval.ErrIndexStoreUnavailable):
		return apperrors.ErrVectorDB
	case errors.Is(err, conversation.ErrGenerationFailure):
		return apperrors.ErrGenerationFailed
	default:
		return apperrors.Wrap(err, apperrors.CodeInternalError, "internal server error")
	}
}

// respondError logs server-side failures and writes the mapped error.
func respondError(c *gin.Context, msg string, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= 500 {
		logger.Error(c.Request.Context(), msg, err)
	} else {
		logger.Warn(c.Request.Context(), msg, "error", err.Error())
	}
	dto.AppError(c, appErr)
}
