package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	apierrors "github.com/zfogg/orbit/internal/errors"
	"github.com/zfogg/orbit/internal/messaging"
	"github.com/zfogg/orbit/internal/receipts"
	"github.com/zfogg/orbit/internal/util"
)

// respondDomainError maps service and engine errors onto API errors.
// The cause is kept on the gin context for the access log.
func respondDomainError(c *gin.Context, err error) {
	_ = c.Error(err)
	util.RespondWithAPIError(c, toAPIError(err))
}

func toAPIError(err error) *apierrors.APIError {
	var validation *messaging.ValidationError
	switch {
	case errors.As(err, &validation):
		return apierrors.ValidationError(validation.Field, validation.Message)

	case errors.Is(err, receipts.ErrSelfRead):
		return apierrors.SelfRead()

	case errors.Is(err, messaging.ErrConversationNotFound),
		errors.Is(err, receipts.ErrConversationNotFound):
		return apierrors.NotFound("conversation")
	case errors.Is(err, messaging.ErrMessageNotFound),
		errors.Is(err, receipts.ErrMessageNotFound):
		return apierrors.NotFound("message")
	case errors.Is(err, messaging.ErrUserNotFound):
		return apierrors.NotFound("user")

	case errors.Is(err, messaging.ErrNotParticipant),
		errors.Is(err, receipts.ErrNotParticipant):
		return apierrors.Forbidden("not a participant of this conversation")
	case errors.Is(err, messaging.ErrNotSender),
		errors.Is(err, receipts.ErrNotSender):
		return apierrors.Forbidden(err.Error())

	case errors.Is(err, messaging.ErrMediaUnavailable):
		return apierrors.ServiceUnavailable("media storage")
	case errors.Is(err, context.DeadlineExceeded):
		return apierrors.ServiceUnavailable("messaging")

	default:
		return apierrors.InternalError("internal server error")
	}
}
